package identity

import (
	"context"
	"sync"
)

// MemoryStore keeps users in process memory. Used when no database is
// configured and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]User
	byEmail map[string]string
	byOAuth map[string]string
}

func oauthKey(provider, subject string) string { return provider + "\x00" + subject }

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]User),
		byEmail: make(map[string]string),
		byOAuth: make(map[string]string),
	}
}

func (s *MemoryStore) CreateUser(ctx context.Context, in NewUser) (User, error) {
	const op = "identity.CreateUser"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if !in.valid() {
		return User{}, invalid(op, "missing id or credential")
	}

	norm := NormalizeEmail(in.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[norm]; taken {
		return User{}, conflict(op, "email")
	}
	key := oauthKey(in.OAuthProvider, in.OAuthSubject)
	if in.OAuthProvider != "" {
		if _, taken := s.byOAuth[key]; taken {
			return User{}, conflict(op, "oauth")
		}
	}
	u := User{
		ID:              in.ID,
		Email:           in.Email,
		EmailNorm:       norm,
		Name:            in.Name,
		IsEmailVerified: in.IsEmailVerified,
		PasswordHash:    in.PasswordHash,
		OAuthProvider:   in.OAuthProvider,
		OAuthSubject:    in.OAuthSubject,
		CreatedAt:       in.CreatedAt,
	}
	s.byID[u.ID] = u
	s.byEmail[norm] = u.ID
	if in.OAuthProvider != "" {
		s.byOAuth[key] = u.ID
	}
	return u, nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return User{}, notFound("identity.GetUser")
	}
	return u, nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return User{}, notFound("identity.GetUserByEmail")
	}
	return s.byID[id], nil
}

func (s *MemoryStore) GetUserByOAuth(ctx context.Context, provider, subject string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byOAuth[oauthKey(provider, subject)]
	if !ok {
		return User{}, notFound("identity.GetUserByOAuth")
	}
	return s.byID[id], nil
}

func (s *MemoryStore) LinkOAuth(ctx context.Context, userID, provider, subject string) (User, error) {
	const op = "identity.LinkOAuth"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if provider == "" || subject == "" {
		return User{}, invalid(op, "missing provider or subject")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return User{}, notFound(op)
	}
	key := oauthKey(provider, subject)
	if owner, taken := s.byOAuth[key]; taken && owner != userID {
		return User{}, conflict(op, "oauth")
	}
	if u.OAuthProvider != "" && (u.OAuthProvider != provider || u.OAuthSubject != subject) {
		return User{}, conflict(op, "oauth")
	}
	u.OAuthProvider, u.OAuthSubject, u.IsEmailVerified = provider, subject, true
	s.byID[userID] = u
	s.byOAuth[key] = userID
	return u, nil
}
