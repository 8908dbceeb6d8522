package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"parley/cmd/identity/ids"
	"parley/cmd/security/password"
)

// Ledger registers users and verifies their secrets.
type Ledger struct {
	store     Store
	passwords password.Config
	now       func() time.Time

	decoyOnce sync.Once
	decoy     string
}

func NewLedger(store Store, passwords password.Config) *Ledger {
	return &Ledger{
		store:     store,
		passwords: passwords,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RegisterInput is a plain-text registration request.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

// Register validates, hashes and stores a new user.
// A duplicate email yields a conflict on field "email".
func (l *Ledger) Register(ctx context.Context, in RegisterInput) (User, error) {
	const op = "identity.Register"

	email := strings.TrimSpace(in.Email)
	if !validEmail(email) {
		return User{}, invalid(op, "invalid email")
	}
	hash, err := l.passwords.Hash(in.Password)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooShort) ||
			errors.Is(err, password.ErrPasswordTooLong) ||
			errors.Is(err, password.ErrWeakPassword) {
			return User{}, invalid(op, err.Error())
		}
		return User{}, err
	}

	now := l.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return User{}, err
	}

	return l.store.CreateUser(ctx, NewUser{
		ID:           id,
		Email:        email,
		Name:         strings.TrimSpace(in.Name),
		PasswordHash: hash,
		CreatedAt:    now,
	})
}

// Authenticate looks a user up by email and verifies the secret.
// Unknown email and wrong secret both return ErrInvalidCredentials, and an
// unknown email still pays for one hash verification.
func (l *Ledger) Authenticate(ctx context.Context, email, secret string) (User, error) {
	const op = "identity.Authenticate"

	u, err := l.store.GetUserByEmail(ctx, email)
	if err != nil {
		if IsNotFound(err) {
			_, _ = l.passwords.Verify(l.decoyHash(), secret)
			return User{}, badCredentials(op)
		}
		return User{}, err
	}

	if u.PasswordHash == "" {
		_, _ = l.passwords.Verify(l.decoyHash(), secret)
		return User{}, badCredentials(op)
	}
	ok, err := l.passwords.Verify(u.PasswordHash, secret)
	if err != nil || !ok {
		return User{}, badCredentials(op)
	}
	return u, nil
}

// OAuthProfile is an identity asserted by an external provider.
type OAuthProfile struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// ResolveOAuth returns the user owning p, creating one on first sign-in.
// An existing account with the same email is linked only when the provider
// verified the address; otherwise the result is a conflict on "email".
func (l *Ledger) ResolveOAuth(ctx context.Context, p OAuthProfile) (User, error) {
	const op = "identity.ResolveOAuth"

	email := strings.TrimSpace(p.Email)
	switch {
	case p.Provider == "" || p.Subject == "":
		return User{}, invalid(op, "missing provider identity")
	case !validEmail(email):
		return User{}, invalid(op, "provider returned an invalid email")
	}

	u, err := l.store.GetUserByOAuth(ctx, p.Provider, p.Subject)
	if err == nil || !IsNotFound(err) {
		return u, err
	}

	existing, err := l.store.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		if !p.EmailVerified {
			return User{}, conflict(op, "email")
		}
		return l.store.LinkOAuth(ctx, existing.ID, p.Provider, p.Subject)
	case !IsNotFound(err):
		return User{}, err
	}

	now := l.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return User{}, err
	}
	u, err = l.store.CreateUser(ctx, NewUser{
		ID:              id,
		Email:           email,
		Name:            strings.TrimSpace(p.Name),
		IsEmailVerified: p.EmailVerified,
		OAuthProvider:   p.Provider,
		OAuthSubject:    p.Subject,
		CreatedAt:       now,
	})
	if IsConflict(err) && ConflictField(err) == "oauth" {
		// A concurrent first sign-in won the insert.
		return l.store.GetUserByOAuth(ctx, p.Provider, p.Subject)
	}
	return u, err
}

// Lookup returns the user by id.
func (l *Ledger) Lookup(ctx context.Context, id string) (User, error) {
	return l.store.GetUser(ctx, id)
}

func (l *Ledger) decoyHash() string {
	l.decoyOnce.Do(func() {
		cfg := l.passwords
		cfg.Policy = password.Policy{MinLength: 0, MaxLength: 1024}
		l.decoy, _ = cfg.Hash("parley-decoy-secret")
	})
	return l.decoy
}
