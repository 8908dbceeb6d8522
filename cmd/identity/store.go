package identity

import (
	"context"
	"time"
)

// User is parley's security principal. PasswordHash never leaves the server.
type User struct {
	ID              string
	Email           string
	EmailNorm       string
	Name            string
	IsEmailVerified bool
	// PasswordHash is empty for users that only sign in through OAuth.
	PasswordHash  string
	OAuthProvider string
	OAuthSubject  string
	CreatedAt     time.Time
}

// NewUser is a validated, already-hashed registration ready for storage.
// Either PasswordHash or the OAuth pair must be set.
type NewUser struct {
	ID              string
	Email           string
	Name            string
	PasswordHash    string
	IsEmailVerified bool
	OAuthProvider   string
	OAuthSubject    string
	CreatedAt       time.Time
}

func (in NewUser) valid() bool {
	if in.ID == "" || (in.OAuthProvider == "") != (in.OAuthSubject == "") {
		return false
	}
	return in.PasswordHash != "" || in.OAuthProvider != ""
}

// Store is the ledger persistence boundary.
type Store interface {
	CreateUser(ctx context.Context, in NewUser) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByOAuth(ctx context.Context, provider, subject string) (User, error)
	// LinkOAuth attaches a provider identity to an existing user and marks
	// the email verified. A user holds at most one identity; linking another,
	// or one owned by someone else, is a conflict on field "oauth".
	LinkOAuth(ctx context.Context, userID, provider, subject string) (User, error)
}
