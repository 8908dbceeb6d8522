package oauth

import (
	"context"
	"errors"
)

var (
	// ErrExchange wraps any failure talking to the provider.
	ErrExchange = errors.New("oauth: exchange failed")
	ErrConfig   = errors.New("invalid oauth config")
)

// Profile is the identity a provider vouches for.
type Profile struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

type Provider interface {
	// Name is the path segment the provider is mounted under ("google").
	Name() string
	LoginURL(state string) string
	Exchange(ctx context.Context, code string) (Profile, error)
}
