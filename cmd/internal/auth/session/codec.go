package session

import (
	"fmt"
	"time"
)

// TokenKind is carried in the "typ" claim so one kind cannot stand in for the other.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// Claims is the format-independent payload of both token kinds.
// EntryID names the refresh entry the token was minted with.
type Claims struct {
	Kind      TokenKind
	UserID    string
	EntryID   string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenCodec signs and verifies tokens. Parse checks signature, issuer and
// shape only; time checks belong to the caller, which owns the clock.
type TokenCodec interface {
	Sign(c Claims) (string, error)
	Parse(token string) (Claims, error)
}

// NewCodec builds the codec selected by cfg.TokenFormat. The second result
// reports whether an ephemeral key had to be generated.
func NewCodec(cfg Config) (TokenCodec, bool, error) {
	switch cfg.TokenFormat {
	case FormatPaseto, "":
		return newPasetoCodec(cfg.Issuer, cfg.PasetoV4SecretKeyHex, cfg.AllowEphemeralKey)
	case FormatJWT:
		return newJWTCodec(cfg.Issuer, cfg.JWTSecret, cfg.AllowEphemeralKey)
	default:
		return nil, false, fmt.Errorf("%w: unknown token format %q", ErrConfig, cfg.TokenFormat)
	}
}

func (c Claims) validShape() bool {
	return (c.Kind == KindAccess || c.Kind == KindRefresh) &&
		c.UserID != "" && c.EntryID != "" && !c.ExpiresAt.IsZero()
}
