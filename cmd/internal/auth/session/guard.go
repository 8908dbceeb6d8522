package session

import (
	"context"
	"time"
)

// Principal is an authorized caller.
type Principal struct {
	UserID    string
	EntryID   string
	ExpiresAt time.Time
}

// Guard authorizes access tokens from signature and expiry alone. It never
// consults the store, so a revoked lineage's access tokens stay valid until
// they expire.
type Guard struct {
	codec TokenCodec
	skew  time.Duration
}

func NewGuard(codec TokenCodec, clockSkew time.Duration) *Guard {
	return &Guard{codec: codec, skew: clockSkew}
}

// Authorize succeeds for every now strictly before the token's expiry.
func (g *Guard) Authorize(tok string, now time.Time) (Principal, error) {
	c, err := g.codec.Parse(tok)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	if c.Kind != KindAccess {
		return Principal{}, ErrInvalidToken
	}
	if c.IssuedAt.After(now.Add(g.skew)) {
		return Principal{}, ErrInvalidToken
	}
	if !now.Before(c.ExpiresAt) {
		return Principal{}, ErrTokenExpired
	}
	return Principal{UserID: c.UserID, EntryID: c.EntryID, ExpiresAt: c.ExpiresAt}, nil
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.UserID != ""
}
