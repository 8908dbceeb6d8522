package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGuard_AuthorizeUntilExpiry(t *testing.T) {
	svc, clock := newTestService(t, NewMemoryStore())
	ctx := context.Background()

	pair, err := svc.IssuePair(ctx, "U1", DeviceContext{})
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}

	p, err := svc.Authorize(pair.AccessToken)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if p.UserID != "U1" || p.EntryID != pair.EntryID {
		t.Fatalf("unexpected principal: %+v", p)
	}

	clock.Advance(svc.cfg.AccessTTL - time.Second)
	if _, err := svc.Authorize(pair.AccessToken); err != nil {
		t.Fatalf("expected token valid one second before expiry, got %v", err)
	}

	clock.Advance(time.Second)
	if _, err := svc.Authorize(pair.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired at expiry, got %v", err)
	}

	clock.Advance(time.Hour)
	if _, err := svc.Authorize(pair.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired after expiry, got %v", err)
	}
}

func TestGuard_RejectsRefreshAndGarbage(t *testing.T) {
	svc, _ := newTestService(t, NewMemoryStore())

	pair, err := svc.IssuePair(context.Background(), "U1", DeviceContext{})
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	for _, tok := range []string{pair.RefreshToken, "", "v4.public.nope"} {
		if _, err := svc.Authorize(tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken, got %v", err)
		}
	}
}

func TestGuard_RejectsFutureIssuedAt(t *testing.T) {
	svc, clock := newTestService(t, NewMemoryStore())

	clock.Advance(time.Hour)
	pair, err := svc.IssuePair(context.Background(), "U1", DeviceContext{})
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}

	g := NewGuard(svc.issuer.codec, time.Minute)
	if _, err := g.Authorize(pair.AccessToken, clock.Now().Add(-time.Hour)); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for token from the future, got %v", err)
	}
}

func TestGuard_IgnoresRevocation(t *testing.T) {
	svc, _ := newTestService(t, NewMemoryStore())
	ctx := context.Background()

	pair, _ := svc.IssuePair(ctx, "U1", DeviceContext{})
	if err := svc.RevokeToken(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	if _, err := svc.Authorize(pair.AccessToken); err != nil {
		t.Fatalf("access token must stay valid until expiry, got %v", err)
	}
}

func TestPrincipalContext(t *testing.T) {
	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Fatalf("empty context must not carry a principal")
	}
	ctx := WithPrincipal(context.Background(), Principal{UserID: "U1"})
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.UserID != "U1" {
		t.Fatalf("principal not recovered: %+v %v", p, ok)
	}
}
