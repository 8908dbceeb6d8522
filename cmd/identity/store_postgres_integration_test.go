package identity

import (
	"context"
	"testing"
	"time"

	"parley/cmd/identity/ids"
	"parley/cmd/internal/schema/schematest"
)

func TestPostgresStore_CreateAndGet(t *testing.T) {
	t.Parallel()

	pool, schemaName := schematest.Open(t)
	s, err := NewPostgresStore(pool, WithSchema(schemaName))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Microsecond)
	in := NewUser{
		ID:           ids.MustULID(now),
		Email:        "Grace@Example.com",
		Name:         "Grace",
		PasswordHash: "$argon2id$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0$a2V5a2V5a2V5a2V5a2V5aw",
		CreatedAt:    now,
	}
	if _, err := s.CreateUser(ctx, in); err != nil {
		t.Fatalf("create user: %v", err)
	}

	byEmail, err := s.GetUserByEmail(ctx, "grace@example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if byEmail.ID != in.ID || byEmail.PasswordHash != in.PasswordHash || byEmail.Name != "Grace" {
		t.Fatalf("unexpected user: %+v", byEmail)
	}

	byID, err := s.GetUser(ctx, in.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if !byID.CreatedAt.Equal(now) {
		t.Fatalf("created_at = %v, want %v", byID.CreatedAt, now)
	}
}

func TestPostgresStore_ConflictEmail_CaseInsensitive(t *testing.T) {
	t.Parallel()

	pool, schemaName := schematest.Open(t)
	s, err := NewPostgresStore(pool, WithSchema(schemaName))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	hash := "$argon2id$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0$a2V5a2V5a2V5a2V5a2V5aw"
	if _, err := s.CreateUser(ctx, NewUser{ID: ids.MustULID(time.Now()), Email: "user@example.com", PasswordHash: hash, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("create user 1: %v", err)
	}
	_, err = s.CreateUser(ctx, NewUser{ID: ids.MustULID(time.Now()), Email: "USER@example.com", PasswordHash: hash, CreatedAt: time.Now()})
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestPostgresStore_GetMissing(t *testing.T) {
	t.Parallel()

	pool, schemaName := schematest.Open(t)
	s, err := NewPostgresStore(pool, WithSchema(schemaName))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := s.GetUserByEmail(context.Background(), "missing@example.com"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPostgresStore_OAuthUsers(t *testing.T) {
	t.Parallel()

	pool, schemaName := schematest.Open(t)
	s, err := NewPostgresStore(pool, WithSchema(schemaName))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Microsecond)
	oauthOnly := NewUser{
		ID: ids.MustULID(now), Email: "lin@example.com", IsEmailVerified: true,
		OAuthProvider: "google", OAuthSubject: "g-1", CreatedAt: now,
	}
	if _, err := s.CreateUser(ctx, oauthOnly); err != nil {
		t.Fatalf("create oauth user: %v", err)
	}
	got, err := s.GetUserByOAuth(ctx, "google", "g-1")
	if err != nil {
		t.Fatalf("get by oauth: %v", err)
	}
	if got.ID != oauthOnly.ID || got.PasswordHash != "" || !got.IsEmailVerified {
		t.Fatalf("unexpected user: %+v", got)
	}

	hash := "$argon2id$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0$a2V5a2V5a2V5a2V5a2V5aw"
	pw := NewUser{ID: ids.MustULID(now), Email: "max@example.com", PasswordHash: hash, CreatedAt: now}
	if _, err := s.CreateUser(ctx, pw); err != nil {
		t.Fatalf("create password user: %v", err)
	}
	if _, err := s.LinkOAuth(ctx, pw.ID, "google", "g-1"); ConflictField(err) != "oauth" {
		t.Fatalf("linking a taken identity: %v", err)
	}
	linked, err := s.LinkOAuth(ctx, pw.ID, "google", "g-2")
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if linked.OAuthSubject != "g-2" || !linked.IsEmailVerified || linked.PasswordHash != hash {
		t.Fatalf("linked user = %+v", linked)
	}
	if _, err := s.LinkOAuth(ctx, pw.ID, "google", "g-3"); ConflictField(err) != "oauth" {
		t.Fatalf("relinking: %v", err)
	}
}
