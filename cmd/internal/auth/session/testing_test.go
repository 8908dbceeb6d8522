package session

import (
	"sync"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"

	"parley/cmd/security/token"
)

// fakeClock is a settable clock shared by a Service under test.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	return cfg
}

func newTestService(t *testing.T, store Store) (*Service, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	svc, err := NewService(testConfig(), store,
		WithClock(clock.Now),
		WithHasher(token.NewHasher([]byte("0123456789abcdef0123456789abcdef"))),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, clock
}
