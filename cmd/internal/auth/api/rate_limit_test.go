package authapi

import (
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestLoginLimiter_BurstThenRefill(t *testing.T) {
	l := newLoginLimiter(rate.Limit(1), 2, time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		if ok, _ := l.allow("198.51.100.7", now); !ok {
			t.Fatalf("attempt %d refused inside burst", i)
		}
	}
	ok, wait := l.allow("198.51.100.7", now)
	if ok {
		t.Fatal("third attempt allowed, want refused")
	}
	if wait <= 0 || wait > time.Second {
		t.Fatalf("retry after = %v, want (0, 1s]", wait)
	}

	if ok, _ := l.allow("203.0.113.9", now); !ok {
		t.Fatal("other IP refused")
	}
	if ok, _ := l.allow("198.51.100.7", now.Add(time.Second)); !ok {
		t.Fatal("attempt after refill refused")
	}
}

func TestLoginLimiter_RefusalDoesNotConsume(t *testing.T) {
	l := newLoginLimiter(rate.Limit(1), 1, time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	l.allow("ip", now)
	for i := 0; i < 5; i++ {
		l.allow("ip", now)
	}
	if ok, _ := l.allow("ip", now.Add(time.Second)); !ok {
		t.Fatal("refused attempts should not push the refill out")
	}
}

func TestLoginLimiter_SweepsIdleBuckets(t *testing.T) {
	l := newLoginLimiter(rate.Limit(1), 1, time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	l.allow("a", now)
	l.allow("b", now)
	if n := l.size(); n != 2 {
		t.Fatalf("size = %d, want 2", n)
	}
	l.allow("c", now.Add(2*time.Minute))
	if n := l.size(); n != 1 {
		t.Fatalf("size after sweep = %d, want 1", n)
	}
}

func TestWriteRateLimited_RetryAfter(t *testing.T) {
	w := httptest.NewRecorder()
	writeRateLimited(w, 1500*time.Millisecond)

	if w.Code != 429 {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("Retry-After = %q, want 2", got)
	}
}
