package token

import (
	"errors"
	"testing"
)

func TestHasher_SHA256Mode(t *testing.T) {
	h := NewHasher(nil)
	if h.Keyed() {
		t.Fatalf("expected unkeyed hasher")
	}
	// sha256("abc")
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := h.Hash("abc"); got != want {
		t.Fatalf("Hash(abc) = %s, want %s", got, want)
	}
}

func TestHasher_HMACDiffersFromSHA(t *testing.T) {
	plain := NewHasher(nil)
	keyed := NewHasher([]byte("0123456789abcdef0123456789abcdef"))

	if plain.Hash("tok") == keyed.Hash("tok") {
		t.Fatalf("expected keyed digest to differ")
	}
	if len(keyed.Hash("tok")) != 64 {
		t.Fatalf("expected 64-char hex")
	}
}

func TestHasher_Matches(t *testing.T) {
	h := NewHasher([]byte("0123456789abcdef0123456789abcdef"))
	d := h.Hash("refresh-token")

	if !h.Matches("refresh-token", d) {
		t.Fatalf("expected match")
	}
	if h.Matches("other", d) {
		t.Fatalf("expected mismatch")
	}
	if h.Matches("refresh-token", d[:10]) {
		t.Fatalf("expected mismatch on truncated digest")
	}
}

func TestHasherFromEnv(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	h, err := HasherFromEnv(false)
	if err != nil || h.Keyed() {
		t.Fatalf("expected unkeyed hasher, got keyed=%v err=%v", h.Keyed(), err)
	}
	if _, err := HasherFromEnv(true); !errors.Is(err, ErrHMACKeyMissing) {
		t.Fatalf("expected ErrHMACKeyMissing, got %v", err)
	}

	t.Setenv(HMACEnvKey, "short")
	if _, err := HasherFromEnv(true); !errors.Is(err, ErrHMACKeyTooShort) {
		t.Fatalf("expected ErrHMACKeyTooShort, got %v", err)
	}

	t.Setenv(HMACEnvKey, "0123456789abcdef0123456789abcdef")
	h, err = HasherFromEnv(true)
	if err != nil || !h.Keyed() {
		t.Fatalf("expected keyed hasher, got keyed=%v err=%v", h.Keyed(), err)
	}
}
