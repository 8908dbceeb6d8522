package password

import (
	"errors"
	"strings"
	"testing"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	return cfg
}

func TestHashAndVerify(t *testing.T) {
	cfg := testConfig()

	h, err := cfg.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(h, "$argon2id$v=19$m=8192,t=1,") {
		t.Fatalf("unexpected encoding: %s", h)
	}

	ok, err := cfg.Verify(h, "correct horse battery")
	if err != nil || !ok {
		t.Fatalf("expected match, ok=%v err=%v", ok, err)
	}

	ok, err = cfg.Verify(h, "wrong horse battery")
	if err != nil || ok {
		t.Fatalf("expected mismatch, ok=%v err=%v", ok, err)
	}
}

func TestHash_SaltsDiffer(t *testing.T) {
	cfg := testConfig()
	a, _ := cfg.Hash("correct horse battery")
	b, _ := cfg.Hash("correct horse battery")
	if a == b {
		t.Fatalf("expected distinct salts")
	}
}

func TestVerify_InvalidHash(t *testing.T) {
	cfg := testConfig()

	cases := []string{
		"not-a-hash",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5",
		"$argon2id$v=16$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$a2V5a2V5a2V5a2V5",
	}
	for _, enc := range cases {
		ok, err := cfg.Verify(enc, "whatever")
		if !errors.Is(err, ErrInvalidHash) || ok {
			t.Fatalf("Verify(%q) = %v, %v; want ErrInvalidHash", enc, ok, err)
		}
	}
}

func TestVerify_RejectsExpensiveHash(t *testing.T) {
	strong := testConfig()
	strong.Params.Iterations = 8
	h, err := strong.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	weak := testConfig()
	if _, err := weak.Verify(h, "correct horse battery"); !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("expected ErrInvalidHash for out-of-bounds cost, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cfg := testConfig()
	cfg.Policy.MinLength = 8
	cfg.Policy.MaxLength = 16

	tests := []struct {
		in   string
		want error
	}{
		{"short", ErrPasswordTooShort},
		{"this secret is much too long", ErrPasswordTooLong},
		{"password", ErrWeakPassword},
		{"aaaaaaaaa", ErrWeakPassword},
		{"12345678901", ErrWeakPassword},
		{"a-fine-secret", nil},
	}
	for _, tt := range tests {
		if err := cfg.Validate(tt.in); err != tt.want {
			t.Fatalf("Validate(%q) = %v, want %v", tt.in, err, tt.want)
		}
	}
}
