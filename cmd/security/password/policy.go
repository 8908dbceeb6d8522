package password

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Policy violations. Their text is shown to clients as-is.
var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrWeakPassword     = errors.New("password too weak")
)

var trivialSecrets = map[string]struct{}{
	"password":    {},
	"password1":   {},
	"password123": {},
	"12345678":    {},
	"123456789":   {},
	"qwerty123":   {},
	"11111111":    {},
	"iloveyou":    {},
}

// Validate checks the policy without touching the input.
func (c Config) Validate(secret string) error {
	n := utf8.RuneCountInString(secret)
	switch {
	case n < c.Policy.MinLength:
		return ErrPasswordTooShort
	case n > c.Policy.MaxLength:
		return ErrPasswordTooLong
	case c.Policy.RejectVeryWeak && veryWeak(secret):
		return ErrWeakPassword
	}
	return nil
}

// veryWeak catches repeated characters, short digit runs and a tiny deny list.
func veryWeak(secret string) bool {
	s := strings.TrimSpace(secret)
	if s == "" {
		return true
	}
	if _, ok := trivialSecrets[strings.ToLower(s)]; ok {
		return true
	}

	first, _ := utf8.DecodeRuneInString(s)
	same, digits := true, true
	for _, r := range s {
		if r != first {
			same = false
		}
		if !unicode.IsDigit(r) {
			digits = false
		}
	}
	return same || (digits && utf8.RuneCountInString(s) < 12)
}
