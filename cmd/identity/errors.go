package identity

import (
	"errors"
	"strings"
)

// Kinds, stable for errors.Is and API status mapping.
var (
	ErrInvalidInput       = errors.New("invalid_input")
	ErrNotFound           = errors.New("not_found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidCredentials = errors.New("invalid_credentials")
)

// Error is the only error type the package returns. Detail is safe to show
// to clients; it never contains secrets.
type Error struct {
	Op     string
	Kind   error
	Field  string
	Detail string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Field != "" {
		b.WriteString(" (" + e.Field + ")")
	}
	if e.Detail != "" {
		b.WriteString(": " + e.Detail)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Kind }

func invalid(op, detail string) error {
	return &Error{Op: op, Kind: ErrInvalidInput, Detail: detail}
}

func conflict(op, field string) error {
	return &Error{Op: op, Kind: ErrConflict, Field: field}
}

func notFound(op string) error {
	return &Error{Op: op, Kind: ErrNotFound, Field: "user"}
}

func badCredentials(op string) error {
	return &Error{Op: op, Kind: ErrInvalidCredentials}
}

// ConflictField returns the field a conflict was reported on, or "".
func ConflictField(err error) string {
	var e *Error
	if errors.As(err, &e) && errors.Is(e.Kind, ErrConflict) {
		return e.Field
	}
	return ""
}

// InvalidDetail returns the client-facing message of an invalid input error.
func InvalidDetail(err error) (string, bool) {
	var e *Error
	if errors.As(err, &e) && errors.Is(e.Kind, ErrInvalidInput) {
		return e.Detail, true
	}
	return "", false
}

func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

func IsInvalidCredentials(err error) bool { return errors.Is(err, ErrInvalidCredentials) }
