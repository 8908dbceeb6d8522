package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidToken covers malformed tokens, bad signatures and wrong token kinds.
	ErrInvalidToken = errors.New("invalid token")

	ErrTokenExpired = errors.New("token expired")
	ErrTokenRevoked = errors.New("token revoked")

	// ErrTokenReuseDetected is returned after an already rotated refresh token
	// was presented again. The lineage has been revoked by the time callers see it.
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")

	// ErrUnknownToken is a well-formed refresh token with no persisted entry.
	ErrUnknownToken = errors.New("unknown token")

	// ErrPersistence matches every *PersistenceError.
	ErrPersistence = errors.New("persistence failure")

	ErrConfig = errors.New("invalid config")

	// ErrEntryNotFound is returned by Store implementations.
	ErrEntryNotFound = errors.New("refresh entry not found")
)

// PersistenceError wraps a store failure. It matches both ErrPersistence
// and the underlying cause.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("session: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

func persistence(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}
