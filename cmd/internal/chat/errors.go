package chat

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyInput           = errors.New("empty input")
	ErrInputTooLong         = errors.New("input too long")
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrGeneratorFailure is returned by Complete when the generator failed.
	// Streams report the same condition as an error event.
	ErrGeneratorFailure = errors.New("generator failure")

	// ErrPersistence matches every *PersistenceError.
	ErrPersistence = errors.New("persistence failure")

	ErrShuttingDown = errors.New("orchestrator shutting down")
	ErrConfig       = errors.New("invalid chat config")

	errMessageNotFound = errors.New("message not found")
)

// PersistenceError wraps a Store failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("chat: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

func persistence(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

// Cancellation causes attached to a session context.
var (
	errClosed   = errors.New("stream closed by consumer")
	errTimeout  = errors.New("stream exceeded max duration")
	errShutdown = errors.New("orchestrator shutdown")
)
