// Package identity is parley's credential ledger.
//
// It owns user records and secret verification. Token lifecycle lives in
// cmd/internal/auth/session; this package only answers "who is this" and
// "does this secret match".
package identity
