// Package token hashes refresh tokens for server-side storage.
//
// A Hasher keyed with a secret produces HMAC-SHA256 digests. An unkeyed
// Hasher falls back to plain SHA-256, which is what local development uses.
// Both produce 64-char lowercase hex suitable for constant-time comparison.
//
// Environment:
//   - PARLEY_REFRESH_TOKEN_HMAC_KEY: enables HMAC mode when non-empty.
package token
