// Package session implements parley's token lifecycle.
//
// An Issuer mints paired credentials: a short-lived access token that is
// never stored and a refresh token bound to a persisted Entry. The Registry
// rotates refresh tokens under a per-lineage lock and treats a second use of
// an already rotated token as theft, revoking the whole lineage. The Guard
// authorizes access tokens statelessly from signature and expiry alone.
//
// Tokens are PASETO v4.public by default, or HS256 JWT when configured.
package session
