package token

import "errors"

// Key errors are returned only when HMAC mode is required.
var (
	ErrHMACKeyMissing  = errors.New("token: " + HMACEnvKey + " is not set")
	ErrHMACKeyTooShort = errors.New("token: " + HMACEnvKey + " is shorter than 32 bytes")
)
