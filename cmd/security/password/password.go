package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrInvalidHash reports a stored hash that is malformed or too expensive.
var ErrInvalidHash = errors.New("invalid password hash")

var b64 = base64.RawStdEncoding

// phc is a decoded argon2id hash string.
type phc struct {
	params Params
	salt   []byte
	key    []byte
}

func (p phc) String() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.params.MemoryKiB, p.params.Iterations, p.params.Parallelism,
		b64.EncodeToString(p.salt), b64.EncodeToString(p.key),
	)
}

// Hash validates secret and returns its encoded Argon2id hash.
func (c Config) Hash(secret string) (string, error) {
	if err := c.Validate(secret); err != nil {
		return "", err
	}

	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("password: read salt: %w", err)
	}

	h := phc{params: c.Params, salt: salt}
	h.key = derive(secret, h.params, salt, c.Params.KeyLength)
	return h.String(), nil
}

// Verify reports whether secret matches encoded.
// A malformed or out-of-bounds hash yields ErrInvalidHash.
func (c Config) Verify(encoded, secret string) (bool, error) {
	h, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	if !c.acceptable(h.params) {
		return false, ErrInvalidHash
	}

	got := derive(secret, h.params, h.salt, uint32(len(h.key))) // #nosec G115 -- bounded by acceptable().
	return subtle.ConstantTimeCompare(got, h.key) == 1, nil
}

func derive(secret string, p Params, salt []byte, keyLen uint32) []byte {
	return argon2.IDKey([]byte(secret), salt, p.Iterations, p.MemoryKiB, p.Parallelism, keyLen)
}

// acceptable allows older, cheaper hashes but refuses anything far above
// the configured cost.
func (c Config) acceptable(got Params) bool {
	limit := c.Params
	return got.MemoryKiB <= limit.MemoryKiB*2 &&
		got.Iterations <= limit.Iterations*2 &&
		uint32(got.Parallelism) <= uint32(limit.Parallelism)*2 &&
		got.SaltLength >= 8 && got.SaltLength <= 64 &&
		got.KeyLength >= 16 && got.KeyLength <= 128
}

func parsePHC(encoded string) (phc, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return phc{}, ErrInvalidHash
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return phc{}, ErrInvalidHash
	}

	var mem, iter, lanes uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iter, &lanes); err != nil {
		return phc{}, ErrInvalidHash
	}
	if mem == 0 || iter == 0 || lanes == 0 || lanes > 255 {
		return phc{}, ErrInvalidHash
	}

	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return phc{}, ErrInvalidHash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil {
		return phc{}, ErrInvalidHash
	}

	return phc{
		params: Params{
			MemoryKiB:   mem,
			Iterations:  iter,
			Parallelism: uint8(lanes),
			SaltLength:  uint32(len(salt)), // #nosec G115 -- checked by acceptable().
			KeyLength:   uint32(len(key)),  // #nosec G115 -- checked by acceptable().
		},
		salt: salt,
		key:  key,
	}, nil
}
