package password

import (
	"errors"
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

var ErrConfig = errors.New("invalid password config")

// Params is the Argon2id cost. MemoryKiB is in KiB as argon2.IDKey expects.
type Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy bounds accepted secrets, counted in runes.
type Policy struct {
	MinLength      int
	MaxLength      int
	RejectVeryWeak bool
}

type Config struct {
	Params Params
	Policy Policy
}

func DefaultConfig() Config {
	lanes := min(max(runtime.NumCPU(), 1), 4)

	return Config{
		Params: Params{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(lanes), // #nosec G115 -- clamped to [1..4].
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength:      8,
			MaxLength:      100,
			RejectVeryWeak: true,
		},
	}
}

// uintBinding maps one env var onto a bounded unsigned field.
type uintBinding struct {
	key      string
	min, max uint64
	set      func(*Config, uint64)
}

var uintBindings = []uintBinding{
	{"PARLEY_PASSWORD_MIN_LEN", 1, 1024, func(c *Config, v uint64) { c.Policy.MinLength = int(v) }},
	{"PARLEY_PASSWORD_MAX_LEN", 1, 4096, func(c *Config, v uint64) { c.Policy.MaxLength = int(v) }},
	{"PARLEY_ARGON2_MEMORY_KIB", 8 * 1024, 1024 * 1024, func(c *Config, v uint64) { c.Params.MemoryKiB = uint32(v) }},
	{"PARLEY_ARGON2_ITERATIONS", 1, 20, func(c *Config, v uint64) { c.Params.Iterations = uint32(v) }},
	{"PARLEY_ARGON2_PARALLELISM", 1, math.MaxUint8, func(c *Config, v uint64) { c.Params.Parallelism = uint8(v) }},
	{"PARLEY_ARGON2_SALT_LEN", 8, 64, func(c *Config, v uint64) { c.Params.SaltLength = uint32(v) }},
	{"PARLEY_ARGON2_KEY_LEN", 16, 64, func(c *Config, v uint64) { c.Params.KeyLength = uint32(v) }},
}

// FromEnv overlays PARLEY_PASSWORD_* and PARLEY_ARGON2_* onto DefaultConfig.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	for _, b := range uintBindings {
		raw, ok := os.LookupEnv(b.key)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
		if err != nil || v < b.min || v > b.max {
			return Config{}, fmt.Errorf("%w: %s must be an integer in [%d..%d]", ErrConfig, b.key, b.min, b.max)
		}
		b.set(&cfg, v)
	}

	if raw, ok := os.LookupEnv("PARLEY_PASSWORD_REJECT_VERY_WEAK"); ok && strings.TrimSpace(raw) != "" {
		v, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("%w: PARLEY_PASSWORD_REJECT_VERY_WEAK must be a boolean", ErrConfig)
		}
		cfg.Policy.RejectVeryWeak = v
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf("%w: min_len(%d) > max_len(%d)", ErrConfig, cfg.Policy.MinLength, cfg.Policy.MaxLength)
	}
	return cfg, nil
}
