package session

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// TokenFormat selects the TokenCodec.
type TokenFormat string

const (
	FormatPaseto TokenFormat = "paseto"
	FormatJWT    TokenFormat = "jwt"
)

// Config is the runtime configuration of the token lifecycle.
type Config struct {
	// Issuer is written to and required in the "iss" claim.
	Issuer string

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// ClockSkew tolerates tokens issued slightly in the future. Expiry is exact.
	ClockSkew time.Duration

	TokenFormat TokenFormat

	// PasetoV4SecretKeyHex is the hex Ed25519 secret for v4.public.
	PasetoV4SecretKeyHex string

	// JWTSecret is the HS256 key; at least 32 bytes.
	JWTSecret string

	// AllowEphemeralKey permits an in-memory signing key when none is configured.
	// Tokens then stop verifying across restarts.
	AllowEphemeralKey bool

	// RequireTokenHMAC refuses to hash refresh tokens without a keyed HMAC.
	RequireTokenHMAC bool

	// MaxLineageLength bounds the reuse-detection walk.
	MaxLineageLength int

	SweepInterval time.Duration
	SweepGrace    time.Duration
}

func DefaultConfig() Config {
	return Config{
		Issuer:           "parley",
		AccessTTL:        30 * time.Minute,
		RefreshTTL:       7 * 24 * time.Hour,
		ClockSkew:        30 * time.Second,
		TokenFormat:      FormatPaseto,
		MaxLineageLength: 10000,
		SweepInterval:    time.Hour,
		SweepGrace:       24 * time.Hour,
	}
}

// LoadConfigFromEnv overlays PARLEY_AUTH_* and the key variables onto
// DefaultConfig. Every failure wraps ErrConfig.
//
// Keys:
//   - PARLEY_AUTH_ISSUER
//   - PARLEY_AUTH_ACCESS_TTL, PARLEY_AUTH_REFRESH_TTL, PARLEY_AUTH_CLOCK_SKEW
//   - PARLEY_AUTH_TOKEN_FORMAT (paseto|jwt)
//   - PARLEY_PASETO_V4_SECRET_KEY_HEX, PARLEY_JWT_SECRET
//   - PARLEY_AUTH_EPHEMERAL_KEYS, PARLEY_AUTH_REQUIRE_TOKEN_HMAC
//   - PARLEY_AUTH_MAX_LINEAGE
//   - PARLEY_AUTH_SWEEP_INTERVAL, PARLEY_AUTH_SWEEP_GRACE
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	var err error

	if v := strings.TrimSpace(os.Getenv("PARLEY_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}
	if cfg.AccessTTL, err = envDuration("PARLEY_AUTH_ACCESS_TTL", cfg.AccessTTL, time.Second); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTTL, err = envDuration("PARLEY_AUTH_REFRESH_TTL", cfg.RefreshTTL, time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.ClockSkew, err = envDuration("PARLEY_AUTH_CLOCK_SKEW", cfg.ClockSkew, 0); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = envDuration("PARLEY_AUTH_SWEEP_INTERVAL", cfg.SweepInterval, time.Second); err != nil {
		return Config{}, err
	}
	if cfg.SweepGrace, err = envDuration("PARLEY_AUTH_SWEEP_GRACE", cfg.SweepGrace, 0); err != nil {
		return Config{}, err
	}
	if cfg.AllowEphemeralKey, err = envBool("PARLEY_AUTH_EPHEMERAL_KEYS", cfg.AllowEphemeralKey); err != nil {
		return Config{}, err
	}
	if cfg.RequireTokenHMAC, err = envBool("PARLEY_AUTH_REQUIRE_TOKEN_HMAC", cfg.RequireTokenHMAC); err != nil {
		return Config{}, err
	}

	if v := strings.TrimSpace(os.Getenv("PARLEY_AUTH_MAX_LINEAGE")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 2 {
			return Config{}, fmt.Errorf("%w: PARLEY_AUTH_MAX_LINEAGE must be an integer >= 2", ErrConfig)
		}
		cfg.MaxLineageLength = n
	}

	if v := strings.TrimSpace(os.Getenv("PARLEY_AUTH_TOKEN_FORMAT")); v != "" {
		cfg.TokenFormat = TokenFormat(strings.ToLower(v))
	}
	cfg.PasetoV4SecretKeyHex = strings.TrimSpace(os.Getenv("PARLEY_PASETO_V4_SECRET_KEY_HEX"))
	cfg.JWTSecret = os.Getenv("PARLEY_JWT_SECRET")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants.
func (c Config) Validate() error {
	switch {
	case c.Issuer == "":
		return fmt.Errorf("%w: empty issuer", ErrConfig)
	case c.AccessTTL <= 0 || c.RefreshTTL <= 0:
		return fmt.Errorf("%w: token lifetimes must be positive", ErrConfig)
	case c.AccessTTL >= c.RefreshTTL:
		return fmt.Errorf("%w: access ttl must be shorter than refresh ttl", ErrConfig)
	case c.MaxLineageLength < 2:
		return fmt.Errorf("%w: max lineage length must be >= 2", ErrConfig)
	}

	switch c.TokenFormat {
	case FormatPaseto:
		if c.PasetoV4SecretKeyHex == "" && !c.AllowEphemeralKey {
			return fmt.Errorf("%w: PARLEY_PASETO_V4_SECRET_KEY_HEX is required", ErrConfig)
		}
	case FormatJWT:
		if c.JWTSecret == "" && !c.AllowEphemeralKey {
			return fmt.Errorf("%w: PARLEY_JWT_SECRET is required", ErrConfig)
		}
		if c.JWTSecret != "" && len(c.JWTSecret) < minJWTSecretBytes {
			return fmt.Errorf("%w: PARLEY_JWT_SECRET must be at least %d bytes", ErrConfig, minJWTSecretBytes)
		}
	default:
		return fmt.Errorf("%w: unknown token format %q", ErrConfig, c.TokenFormat)
	}
	return nil
}

func envDuration(key string, def, minVal time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < minVal {
		return 0, fmt.Errorf("%w: %s must be a duration >= %s", ErrConfig, key, minVal)
	}
	return d, nil
}

func envBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", ErrConfig, key)
	}
	return b, nil
}
