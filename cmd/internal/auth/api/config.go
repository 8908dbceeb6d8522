package authapi

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var ErrConfig = errors.New("invalid auth api config")

// Config controls the auth HTTP surface.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// Login attempts per client IP: LoginRate tokens per second with a
	// LoginBurst bucket. Idle buckets are dropped after LoginIdleTTL.
	LoginRate    rate.Limit
	LoginBurst   int
	LoginIdleTTL time.Duration

	// WebRefreshCookie also accepts the refresh token from an HttpOnly
	// cookie guarded by a double-submit CSRF header.
	WebRefreshCookie  bool
	RefreshCookieName string
	CSRFCookieName    string
	CSRFHeaderName    string
	CookiePath        string
	CookieDomain      string
	CookieSecure      bool
	CookieSameSite    http.SameSite
}

func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:      1 << 20,
		LoginRate:         rate.Limit(10.0 / 60.0),
		LoginBurst:        10,
		LoginIdleTTL:      10 * time.Minute,
		RefreshCookieName: "parley_refresh",
		CSRFCookieName:    "parley_csrf",
		CSRFHeaderName:    "X-CSRF-Token",
		CookiePath:        "/auth",
		CookieSecure:      true,
		CookieSameSite:    http.SameSiteStrictMode,
	}
}

// LoadConfigFromEnv overlays PARLEY_AUTH_HTTP_* onto DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	var err error

	if cfg.TrustProxy, err = envBool("PARLEY_AUTH_TRUST_PROXY", cfg.TrustProxy); err != nil {
		return Config{}, err
	}
	if v := strings.TrimSpace(os.Getenv("PARLEY_AUTH_MAX_BODY_BYTES")); v != "" {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil || n <= 0 {
			return Config{}, fmt.Errorf("%w: PARLEY_AUTH_MAX_BODY_BYTES must be a positive integer", ErrConfig)
		}
		cfg.MaxBodyBytes = n
	}
	if v := strings.TrimSpace(os.Getenv("PARLEY_AUTH_LOGIN_PER_MINUTE")); v != "" {
		n, perr := strconv.ParseFloat(v, 64)
		if perr != nil || n <= 0 {
			return Config{}, fmt.Errorf("%w: PARLEY_AUTH_LOGIN_PER_MINUTE must be positive", ErrConfig)
		}
		cfg.LoginRate = rate.Limit(n / 60.0)
	}
	if v := strings.TrimSpace(os.Getenv("PARLEY_AUTH_LOGIN_BURST")); v != "" {
		n, perr := strconv.Atoi(v)
		if perr != nil || n <= 0 {
			return Config{}, fmt.Errorf("%w: PARLEY_AUTH_LOGIN_BURST must be a positive integer", ErrConfig)
		}
		cfg.LoginBurst = n
	}
	if cfg.WebRefreshCookie, err = envBool("PARLEY_AUTH_WEB_COOKIE", cfg.WebRefreshCookie); err != nil {
		return Config{}, err
	}
	if cfg.CookieSecure, err = envBool("PARLEY_AUTH_COOKIE_SECURE", cfg.CookieSecure); err != nil {
		return Config{}, err
	}
	if v := strings.TrimSpace(os.Getenv("PARLEY_AUTH_COOKIE_DOMAIN")); v != "" {
		cfg.CookieDomain = v
	}
	if v := strings.TrimSpace(os.Getenv("PARLEY_AUTH_COOKIE_SAMESITE")); v != "" {
		cfg.CookieSameSite = parseSameSite(v)
	}

	// Browsers drop SameSite=None cookies that are not Secure.
	if cfg.CookieSameSite == http.SameSiteNoneMode {
		cfg.CookieSecure = true
	}
	return cfg, nil
}

func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "default":
		return http.SameSiteDefaultMode
	default:
		return http.SameSiteLaxMode
	}
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
