package oauth

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

type Config struct {
	Google GoogleConfig

	// FrontendRedirectURL receives the browser after the callback, with the
	// tokens or an error code in the URL fragment. Empty answers the
	// callback with JSON instead.
	FrontendRedirectURL string

	// StateTTL bounds the lifetime of the state cookie.
	StateTTL time.Duration
}

func DefaultConfig() Config {
	return Config{StateTTL: 10 * time.Minute}
}

// LoadConfigFromEnv reads PARLEY_OAUTH_*. Google is enabled by setting
// PARLEY_OAUTH_GOOGLE_CLIENT_ID; the secret and redirect URL are then required.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	cfg.Google = GoogleConfig{
		ClientID:     env("PARLEY_OAUTH_GOOGLE_CLIENT_ID"),
		ClientSecret: env("PARLEY_OAUTH_GOOGLE_CLIENT_SECRET"),
		RedirectURL:  env("PARLEY_OAUTH_GOOGLE_REDIRECT_URL"),
		AuthURL:      env("PARLEY_OAUTH_GOOGLE_AUTH_URL"),
		TokenURL:     env("PARLEY_OAUTH_GOOGLE_TOKEN_URL"),
		UserInfoURL:  env("PARLEY_OAUTH_GOOGLE_USERINFO_URL"),
	}
	cfg.FrontendRedirectURL = env("PARLEY_OAUTH_FRONTEND_REDIRECT_URL")

	if v := env("PARLEY_OAUTH_STATE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("%w: PARLEY_OAUTH_STATE_TTL must be a positive duration", ErrConfig)
		}
		cfg.StateTTL = d
	}

	if cfg.Google.Enabled() {
		if cfg.Google.ClientSecret == "" || cfg.Google.RedirectURL == "" {
			return Config{}, fmt.Errorf("%w: PARLEY_OAUTH_GOOGLE_CLIENT_SECRET and PARLEY_OAUTH_GOOGLE_REDIRECT_URL are required", ErrConfig)
		}
		if !absoluteURL(cfg.Google.RedirectURL) {
			return Config{}, fmt.Errorf("%w: PARLEY_OAUTH_GOOGLE_REDIRECT_URL must be an absolute http(s) URL", ErrConfig)
		}
	}
	if cfg.FrontendRedirectURL != "" && !absoluteURL(cfg.FrontendRedirectURL) {
		return Config{}, fmt.Errorf("%w: PARLEY_OAUTH_FRONTEND_REDIRECT_URL must be an absolute http(s) URL", ErrConfig)
	}
	return cfg, nil
}

func absoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func env(key string) string { return strings.TrimSpace(os.Getenv(key)) }
