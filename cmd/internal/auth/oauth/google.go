package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	googleAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL    = "https://oauth2.googleapis.com/token"
	googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

	maxProviderBody = 1 << 20
)

// GoogleConfig holds the client credentials. The URL fields override the
// Google endpoints and are left empty outside tests.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

func (c GoogleConfig) Enabled() bool { return c.ClientID != "" }

type Google struct {
	cfg    GoogleConfig
	client *http.Client
}

// NewGoogle returns a Google provider. A nil client gets a 10s timeout.
func NewGoogle(cfg GoogleConfig, client *http.Client) *Google {
	if cfg.AuthURL == "" {
		cfg.AuthURL = googleAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = googleTokenURL
	}
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = googleUserInfoURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Google{cfg: cfg, client: client}
}

func (*Google) Name() string { return "google" }

func (g *Google) LoginURL(state string) string {
	q := url.Values{
		"client_id":     {g.cfg.ClientID},
		"redirect_uri":  {g.cfg.RedirectURL},
		"response_type": {"code"},
		"scope":         {"openid email profile"},
		"access_type":   {"offline"},
	}
	if state != "" {
		q.Set("state", state)
	}
	return g.cfg.AuthURL + "?" + q.Encode()
}

type googleToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type googleUser struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

func (g *Google) Exchange(ctx context.Context, code string) (Profile, error) {
	if strings.TrimSpace(code) == "" {
		return Profile{}, fmt.Errorf("%w: empty code", ErrExchange)
	}

	form := url.Values{
		"code":          {code},
		"client_id":     {g.cfg.ClientID},
		"client_secret": {g.cfg.ClientSecret},
		"redirect_uri":  {g.cfg.RedirectURL},
		"grant_type":    {"authorization_code"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrExchange, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var tok googleToken
	if err := g.doJSON(req, "token", &tok); err != nil {
		return Profile{}, err
	}
	if tok.AccessToken == "" {
		return Profile{}, fmt.Errorf("%w: token response without access_token", ErrExchange)
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.UserInfoURL, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrExchange, err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)

	var u googleUser
	if err := g.doJSON(req, "userinfo", &u); err != nil {
		return Profile{}, err
	}
	if u.Sub == "" || u.Email == "" {
		return Profile{}, fmt.Errorf("%w: userinfo without sub or email", ErrExchange)
	}

	return Profile{
		Provider:      g.Name(),
		Subject:       u.Sub,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		Name:          u.Name,
	}, nil
}

func (g *Google) doJSON(req *http.Request, step string, dst any) error {
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrExchange, step, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderBody))
	if err != nil {
		return fmt.Errorf("%w: %s: read: %v", ErrExchange, step, err)
	}
	if resp.StatusCode != http.StatusOK {
		// The body may echo the code; only the status is kept.
		return fmt.Errorf("%w: %s: status %d", ErrExchange, step, resp.StatusCode)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: %s: decode: %v", ErrExchange, step, err)
	}
	return nil
}

var _ Provider = (*Google)(nil)
