package authapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"parley/cmd/identity"
	"parley/cmd/internal/auth/oauth"
	"parley/cmd/internal/auth/session"
)

const oauthStateCookie = "parley_oauth_state"

type codeRequest struct {
	Code string `json:"code"`
}

type authURLResponse struct {
	AuthURL string `json:"auth_url"`
	State   string `json:"state"`
}

// WithOAuth mounts /oauth/{provider}/... for p.
func WithOAuth(p oauth.Provider, cfg oauth.Config) HandlerOption {
	return func(h *Handler) {
		if p != nil {
			h.oauth, h.oauthCfg = p, cfg
		}
	}
}

func (h *Handler) oauthRoutes(r chi.Router) {
	if h.oauth == nil {
		return
	}
	base := "/oauth/" + h.oauth.Name()
	r.Get(base+"/login", h.handleOAuthLogin)
	r.Get(base+"/auth-url", h.handleOAuthURL)
	r.Get(base+"/callback", h.handleOAuthCallback)
	r.Post(base+"/token", h.handleOAuthToken)
}

// handleOAuthLogin redirects the browser to the provider's consent page.
func (h *Handler) handleOAuthLogin(w http.ResponseWriter, r *http.Request) {
	state := h.newOAuthState(w)
	http.Redirect(w, r, h.oauth.LoginURL(state), http.StatusFound)
}

func (h *Handler) handleOAuthURL(w http.ResponseWriter, r *http.Request) {
	state := h.newOAuthState(w)
	WriteJSON(w, http.StatusOK, authURLResponse{AuthURL: h.oauth.LoginURL(state), State: state})
}

// handleOAuthCallback is the provider's redirect target. With a frontend
// URL configured the browser is sent there with the outcome in the fragment.
func (h *Handler) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	want := cookieValue(r, oauthStateCookie)
	http.SetCookie(w, h.oauthStateCookie("", 0))

	got := q.Get("state")
	if want == "" || subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
		h.log.Warn("auth.oauth.state_mismatch", "provider", h.oauth.Name())
		h.oauthFail(w, r, http.StatusBadRequest, "invalid_state", "oauth state mismatch")
		return
	}
	if e := q.Get("error"); e != "" {
		h.oauthFail(w, r, http.StatusUnauthorized, "oauth_denied", "provider returned "+e)
		return
	}

	u, pair, ok := h.completeOAuth(w, r, q.Get("code"))
	if !ok {
		return
	}
	if h.oauthCfg.FrontendRedirectURL == "" {
		h.writePair(w, r, http.StatusOK, u, pair)
		return
	}
	http.Redirect(w, r, frontendURL(h.oauthCfg.FrontendRedirectURL, url.Values{
		"access_token":  {pair.AccessToken},
		"refresh_token": {pair.RefreshToken},
		"token_type":    {"bearer"},
	}), http.StatusFound)
}

// handleOAuthToken serves clients that run the consent flow themselves and
// post the authorization code.
func (h *Handler) handleOAuthToken(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !ReadJSON(w, r, h.cfg.MaxBodyBytes, &req) {
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		WriteError(w, http.StatusBadRequest, "invalid_input", "code is required")
		return
	}
	u, pair, ok := h.completeOAuth(w, r, req.Code)
	if !ok {
		return
	}
	h.writePair(w, r, http.StatusOK, u, pair)
}

// completeOAuth exchanges code, resolves the account and issues a pair. It
// writes the error response itself.
func (h *Handler) completeOAuth(w http.ResponseWriter, r *http.Request, code string) (identity.User, session.Pair, bool) {
	ctx := r.Context()
	dev := h.device(r)
	provider := h.oauth.Name()

	if ok, wait := h.limiter.allow(dev.IP, h.now()); !ok {
		h.audit.Record(ctx, AuditEvent{Action: "auth.oauth.rate_limited", IP: dev.IP, UserAgent: dev.UserAgent, At: h.now()})
		if h.redirecting(r) {
			h.oauthFail(w, r, http.StatusTooManyRequests, "rate_limited", "too many attempts")
		} else {
			writeRateLimited(w, wait)
		}
		return identity.User{}, session.Pair{}, false
	}

	fail := func(status int, code, msg string, err error) (identity.User, session.Pair, bool) {
		h.log.Warn("auth.oauth.fail", "provider", provider, "code", code, "err", err)
		h.audit.Record(ctx, AuditEvent{
			Action: "auth.oauth.failed", IP: dev.IP, UserAgent: dev.UserAgent, At: h.now(),
			Meta: map[string]any{"provider": provider, "code": code},
		})
		h.oauthFail(w, r, status, code, msg)
		return identity.User{}, session.Pair{}, false
	}

	p, err := h.oauth.Exchange(ctx, code)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return identity.User{}, session.Pair{}, false
		}
		return fail(http.StatusBadGateway, "oauth_exchange_failed", "could not complete sign-in with "+provider, err)
	}

	u, err := h.ledger.ResolveOAuth(ctx, identity.OAuthProfile{
		Provider:      p.Provider,
		Subject:       p.Subject,
		Email:         p.Email,
		EmailVerified: p.EmailVerified,
		Name:          p.Name,
	})
	if err != nil {
		switch {
		case identity.IsConflict(err):
			return fail(http.StatusConflict, "account_conflict", "an account with this email already exists", err)
		case identity.IsInvalidInput(err):
			detail, _ := identity.InvalidDetail(err)
			return fail(http.StatusBadRequest, "invalid_input", detail, err)
		}
		h.log.Error("auth.oauth.resolve.fail", "err", err)
		h.oauthFail(w, r, http.StatusInternalServerError, "server_error", "internal error")
		return identity.User{}, session.Pair{}, false
	}

	pair, err := h.sessions.IssuePair(ctx, u.ID, dev)
	if err != nil {
		h.log.Error("auth.oauth.issue.fail", "err", err, "user_id", u.ID)
		h.oauthFail(w, r, http.StatusInternalServerError, "server_error", "internal error")
		return identity.User{}, session.Pair{}, false
	}

	h.audit.Record(ctx, AuditEvent{
		Action: "auth.oauth.success", UserID: u.ID, EntryID: pair.EntryID, IP: dev.IP, UserAgent: dev.UserAgent, At: h.now(),
		Meta: map[string]any{"provider": provider},
	})
	return u, pair, true
}

// redirecting reports whether errors on r go back to the frontend.
func (h *Handler) redirecting(r *http.Request) bool {
	return r.Method == http.MethodGet && h.oauthCfg.FrontendRedirectURL != ""
}

func (h *Handler) oauthFail(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	if h.redirecting(r) {
		http.Redirect(w, r, frontendURL(h.oauthCfg.FrontendRedirectURL, url.Values{"error": {code}}), http.StatusFound)
		return
	}
	WriteError(w, status, code, msg)
}

func (h *Handler) newOAuthState(w http.ResponseWriter) string {
	state := rand.Text()
	http.SetCookie(w, h.oauthStateCookie(state, h.oauthCfg.StateTTL))
	return state
}

// oauthStateCookie is Lax so it survives the provider's top-level redirect.
func (h *Handler) oauthStateCookie(value string, ttl time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     oauthStateCookie,
		Value:    value,
		Path:     "/oauth",
		Domain:   h.cfg.CookieDomain,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if value == "" {
		c.MaxAge = -1
	} else {
		c.MaxAge = int(ttl.Seconds())
	}
	return c
}

// frontendURL puts v in the fragment, which browsers never send to servers.
func frontendURL(base string, v url.Values) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String() + "#" + v.Encode()
}
