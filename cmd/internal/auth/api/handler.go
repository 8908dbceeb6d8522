package authapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"parley/cmd/identity"
	"parley/cmd/internal/auth/oauth"
	"parley/cmd/internal/auth/session"
)

// Handler wires the auth endpoints to the credential ledger and the token
// lifecycle.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	ledger   *identity.Ledger
	sessions *session.Service
	audit    AuditSink
	limiter  *loginLimiter
	now      func() time.Time

	oauth    oauth.Provider
	oauthCfg oauth.Config
}

type HandlerOption func(*Handler)

func WithAudit(a AuditSink) HandlerOption {
	return func(h *Handler) {
		if a != nil {
			h.audit = a
		}
	}
}

func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

func NewHandler(log *slog.Logger, ledger *identity.Ledger, sessions *session.Service, cfg Config, opts ...HandlerOption) (*Handler, error) {
	if ledger == nil || sessions == nil {
		return nil, errors.New("authapi: nil ledger or session service")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	h := &Handler{
		log:      log,
		cfg:      cfg,
		ledger:   ledger,
		sessions: sessions,
		audit:    NopAudit{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	if cfg.LoginRate > 0 && cfg.LoginBurst > 0 {
		h.limiter = newLoginLimiter(cfg.LoginRate, cfg.LoginBurst, cfg.LoginIdleTTL)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Routes mounts the auth endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/auth/register", h.handleRegister)
	r.Post("/auth/login", h.handleLogin)
	r.Post("/auth/refresh", h.handleRefresh)
	r.Post("/auth/logout", h.handleLogout)
	h.oauthRoutes(r)

	r.Group(func(r chi.Router) {
		r.Use(h.RequireAccess)
		r.Post("/auth/logout_all", h.handleLogoutAll)
		r.Get("/auth/me", h.handleMe)
		r.Get("/auth/verify", h.handleVerify)
	})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !ReadJSON(w, r, h.cfg.MaxBodyBytes, &req) {
		return
	}

	ctx := r.Context()
	u, err := h.ledger.Register(ctx, identity.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		detail, invalid := identity.InvalidDetail(err)
		switch {
		case identity.IsConflict(err):
			WriteError(w, http.StatusConflict, "email_taken", "email already registered")
		case invalid:
			WriteError(w, http.StatusBadRequest, "invalid_input", detail)
		default:
			h.log.Error("auth.register.fail", "err", err)
			WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	dev := h.device(r)
	pair, err := h.sessions.IssuePair(ctx, u.ID, dev)
	if err != nil {
		h.log.Error("auth.register.issue.fail", "err", err, "user_id", u.ID)
		WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.audit.Record(ctx, AuditEvent{Action: "auth.register", UserID: u.ID, EntryID: pair.EntryID, IP: dev.IP, UserAgent: dev.UserAgent, At: h.now()})
	h.writePair(w, r, http.StatusCreated, u, pair)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	dev := h.device(r)
	if ok, wait := h.limiter.allow(dev.IP, h.now()); !ok {
		h.audit.Record(r.Context(), AuditEvent{Action: "auth.login.rate_limited", IP: dev.IP, UserAgent: dev.UserAgent, At: h.now()})
		writeRateLimited(w, wait)
		return
	}

	var req loginRequest
	if !ReadJSON(w, r, h.cfg.MaxBodyBytes, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		WriteError(w, http.StatusBadRequest, "invalid_input", "email and password are required")
		return
	}

	ctx := r.Context()
	u, err := h.ledger.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		if identity.IsInvalidCredentials(err) {
			h.audit.Record(ctx, AuditEvent{
				Action: "auth.login.failed", IP: dev.IP, UserAgent: dev.UserAgent, At: h.now(),
				Meta: map[string]any{"email": identity.NormalizeEmail(req.Email)},
			})
			WriteError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
			return
		}
		h.log.Error("auth.login.fail", "err", err)
		WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	pair, err := h.sessions.IssuePair(ctx, u.ID, dev)
	if err != nil {
		h.log.Error("auth.login.issue.fail", "err", err, "user_id", u.ID)
		WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.audit.Record(ctx, AuditEvent{Action: "auth.login.success", UserID: u.ID, EntryID: pair.EntryID, IP: dev.IP, UserAgent: dev.UserAgent, At: h.now()})
	h.writePair(w, r, http.StatusOK, u, pair)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	tok, fromCookie, ok := h.refreshTokenFrom(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	dev := h.device(r)
	pair, err := h.sessions.Rotate(ctx, tok, dev)
	if err != nil {
		if errors.Is(err, session.ErrTokenReuseDetected) {
			h.log.Warn("auth.refresh.reuse_detected", "ip", dev.IP)
			h.audit.Record(ctx, AuditEvent{Action: "auth.refresh.reuse_detected", IP: dev.IP, UserAgent: dev.UserAgent, At: h.now()})
			h.clearWebSessionCookies(w)
		}
		h.writeTokenError(w, "auth.refresh.fail", err)
		return
	}

	h.audit.Record(ctx, AuditEvent{Action: "auth.refresh.success", UserID: pair.UserID, EntryID: pair.EntryID, IP: dev.IP, UserAgent: dev.UserAgent, At: h.now()})

	resp := toTokenResponse(pair)
	if fromCookie {
		h.setWebSessionCookies(w, pair.RefreshToken, pair.RefreshExpiresAt)
		resp.RefreshToken = ""
	}
	WriteJSON(w, http.StatusOK, refreshResponse{Tokens: resp})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	tok, _, ok := h.refreshTokenFrom(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if err := h.sessions.RevokeToken(ctx, tok); err != nil {
		h.writeTokenError(w, "auth.logout.fail", err)
		return
	}

	dev := h.device(r)
	h.audit.Record(ctx, AuditEvent{Action: "auth.logout", IP: dev.IP, UserAgent: dev.UserAgent, At: h.now()})
	h.clearWebSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	p, _ := session.PrincipalFromContext(r.Context())

	ctx := r.Context()
	n, err := h.sessions.RevokeAll(ctx, p.UserID)
	if err != nil {
		h.log.Error("auth.logout_all.fail", "err", err, "user_id", p.UserID)
		WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	dev := h.device(r)
	h.audit.Record(ctx, AuditEvent{
		Action: "auth.logout_all", UserID: p.UserID, IP: dev.IP, UserAgent: dev.UserAgent, At: h.now(),
		Meta: map[string]any{"revoked": n},
	})
	h.clearWebSessionCookies(w)
	WriteJSON(w, http.StatusOK, logoutAllResponse{Revoked: n})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	p, _ := session.PrincipalFromContext(r.Context())

	u, err := h.ledger.Lookup(r.Context(), p.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			WriteError(w, http.StatusNotFound, "user_not_found", "user not found")
			return
		}
		h.log.Error("auth.me.fail", "err", err)
		WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	WriteJSON(w, http.StatusOK, meResponse{User: toUserResponse(u)})
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	p, _ := session.PrincipalFromContext(r.Context())
	WriteJSON(w, http.StatusOK, verifyResponse{Valid: true, UserID: p.UserID, ExpiresAt: p.ExpiresAt})
}

// RequireAccess admits requests carrying a valid bearer access token and
// stores the Principal in the request context.
func (h *Handler) RequireAccess(next http.Handler) http.Handler {
	return h.requireAccess(next, false)
}

// RequireAccessOrQuery also accepts ?access_token=, for clients such as
// browsers opening a WebSocket that cannot set headers.
func (h *Handler) RequireAccessOrQuery(next http.Handler) http.Handler {
	return h.requireAccess(next, true)
}

func (h *Handler) requireAccess(next http.Handler, allowQuery bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := BearerToken(r)
		if tok == "" && allowQuery {
			tok = strings.TrimSpace(r.URL.Query().Get("access_token"))
		}
		if tok == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			WriteError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}

		p, err := h.sessions.Authorize(tok)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			if errors.Is(err, session.ErrTokenExpired) {
				WriteError(w, http.StatusUnauthorized, "token_expired", "access token expired")
				return
			}
			WriteError(w, http.StatusUnauthorized, "invalid_token", "invalid access token")
			return
		}
		next.ServeHTTP(w, r.WithContext(session.WithPrincipal(r.Context(), p)))
	})
}

// refreshTokenFrom reads the refresh token from the body or, for web
// clients, the refresh cookie. It writes the error response itself.
func (h *Handler) refreshTokenFrom(w http.ResponseWriter, r *http.Request) (tok string, fromCookie, ok bool) {
	var req refreshRequest
	if r.ContentLength != 0 {
		if !ReadJSON(w, r, h.cfg.MaxBodyBytes, &req) {
			return "", false, false
		}
	}
	tok = strings.TrimSpace(req.RefreshToken)
	if tok == "" {
		if c, found := h.refreshTokenFromCookie(r); found {
			if !h.csrfDoubleSubmitValid(r) {
				WriteError(w, http.StatusForbidden, "csrf_invalid", "missing or invalid csrf token")
				return "", false, false
			}
			tok, fromCookie = c, true
		}
	}
	if tok == "" {
		WriteError(w, http.StatusBadRequest, "invalid_input", "refresh_token is required")
		return "", false, false
	}
	return tok, fromCookie, true
}

func (h *Handler) writePair(w http.ResponseWriter, r *http.Request, status int, u identity.User, pair session.Pair) {
	resp := toTokenResponse(pair)
	if h.cfg.WebRefreshCookie && strings.EqualFold(r.Header.Get("X-Client-Platform"), "web") {
		h.setWebSessionCookies(w, pair.RefreshToken, pair.RefreshExpiresAt)
		resp.RefreshToken = ""
	}
	WriteJSON(w, status, authResponse{User: toUserResponse(u), Tokens: resp})
}

// writeTokenError maps lifecycle errors onto stable 401 codes.
func (h *Handler) writeTokenError(w http.ResponseWriter, event string, err error) {
	switch {
	case errors.Is(err, session.ErrTokenReuseDetected):
		WriteError(w, http.StatusUnauthorized, "token_reuse_detected", "refresh token reuse detected")
	case errors.Is(err, session.ErrTokenRevoked):
		WriteError(w, http.StatusUnauthorized, "token_revoked", "refresh token revoked")
	case errors.Is(err, session.ErrTokenExpired):
		WriteError(w, http.StatusUnauthorized, "token_expired", "refresh token expired")
	case errors.Is(err, session.ErrUnknownToken):
		WriteError(w, http.StatusUnauthorized, "unknown_token", "unknown refresh token")
	case errors.Is(err, session.ErrInvalidToken):
		WriteError(w, http.StatusUnauthorized, "invalid_token", "invalid refresh token")
	default:
		h.log.Error(event, "err", err)
		WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}
