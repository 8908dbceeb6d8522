package authapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"parley/cmd/identity"
	"parley/cmd/internal/auth/session"
	"parley/cmd/security/password"
	"parley/cmd/security/token"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	handler *Handler
	router  http.Handler
	clock   *testClock
	audit   *MemoryAudit
}

func fastPasswords() password.Config {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()
	return newTestEnvWith(t, nil, mutate...)
}

func newTestEnvWith(t *testing.T, opts []HandlerOption, mutate ...func(*Config)) *testEnv {
	t.Helper()
	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	scfg := session.DefaultConfig()
	scfg.AllowEphemeralKey = true
	sessions, err := session.NewService(scfg, session.NewMemoryStore(),
		session.WithClock(clock.Now),
		session.WithHasher(token.NewHasher([]byte("0123456789abcdef0123456789abcdef"))),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	audit := &MemoryAudit{}
	opts = append([]HandlerOption{WithAudit(audit), WithClock(clock.Now)}, opts...)
	h, err := NewHandler(nil, identity.NewLedger(identity.NewMemoryStore(), fastPasswords()), sessions, cfg, opts...)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	r := chi.NewRouter()
	h.Routes(r)
	return &testEnv{handler: h, router: r, clock: clock, audit: audit}
}

func (e *testEnv) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.RemoteAddr = "198.51.100.7:41000"
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[errorBody](t, w).Error.Code
}

func (e *testEnv) register(t *testing.T, email string) authResponse {
	t.Helper()
	w := e.do(t, http.MethodPost, "/auth/register", "", registerRequest{Email: email, Password: "correct horse battery", Name: "Ada"})
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d body=%s", w.Code, w.Body.String())
	}
	return decode[authResponse](t, w)
}

func TestRegister(t *testing.T) {
	e := newTestEnv(t)

	resp := e.register(t, "ada@example.com")
	if resp.User.Email != "ada@example.com" || resp.User.Name != "Ada" || resp.User.ID == "" {
		t.Fatalf("user = %+v", resp.User)
	}
	if resp.Tokens.TokenType != "bearer" || resp.Tokens.AccessToken == "" || resp.Tokens.RefreshToken == "" {
		t.Fatalf("tokens = %+v", resp.Tokens)
	}

	w := e.do(t, http.MethodPost, "/auth/register", "", registerRequest{Email: "ADA@example.com ", Password: "another good secret"})
	if w.Code != http.StatusConflict || errorCode(t, w) != "email_taken" {
		t.Fatalf("duplicate: status=%d body=%s", w.Code, w.Body.String())
	}

	w = e.do(t, http.MethodPost, "/auth/register", "", registerRequest{Email: "bob@example.com", Password: "password"})
	if w.Code != http.StatusBadRequest || errorCode(t, w) != "invalid_input" {
		t.Fatalf("weak password: status=%d body=%s", w.Code, w.Body.String())
	}

	w = e.do(t, http.MethodPost, "/auth/register", "", map[string]string{"email": "x@example.com", "pasword": "typo"})
	if w.Code != http.StatusBadRequest || errorCode(t, w) != "invalid_json" {
		t.Fatalf("unknown field: status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestLogin(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, "ada@example.com")

	w := e.do(t, http.MethodPost, "/auth/login", "", loginRequest{Email: "Ada@Example.com", Password: "correct horse battery"})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d body=%s", w.Code, w.Body.String())
	}

	for _, req := range []loginRequest{
		{Email: "ada@example.com", Password: "wrong horse battery"},
		{Email: "nobody@example.com", Password: "correct horse battery"},
	} {
		w := e.do(t, http.MethodPost, "/auth/login", "", req)
		if w.Code != http.StatusUnauthorized || errorCode(t, w) != "invalid_credentials" {
			t.Fatalf("login %s: status=%d body=%s", req.Email, w.Code, w.Body.String())
		}
	}

	var failed int
	for _, ev := range e.audit.Events() {
		if ev.Action == "auth.login.failed" {
			failed++
		}
	}
	if failed != 2 {
		t.Fatalf("audited failures = %d, want 2", failed)
	}
}

func TestLogin_RateLimitedPerIP(t *testing.T) {
	e := newTestEnv(t, func(c *Config) {
		c.LoginRate = rate.Limit(1.0 / 60.0)
		c.LoginBurst = 2
	})

	for i := 0; i < 2; i++ {
		w := e.do(t, http.MethodPost, "/auth/login", "", loginRequest{Email: "x@example.com", Password: "whatever123"})
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d", i, w.Code)
		}
	}
	w := e.do(t, http.MethodPost, "/auth/login", "", loginRequest{Email: "x@example.com", Password: "whatever123"})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}

	e.clock.Advance(time.Minute)
	w = e.do(t, http.MethodPost, "/auth/login", "", loginRequest{Email: "x@example.com", Password: "whatever123"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("after refill status = %d, want 401", w.Code)
	}
}

func TestRefresh_RotationAndReuse(t *testing.T) {
	e := newTestEnv(t)
	first := e.register(t, "ada@example.com").Tokens

	w := e.do(t, http.MethodPost, "/auth/refresh", "", refreshRequest{RefreshToken: first.RefreshToken})
	if w.Code != http.StatusOK {
		t.Fatalf("refresh status = %d body=%s", w.Code, w.Body.String())
	}
	second := decode[refreshResponse](t, w).Tokens
	if second.RefreshToken == "" || second.RefreshToken == first.RefreshToken {
		t.Fatal("refresh must mint a new refresh token")
	}

	w = e.do(t, http.MethodPost, "/auth/refresh", "", refreshRequest{RefreshToken: first.RefreshToken})
	if w.Code != http.StatusUnauthorized || errorCode(t, w) != "token_reuse_detected" {
		t.Fatalf("reuse: status=%d body=%s", w.Code, w.Body.String())
	}

	w = e.do(t, http.MethodPost, "/auth/refresh", "", refreshRequest{RefreshToken: second.RefreshToken})
	if w.Code != http.StatusUnauthorized || errorCode(t, w) != "token_revoked" {
		t.Fatalf("after reuse: status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestRefresh_Errors(t *testing.T) {
	e := newTestEnv(t)
	tokens := e.register(t, "ada@example.com").Tokens

	cases := []struct {
		name string
		body any
		want string
		code int
	}{
		{"missing", refreshRequest{}, "invalid_input", http.StatusBadRequest},
		{"garbage", refreshRequest{RefreshToken: "v4.public.nope"}, "invalid_token", http.StatusUnauthorized},
		{"access token", refreshRequest{RefreshToken: tokens.AccessToken}, "invalid_token", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := e.do(t, http.MethodPost, "/auth/refresh", "", tc.body)
			if w.Code != tc.code || errorCode(t, w) != tc.want {
				t.Fatalf("status=%d body=%s, want %d %s", w.Code, w.Body.String(), tc.code, tc.want)
			}
		})
	}

	e.clock.Advance(8 * 24 * time.Hour)
	w := e.do(t, http.MethodPost, "/auth/refresh", "", refreshRequest{RefreshToken: tokens.RefreshToken})
	if w.Code != http.StatusUnauthorized || errorCode(t, w) != "token_expired" {
		t.Fatalf("expired: status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestLogout_Idempotent(t *testing.T) {
	e := newTestEnv(t)
	tokens := e.register(t, "ada@example.com").Tokens

	for i := 0; i < 2; i++ {
		w := e.do(t, http.MethodPost, "/auth/logout", "", refreshRequest{RefreshToken: tokens.RefreshToken})
		if w.Code != http.StatusNoContent {
			t.Fatalf("logout #%d status = %d body=%s", i, w.Code, w.Body.String())
		}
	}

	w := e.do(t, http.MethodPost, "/auth/refresh", "", refreshRequest{RefreshToken: tokens.RefreshToken})
	if w.Code != http.StatusUnauthorized || errorCode(t, w) != "token_revoked" {
		t.Fatalf("refresh after logout: status=%d body=%s", w.Code, w.Body.String())
	}

	w = e.do(t, http.MethodPost, "/auth/logout", "", refreshRequest{RefreshToken: "garbage"})
	if w.Code != http.StatusUnauthorized || errorCode(t, w) != "invalid_token" {
		t.Fatalf("malformed: status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestLogoutAll(t *testing.T) {
	e := newTestEnv(t)
	reg := e.register(t, "ada@example.com")

	w := e.do(t, http.MethodPost, "/auth/login", "", loginRequest{Email: "ada@example.com", Password: "correct horse battery"})
	second := decode[authResponse](t, w).Tokens

	w = e.do(t, http.MethodPost, "/auth/logout_all", reg.Tokens.AccessToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("logout_all status = %d body=%s", w.Code, w.Body.String())
	}
	if got := decode[logoutAllResponse](t, w).Revoked; got != 2 {
		t.Fatalf("revoked = %d, want 2", got)
	}

	for _, tok := range []string{reg.Tokens.RefreshToken, second.RefreshToken} {
		w := e.do(t, http.MethodPost, "/auth/refresh", "", refreshRequest{RefreshToken: tok})
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("refresh after logout_all status = %d", w.Code)
		}
	}

	// Access tokens are stateless and outlive the revocation.
	w = e.do(t, http.MethodGet, "/auth/verify", reg.Tokens.AccessToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("verify after logout_all status = %d", w.Code)
	}
}

func TestMeAndVerify(t *testing.T) {
	e := newTestEnv(t)
	reg := e.register(t, "ada@example.com")

	w := e.do(t, http.MethodGet, "/auth/me", reg.Tokens.AccessToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("me status = %d body=%s", w.Code, w.Body.String())
	}
	if me := decode[meResponse](t, w); me.User.ID != reg.User.ID {
		t.Fatalf("me = %+v", me.User)
	}

	w = e.do(t, http.MethodGet, "/auth/verify", reg.Tokens.AccessToken, nil)
	v := decode[verifyResponse](t, w)
	if !v.Valid || v.UserID != reg.User.ID || !v.ExpiresAt.Equal(reg.Tokens.AccessExpiresAt) {
		t.Fatalf("verify = %+v", v)
	}

	w = e.do(t, http.MethodGet, "/auth/me", "", nil)
	if w.Code != http.StatusUnauthorized || w.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("no token: status=%d", w.Code)
	}
	w = e.do(t, http.MethodGet, "/auth/me", reg.Tokens.RefreshToken, nil)
	if w.Code != http.StatusUnauthorized || errorCode(t, w) != "invalid_token" {
		t.Fatalf("refresh as access: status=%d body=%s", w.Code, w.Body.String())
	}

	e.clock.Advance(31 * time.Minute)
	w = e.do(t, http.MethodGet, "/auth/verify", reg.Tokens.AccessToken, nil)
	if w.Code != http.StatusUnauthorized || errorCode(t, w) != "token_expired" {
		t.Fatalf("expired: status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestRequireAccessOrQuery(t *testing.T) {
	e := newTestEnv(t)
	reg := e.register(t, "ada@example.com")

	var seen session.Principal
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = session.PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	bearerOnly := e.handler.RequireAccess(ok)
	withQuery := e.handler.RequireAccessOrQuery(ok)
	q := "/ws?access_token=" + reg.Tokens.AccessToken

	w := httptest.NewRecorder()
	bearerOnly.ServeHTTP(w, httptest.NewRequest(http.MethodGet, q, nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bearer-only with query token: status = %d, want 401", w.Code)
	}

	w = httptest.NewRecorder()
	withQuery.ServeHTTP(w, httptest.NewRequest(http.MethodGet, q, nil))
	if w.Code != http.StatusNoContent || seen.UserID != reg.User.ID {
		t.Fatalf("query token: status = %d principal = %+v", w.Code, seen)
	}
}

func TestRefresh_WebCookie(t *testing.T) {
	e := newTestEnv(t, func(c *Config) { c.WebRefreshCookie = true })

	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(`{"email":"ada@example.com","password":"correct horse battery"}`))
	req.Header.Set("X-Client-Platform", "web")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d", w.Code)
	}
	if decode[authResponse](t, w).Tokens.RefreshToken != "" {
		t.Fatal("web clients must not see the refresh token in the body")
	}

	var refresh, csrf *http.Cookie
	for _, c := range w.Result().Cookies() {
		switch c.Name {
		case "parley_refresh":
			refresh = c
		case "parley_csrf":
			csrf = c
		}
	}
	if refresh == nil || csrf == nil {
		t.Fatal("missing session cookies")
	}

	req = httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(refresh)
	req.AddCookie(csrf)
	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden || errorCode(t, w) != "csrf_invalid" {
		t.Fatalf("without csrf header: status=%d body=%s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(refresh)
	req.AddCookie(csrf)
	req.Header.Set("X-CSRF-Token", csrf.Value)
	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("cookie refresh status = %d body=%s", w.Code, w.Body.String())
	}
	if decode[refreshResponse](t, w).Tokens.RefreshToken != "" {
		t.Fatal("rotated refresh token must stay in the cookie")
	}
}
