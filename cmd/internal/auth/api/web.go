package authapi

import (
	"crypto/rand"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"
)

// Web clients keep the refresh token in an HttpOnly cookie scoped to /auth.
// A second, script-readable cookie holds a CSRF value that must be echoed in
// cfg.CSRFHeaderName on every cookie-authenticated refresh or logout.

func (h *Handler) webCookie(name, value string, exp time.Time, httpOnly bool) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  exp,
		HttpOnly: httpOnly,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.CookieSameSite,
	}
	if value == "" {
		c.Expires, c.MaxAge = time.Unix(0, 0).UTC(), -1
	}
	return c
}

func (h *Handler) setWebSessionCookies(w http.ResponseWriter, refreshToken string, refreshExp time.Time) {
	// rand.Text carries 128 bits in base32 and cannot fail.
	csrf := rand.Text()
	http.SetCookie(w, h.webCookie(h.cfg.RefreshCookieName, refreshToken, refreshExp, true))
	http.SetCookie(w, h.webCookie(h.cfg.CSRFCookieName, csrf, refreshExp, false))
}

func (h *Handler) clearWebSessionCookies(w http.ResponseWriter) {
	if h.cfg.WebRefreshCookie {
		http.SetCookie(w, h.webCookie(h.cfg.RefreshCookieName, "", time.Time{}, true))
		http.SetCookie(w, h.webCookie(h.cfg.CSRFCookieName, "", time.Time{}, false))
	}
}

func (h *Handler) refreshTokenFromCookie(r *http.Request) (string, bool) {
	if !h.cfg.WebRefreshCookie {
		return "", false
	}
	v := cookieValue(r, h.cfg.RefreshCookieName)
	return v, v != ""
}

func (h *Handler) csrfDoubleSubmitValid(r *http.Request) bool {
	want := cookieValue(r, h.cfg.CSRFCookieName)
	got := strings.TrimSpace(r.Header.Get(h.cfg.CSRFHeaderName))
	return want != "" && subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}
