// Package transport moves the token pair between server and client. Browser
// clients get httpOnly cookies; clients that cannot persist cookies fall back
// to response headers and send tokens back by header.
package transport

import (
	"net/http"
	"strings"
	"time"
)

// Credentials is the token pair as seen on the wire.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// Transport writes the token pair to a response and reads it back from a
// request. Implementations must treat a missing token as empty, not an error.
type Transport interface {
	Write(w http.ResponseWriter, creds Credentials)
	Read(r *http.Request) Credentials
	Clear(w http.ResponseWriter)
}

const (
	accessCookieName  = "access_token"
	refreshCookieName = "refresh_token"

	accessFallbackHeader  = "fallback_access_token"
	refreshFallbackHeader = "fallback_refresh_token"
)

// CookieConfig configures the cookie transport.
type CookieConfig struct {
	// Domain scopes the cookies so sibling subdomains share the session.
	Domain string

	// MaxAge applies to both cookies. Defaults to 7 days.
	MaxAge time.Duration

	// Secure should only be disabled in local development.
	Secure bool
}

// Cookies stores both tokens in httpOnly cookies.
type Cookies struct {
	cfg CookieConfig
}

func NewCookies(cfg CookieConfig) *Cookies {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 7 * 24 * time.Hour
	}
	return &Cookies{cfg: cfg}
}

func (t *Cookies) Write(w http.ResponseWriter, creds Credentials) {
	http.SetCookie(w, t.cookie(accessCookieName, creds.AccessToken, int(t.cfg.MaxAge.Seconds())))
	http.SetCookie(w, t.cookie(refreshCookieName, creds.RefreshToken, int(t.cfg.MaxAge.Seconds())))
}

func (t *Cookies) Read(r *http.Request) Credentials {
	var creds Credentials
	if c, err := r.Cookie(accessCookieName); err == nil {
		creds.AccessToken = c.Value
	}
	if c, err := r.Cookie(refreshCookieName); err == nil {
		creds.RefreshToken = c.Value
	}
	return creds
}

// Clear expires both cookies.
func (t *Cookies) Clear(w http.ResponseWriter) {
	http.SetCookie(w, t.cookie(accessCookieName, "", -1))
	http.SetCookie(w, t.cookie(refreshCookieName, "", -1))
}

func (t *Cookies) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   t.cfg.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   t.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Headers ships tokens in response headers and reads the access token from
// Authorization: Bearer with the refresh token in its fallback header.
type Headers struct{}

func NewHeaders() *Headers { return &Headers{} }

func (t *Headers) Write(w http.ResponseWriter, creds Credentials) {
	w.Header().Set(accessFallbackHeader, creds.AccessToken)
	w.Header().Set(refreshFallbackHeader, creds.RefreshToken)
}

func (t *Headers) Read(r *http.Request) Credentials {
	creds := Credentials{
		RefreshToken: r.Header.Get(refreshFallbackHeader),
	}
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		creds.AccessToken = token
	} else {
		creds.AccessToken = r.Header.Get(accessFallbackHeader)
	}
	return creds
}

func (t *Headers) Clear(w http.ResponseWriter) {
	w.Header().Set(accessFallbackHeader, "")
	w.Header().Set(refreshFallbackHeader, "")
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
