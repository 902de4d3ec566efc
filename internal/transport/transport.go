// Package transport moves tokens between HTTP requests and the auth core:
// HttpOnly cookies for browsers, a bearer header for everything else.
package transport

import (
	"net"
	"net/http"
	"strings"
	"time"

	"storefront/internal/model"
)

const RefreshPath = "/api/v1/auth/refresh"

type Cookies struct {
	AccessName  string
	RefreshName string
	Domain      string
	Secure      bool
	now         func() time.Time
}

func NewCookies(accessName, refreshName, domain string, secure bool) *Cookies {
	return &Cookies{
		AccessName:  accessName,
		RefreshName: refreshName,
		Domain:      domain,
		Secure:      secure,
		now:         time.Now,
	}
}

// SetTokens writes both token cookies with the same lifetime: a browser
// session cookie, or for remember-me pairs a persistent cookie that lasts
// as long as the refresh token. The access cookie outlives its token so an
// expired token still reaches refresh and logout.
func (c *Cookies) SetTokens(w http.ResponseWriter, pair model.TokenPair) {
	maxAge := 0
	if pair.RememberMe {
		maxAge = int(pair.RefreshExpiresAt.Sub(c.now()).Seconds())
		if maxAge <= 0 {
			maxAge = -1
		}
	}
	http.SetCookie(w, c.cookie(c.AccessName, pair.AccessToken, "/", maxAge))
	http.SetCookie(w, c.cookie(c.RefreshName, pair.RefreshToken, RefreshPath, maxAge))
}

// Clear expires both token cookies on the client.
func (c *Cookies) Clear(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(c.AccessName, "", "/", -1))
	http.SetCookie(w, c.cookie(c.RefreshName, "", RefreshPath, -1))
}

func (c *Cookies) cookie(name, value, path string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   c.Domain,
		MaxAge:   maxAge,
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

// AccessToken prefers the cookie and falls back to the bearer header. It
// reports whether the token came from a cookie.
func (c *Cookies) AccessToken(r *http.Request) (string, bool) {
	if cookie, err := r.Cookie(c.AccessName); err == nil && strings.TrimSpace(cookie.Value) != "" {
		return strings.TrimSpace(cookie.Value), true
	}
	return BearerToken(r), false
}

func (c *Cookies) RefreshToken(r *http.Request) string {
	if cookie, err := r.Cookie(c.RefreshName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// ClientIP returns the caller's address. Forwarding headers are honoured
// only when the service sits behind a trusted proxy.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			for candidate := range strings.SplitSeq(forwarded, ",") {
				if ip := parseIP(candidate); ip != "" {
					return ip
				}
			}
		}
		if ip := parseIP(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := parseIP(host); ip != "" {
		return ip
	}
	return "unknown"
}

func parseIP(raw string) string {
	ip := net.ParseIP(strings.TrimSpace(raw))
	if ip == nil {
		return ""
	}
	return ip.String()
}
