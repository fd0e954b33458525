package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jrsteele09/election-session/credentials"
	"github.com/jrsteele09/election-session/upstream"
	"github.com/jrsteele09/election-session/users"
)

const refreshCookieMaxAge = 7 * 24 * 60 * 60

// setSessionCookies writes the credential cookies the tabs read through
// credentials.CookieStore. Credentials are HttpOnly; the display attributes
// are readable by the page.
func (s *Server) setSessionCookies(w http.ResponseWriter, r *http.Request, tokens *upstream.Tokens, p *users.Principal) {
	accessMaxAge := 0
	if !tokens.Expiry.IsZero() {
		if secs := int(time.Until(tokens.Expiry).Seconds()); secs > 0 {
			accessMaxAge = secs
		}
	}
	http.SetCookie(w, s.cookie(r, credentials.AccessCookie, tokens.AccessToken, true, accessMaxAge))
	if tokens.RefreshToken != "" {
		http.SetCookie(w, s.cookie(r, credentials.RefreshCookie, tokens.RefreshToken, true, refreshCookieMaxAge))
	}

	attrs := credentials.AttributesOf(p)
	http.SetCookie(w, s.cookie(r, credentials.RoleCookie, string(attrs.Role), false, refreshCookieMaxAge))
	http.SetCookie(w, s.cookie(r, credentials.StatusCookie, string(attrs.Status), false, refreshCookieMaxAge))
	http.SetCookie(w, s.cookie(r, credentials.DisplayNameCookie, url.QueryEscape(attrs.DisplayName), false, refreshCookieMaxAge))
}

func (s *Server) clearSessionCookies(w http.ResponseWriter, r *http.Request) {
	for _, name := range []string{
		credentials.AccessCookie,
		credentials.RefreshCookie,
		credentials.RoleCookie,
		credentials.StatusCookie,
		credentials.DisplayNameCookie,
	} {
		http.SetCookie(w, s.cookie(r, name, "", name == credentials.AccessCookie || name == credentials.RefreshCookie, -1))
	}
}

func (s *Server) cookie(r *http.Request, name, value string, httpOnly bool, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: httpOnly,
		Secure:   s.config.GetSecureCookies() || getScheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
	}
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// accessCredential prefers an Authorization bearer over the access cookie.
func accessCredential(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") && parts[1] != "" {
			return parts[1]
		}
	}
	return cookieValue(r, credentials.AccessCookie)
}
