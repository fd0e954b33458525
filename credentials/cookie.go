package credentials

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"github.com/jrsteele09/election-session/internal/errors"
	"github.com/jrsteele09/election-session/users"
	"golang.org/x/net/publicsuffix"
)

// NewCookieJar returns a jar scoped with the public suffix list, so the
// auth cookies cannot leak to sibling registrable domains.
func NewCookieJar() (http.CookieJar, error) {
	return cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
}

// CookieStore keeps the credentials in the cookie jar of the portal's
// origin. The auth proxy writes the same cookies through Set-Cookie, so the
// jar and the store never disagree.
type CookieStore struct {
	mu   sync.Mutex
	jar  http.CookieJar
	base *url.URL
}

var _ Store = (*CookieStore)(nil)

// NewCookieStore binds the store to the jar entries of baseURL.
func NewCookieStore(jar http.CookieJar, baseURL string) (*CookieStore, error) {
	if jar == nil {
		return nil, errors.New("[CookieStore.New] jar is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "[CookieStore.New] invalid base url %q", baseURL)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("[CookieStore.New] base url %q must be absolute", baseURL)
	}
	u.Path = "/"
	return &CookieStore{jar: jar, base: u}, nil
}

// Jar returns the underlying jar for use by an http.Client.
func (s *CookieStore) Jar() http.CookieJar {
	return s.jar
}

func (s *CookieStore) SetCredentials(access, refresh string, attrs Attributes) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cookies := []*http.Cookie{
		s.cookie(AccessCookie, access, true),
		s.cookie(RoleCookie, string(attrs.Role), false),
		s.cookie(StatusCookie, string(attrs.Status), false),
		s.cookie(DisplayNameCookie, url.QueryEscape(attrs.DisplayName), false),
	}
	if refresh != "" {
		cookies = append(cookies, s.cookie(RefreshCookie, refresh, true))
	}
	s.jar.SetCookies(s.base, cookies)
	return nil
}

func (s *CookieStore) ClearCredentials() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cookies []*http.Cookie
	for _, name := range []string{AccessCookie, RefreshCookie, RoleCookie, StatusCookie, DisplayNameCookie} {
		c := s.cookie(name, "", false)
		c.MaxAge = -1
		cookies = append(cookies, c)
	}
	s.jar.SetCookies(s.base, cookies)
	return nil
}

func (s *CookieStore) AccessCredential() (string, bool) {
	return s.get(AccessCookie)
}

func (s *CookieStore) RefreshCredential() (string, bool) {
	return s.get(RefreshCookie)
}

func (s *CookieStore) HasCredential() bool {
	_, access := s.get(AccessCookie)
	_, refresh := s.get(RefreshCookie)
	return access || refresh
}

func (s *CookieStore) Attributes() (Attributes, bool) {
	role, ok := s.get(RoleCookie)
	if !ok {
		return Attributes{}, false
	}
	status, _ := s.get(StatusCookie)
	name, _ := s.get(DisplayNameCookie)
	if unescaped, err := url.QueryUnescape(name); err == nil {
		name = unescaped
	}
	return Attributes{
		Role:        users.RoleType(role),
		Status:      users.StatusType(status),
		DisplayName: name,
	}, true
}

func (s *CookieStore) get(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.jar.Cookies(s.base) {
		if c.Name == name && c.Value != "" {
			return c.Value, true
		}
	}
	return "", false
}

func (s *CookieStore) cookie(name, value string, httpOnly bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: httpOnly,
		Secure:   s.base.Scheme == "https",
		SameSite: http.SameSiteLaxMode,
	}
}
