package upstream_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/jrsteele09/election-session/internal/errors"
	"github.com/jrsteele09/election-session/upstream"
	"github.com/jrsteele09/election-session/users"
	"github.com/stretchr/testify/require"
)

const (
	testClientID = "election-admin"
	testSecret   = "proxy-secret"
	testEmail    = "manager@elections.example"
	testPassword = "s3cret-p4ss"
)

type fakeProvider struct {
	server *httptest.Server

	mu         sync.Mutex
	issued     int
	access     map[string]bool
	refresh    map[string]bool
	revoked    []string
	noRevoke   bool
	noRotation bool
}

type testConfig struct {
	issuer string
}

func (c testConfig) GetIssuerURL() string    { return c.issuer }
func (c testConfig) GetClientID() string     { return testClientID }
func (c testConfig) GetClientSecret() string { return testSecret }
func (c testConfig) GetScopes() []string     { return []string{"openid", "profile", "offline_access"} }
func (c testConfig) GetSecureCookies() bool  { return false }

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{access: map[string]bool{}, refresh: map[string]bool{}}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", p.discovery)
	mux.HandleFunc("POST /token", p.token)
	mux.HandleFunc("GET /userinfo", p.userinfo)
	mux.HandleFunc("POST /revoke", p.revoke)
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakeProvider) discovery(w http.ResponseWriter, _ *http.Request) {
	doc := map[string]any{
		"issuer":                 p.server.URL,
		"authorization_endpoint": p.server.URL + "/authorize",
		"token_endpoint":         p.server.URL + "/token",
		"userinfo_endpoint":      p.server.URL + "/userinfo",
		"jwks_uri":               p.server.URL + "/jwks",
	}
	p.mu.Lock()
	if !p.noRevoke {
		doc["revocation_endpoint"] = p.server.URL + "/revoke"
	}
	p.mu.Unlock()
	writeJSON(w, http.StatusOK, doc)
}

func (p *fakeProvider) token(w http.ResponseWriter, r *http.Request) {
	id, secret, ok := r.BasicAuth()
	if !ok {
		id, secret = r.PostFormValue("client_id"), r.PostFormValue("client_secret")
	}
	if id != testClientID || secret != testSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	switch r.PostFormValue("grant_type") {
	case "password":
		if r.PostFormValue("username") != testEmail || r.PostFormValue("password") != testPassword {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
	case "refresh_token":
		rt := r.PostFormValue("refresh_token")
		if !p.refresh[rt] {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		if p.noRotation {
			p.issued++
			at := "at-" + string(rune('a'+p.issued))
			p.access[at] = true
			writeJSON(w, http.StatusOK, map[string]any{"access_token": at, "token_type": "Bearer", "expires_in": 1200})
			return
		}
		delete(p.refresh, rt)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	p.issued++
	at := "at-" + string(rune('a'+p.issued))
	rt := "rt-" + string(rune('a'+p.issued))
	p.access[at] = true
	p.refresh[rt] = true
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  at,
		"refresh_token": rt,
		"token_type":    "Bearer",
		"expires_in":    1200,
	})
}

func (p *fakeProvider) userinfo(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("Authorization")
	p.mu.Lock()
	valid := len(token) > 7 && p.access[token[7:]]
	p.mu.Unlock()
	if !valid {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sub":    "u-42",
		"email":  testEmail,
		"name":   "Awa Diop",
		"role":   "ELECTION_MANAGER",
		"status": "ACTIVE",
	})
}

func (p *fakeProvider) revoke(w http.ResponseWriter, r *http.Request) {
	if id, _, ok := r.BasicAuth(); !ok || id != testClientID {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	rt := r.PostFormValue("token")
	p.revoked = append(p.revoked, rt)
	delete(p.refresh, rt)
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type testFixture struct {
	provider  *fakeProvider
	authority *upstream.Authority
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	p := newFakeProvider(t)
	a, err := upstream.NewAuthority(context.Background(), testConfig{issuer: p.server.URL},
		upstream.WithHTTPClient(p.server.Client()))
	require.NoError(t, err)
	return &testFixture{provider: p, authority: a}
}

func TestNewAuthority_Validation(t *testing.T) {
	_, err := upstream.NewAuthority(context.Background(), nil)
	require.Error(t, err)
	_, err = upstream.NewAuthority(context.Background(), testConfig{})
	require.Error(t, err)
}

func TestPasswordLogin(t *testing.T) {
	f := setupTestFixture(t)

	tokens, err := f.authority.PasswordLogin(context.Background(), testEmail, testPassword)
	require.NoError(t, err)
	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)
	require.False(t, tokens.Expiry.IsZero())
}

func TestPasswordLogin_BadPasswordIsAuthenticationFailure(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.authority.PasswordLogin(context.Background(), testEmail, "wrong")
	require.Error(t, err)
	var se *errors.StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusBadRequest, se.StatusCode)
	require.Equal(t, "invalid_grant", se.Message)
	require.Equal(t, errors.KindAuthentication, errors.KindOf(err))
}

func TestRefresh_Rotates(t *testing.T) {
	f := setupTestFixture(t)
	first, err := f.authority.PasswordLogin(context.Background(), testEmail, testPassword)
	require.NoError(t, err)

	second, err := f.authority.Refresh(context.Background(), first.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, first.AccessToken, second.AccessToken)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)

	// The old refresh token was single-use.
	_, err = f.authority.Refresh(context.Background(), first.RefreshToken)
	require.Equal(t, errors.KindAuthentication, errors.KindOf(err))
}

func TestRefresh_WithoutRotationKeepsRefreshToken(t *testing.T) {
	f := setupTestFixture(t)
	f.provider.noRotation = true
	first, err := f.authority.PasswordLogin(context.Background(), testEmail, testPassword)
	require.NoError(t, err)

	second, err := f.authority.Refresh(context.Background(), first.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, first.RefreshToken, second.RefreshToken)
}

func TestRefresh_Empty(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.authority.Refresh(context.Background(), "")
	require.ErrorIs(t, err, errors.ErrNoRefreshCredential)
}

func TestUserInfo(t *testing.T) {
	f := setupTestFixture(t)
	tokens, err := f.authority.PasswordLogin(context.Background(), testEmail, testPassword)
	require.NoError(t, err)

	p, err := f.authority.UserInfo(context.Background(), tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, &users.Principal{
		ID:          "u-42",
		Email:       testEmail,
		Role:        users.RoleElectionManager,
		Status:      users.StatusActive,
		DisplayName: "Awa Diop",
	}, p)
}

func TestUserInfo_RejectedToken(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.authority.UserInfo(context.Background(), "forged")
	var se *errors.StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusUnauthorized, se.StatusCode)

	_, err = f.authority.UserInfo(context.Background(), "")
	require.ErrorIs(t, err, errors.ErrUnauthenticated)
}

func TestRevoke(t *testing.T) {
	f := setupTestFixture(t)
	tokens, err := f.authority.PasswordLogin(context.Background(), testEmail, testPassword)
	require.NoError(t, err)

	require.NoError(t, f.authority.Revoke(context.Background(), tokens.RefreshToken))
	require.Equal(t, []string{tokens.RefreshToken}, f.provider.revoked)

	_, err = f.authority.Refresh(context.Background(), tokens.RefreshToken)
	require.Error(t, err)
	require.NoError(t, f.authority.Revoke(context.Background(), ""))
}

func TestRevoke_NoEndpointIsNoop(t *testing.T) {
	p := newFakeProvider(t)
	p.noRevoke = true
	a, err := upstream.NewAuthority(context.Background(), testConfig{issuer: p.server.URL},
		upstream.WithHTTPClient(p.server.Client()))
	require.NoError(t, err)

	require.NoError(t, a.Revoke(context.Background(), "rt-x"))
	require.Empty(t, p.revoked)
}
