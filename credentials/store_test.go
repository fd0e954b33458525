package credentials_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/election-session/credentials"
	"github.com/jrsteele09/election-session/internal/errors"
	"github.com/jrsteele09/election-session/users"
	"github.com/stretchr/testify/require"
)

var managerAttrs = credentials.Attributes{
	Role:        users.RoleElectionManager,
	Status:      users.StatusActive,
	DisplayName: "Awa Diop",
}

func stores(t *testing.T) map[string]credentials.Store {
	t.Helper()

	jar, err := credentials.NewCookieJar()
	require.NoError(t, err)
	cookies, err := credentials.NewCookieStore(jar, "https://admin.elections.example")
	require.NoError(t, err)

	bolt, err := credentials.OpenBoltStore(filepath.Join(t.TempDir(), "creds.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bolt.Close() })

	return map[string]credentials.Store{
		"memory": credentials.NewMemoryStore(),
		"cookie": cookies,
		"bolt":   bolt,
		"tee":    credentials.Tee(credentials.NewMemoryStore(), credentials.NewMemoryStore()),
	}
}

func TestStore_Contract(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.False(t, s.HasCredential())
			_, ok := s.AccessCredential()
			require.False(t, ok)

			require.NoError(t, s.SetCredentials("access-1", "refresh-1", managerAttrs))
			require.True(t, s.HasCredential())

			access, ok := s.AccessCredential()
			require.True(t, ok)
			require.Equal(t, "access-1", access)
			refresh, ok := s.RefreshCredential()
			require.True(t, ok)
			require.Equal(t, "refresh-1", refresh)
			attrs, ok := s.Attributes()
			require.True(t, ok)
			require.Equal(t, managerAttrs, attrs)

			// A refresh answer without a refresh credential keeps the old one.
			require.NoError(t, s.SetCredentials("access-2", "", managerAttrs))
			access, _ = s.AccessCredential()
			require.Equal(t, "access-2", access)
			refresh, _ = s.RefreshCredential()
			require.Equal(t, "refresh-1", refresh)

			require.NoError(t, s.ClearCredentials())
			require.False(t, s.HasCredential())
			_, ok = s.RefreshCredential()
			require.False(t, ok)
			_, ok = s.Attributes()
			require.False(t, ok)

			require.NoError(t, s.ClearCredentials())
		})
	}
}

func TestBoltStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.db")

	s, err := credentials.OpenBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, s.SetCredentials("a", "r", managerAttrs))
	require.NoError(t, s.Close())

	s, err = credentials.OpenBoltStore(path)
	require.NoError(t, err)
	defer s.Close()

	refresh, ok := s.RefreshCredential()
	require.True(t, ok)
	require.Equal(t, "r", refresh)
}

func TestCopy(t *testing.T) {
	src, dst := credentials.NewMemoryStore(), credentials.NewMemoryStore()

	require.NoError(t, credentials.Copy(dst, src))
	require.False(t, dst.HasCredential())

	require.NoError(t, src.SetCredentials("a", "r", managerAttrs))
	require.NoError(t, credentials.Copy(dst, src))
	access, _ := dst.AccessCredential()
	require.Equal(t, "a", access)
}

func TestNewCookieStore_Validation(t *testing.T) {
	_, err := credentials.NewCookieStore(nil, "https://x.example")
	require.Error(t, err)

	jar, err := credentials.NewCookieJar()
	require.NoError(t, err)
	_, err = credentials.NewCookieStore(jar, "/relative")
	require.Error(t, err)
}

func TestExpiryOf(t *testing.T) {
	exp := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u-1",
		"exp": exp.Unix(),
	}).SignedString([]byte("any-key"))
	require.NoError(t, err)

	got, ok := credentials.ExpiryOf(token)
	require.True(t, ok)
	require.True(t, exp.Equal(got))

	_, ok = credentials.ExpiryOf("opaque-credential")
	require.False(t, ok)
	_, ok = credentials.ExpiryOf("")
	require.False(t, ok)
}

func TestAccessExpiry_NoCredential(t *testing.T) {
	s := credentials.NewMemoryStore()
	_, err := credentials.AccessExpiry(s)
	require.True(t, errors.Is(err, errors.ErrNoCredential))

	require.NoError(t, s.SetCredentials("opaque", "r", managerAttrs))
	_, err = credentials.AccessExpiry(s)
	require.True(t, errors.Is(err, errors.ErrNoCredential))
}
