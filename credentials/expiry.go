package credentials

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/election-session/internal/errors"
)

// ExpiryOf reads the exp claim of a JWT access credential without checking
// its signature; validation belongs to the remote authority. Opaque
// credentials report false.
func ExpiryOf(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// AccessExpiry returns the expiry of the access credential held by s.
func AccessExpiry(s Store) (time.Time, error) {
	access, ok := s.AccessCredential()
	if !ok {
		return time.Time{}, errors.ErrNoCredential
	}
	exp, ok := ExpiryOf(access)
	if !ok {
		return time.Time{}, errors.Wrap(errors.ErrNoCredential, "access credential carries no expiry")
	}
	return exp, nil
}
