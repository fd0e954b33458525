// Package credentials is the only owner of the credential pair and the
// non-sensitive display attributes that accompany it.
package credentials

import (
	"github.com/jrsteele09/election-session/users"
)

// Cookie names shared by the auth proxy and the cookie backed store.
const (
	AccessCookie      = "access_token"
	RefreshCookie     = "refresh_token"
	RoleCookie        = "user_role"
	StatusCookie      = "user_status"
	DisplayNameCookie = "user_name"
)

// Attributes are readable by the presentation layer; they are never used
// to make an authorization decision.
type Attributes struct {
	Role        users.RoleType   `json:"role"`
	Status      users.StatusType `json:"status"`
	DisplayName string           `json:"displayName,omitempty"`
}

// AttributesOf extracts the display attributes of p.
func AttributesOf(p *users.Principal) Attributes {
	if p == nil {
		return Attributes{}
	}
	return Attributes{Role: p.Role, Status: p.Status, DisplayName: p.DisplayName}
}

// Store is the Credential Store Adapter.
type Store interface {
	// SetCredentials replaces the pair and the attributes. An empty refresh
	// keeps the refresh credential already held.
	SetCredentials(access, refresh string, attrs Attributes) error
	ClearCredentials() error
	AccessCredential() (string, bool)
	RefreshCredential() (string, bool)
	HasCredential() bool
	Attributes() (Attributes, bool)
}

// Copy seeds dst with whatever src holds. It is a no-op when src is empty.
func Copy(dst, src Store) error {
	access, hasAccess := src.AccessCredential()
	refresh, hasRefresh := src.RefreshCredential()
	if !hasAccess && !hasRefresh {
		return nil
	}
	attrs, _ := src.Attributes()
	return dst.SetCredentials(access, refresh, attrs)
}
