package users

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// RoleType is the portal role code carried by a principal
type RoleType string

const (
	RoleAdmin            RoleType = "ADMIN"             // Manages accounts, elections and every screen
	RoleElectionManager  RoleType = "ELECTION_MANAGER"  // Manages elections, circonscriptions and candidatures
	RoleResultsPublisher RoleType = "RESULTS_PUBLISHER" // Enters and publishes results
	RoleObserver         RoleType = "OBSERVER"          // Read-only access
)

// StatusType is the account status carried by a principal
type StatusType string

const (
	StatusActive    StatusType = "ACTIVE"
	StatusSuspended StatusType = "SUSPENDED"
)

// Principal is the authenticated identity held in memory while a session is
// active. It is replaced wholesale, never mutated in place.
type Principal struct {
	ID          string     `json:"id"`
	Email       string     `json:"email,omitempty"`
	Role        RoleType   `json:"role"`
	Status      StatusType `json:"status"`
	DisplayName string     `json:"displayName,omitempty"`
}

// Validate rejects principals missing the fields a session depends on.
func (p *Principal) Validate() error {
	if p == nil {
		return fmt.Errorf("principal is missing")
	}
	if p.ID == "" {
		return fmt.Errorf("principal id is missing")
	}
	if p.Role == "" {
		return fmt.Errorf("principal role is missing")
	}
	return nil
}

// HasRole is nil-safe and exact: no role hierarchy is implied.
func (p *Principal) HasRole(role RoleType) bool {
	if p == nil {
		return false
	}
	return p.Role == role
}

func (p *Principal) IsActive() bool {
	return p != nil && p.Status == StatusActive
}

// Clone returns a copy so callers cannot mutate session-owned state.
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
