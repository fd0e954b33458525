package sessions

import (
	"fmt"

	"github.com/jrsteele09/election-session/users"
)

// AuthState is the authoritative session state of one tab.
type AuthState int

const (
	StateIdle AuthState = iota
	StateLoading
	StateAuthenticated
	StateUnauthenticated
	StateError
)

func (s AuthState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateLoading:
		return "LOADING"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateUnauthenticated:
		return "UNAUTHENTICATED"
	case StateError:
		return "ERROR"
	}
	return fmt.Sprintf("AuthState(%d)", int(s))
}

// allowedTransitions lists every edge of the state machine. Staying in
// AUTHENTICATED across a refresh is not a transition.
var allowedTransitions = map[AuthState][]AuthState{
	StateIdle:            {StateLoading, StateUnauthenticated},
	StateLoading:         {StateAuthenticated, StateUnauthenticated, StateError},
	StateAuthenticated:   {StateUnauthenticated},
	StateUnauthenticated: {StateLoading},
	StateError:           {StateLoading},
}

func canTransition(from, to AuthState) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Snapshot is a read-only copy of the session.
type Snapshot struct {
	State     AuthState
	Principal *users.Principal
	// Error is the user-displayable message of the last failed login.
	Error string
	// Transitioning is true while a logout sequence is running.
	Transitioning bool
}

// Authenticated reports whether the snapshot holds a principal.
func (s Snapshot) Authenticated() bool {
	return s.State == StateAuthenticated && s.Principal != nil
}

// Navigation targets.
const (
	RouteLanding = "/dashboard"
	RouteLogin   = "/login"
)

// Navigator moves the presentation layer to a route.
type Navigator interface {
	Navigate(route string)
}

// NavigatorFunc adapts a func to Navigator.
type NavigatorFunc func(route string)

func (f NavigatorFunc) Navigate(route string) {
	f(route)
}

type noopNavigator struct{}

func (noopNavigator) Navigate(string) {}
