// Package session models the lifecycle of one login session:
// Anonymous -> Authenticated -> AccessExpired -> Authenticated (refresh),
// with Revoked reachable from any state and terminal.
//
// A session is backed by one refresh_tokens row; its state is derived from
// that row rather than stored.
package session

import (
	"errors"
	"fmt"
	"time"
)

type State int

const (
	Anonymous State = iota
	Authenticated
	AccessExpired
	Revoked
	// Expired is a session whose refresh token outlived its TTL. Like Revoked it
	// cannot be refreshed, but clients get a different error code.
	Expired
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticated:
		return "authenticated"
	case AccessExpired:
		return "access_expired"
	case Revoked:
		return "revoked"
	case Expired:
		return "expired"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Event int

const (
	EventLogin Event = iota
	EventAccessExpired
	EventRefresh
	EventRefreshFailed
	EventLogout
)

func (e Event) String() string {
	switch e {
	case EventLogin:
		return "login"
	case EventAccessExpired:
		return "access_expired"
	case EventRefresh:
		return "refresh"
	case EventRefreshFailed:
		return "refresh_failed"
	case EventLogout:
		return "logout"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

var ErrInvalidTransition = errors.New("invalid session transition")

// Next returns the state reached from s on e.
func Next(s State, e Event) (State, error) {
	switch e {
	case EventLogout:
		if s == Anonymous {
			// logout without a session is a no-op
			return Anonymous, nil
		}
		return Revoked, nil
	case EventRefreshFailed:
		return Revoked, nil
	}

	switch s {
	case Anonymous:
		if e == EventLogin {
			return Authenticated, nil
		}
	case Authenticated:
		switch e {
		case EventAccessExpired:
			return AccessExpired, nil
		case EventRefresh:
			return Authenticated, nil
		}
	case AccessExpired:
		if e == EventRefresh {
			return Authenticated, nil
		}
	}

	return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, e, s)
}

// Record is the persisted view of a session.
type Record struct {
	RevokedAt       *time.Time
	ExpiresAt       time.Time
	AccessExpiresAt time.Time
}

// StateOf derives the state of a stored session at now.
func StateOf(r Record, now time.Time) State {
	switch {
	case r.RevokedAt != nil:
		return Revoked
	case !now.Before(r.ExpiresAt):
		return Expired
	case !r.AccessExpiresAt.IsZero() && !now.Before(r.AccessExpiresAt):
		return AccessExpired
	default:
		return Authenticated
	}
}
