package session

import (
	"time"

	"github.com/kailas-cloud/pixelquota/internal/domain/quota"
)

// State is the adapter lifecycle state.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateReady         State = "ready"
	StateResolving     State = "resolving"
)

// User is the signed-in user of the session. Held in memory only.
type User struct {
	UID       string
	Email     string
	SessionID string
	Quota     quota.Quota
}

// Snapshot is the reactive session value: current user, quota and error state.
type Snapshot struct {
	State State
	// User is nil when nobody is signed in.
	User *User
	// Degraded is set when the usage store failed to initialize.
	// Quota is untracked and every generation is allowed.
	Degraded bool
	// DurabilityUncertain is set when the last snapshot write failed:
	// in-memory usage is ahead of what survives a restart.
	DurabilityUncertain bool
	Warning             string
	Err                 error
	Version             uint64
	UpdatedAt           time.Time
}

// SignedIn reports whether a user is present.
func (s Snapshot) SignedIn() bool { return s.User != nil }

func (s Snapshot) clone() Snapshot {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}
