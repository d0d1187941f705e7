package qrelay

import "sync"

// AuthState is the auth state machine's current state for one connection (§4.5).
type AuthState int

const (
	StateFresh AuthState = iota
	StateAwaitingProof
	StateAuthenticated
	StateRejected
)

// UserInfo is the mutable per-connection identity record (§3). It is
// created in UNSET/unauthenticated state when the connection is admitted,
// mutated only by the auth state machine, and destroyed with the
// connection; PasswordKey MUST be zeroized on every terminal failure path
// and on destruction.
type UserInfo struct {
	mu sync.Mutex

	UserID        uint32
	DeviceKey     string
	Actor         ActorType
	Authenticated bool
	PasswordKey   PasswordKey
	Nonce         uint32

	State    AuthState
	Attempts int // cumulative failed proof attempts, capped at maxAuthAttempts
}

// maxAuthAttempts is the auth attempt budget (§4.5, invariant #6).
const maxAuthAttempts = 3

// NewUserInfo returns a fresh, unauthenticated identity record.
func NewUserInfo() *UserInfo {
	return &UserInfo{State: StateFresh, Actor: ActorUnset}
}

// Destroy zeroizes secret key material. Safe to call multiple times.
func (u *UserInfo) Destroy() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.PasswordKey.Zero()
	u.Authenticated = false
	u.State = StateRejected
}

// RecordFailure increments the attempt counter and reports whether the
// budget is now exhausted (the 3rd cumulative failure closes the
// connection per invariant #6).
func (u *UserInfo) RecordFailure() (exhausted bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.Attempts++
	if u.Attempts >= maxAuthAttempts {
		u.PasswordKey.Zero()
		u.State = StateRejected
		return true
	}
	u.State = StateFresh
	return false
}
