package qrelay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewUserInfoStartsFresh(t *testing.T) {
	u := NewUserInfo()
	assert.Equal(t, StateFresh, u.State)
	assert.Equal(t, ActorUnset, u.Actor)
	assert.False(t, u.Authenticated)
}

func TestRecordFailureExhaustsAfterThreeAttempts(t *testing.T) {
	u := NewUserInfo()
	u.PasswordKey[0] = 0xAB

	assert.False(t, u.RecordFailure())
	assert.Equal(t, StateFresh, u.State)
	assert.False(t, u.RecordFailure())
	assert.True(t, u.RecordFailure())
	assert.Equal(t, StateRejected, u.State)
	assert.Equal(t, PasswordKey{}, u.PasswordKey)
}

func TestDestroyZeroizesKeyAndRejects(t *testing.T) {
	u := NewUserInfo()
	u.PasswordKey[0] = 0xFF
	u.Authenticated = true

	u.Destroy()

	assert.Equal(t, PasswordKey{}, u.PasswordKey)
	assert.False(t, u.Authenticated)
	assert.Equal(t, StateRejected, u.State)
}

func TestDestroyIsIdempotent(t *testing.T) {
	u := NewUserInfo()
	u.Destroy()
	u.Destroy()
	assert.Equal(t, StateRejected, u.State)
}
