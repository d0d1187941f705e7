package qrelay

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageExchangePushPop(t *testing.T) {
	ex := NewMessageExchange("device-1")

	assert.True(t, ex.PushFrom(ActorPlatform, []byte("to-app")))
	assert.True(t, ex.PushFrom(ActorApp, []byte("to-platform")))

	got, ok := ex.PopFor(ActorApp)
	require.True(t, ok)
	assert.Equal(t, []byte("to-app"), got)

	got, ok = ex.PopFor(ActorPlatform)
	require.True(t, ok)
	assert.Equal(t, []byte("to-platform"), got)

	_, ok = ex.PopFor(ActorApp)
	assert.False(t, ok)
}

func TestMessageExchangeQueueCapEnforced(t *testing.T) {
	ex := NewMessageExchange("device-1")
	for i := 0; i < exchangeQueueCap; i++ {
		require.True(t, ex.PushFrom(ActorPlatform, []byte{byte(i)}))
	}
	assert.False(t, ex.PushFrom(ActorPlatform, []byte{0xFF}))
}

func TestMessageExchangeClearQueues(t *testing.T) {
	ex := NewMessageExchange("device-1")
	ex.PushFrom(ActorPlatform, []byte("x"))
	ex.PushFrom(ActorApp, []byte("y"))
	ex.ClearQueues()

	_, ok := ex.PopFor(ActorApp)
	assert.False(t, ok)
	_, ok = ex.PopFor(ActorPlatform)
	assert.False(t, ok)
}

func TestMessageExchangeAcquireRelease(t *testing.T) {
	ex := NewMessageExchange("device-1")
	assert.Equal(t, 1, ex.Acquire())
	assert.Equal(t, 2, ex.Acquire())
	assert.Equal(t, 2, ex.HolderCount())
	assert.Equal(t, 1, ex.Release())
	assert.Equal(t, 0, ex.Release())
	assert.Equal(t, 0, ex.Release()) // does not go negative
}

func TestExchangeDirectoryInsertLookupPop(t *testing.T) {
	dir := NewExchangeDirectory()
	ex := NewMessageExchange("device-1")
	dir.Insert(ex)

	got, ok := dir.Lookup("device-1")
	require.True(t, ok)
	assert.Same(t, ex, got)

	popped, ok := dir.Pop("device-1")
	require.True(t, ok)
	assert.Same(t, ex, popped)

	_, ok = dir.Lookup("device-1")
	assert.False(t, ok)
}

func TestExchangeDirectoryPopMissingReturnsFalse(t *testing.T) {
	dir := NewExchangeDirectory()
	_, ok := dir.Pop("missing")
	assert.False(t, ok)
}

func TestExchangeDirectoryRemove(t *testing.T) {
	dir := NewExchangeDirectory()
	ex := NewMessageExchange("device-1")
	dir.Insert(ex)
	dir.Remove(ex)

	_, ok := dir.Lookup("device-1")
	assert.False(t, ok)
}

func TestExchangeDirectoryHandlesBucketCollisions(t *testing.T) {
	dir := NewExchangeDirectory()
	keys := make([]string, 0, 8)
	for i := 0; i < 8; i++ {
		key := fmt.Sprintf("device-%d", i)
		dir.Insert(NewMessageExchange(key))
		keys = append(keys, key)
	}
	for _, key := range keys {
		got, ok := dir.Lookup(key)
		require.True(t, ok)
		assert.Equal(t, key, got.DeviceKey)
	}
}

func TestExchangeHashDeterministic(t *testing.T) {
	assert.Equal(t, exchangeHash("device-1"), exchangeHash("device-1"))
}
