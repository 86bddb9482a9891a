package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutex_LockUnlock(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	m := NewMutex(client, "job", WithLockTTL(time.Second))
	require.NoError(t, m.Lock(ctx))
	assert.True(t, mr.Exists("gradesim:lock:job"))

	require.NoError(t, m.Unlock(ctx))
	assert.False(t, mr.Exists("gradesim:lock:job"))
	assert.Equal(t, ErrLockNotHeld, m.Unlock(ctx))
}

func TestMutex_Contention(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	first := NewMutex(client, "shared")
	require.NoError(t, first.Lock(ctx))

	second := NewMutex(client, "shared", WithRetryCount(3), WithRetryDelay(time.Millisecond))
	ok, err := second.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, ErrLockNotAcquired, second.Lock(ctx))
	assert.Equal(t, ErrLockNotHeld, second.Unlock(ctx), "only the owner releases")

	require.NoError(t, first.Unlock(ctx))
	require.NoError(t, second.Lock(ctx))
}

func TestMutex_ContextCancelled(t *testing.T) {
	client, _ := newTestClient(t)
	require.NoError(t, NewMutex(client, "busy").Lock(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewMutex(client, "busy", WithRetryDelay(time.Hour)).Lock(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
