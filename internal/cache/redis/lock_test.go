package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketsim/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewFromClient(rdb), mr
}

func TestLockManager_HeldLeaseIsRejected(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "tick", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("marketsim:lock:tick"))

	_, err = lm.Acquire(ctx, "tick", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	assert.False(t, mr.Exists("marketsim:lock:tick"))

	again, err := lm.Acquire(ctx, "tick", time.Minute)
	require.NoError(t, err)
	again()
}

func TestLockManager_StaleUnlockKeepsNewLease(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	staleUnlock, err := lm.Acquire(ctx, "tick", time.Minute)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)
	require.False(t, mr.Exists("marketsim:lock:tick"), "lease expired")

	unlock, err := lm.Acquire(ctx, "tick", time.Minute)
	require.NoError(t, err)

	staleUnlock()
	assert.True(t, mr.Exists("marketsim:lock:tick"), "stale holder must not free the new lease")
	_, err = lm.Acquire(ctx, "tick", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	assert.False(t, mr.Exists("marketsim:lock:tick"))
}

func TestLockManager_KeysAreIndependent(t *testing.T) {
	c, _ := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	a, err := lm.Acquire(ctx, "tick", time.Minute)
	require.NoError(t, err)
	defer a()
	b, err := lm.Acquire(ctx, "migrate", time.Minute)
	require.NoError(t, err)
	b()
}
