package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	return NewManager(redis.NewClient(&redis.Options{Addr: mr.Addr()})), mr
}

func TestLockoutAfterThreshold(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < LockoutThreshold-1; i++ {
		require.NoError(t, m.RecordFailedAttempt(ctx, "bob"))
	}
	locked, err := m.CheckLockout(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, locked)

	require.NoError(t, m.RecordFailedAttempt(ctx, "bob"))
	locked, err = m.CheckLockout(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, locked)

	mr.FastForward(LockoutTTL + time.Second)
	locked, err = m.CheckLockout(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestResetAttempts(t *testing.T) {
	m, _ := newTestManager(t)
	m.WithLockout(2, time.Minute)
	ctx := context.Background()

	require.NoError(t, m.RecordFailedAttempt(ctx, "amy"))
	require.NoError(t, m.ResetAttempts(ctx, "amy"))
	require.NoError(t, m.RecordFailedAttempt(ctx, "amy"))

	locked, err := m.CheckLockout(ctx, "amy")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestRevokeAllUserSessions(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	require.NoError(t, m.CreateSession(ctx, 7, "a", exp))
	require.NoError(t, m.CreateSession(ctx, 7, "b", exp))
	require.NoError(t, m.CreateSession(ctx, 8, "c", exp))
	require.NoError(t, m.RevokeSession(ctx, 7, "b"))

	revoked, err := m.RevokeAllUserSessions(ctx, 7)
	require.NoError(t, err)
	require.Len(t, revoked, 1)
	assert.InDelta(t, time.Hour.Seconds(), revoked["a"].Seconds(), 5)

	again, err := m.RevokeAllUserSessions(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, again)
}
