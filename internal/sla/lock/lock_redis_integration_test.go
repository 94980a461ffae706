//go:build integration

package lock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auditflow/internal/sla/lock"
	"auditflow/pkg/testutil/containers"
)

func TestRedisLocker(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	rc := containers.NewRedisContainer(t)
	ctx := context.Background()

	first := lock.NewRedis(rc.Client, lock.WithTTL(5*time.Second))
	second := lock.NewRedis(rc.Client)

	unlock, ok, err := first.TryLock(ctx, "subject-1")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = second.TryLock(ctx, "subject-1")
	require.NoError(t, err)
	assert.False(t, ok, "lock held by another instance")

	unlock()

	release, ok, err := second.TryLock(ctx, "subject-1")
	require.NoError(t, err)
	assert.True(t, ok)
	release()
}

func TestRedisLockerExpires(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	rc := containers.NewRedisContainer(t)
	ctx := context.Background()
	short := lock.NewRedis(rc.Client, lock.WithTTL(200*time.Millisecond))
	l := lock.NewRedis(rc.Client, lock.WithTTL(time.Minute))

	stale, ok, err := short.TryLock(ctx, "subject-2")
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		_, ok, err := l.TryLock(ctx, "subject-2")
		return err == nil && ok
	}, 3*time.Second, 50*time.Millisecond)

	// Releasing the expired lock must not delete the new holder's key.
	stale()
	_, ok, err = l.TryLock(ctx, "subject-2")
	require.NoError(t, err)
	assert.False(t, ok)
}
