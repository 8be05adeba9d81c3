package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDenylist(t *testing.T) {
	ctx := context.Background()
	denylist := NewMemoryDenylist()

	revoked, err := denylist.Contains(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, denylist.Add(ctx, "jti-1", time.Now().Add(time.Hour)))

	revoked, err = denylist.Contains(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestMemoryDenylistExpiredEntryReadsAsAbsent(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	denylist := NewMemoryDenylist()
	denylist.now = func() time.Time { return clock }

	require.NoError(t, denylist.Add(ctx, "jti-1", clock.Add(time.Minute)))

	revoked, err := denylist.Contains(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	clock = clock.Add(2 * time.Minute)
	revoked, err = denylist.Contains(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	// The expired entry was dropped on read.
	denylist.mu.Lock()
	_, present := denylist.entries["jti-1"]
	denylist.mu.Unlock()
	assert.False(t, present)
}

func TestMemoryDenylistSweep(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	denylist := NewMemoryDenylist()
	denylist.now = func() time.Time { return clock }

	require.NoError(t, denylist.Add(ctx, "expired-1", clock.Add(time.Minute)))
	require.NoError(t, denylist.Add(ctx, "expired-2", clock.Add(2*time.Minute)))
	require.NoError(t, denylist.Add(ctx, "live", clock.Add(time.Hour)))

	clock = clock.Add(10 * time.Minute)
	assert.Equal(t, 2, denylist.Sweep())

	revoked, err := denylist.Contains(ctx, "live")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestMemoryDenylistEmptyJti(t *testing.T) {
	ctx := context.Background()
	denylist := NewMemoryDenylist()

	require.NoError(t, denylist.Add(ctx, "", time.Now().Add(time.Hour)))
	revoked, err := denylist.Contains(ctx, "")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRedisDenylist(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	ctx := context.Background()
	denylist := NewRedisDenylist(client, "deny:test")

	revoked, err := denylist.Contains(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, denylist.Add(ctx, "jti-1", time.Now().Add(time.Hour)))

	revoked, err = denylist.Contains(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	// The key carries the token's own lifetime, so it cleans itself up.
	server.FastForward(2 * time.Hour)
	revoked, err = denylist.Contains(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRedisDenylistSkipsAlreadyExpired(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	ctx := context.Background()
	denylist := NewRedisDenylist(client, "deny:test")

	require.NoError(t, denylist.Add(ctx, "stale", time.Now().Add(-time.Minute)))

	revoked, err := denylist.Contains(ctx, "stale")
	require.NoError(t, err)
	assert.False(t, revoked)
}
