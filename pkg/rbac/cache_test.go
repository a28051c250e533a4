package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/platinummonkey/warden/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalCache(t *testing.T) {
	ctx := context.Background()
	cache := NewLocalCache(0, 0)
	snap := &Snapshot{UserID: "u1", RolePermissions: map[string]bool{"a": true}}

	_, ok := cache.Get(ctx, "u1")
	assert.False(t, ok)

	gen, err := cache.Generation(ctx, "u1")
	require.NoError(t, err)
	cache.Set(ctx, "u1", gen, snap)
	got, ok := cache.Get(ctx, "u1")
	require.True(t, ok)
	assert.Same(t, snap, got)

	require.NoError(t, cache.Invalidate(ctx, "u1"))
	_, ok = cache.Get(ctx, "u1")
	assert.False(t, ok)

	t.Run("stale generation is dropped", func(t *testing.T) {
		cache.Set(ctx, "u1", gen, snap)
		_, ok := cache.Get(ctx, "u1")
		assert.False(t, ok)
	})

	gen, err = cache.Generation(ctx, "u1")
	require.NoError(t, err)
	cache.Set(ctx, "u1", gen, snap)
	cache.Set(ctx, "u2", gen, snap)
	require.NoError(t, cache.InvalidateAll(ctx))
	_, ok = cache.Get(ctx, "u2")
	assert.False(t, ok)
}

func newRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := storage.NewRedisClient(context.Background(), storage.RedisConfig{URL: "redis://" + mr.Addr(), PoolSize: 5})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client, time.Minute), mr
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	cache, mr := newRedisCache(t)
	snap := &Snapshot{
		UserID:          "u1",
		RolePermissions: map[string]bool{PermUsersView: true},
		Overrides:       map[string]bool{PermTeamsView: false},
	}
	fill := func(userID string) {
		gen, err := cache.Generation(ctx, userID)
		require.NoError(t, err)
		cache.Set(ctx, userID, gen, snap)
	}

	t.Run("round trip", func(t *testing.T) {
		fill("u1")
		got, ok := cache.Get(ctx, "u1")
		require.True(t, ok)
		assert.Equal(t, snap, got)
		assert.True(t, mr.Exists(redisSnapshotPrefix+"u1"))
	})

	t.Run("ttl", func(t *testing.T) {
		fill("u3")
		mr.FastForward(2 * time.Minute)
		_, ok := cache.Get(ctx, "u3")
		assert.False(t, ok)
	})

	t.Run("invalidate", func(t *testing.T) {
		fill("u1")
		require.NoError(t, cache.Invalidate(ctx, "u1"))
		_, ok := cache.Get(ctx, "u1")
		assert.False(t, ok)
		assert.False(t, mr.Exists(redisSnapshotPrefix+"u1"))
	})

	t.Run("set under a stale generation is rejected", func(t *testing.T) {
		gen, err := cache.Generation(ctx, "u4")
		require.NoError(t, err)
		require.NoError(t, cache.Invalidate(ctx, "u4"))
		cache.Set(ctx, "u4", gen, snap)
		assert.False(t, mr.Exists(redisSnapshotPrefix+"u4"))

		gen, err = cache.Generation(ctx, "u4")
		require.NoError(t, err)
		require.NoError(t, cache.InvalidateAll(ctx))
		cache.Set(ctx, "u4", gen, snap)
		assert.False(t, mr.Exists(redisSnapshotPrefix+"u4"))
	})

	t.Run("entry left behind by a failed delete is not served", func(t *testing.T) {
		fill("u5")
		_, err := mr.Incr(redisUserGenPrefix+"u5", 1)
		require.NoError(t, err)
		require.True(t, mr.Exists(redisSnapshotPrefix+"u5"))
		_, ok := cache.Get(ctx, "u5")
		assert.False(t, ok)

		fill("u6")
		_, err = mr.Incr(redisGlobalGenKey, 1)
		require.NoError(t, err)
		_, ok = cache.Get(ctx, "u6")
		assert.False(t, ok)
	})

	t.Run("invalidate all leaves other keys", func(t *testing.T) {
		require.NoError(t, mr.Set("other", "value"))
		fill("u1")
		fill("u2")
		require.NoError(t, cache.InvalidateAll(ctx))
		assert.False(t, mr.Exists(redisSnapshotPrefix+"u1"))
		assert.False(t, mr.Exists(redisSnapshotPrefix+"u2"))
		assert.True(t, mr.Exists("other"))
		assert.True(t, mr.Exists(redisGlobalGenKey))
	})

	t.Run("redis down", func(t *testing.T) {
		down, err := miniredis.Run()
		require.NoError(t, err)
		downClient, err := storage.NewRedisClient(ctx, storage.RedisConfig{URL: "redis://" + down.Addr(), PoolSize: 1})
		require.NoError(t, err)
		defer downClient.Close()

		downCache := NewRedisCache(downClient, time.Minute)
		gen, err := downCache.Generation(ctx, "u1")
		require.NoError(t, err)
		downCache.Set(ctx, "u1", gen, snap)
		down.Close()

		_, ok := downCache.Get(ctx, "u1")
		assert.False(t, ok)
		_, err = downCache.Generation(ctx, "u1")
		assert.Error(t, err)
		assert.Error(t, downCache.Invalidate(ctx, "u1"))
		assert.Error(t, downCache.InvalidateAll(ctx))
	})
}

func TestRedisCache_SharedBetweenResolvers(t *testing.T) {
	ctx := context.Background()
	cache, mr := newRedisCache(t)

	// Each resolver stands for one service instance reading the same
	// database. The B loader holds a snapshot read before the mutation.
	loaderA := newFakeLoader()
	loaderB := newFakeLoader()
	loaderB.entered = make(chan struct{}, 1)
	loaderB.release = make(chan struct{})
	instanceA := NewResolver(loaderA, WithCache(cache))
	instanceB := NewResolver(loaderB, WithCache(cache))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = instanceB.Snapshot(ctx, "u1")
	}()
	<-loaderB.entered

	loaderA.set("u1", &Snapshot{
		UserID:          "u1",
		RolePermissions: map[string]bool{PermUsersView: true},
		Overrides:       map[string]bool{PermUsersView: false},
	})
	require.NoError(t, instanceA.Invalidate(ctx, "u1"))

	close(loaderB.release)
	<-done

	assert.False(t, mr.Exists(redisSnapshotPrefix+"u1"), "a fill that raced an invalidation must not be cached")
	assert.False(t, instanceA.HasPermission(ctx, "u1", PermUsersView))
	assert.True(t, mr.Exists(redisSnapshotPrefix+"u1"))

	// The fresh snapshot is now shared.
	loaderB.entered = nil
	assert.False(t, instanceB.HasPermission(ctx, "u1", PermUsersView))
	assert.Equal(t, int32(1), loaderB.calls.Load())
}
