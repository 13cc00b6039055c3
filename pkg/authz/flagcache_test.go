package authz

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casagrid/gatehouse/pkg/observability"
)

func setupFlagCache(t *testing.T, ttl time.Duration) (*RedisFlagStore, *stubFlagStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := &stubFlagStore{}
	cached := NewRedisFlagStore(store, client, ttl, observability.NewLogger(observability.ErrorLevel, io.Discard))
	return cached, store, mr
}

func TestRedisFlagStoreReadThrough(t *testing.T) {
	cached, store, _ := setupFlagCache(t, time.Minute)
	store.set(FlagPermissionEnforcement, FlagScopeGlobal, nil, true)
	ctx := context.Background()

	flag, err := cached.GetFeatureFlag(ctx, FlagPermissionEnforcement, FlagScopeGlobal, nil)
	require.NoError(t, err)
	require.NotNil(t, flag)
	assert.True(t, flag.Enabled)
	assert.Equal(t, 1, store.calls)

	// The second read is served from the cache.
	flag, err = cached.GetFeatureFlag(ctx, FlagPermissionEnforcement, FlagScopeGlobal, nil)
	require.NoError(t, err)
	require.NotNil(t, flag)
	assert.True(t, flag.Enabled)
	assert.Equal(t, 1, store.calls)
}

func TestRedisFlagStoreCachesAbsence(t *testing.T) {
	cached, store, _ := setupFlagCache(t, time.Minute)
	ctx := context.Background()

	// Absence is meaningful to the gate, so it is cached like a hit.
	flag, err := cached.GetFeatureFlag(ctx, FlagAuditMode, FlagScopeGlobal, nil)
	require.NoError(t, err)
	assert.Nil(t, flag)
	assert.Equal(t, 1, store.calls)

	flag, err = cached.GetFeatureFlag(ctx, FlagAuditMode, FlagScopeGlobal, nil)
	require.NoError(t, err)
	assert.Nil(t, flag)
	assert.Equal(t, 1, store.calls)
}

func TestRedisFlagStoreInvalidate(t *testing.T) {
	cached, store, _ := setupFlagCache(t, time.Minute)
	store.set(FlagPermissionEnforcement, FlagScopeWorkspace, i64(7), false)
	ctx := context.Background()

	flag, err := cached.GetFeatureFlag(ctx, FlagPermissionEnforcement, FlagScopeWorkspace, i64(7))
	require.NoError(t, err)
	require.NotNil(t, flag)
	assert.False(t, flag.Enabled)

	// The write path flips the flag and invalidates; the next read sees
	// the new value without waiting out the TTL.
	store.set(FlagPermissionEnforcement, FlagScopeWorkspace, i64(7), true)
	require.NoError(t, cached.Invalidate(ctx, FlagPermissionEnforcement, FlagScopeWorkspace, i64(7)))

	flag, err = cached.GetFeatureFlag(ctx, FlagPermissionEnforcement, FlagScopeWorkspace, i64(7))
	require.NoError(t, err)
	require.NotNil(t, flag)
	assert.True(t, flag.Enabled)
	assert.Equal(t, 2, store.calls)
}

func TestRedisFlagStoreTTLExpiry(t *testing.T) {
	cached, store, mr := setupFlagCache(t, 30*time.Second)
	store.set(FlagPermissionEnforcement, FlagScopeGlobal, nil, true)
	ctx := context.Background()

	_, err := cached.GetFeatureFlag(ctx, FlagPermissionEnforcement, FlagScopeGlobal, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, store.calls)

	mr.FastForward(31 * time.Second)

	_, err = cached.GetFeatureFlag(ctx, FlagPermissionEnforcement, FlagScopeGlobal, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, store.calls, "expired entry should fall through to the store")
}

func TestRedisFlagStoreDegradesWhenRedisDown(t *testing.T) {
	cached, store, mr := setupFlagCache(t, time.Minute)
	store.set(FlagPermissionEnforcement, FlagScopeGlobal, nil, true)
	ctx := context.Background()

	mr.Close()

	// Every read costs a store round trip but nothing fails.
	for i := 1; i <= 2; i++ {
		flag, err := cached.GetFeatureFlag(ctx, FlagPermissionEnforcement, FlagScopeGlobal, nil)
		require.NoError(t, err)
		require.NotNil(t, flag)
		assert.True(t, flag.Enabled)
		assert.Equal(t, i, store.calls)
	}
}

func TestRedisFlagStoreDropsCorruptEntries(t *testing.T) {
	cached, store, mr := setupFlagCache(t, time.Minute)
	store.set(FlagPermissionEnforcement, FlagScopeGlobal, nil, true)
	ctx := context.Background()

	key := flagCacheKey(FlagPermissionEnforcement, FlagScopeGlobal, nil)
	require.NoError(t, mr.Set(key, "{not json"))

	flag, err := cached.GetFeatureFlag(ctx, FlagPermissionEnforcement, FlagScopeGlobal, nil)
	require.NoError(t, err)
	require.NotNil(t, flag)
	assert.True(t, flag.Enabled)
	assert.Equal(t, 1, store.calls)

	// The corrupt entry was replaced with the fresh value.
	data, err := mr.Get(key)
	require.NoError(t, err)
	assert.NotEqual(t, "{not json", data)

	_, err = cached.GetFeatureFlag(ctx, FlagPermissionEnforcement, FlagScopeGlobal, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, store.calls, "refreshed entry should serve the next read")
}
