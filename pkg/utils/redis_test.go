package utils

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrencyCap_AcquireRelease(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	rdb, err := OpenRedis(ctx, RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer rdb.Close()

	key := ConcurrencyKey("telfin_sync", "org-1")
	ok, err := AcquireConcurrencyCap(ctx, rdb, key, 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = AcquireConcurrencyCap(ctx, rdb, key, 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must be rejected at limit 1")

	require.NoError(t, ReleaseConcurrencyCap(ctx, rdb, key))
	assert.False(t, mr.Exists(key))

	ok, err = AcquireConcurrencyCap(ctx, rdb, key, 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConcurrencyCap_TTLExpiresLeakedSlot(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	rdb, err := OpenRedis(ctx, RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer rdb.Close()

	key := ConcurrencyKey("telfin_sync", "org-2")
	ok, err := AcquireConcurrencyCap(ctx, rdb, key, 1, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = AcquireConcurrencyCap(ctx, rdb, key, 1, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConcurrencyCap_ValidatesArgs(t *testing.T) {
	ctx := context.Background()
	_, err := AcquireConcurrencyCap(ctx, nil, "k", 1, time.Second)
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	rdb, err := OpenRedis(ctx, RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer rdb.Close()

	_, err = AcquireConcurrencyCap(ctx, rdb, "", 1, time.Second)
	assert.Error(t, err)
	_, err = AcquireConcurrencyCap(ctx, rdb, "k", 0, time.Second)
	assert.Error(t, err)
}
