package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisQuotaStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisQuotaStore(rdb, "test:", 24*time.Hour)
	t.Cleanup(func() { s.Close() })
	return mr, s
}

func TestRedisQuotaStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, s := newTestRedis(t)

	_, err := s.LoadQuota(ctx, "1.2.3.4")
	require.ErrorIs(t, err, ErrNotFound)

	start := time.Now().Truncate(time.Millisecond)
	require.NoError(t, s.SaveQuota(ctx, QuotaEntry{Key: "1.2.3.4", Count: 2, WindowStart: start}))

	got, err := s.LoadQuota(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Count)
	assert.True(t, got.WindowStart.Equal(start))
	assert.Equal(t, "1.2.3.4", got.Key)
}

func TestRedisQuotaStoreExpiresWithWindow(t *testing.T) {
	ctx := context.Background()
	mr, s := newTestRedis(t)

	require.NoError(t, s.SaveQuota(ctx, QuotaEntry{Key: "1.2.3.4", Count: 1, WindowStart: time.Now()}))
	assert.True(t, mr.Exists("test:quota:1.2.3.4"))

	mr.FastForward(25 * time.Hour)

	_, err := s.LoadQuota(ctx, "1.2.3.4")
	require.ErrorIs(t, err, ErrNotFound)

	removed, err := s.DeleteExpiredQuotas(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestRedisIncrementQuota(t *testing.T) {
	ctx := context.Background()
	mr, s := newTestRedis(t)
	now := time.Now().Truncate(time.Millisecond)

	for i := 1; i <= 2; i++ {
		entry, ok, err := s.IncrementQuota(ctx, "1.2.3.4", 2, 24*time.Hour, now)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, i, entry.Count)
		assert.True(t, entry.WindowStart.Equal(now))
	}

	entry, ok, err := s.IncrementQuota(ctx, "1.2.3.4", 2, 24*time.Hour, now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, entry.Count)
	assert.Equal(t, "2", mr.HGet("test:quota:1.2.3.4", "count"))
	assert.True(t, mr.TTL("test:quota:1.2.3.4") > 0)

	later := now.Add(24*time.Hour + time.Millisecond)
	entry, ok, err = s.IncrementQuota(ctx, "1.2.3.4", 2, 24*time.Hour, later)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, entry.Count)
	assert.True(t, entry.WindowStart.Equal(later))
}

func TestWithQuotaStoreRoutesQuotaCalls(t *testing.T) {
	ctx := context.Background()
	mr, quotas := newTestRedis(t)
	base := NewMemoryStore()
	s := WithQuotaStore(base, quotas)

	require.NoError(t, s.SaveQuota(ctx, QuotaEntry{Key: "9.9.9.9", Count: 1, WindowStart: time.Now()}))
	assert.True(t, mr.Exists("test:quota:9.9.9.9"))

	_, err := base.LoadQuota(ctx, "9.9.9.9")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveAccount(ctx, Account{UserID: "u", Bones: 5}))
	got, err := base.LoadAccount(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Bones)
}
