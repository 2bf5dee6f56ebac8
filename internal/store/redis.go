package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementQuotaScript restarts an expired window and counts one generation
// unless the window is full. Returns {count, window_start_ms, counted}.
var incrementQuotaScript = redis.NewScript(`
local now = tonumber(ARGV[2])
local window = tonumber(ARGV[3])
local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
local start = tonumber(redis.call('HGET', KEYS[1], 'window_start') or ARGV[2])
if now - start > window then
    count = 0
    start = now
end
if count >= tonumber(ARGV[1]) then
    return {count, start, 0}
end
count = count + 1
redis.call('HSET', KEYS[1], 'count', count, 'window_start', start)
redis.call('PEXPIREAT', KEYS[1], start + window + 1)
return {count, start, 1}
`)

// RedisQuotaStore keeps anonymous quota entries in Redis so every replica
// shares one budget per identity. Keys expire with their window.
//
// Key format: "<prefix>quota:<identity>", a hash with fields count and window_start (unix ms).
type RedisQuotaStore struct {
	rdb    *redis.Client
	prefix string
	window time.Duration
}

// NewRedisQuotaStore creates a store whose keys live for one window.
func NewRedisQuotaStore(rdb *redis.Client, prefix string, window time.Duration) *RedisQuotaStore {
	return &RedisQuotaStore{rdb: rdb, prefix: prefix, window: window}
}

func (s *RedisQuotaStore) key(identity string) string {
	return s.prefix + "quota:" + identity
}

func (s *RedisQuotaStore) LoadQuota(ctx context.Context, key string) (QuotaEntry, error) {
	vals, err := s.rdb.HGetAll(ctx, s.key(key)).Result()
	if err != nil {
		return QuotaEntry{}, fmt.Errorf("redis: load quota: %w", err)
	}
	if len(vals) == 0 {
		return QuotaEntry{}, ErrNotFound
	}
	count, err := strconv.Atoi(vals["count"])
	if err != nil {
		return QuotaEntry{}, fmt.Errorf("redis: bad count for %s: %w", key, err)
	}
	start, err := strconv.ParseInt(vals["window_start"], 10, 64)
	if err != nil {
		return QuotaEntry{}, fmt.Errorf("redis: bad window_start for %s: %w", key, err)
	}
	return QuotaEntry{Key: key, Count: count, WindowStart: time.UnixMilli(start)}, nil
}

func (s *RedisQuotaStore) SaveQuota(ctx context.Context, entry QuotaEntry) error {
	k := s.key(entry.Key)
	// Keep the key one millisecond past the window so an entry is still
	// readable at exactly window age, when it has not yet expired.
	expireAt := entry.WindowStart.Add(s.window + time.Millisecond)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, "count", entry.Count, "window_start", entry.WindowStart.UnixMilli())
		pipe.PExpireAt(ctx, k, expireAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: save quota: %w", err)
	}
	return nil
}

func (s *RedisQuotaStore) IncrementQuota(ctx context.Context, key string, max int, window time.Duration, now time.Time) (QuotaEntry, bool, error) {
	vals, err := incrementQuotaScript.Run(ctx, s.rdb, []string{s.key(key)},
		max, now.UnixMilli(), window.Milliseconds()).Int64Slice()
	if err != nil {
		return QuotaEntry{}, false, fmt.Errorf("redis: increment quota: %w", err)
	}
	if len(vals) != 3 {
		return QuotaEntry{}, false, fmt.Errorf("redis: increment quota: unexpected reply %v", vals)
	}
	entry := QuotaEntry{Key: key, Count: int(vals[0]), WindowStart: time.UnixMilli(vals[1])}
	return entry, vals[2] == 1, nil
}

// DeleteExpiredQuotas is a no-op: Redis evicts keys when their TTL passes.
func (s *RedisQuotaStore) DeleteExpiredQuotas(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}

func (s *RedisQuotaStore) Close() error {
	return s.rdb.Close()
}

// WithQuotaStore returns a Store that delegates quota calls to quotas and
// everything else to base. Close closes both.
func WithQuotaStore(base Store, quotas interface {
	QuotaStore
	Close() error
}) Store {
	return &quotaOverride{Store: base, quotas: quotas}
}

type quotaOverride struct {
	Store
	quotas interface {
		QuotaStore
		Close() error
	}
}

func (o *quotaOverride) LoadQuota(ctx context.Context, key string) (QuotaEntry, error) {
	return o.quotas.LoadQuota(ctx, key)
}

func (o *quotaOverride) SaveQuota(ctx context.Context, entry QuotaEntry) error {
	return o.quotas.SaveQuota(ctx, entry)
}

func (o *quotaOverride) IncrementQuota(ctx context.Context, key string, max int, window time.Duration, now time.Time) (QuotaEntry, bool, error) {
	return o.quotas.IncrementQuota(ctx, key, max, window, now)
}

func (o *quotaOverride) DeleteExpiredQuotas(ctx context.Context, cutoff time.Time) (int, error) {
	return o.quotas.DeleteExpiredQuotas(ctx, cutoff)
}

func (o *quotaOverride) Close() error {
	return errors.Join(o.quotas.Close(), o.Store.Close())
}
