package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"elektromart/backend/internal/domain"
)

const (
	restockReportKey     = "elektromart:report:restock"
	restockGenerationKey = "elektromart:report:restock:gen"
	sequenceKeyBase      = "elektromart:seq:"
	// Sequence keys outlive their day so a late-night order never restarts at 1.
	sequenceKeyTTL = 48 * time.Hour
)

// setIfGeneration stores ARGV[2] under KEYS[2] for ARGV[3] ms (no expiry
// when zero) only while KEYS[1] still holds generation ARGV[1].
var setIfGeneration = redis.NewScript(`
local current = redis.call('GET', KEYS[1]) or '0'
if current ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[2], ARGV[2])
end
return 1
`)

// raiseTo lifts the counter in KEYS[1] to at least ARGV[1].
var raiseTo = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local floor = tonumber(ARGV[1])
if current < floor then
	redis.call('SET', KEYS[1], floor, 'EX', ARGV[2])
end
return 1
`)

type RedisCache struct {
	client redis.UniversalClient
}

func NewRedisCache(addr string, password string, db int) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisCache{client: client}
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) GetRestockReport(ctx context.Context) (*domain.RestockReport, bool, error) {
	val, err := c.client.Get(ctx, restockReportKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var report domain.RestockReport
	if err := json.Unmarshal([]byte(val), &report); err != nil {
		return nil, false, err
	}
	return &report, true, nil
}

func (c *RedisCache) RestockGeneration(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, restockGenerationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisCache) SetRestockReport(ctx context.Context, report *domain.RestockReport, generation int64, ttl time.Duration) (bool, error) {
	if report == nil {
		return false, nil
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return false, err
	}
	stored, err := setIfGeneration.Run(ctx, c.client,
		[]string{restockGenerationKey, restockReportKey},
		strconv.FormatInt(generation, 10), payload, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return stored == 1, nil
}

func (c *RedisCache) InvalidateRestockReport(ctx context.Context) error {
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, restockGenerationKey)
	pipe.Del(ctx, restockReportKey)
	_, err := pipe.Exec(ctx)
	return err
}

// NextSequence increments the per-prefix daily counter. It satisfies
// store.SequenceSource so order numbering can run off Redis.
func (c *RedisCache) NextSequence(ctx context.Context, prefix string, date time.Time) (int64, error) {
	key := sequenceKey(prefix, date)
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, sequenceKeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// SeedSequence lifts the counter to floor so the next INCR lands past every
// stored number; it satisfies store.SequenceSeeder.
func (c *RedisCache) SeedSequence(ctx context.Context, prefix string, date time.Time, floor int64) error {
	return raiseTo.Run(ctx, c.client, []string{sequenceKey(prefix, date)}, floor, int64(sequenceKeyTTL.Seconds())).Err()
}

func sequenceKey(prefix string, date time.Time) string {
	return sequenceKeyBase + prefix + ":" + domain.SequenceDay(date)
}
