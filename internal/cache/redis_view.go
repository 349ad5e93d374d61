package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"verifyflow/internal/model"
	pkgerrors "verifyflow/pkg/errors"
	"verifyflow/storage/redis"
)

// 代数只在比较时有意义，过期后归零也不会误写
const generationTTL = 6 * time.Hour

const defaultViewTTL = 30 * time.Second

// 代数未变化时才写入视图
var setIfGenerationScript = goredis.NewScript(`
local gen = redis.call('GET', KEYS[2])
if not gen then gen = '0' end
if gen ~= ARGV[1] then return 0 end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// 代数未变化时才恢复快照；ARGV[2] 为 0 表示快照时条目不存在
var restoreScript = goredis.NewScript(`
local gen = redis.call('GET', KEYS[2])
if not gen then gen = '0' end
if gen ~= ARGV[1] then return 0 end
if ARGV[2] == '0' then
  redis.call('DEL', KEYS[1])
else
  redis.call('SET', KEYS[1], ARGV[3], 'PX', ARGV[4])
end
return 1
`)

// RedisViewCache 多实例共享的视图缓存
type RedisViewCache struct {
	client  goredis.UniversalClient
	prefix  string
	ttl     time.Duration
	breaker *CircuitBreaker
}

var _ ViewCache = (*RedisViewCache)(nil)

// NewRedisViewCache ttl 即缓存的最长陈旧时间
func NewRedisViewCache(client goredis.UniversalClient, prefix string, ttl time.Duration) *RedisViewCache {
	if ttl <= 0 {
		ttl = defaultViewTTL
	}
	return &RedisViewCache{
		client:  client,
		prefix:  prefix,
		ttl:     ttl,
		breaker: NewCircuitBreaker("progress_view_cache", 5, 30*time.Second),
	}
}

// WithBreaker 替换熔断器
func (c *RedisViewCache) WithBreaker(cb *CircuitBreaker) *RedisViewCache {
	c.breaker = cb
	return c
}

func (c *RedisViewCache) viewKey(providerID string) string {
	return redis.JoinKey(c.prefix, "progress", "view", providerID)
}

func (c *RedisViewCache) genKey(providerID string) string {
	return redis.JoinKey(c.prefix, "progress", "gen", providerID)
}

func (c *RedisViewCache) call(op func() error) error {
	if err := c.breaker.Call(op); err != nil {
		return fmt.Errorf("%w: %w", pkgerrors.CacheUnavailable, err)
	}
	return nil
}

func (c *RedisViewCache) Get(ctx context.Context, providerID string) (*model.CachedProgressView, bool, error) {
	var raw []byte
	err := c.call(func() error {
		var err error
		raw, err = c.client.Get(ctx, c.viewKey(providerID)).Bytes()
		if errors.Is(err, goredis.Nil) {
			raw = nil
			return nil
		}
		return err
	})
	if err != nil || raw == nil {
		return nil, false, err
	}

	view, err := decodeView(raw)
	if err != nil {
		// 解不开的条目直接丢弃，按未命中处理
		_ = c.client.Del(ctx, c.viewKey(providerID)).Err()
		return nil, false, nil
	}
	return view, true, nil
}

func (c *RedisViewCache) Set(ctx context.Context, providerID string, view *model.CachedProgressView) error {
	raw, err := encodeView(view)
	if err != nil {
		return err
	}
	return c.call(func() error {
		return c.client.Set(ctx, c.viewKey(providerID), raw, c.ttl).Err()
	})
}

func (c *RedisViewCache) SetIfGeneration(ctx context.Context, providerID string, view *model.CachedProgressView, generation int64) (bool, error) {
	raw, err := encodeView(view)
	if err != nil {
		return false, err
	}

	var stored bool
	err = c.call(func() error {
		n, err := setIfGenerationScript.Run(ctx, c.client,
			[]string{c.viewKey(providerID), c.genKey(providerID)},
			strconv.FormatInt(generation, 10), raw, c.ttl.Milliseconds(),
		).Int()
		if err != nil {
			return err
		}
		stored = n == 1
		return nil
	})
	return stored, err
}

func (c *RedisViewCache) Invalidate(ctx context.Context, providerID string) (int64, error) {
	var gen *goredis.IntCmd
	err := c.call(func() error {
		_, err := c.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, c.viewKey(providerID))
			gen = pipe.Incr(ctx, c.genKey(providerID))
			pipe.Expire(ctx, c.genKey(providerID), generationTTL)
			return nil
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	return gen.Val(), nil
}

func (c *RedisViewCache) Generation(ctx context.Context, providerID string) (int64, error) {
	var gen int64
	err := c.call(func() error {
		v, err := c.client.Get(ctx, c.genKey(providerID)).Int64()
		if errors.Is(err, goredis.Nil) {
			gen = 0
			return nil
		}
		gen = v
		return err
	})
	return gen, err
}

func (c *RedisViewCache) Snapshot(ctx context.Context, providerID string) (Snapshot, error) {
	snap := Snapshot{ProviderID: providerID}
	err := c.call(func() error {
		pipe := c.client.TxPipeline()
		getCmd := pipe.Get(ctx, c.viewKey(providerID))
		ttlCmd := pipe.PTTL(ctx, c.viewKey(providerID))
		genCmd := pipe.Get(ctx, c.genKey(providerID))
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
			return err
		}

		gen, err := genCmd.Int64()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return err
		}
		snap.Generation = gen

		raw, err := getCmd.Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		snap.Raw = raw
		snap.Present = true
		snap.TTL = ttlCmd.Val()
		return nil
	})
	return snap, err
}

func (c *RedisViewCache) Restore(ctx context.Context, snap Snapshot) (bool, error) {
	present := "0"
	if snap.Present {
		present = "1"
	}
	ttl := snap.TTL.Milliseconds()
	if ttl <= 0 {
		ttl = c.ttl.Milliseconds()
	}

	var restored bool
	err := c.call(func() error {
		n, err := restoreScript.Run(ctx, c.client,
			[]string{c.viewKey(snap.ProviderID), c.genKey(snap.ProviderID)},
			strconv.FormatInt(snap.Generation, 10), present, snap.Raw, ttl,
		).Int()
		if err != nil {
			return err
		}
		restored = n == 1
		return nil
	})
	return restored, err
}
