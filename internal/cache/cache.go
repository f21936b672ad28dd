package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prudhvinik1/nebula/internal/log"
	"github.com/prudhvinik1/nebula/internal/metrics"
)

// Cache is a namespaced view over the shared broker. Reads fail safe and
// report a miss; writes return their error so callers can retry.
type Cache struct {
	conns      *ConnManager
	prefix     string
	defaultTTL time.Duration
	logger     zerolog.Logger
}

func New(conns *ConnManager, prefix string, defaultTTL time.Duration) *Cache {
	return &Cache{
		conns:      conns,
		prefix:     prefix,
		defaultTTL: defaultTTL,
		logger:     log.WithComponent("cache").With().Str("prefix", prefix).Logger(),
	}
}

// Key returns the fully qualified key.
func (c *Cache) Key(key string) string {
	return c.prefix + ":" + key
}

func (c *Cache) do(ctx context.Context, op string, fn func(*redis.Client) error) error {
	client, err := c.conns.Client(ctx)
	if err != nil {
		metrics.CacheErrors.WithLabelValues(op).Inc()
		return err
	}

	err = fn(client)
	if err == nil || errors.Is(err, redis.Nil) {
		return err
	}

	metrics.CacheErrors.WithLabelValues(op).Inc()
	if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		c.conns.Reset(client)
	}
	return fmt.Errorf("cache %s: %w", op, err)
}

func (c *Cache) ttl(ttl time.Duration) time.Duration {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Get decodes a JSON value into dst. Any error is reported as a miss.
func (c *Cache) Get(ctx context.Context, key string, dst any) bool {
	var raw []byte
	err := c.do(ctx, "get", func(client *redis.Client) error {
		var err error
		raw, err = client.Get(ctx, c.Key(key)).Bytes()
		return err
	})
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Str("key", key).Msg("cache get failed, treating as miss")
		}
		return false
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache value undecodable, treating as miss")
		return false
	}
	return true
}

// Set stores v as JSON. A zero ttl uses the namespace default, a negative
// one stores without expiry.
func (c *Cache) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("error marshaling cache value: %w", err)
	}

	err = c.do(ctx, "set", func(client *redis.Client) error {
		return client.Set(ctx, c.Key(key), raw, c.ttl(ttl)).Err()
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache set failed")
	}
	return err
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.Key(k)
	}
	return c.do(ctx, "del", func(client *redis.Client) error {
		return client.Del(ctx, full...).Err()
	})
}

// IncrWindow increments a counter and reads its TTL in one transaction. A
// counter without an expiry, fresh or one whose EXPIRE was lost, is given
// window. Broker errors are surfaced so the caller picks its failure policy.
func (c *Cache) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	full := c.Key(key)
	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	err := c.do(ctx, "incr", func(client *redis.Client) error {
		_, err := client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			incr = pipe.Incr(ctx, full)
			ttl = pipe.TTL(ctx, full)
			return nil
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	n := incr.Val()
	if ttl.Val() < 0 {
		if err := c.Expire(ctx, key, window); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (c *Cache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.do(ctx, "expire", func(client *redis.Client) error {
		return client.Expire(ctx, c.Key(key), c.ttl(ttl)).Err()
	})
}

// ZAddMany adds member with score to every key and refreshes each key's
// TTL, in a single round trip.
func (c *Cache) ZAddMany(ctx context.Context, keys []string, member string, score float64, ttl time.Duration) error {
	if len(keys) == 0 {
		return nil
	}
	expiry := c.ttl(ttl)
	return c.do(ctx, "zadd", func(client *redis.Client) error {
		_, err := client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, k := range keys {
				full := c.Key(k)
				pipe.ZAdd(ctx, full, redis.Z{Score: score, Member: member})
				if expiry > 0 {
					pipe.Expire(ctx, full, expiry)
				}
			}
			return nil
		})
		return err
	})
}

// ZRemMany removes member from every key. Missing keys or members are a no-op.
func (c *Cache) ZRemMany(ctx context.Context, keys []string, member string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.do(ctx, "zrem", func(client *redis.Client) error {
		_, err := client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, k := range keys {
				pipe.ZRem(ctx, c.Key(k), member)
			}
			return nil
		})
		return err
	})
}

// ZRem removes member from key. A missing key or member is a no-op.
func (c *Cache) ZRem(ctx context.Context, key, member string) error {
	return c.do(ctx, "zrem", func(client *redis.Client) error {
		return client.ZRem(ctx, c.Key(key), member).Err()
	})
}

// ZAdd merges members into the sorted set at key and refreshes its TTL.
func (c *Cache) ZAdd(ctx context.Context, key string, members []redis.Z, ttl time.Duration) error {
	if len(members) == 0 {
		return nil
	}
	full := c.Key(key)
	expiry := c.ttl(ttl)
	return c.do(ctx, "zadd", func(client *redis.Client) error {
		_, err := client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZAdd(ctx, full, members...)
			if expiry > 0 {
				pipe.Expire(ctx, full, expiry)
			}
			return nil
		})
		return err
	})
}

// ZScore reports the member's score. Errors are reported as absent.
func (c *Cache) ZScore(ctx context.Context, key, member string) (float64, bool) {
	var score float64
	err := c.do(ctx, "zscore", func(client *redis.Client) error {
		var err error
		score, err = client.ZScore(ctx, c.Key(key), member).Result()
		return err
	})
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Str("key", key).Msg("cache zscore failed")
		}
		return 0, false
	}
	return score, true
}

// ZRevRangeByScore returns members with max >= score >= min, highest first.
// The bool is false when the read failed.
func (c *Cache) ZRevRangeByScore(ctx context.Context, key, max, min string, offset, count int64) ([]string, bool) {
	var members []string
	err := c.do(ctx, "zrevrangebyscore", func(client *redis.Client) error {
		var err error
		members, err = client.ZRevRangeByScore(ctx, c.Key(key), &redis.ZRangeBy{
			Max:    max,
			Min:    min,
			Offset: offset,
			Count:  count,
		}).Result()
		return err
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache range read failed, treating as miss")
		return nil, false
	}
	return members, true
}

// ZRangeByScore returns members with min <= score <= max, lowest first.
// The bool is false when the read failed.
func (c *Cache) ZRangeByScore(ctx context.Context, key, min, max string, offset, count int64) ([]string, bool) {
	var members []string
	err := c.do(ctx, "zrangebyscore", func(client *redis.Client) error {
		var err error
		members, err = client.ZRangeByScore(ctx, c.Key(key), &redis.ZRangeBy{
			Min:    min,
			Max:    max,
			Offset: offset,
			Count:  count,
		}).Result()
		return err
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache range read failed, treating as miss")
		return nil, false
	}
	return members, true
}

func (c *Cache) HealthCheck(ctx context.Context) error {
	return c.do(ctx, "ping", func(client *redis.Client) error {
		return client.Ping(ctx).Err()
	})
}
