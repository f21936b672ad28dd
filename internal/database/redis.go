package database

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

const RedisDialTimeout = 10 * time.Second

// RedisOptions parses a connection string. When ipv6 is set the client only
// dials over tcp6, which private networks such as Fly.io require.
func RedisOptions(redisURL string, ipv6 bool) (*redis.Options, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing redis URL: %w", err)
	}

	opts.DialTimeout = RedisDialTimeout
	if ipv6 {
		dialer := &net.Dialer{Timeout: RedisDialTimeout, KeepAlive: 5 * time.Minute}
		opts.Dialer = func(ctx context.Context, _, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, "tcp6", addr)
		}
	}

	return opts, nil
}
