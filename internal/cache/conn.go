package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prudhvinik1/nebula/internal/log"
)

// ConnManager owns one lazily established broker connection. A handle that
// failed is discarded with Reset and the next caller dials again.
type ConnManager struct {
	mu     sync.Mutex
	name   string
	opts   *redis.Options
	client *redis.Client
	logger zerolog.Logger
}

func NewConnManager(name string, opts *redis.Options) *ConnManager {
	return &ConnManager{
		name:   name,
		opts:   opts,
		logger: log.WithComponent("cache").With().Str("conn", name).Logger(),
	}
}

// Client returns the live handle, connecting on first use.
func (m *ConnManager) Client(ctx context.Context) (*redis.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		return m.client, nil
	}

	client := redis.NewClient(m.opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("error connecting %s redis client: %w", m.name, err)
	}

	m.logger.Info().Str("addr", m.opts.Addr).Msg("redis connection established")
	m.client = client
	return client, nil
}

// Reset drops the handle if it is still the one that failed.
func (m *ConnManager) Reset(failed *redis.Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil || (failed != nil && m.client != failed) {
		return
	}
	m.client.Close()
	m.client = nil
	m.logger.Warn().Msg("redis connection reset")
}

func (m *ConnManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		return nil
	}
	err := m.client.Close()
	m.client = nil
	return err
}
