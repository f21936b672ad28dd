package repositories

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prudhvinik1/nebula/internal/cache"
	"github.com/prudhvinik1/nebula/internal/models"
)

const (
	presenceKeyPrefix = "presence"
	PresenceTTL       = 90 * time.Second // expires without a heartbeat from any instance
)

// RedisPresenceRepository tracks which gateway instances hold a live
// connection for a user. Each user has a sorted set of instance ids scored
// by their last heartbeat, so one instance going away does not mark a user
// offline while another still serves them.
type RedisPresenceRepository struct {
	cache *cache.Cache
	now   func() time.Time
}

func NewRedisPresenceRepository(conns *cache.ConnManager) *RedisPresenceRepository {
	return &RedisPresenceRepository{
		cache: cache.New(conns, presenceKeyPrefix, PresenceTTL),
		now:   time.Now,
	}
}

// SetOnline records a heartbeat from instanceID for userID. Call it on
// connect and on every keepalive.
func (r *RedisPresenceRepository) SetOnline(ctx context.Context, userID, instanceID string) error {
	score := float64(r.now().UnixMilli())
	err := r.cache.ZAdd(ctx, userID, []redis.Z{{Score: score, Member: instanceID}}, 0)
	if err != nil {
		return fmt.Errorf("failed to set presence: %w", err)
	}
	return nil
}

// SetOffline removes instanceID once it holds no connection for userID.
func (r *RedisPresenceRepository) SetOffline(ctx context.Context, userID, instanceID string) error {
	if err := r.cache.ZRem(ctx, userID, instanceID); err != nil {
		return fmt.Errorf("failed to delete presence: %w", err)
	}
	return nil
}

// GetPresence reports a user online when any instance sent a heartbeat
// within PresenceTTL. Broker errors read as offline.
func (r *RedisPresenceRepository) GetPresence(ctx context.Context, userID string) models.Presence {
	offline := models.Presence{UserID: userID, Status: string(models.StatusOffline)}

	since := strconv.FormatInt(r.now().Add(-PresenceTTL).UnixMilli(), 10)
	// live instances, oldest heartbeat first
	live, ok := r.cache.ZRangeByScore(ctx, userID, since, "+inf", 0, -1)
	if !ok || len(live) == 0 {
		return offline
	}
	score, ok := r.cache.ZScore(ctx, userID, live[len(live)-1])
	if !ok {
		return offline
	}
	return models.Presence{
		UserID:   userID,
		Status:   string(models.StatusOnline),
		LastSeen: time.UnixMilli(int64(score)).UTC(),
	}
}

func (r *RedisPresenceRepository) GetBulkPresence(ctx context.Context, userIDs []string) map[string]models.Presence {
	out := make(map[string]models.Presence, len(userIDs))
	for _, id := range userIDs {
		out[id] = r.GetPresence(ctx, id)
	}
	return out
}
