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
	timelineKeyPrefix = "timeline"
	TimelineTTL       = 5 * time.Minute
)

// RedisTimelineCache keeps one sorted set per reader: member = post id,
// score = post creation time in epoch milliseconds.
type RedisTimelineCache struct {
	cache *cache.Cache
	now   func() time.Time
}

func NewRedisTimelineCache(conns *cache.ConnManager, ttl time.Duration) *RedisTimelineCache {
	if ttl <= 0 {
		ttl = TimelineTTL
	}
	return &RedisTimelineCache{
		cache: cache.New(conns, timelineKeyPrefix, ttl),
		now:   time.Now,
	}
}

// AddToTimelines writes postID into every reader's set and refreshes each
// set's TTL. Re-running with the same input leaves the sets unchanged.
func (r *RedisTimelineCache) AddToTimelines(ctx context.Context, readerIDs []string, postID string, createdAt time.Time) error {
	score := float64(createdAt.UnixMilli())
	if err := r.cache.ZAddMany(ctx, readerIDs, postID, score, 0); err != nil {
		return fmt.Errorf("failed to add post to timelines: %w", err)
	}
	return nil
}

func (r *RedisTimelineCache) RemoveFromTimelines(ctx context.Context, postID string, readerIDs []string) error {
	if err := r.cache.ZRemMany(ctx, readerIDs, postID); err != nil {
		return fmt.Errorf("failed to remove post from timelines: %w", err)
	}
	return nil
}

func (r *RedisTimelineCache) GetPostIDs(ctx context.Context, readerID, cursor string, limit int) ([]string, bool) {
	if limit <= 0 {
		return nil, false
	}

	if cursor == "" {
		max := strconv.FormatInt(r.now().UnixMilli(), 10)
		ids, ok := r.cache.ZRevRangeByScore(ctx, readerID, max, "-inf", 0, int64(limit))
		return ids, ok && len(ids) > 0
	}

	score, ok := r.cache.ZScore(ctx, readerID, cursor)
	if !ok {
		return nil, false
	}
	s := strconv.FormatFloat(score, 'f', -1, 64)

	// members sharing the cursor's score come back in the same order as a
	// full range read, so the page resumes exactly at the cursor
	ties, ok := r.cache.ZRevRangeByScore(ctx, readerID, s, s, 0, 0)
	if !ok {
		return nil, false
	}
	ids := ties
	for i, id := range ties {
		if id == cursor {
			ids = ties[i:]
			break
		}
	}
	if len(ids) >= limit {
		return ids[:limit], true
	}

	older, ok := r.cache.ZRevRangeByScore(ctx, readerID, "("+s, "-inf", 0, int64(limit-len(ids)))
	if !ok {
		return nil, false
	}
	ids = append(ids, older...)
	return ids, len(ids) > 0
}

// SetTimeline merges posts read from storage into the reader's set.
func (r *RedisTimelineCache) SetTimeline(ctx context.Context, readerID string, posts []models.Post) error {
	if len(posts) == 0 {
		return nil
	}
	members := make([]redis.Z, len(posts))
	for i := range posts {
		members[i] = redis.Z{Score: posts[i].Score(), Member: posts[i].ID}
	}
	if err := r.cache.ZAdd(ctx, readerID, members, 0); err != nil {
		return fmt.Errorf("failed to set timeline: %w", err)
	}
	return nil
}

// Invalidate drops the reader's whole set; the next read falls back to storage.
func (r *RedisTimelineCache) Invalidate(ctx context.Context, readerID string) error {
	if err := r.cache.Delete(ctx, readerID); err != nil {
		return fmt.Errorf("failed to invalidate timeline: %w", err)
	}
	return nil
}
