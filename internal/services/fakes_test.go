package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/prudhvinik1/nebula/internal/cache"
	"github.com/prudhvinik1/nebula/internal/models"
	"github.com/prudhvinik1/nebula/internal/repositories"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeStore is an in-memory stand-in for the follows and posts tables.
type fakeStore struct {
	mu         sync.Mutex
	follows    map[string][]models.Follow // following id -> newest first
	posts      map[string]models.Post
	deleted    map[string]bool
	statsCalls int
	failPages  int
	nextFollow int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		follows: map[string][]models.Follow{},
		posts:   map[string]models.Post{},
		deleted: map[string]bool{},
	}
}

func (s *fakeStore) follow(followerID, followingID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextFollow++
	f := models.Follow{
		ID:          fmt.Sprintf("f%06d", s.nextFollow),
		FollowerID:  followerID,
		FollowingID: followingID,
		CreatedAt:   t0.Add(time.Duration(s.nextFollow) * time.Second),
	}
	s.follows[followingID] = append([]models.Follow{f}, s.follows[followingID]...)
}

func (s *fakeStore) addFollowers(authorID string, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-follower-%04d", authorID, i)
		s.follow(ids[i], authorID)
	}
	return ids
}

func (s *fakeStore) addPost(id, authorID string, createdAt time.Time) models.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := models.Post{
		ID:               id,
		UserID:           authorID,
		Username:         authorID,
		Content:          "content of " + id,
		ModerationStatus: models.ModerationActive,
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
	}
	s.posts[id] = p
	return p
}

// softDelete hides a post from every read, like setting deleted_at.
func (s *fakeStore) softDelete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted[id] = true
}

func (s *fakeStore) GetFollowers(_ context.Context, userID, cursor string, pageSize int) (*models.FollowerPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPages > 0 {
		s.failPages--
		return nil, fmt.Errorf("storage unavailable")
	}

	all := s.follows[userID]
	start := 0
	if cursor != "" {
		start = len(all)
		for i, f := range all {
			if f.ID == cursor {
				start = i + 1
				break
			}
		}
	}
	end := min(start+pageSize, len(all))
	page := &models.FollowerPage{Follows: append([]models.Follow(nil), all[start:end]...)}
	page.HasNextPage = end < len(all)
	if len(page.Follows) > 0 {
		page.Cursor = page.Follows[len(page.Follows)-1].ID
	}
	return page, nil
}

func (s *fakeStore) GetFollowStats(_ context.Context, userID string) (*models.FollowStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statsCalls++
	return &models.FollowStats{FollowersCount: len(s.follows[userID])}, nil
}

func (s *fakeStore) visible(p models.Post) bool {
	return !s.deleted[p.ID] && p.ModerationStatus == models.ModerationActive
}

// before orders posts the way storage does: newest millisecond first, then id.
func before(a, b models.Post) bool {
	am, bm := a.CreatedAt.UnixMilli(), b.CreatedAt.UnixMilli()
	if am != bm {
		return am > bm
	}
	return a.ID > b.ID
}

func (s *fakeStore) GetTimeline(_ context.Context, readerID, cursor string, limit int) ([]models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	followed := map[string]bool{}
	for author, fs := range s.follows {
		for _, f := range fs {
			if f.FollowerID == readerID {
				followed[author] = true
			}
		}
	}

	var out []models.Post
	for _, p := range s.posts {
		if followed[p.UserID] && s.visible(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return before(out[i], out[j]) })

	if cursor != "" {
		c, ok := s.posts[cursor]
		if !ok {
			return nil, nil
		}
		filtered := out[:0]
		for _, p := range out {
			if p.ID == c.ID || before(c, p) {
				filtered = append(filtered, p)
			}
		}
		out = filtered
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) GetByIDs(_ context.Context, ids []string) ([]models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Post
	for _, id := range ids {
		if p, ok := s.posts[id]; ok && s.visible(p) {
			out = append(out, p)
		}
	}
	// storage returns rows in arbitrary order
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

var (
	_ repositories.FollowRepository = (*fakeStore)(nil)
	_ repositories.PostRepository   = (*fakeStore)(nil)
)

type testEnv struct {
	store     *fakeStore
	mr        *miniredis.Miniredis
	conns     *cache.ConnManager
	timelines *repositories.RedisTimelineCache
	policy    *ThresholdPolicy
	fanout    *FanoutService
	timeline  *TimelineService
}

func newTestEnv(t *testing.T, threshold int) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	conns := cache.NewConnManager("services-test", &redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { conns.Close() })

	store := newFakeStore()
	timelines := repositories.NewRedisTimelineCache(conns, repositories.TimelineTTL)
	policy := NewThresholdPolicy(store, cache.New(conns, "follows", 10*time.Minute), threshold)

	return &testEnv{
		store:     store,
		mr:        mr,
		conns:     conns,
		timelines: timelines,
		policy:    policy,
		fanout:    NewFanoutService(store, store, timelines, policy, FanoutConfig{PageSize: 100, BatchSize: 100, BatchWorkers: 4}),
		timeline:  NewTimelineService(store, timelines),
	}
}

func (e *testEnv) timelineKeys(t *testing.T) []string {
	t.Helper()
	var keys []string
	for _, k := range e.mr.Keys() {
		if len(k) > len("timeline:") && k[:len("timeline:")] == "timeline:" {
			keys = append(keys, k)
		}
	}
	return keys
}

func requireScore(t *testing.T, mr *miniredis.Miniredis, readerID, postID string, createdAt time.Time) {
	t.Helper()
	score, err := mr.ZScore("timeline:"+readerID, postID)
	require.NoError(t, err, "post %s missing from %s", postID, readerID)
	require.Equal(t, float64(createdAt.UnixMilli()), score)
}
