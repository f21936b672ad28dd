package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prudhvinik1/nebula/internal/models"
)

func TestNormalizePageSize(t *testing.T) {
	tests := []struct {
		name    string
		in      int
		want    int
		wantErr bool
	}{
		{"default", 0, DefaultPageSize, false},
		{"min", 1, 1, false},
		{"max", MaxPageSize, MaxPageSize, false},
		{"above max", MaxPageSize + 1, 0, true},
		{"negative", -1, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePageSize(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPageSize)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// seedPosts creates n posts by authorID, three per second so some share a
// millisecond. p(n-1) is the newest.
func seedPosts(env *testEnv, authorID string, n int) {
	for i := 0; i < n; i++ {
		env.store.addPost(fmt.Sprintf("p%02d", i), authorID, t0.Add(time.Duration(i/3)*time.Second))
	}
}

func postIDs(posts []models.Post) []string {
	out := make([]string, len(posts))
	for i, p := range posts {
		out[i] = p.ID
	}
	return out
}

// readAll pages through a reader's timeline and returns every id in order
// along with the source of each page.
func readAll(t *testing.T, env *testEnv, readerID string, pageSize int) ([]string, []models.TimelineSource) {
	t.Helper()
	var all []string
	var sources []models.TimelineSource
	cursor := ""
	for i := 0; i < 20; i++ {
		page, err := env.timeline.GetTimeline(context.Background(), readerID, cursor, pageSize)
		require.NoError(t, err)
		all = append(all, postIDs(page.Data)...)
		sources = append(sources, page.Meta.Source)
		if !page.Meta.HasNextPage {
			require.Nil(t, page.Meta.Cursor)
			return all, sources
		}
		require.NotNil(t, page.Meta.Cursor)
		cursor = *page.Meta.Cursor
	}
	t.Fatal("pagination did not terminate")
	return nil, nil
}

func expectedOrder(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("p%02d", n-1-i)
	}
	return out
}

func TestTimelineService_MissFallsBackAndSeeds(t *testing.T) {
	// ARRANGE
	env := newTestEnv(t, DefaultFanoutThreshold)
	env.store.follow("reader", "author")
	seedPosts(env, "author", 25)

	// ACT
	page, err := env.timeline.GetTimeline(context.Background(), "reader", "", 20)

	// ASSERT
	require.NoError(t, err)
	assert.Equal(t, models.SourceFallback, page.Meta.Source)
	assert.Equal(t, expectedOrder(25)[:20], postIDs(page.Data))
	require.NotNil(t, page.Meta.Cursor)
	assert.Equal(t, "p04", *page.Meta.Cursor)
	assert.True(t, page.Meta.HasNextPage)

	members, err := env.mr.ZMembers("timeline:reader")
	require.NoError(t, err)
	assert.Len(t, members, 20, "only the returned page is cached")
	assert.NotContains(t, members, "p04")
}

func TestTimelineService_EmptyTimeline(t *testing.T) {
	env := newTestEnv(t, DefaultFanoutThreshold)

	page, err := env.timeline.GetTimeline(context.Background(), "loner", "", 0)

	require.NoError(t, err)
	assert.NotNil(t, page.Data)
	assert.Empty(t, page.Data)
	assert.Nil(t, page.Meta.Cursor)
	assert.False(t, page.Meta.HasNextPage)
	assert.Empty(t, env.timelineKeys(t))
}

func TestTimelineService_HitKeepsCacheOrder(t *testing.T) {
	env := newTestEnv(t, DefaultFanoutThreshold)
	env.store.follow("reader", "author")
	seedPosts(env, "author", 5)
	// cached in a different order than the ids sort
	ctx := context.Background()
	require.NoError(t, env.timelines.AddToTimelines(ctx, []string{"reader"}, "p01", t0.Add(time.Hour)))
	require.NoError(t, env.timelines.AddToTimelines(ctx, []string{"reader"}, "p03", t0.Add(time.Minute)))
	require.NoError(t, env.timelines.AddToTimelines(ctx, []string{"reader"}, "p02", t0))

	page, err := env.timeline.GetTimeline(ctx, "reader", "", 3)

	require.NoError(t, err)
	assert.Equal(t, models.SourceCache, page.Meta.Source)
	assert.Equal(t, []string{"p01", "p03", "p02"}, postIDs(page.Data))
}

func TestTimelineService_HitDropsDeletedPosts(t *testing.T) {
	env := newTestEnv(t, DefaultFanoutThreshold)
	env.store.follow("reader", "author")
	seedPosts(env, "author", 3)
	ctx := context.Background()
	for _, id := range []string{"p00", "p01", "p02"} {
		p := env.store.posts[id]
		require.NoError(t, env.timelines.AddToTimelines(ctx, []string{"reader"}, id, p.CreatedAt))
	}
	env.store.deleted["p01"] = true

	page, err := env.timeline.GetTimeline(ctx, "reader", "", 20)

	require.NoError(t, err)
	assert.Equal(t, models.SourceCache, page.Meta.Source)
	assert.Equal(t, []string{"p02", "p00"}, postIDs(page.Data))
}

func TestTimelineService_PaginatesColdCache(t *testing.T) {
	env := newTestEnv(t, DefaultFanoutThreshold)
	env.store.follow("reader", "author")
	seedPosts(env, "author", 45)

	got, sources := readAll(t, env, "reader", 20)

	assert.Equal(t, expectedOrder(45), got, "no post lost or repeated")
	assert.Equal(t, []models.TimelineSource{models.SourceFallback, models.SourceFallback, models.SourceFallback}, sources)
}

func TestTimelineService_PaginatesPartiallyWarmCache(t *testing.T) {
	// ARRANGE: only the newest ten posts were pushed
	env := newTestEnv(t, DefaultFanoutThreshold)
	env.store.follow("reader", "author")
	seedPosts(env, "author", 45)
	ctx := context.Background()
	for _, id := range expectedOrder(45)[:10] {
		require.NoError(t, env.timelines.AddToTimelines(ctx, []string{"reader"}, id, env.store.posts[id].CreatedAt))
	}

	// ACT
	got, sources := readAll(t, env, "reader", 20)

	// ASSERT: the first page comes from the cache, the rest from storage
	assert.Equal(t, expectedOrder(45), got)
	require.Len(t, sources, 3)
	assert.Equal(t, models.SourceCache, sources[0])
	assert.Equal(t, models.SourceFallback, sources[1])
}

func TestTimelineService_PaginatesWarmCache(t *testing.T) {
	env := newTestEnv(t, DefaultFanoutThreshold)
	env.store.follow("reader", "author")
	seedPosts(env, "author", 12)
	ctx := context.Background()
	for id, p := range env.store.posts {
		require.NoError(t, env.timelines.AddToTimelines(ctx, []string{"reader"}, id, p.CreatedAt))
	}

	got, sources := readAll(t, env, "reader", 5)

	assert.Equal(t, expectedOrder(12), got)
	for _, s := range sources {
		assert.Equal(t, models.SourceCache, s)
	}
}

func TestTimelineService_BrokerDownFallsBack(t *testing.T) {
	env := newTestEnv(t, DefaultFanoutThreshold)
	env.store.follow("reader", "author")
	seedPosts(env, "author", 3)
	env.mr.Close()

	page, err := env.timeline.GetTimeline(context.Background(), "reader", "", 20)

	require.NoError(t, err)
	assert.Equal(t, models.SourceFallback, page.Meta.Source)
	assert.Equal(t, expectedOrder(3), postIDs(page.Data))
}

func TestTimelineService_UnknownCursor(t *testing.T) {
	env := newTestEnv(t, DefaultFanoutThreshold)
	env.store.follow("reader", "author")
	seedPosts(env, "author", 3)

	page, err := env.timeline.GetTimeline(context.Background(), "reader", "nope", 20)

	require.NoError(t, err)
	assert.Empty(t, page.Data)
	assert.False(t, page.Meta.HasNextPage)
}

func TestTimelineService_InvalidPageSize(t *testing.T) {
	env := newTestEnv(t, DefaultFanoutThreshold)

	_, err := env.timeline.GetTimeline(context.Background(), "reader", "", MaxPageSize+1)

	assert.ErrorIs(t, err, ErrInvalidPageSize)
}

type failingPosts struct{ *fakeStore }

func (failingPosts) GetTimeline(context.Context, string, string, int) ([]models.Post, error) {
	return nil, errors.New("connection refused")
}

func TestTimelineService_StorageErrorOnMiss(t *testing.T) {
	env := newTestEnv(t, DefaultFanoutThreshold)
	svc := NewTimelineService(failingPosts{env.store}, env.timelines)

	_, err := svc.GetTimeline(context.Background(), "reader", "", 20)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}
