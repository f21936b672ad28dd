package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, prefix string, ttl time.Duration) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	conns := NewConnManager("test", &redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { conns.Close() })
	return New(conns, prefix, ttl), mr
}

type profile struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestCache_SetGet(t *testing.T) {
	// ARRANGE
	ctx := context.Background()
	c, mr := newTestCache(t, "follows", time.Minute)

	// ACT
	require.NoError(t, c.Set(ctx, "stats:u1", profile{Name: "ada", Count: 3}, 0))

	// ASSERT
	var got profile
	require.True(t, c.Get(ctx, "stats:u1", &got))
	assert.Equal(t, profile{Name: "ada", Count: 3}, got)
	assert.Equal(t, time.Minute, mr.TTL("follows:stats:u1"))
}

func TestCache_GetMissAndUndecodable(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, "follows", time.Minute)

	var got profile
	assert.False(t, c.Get(ctx, "absent", &got))

	require.NoError(t, mr.Set("follows:broken", "{not json"))
	assert.False(t, c.Get(ctx, "broken", &got))
}

func TestCache_NegativeTTLStoresWithoutExpiry(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, "p", time.Minute)

	require.NoError(t, c.Set(ctx, "forever", 1, -1))
	assert.Equal(t, time.Duration(0), mr.TTL("p:forever"))
}

func TestCache_IncrWindow(t *testing.T) {
	// ARRANGE
	ctx := context.Background()
	c, mr := newTestCache(t, "ratelimit", time.Minute)

	// ACT
	n, err := c.IncrWindow(ctx, "k", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	mr.FastForward(10 * time.Second)
	n, err = c.IncrWindow(ctx, "k", 30*time.Second)

	// ASSERT
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	// the window is not extended by later increments
	assert.Equal(t, 20*time.Second, mr.TTL("ratelimit:k"))
}

func TestCache_IncrWindowRearmsMissingExpiry(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, "ratelimit", time.Minute)
	require.NoError(t, mr.Set("ratelimit:k", "7"))

	n, err := c.IncrWindow(ctx, "k", 30*time.Second)

	require.NoError(t, err)
	assert.Equal(t, int64(8), n)
	assert.Equal(t, 30*time.Second, mr.TTL("ratelimit:k"))
}

func TestCache_ZAddManyAndRange(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, "timeline", 5*time.Minute)

	require.NoError(t, c.ZAddMany(ctx, []string{"r1", "r2"}, "p1", 1000, 0))
	require.NoError(t, c.ZAddMany(ctx, []string{"r1"}, "p2", 2000, 0))
	// re-adding is idempotent
	require.NoError(t, c.ZAddMany(ctx, []string{"r1"}, "p2", 2000, 0))

	members, ok := c.ZRevRangeByScore(ctx, "r1", "+inf", "-inf", 0, 10)
	require.True(t, ok)
	assert.Equal(t, []string{"p2", "p1"}, members)

	score, ok := c.ZScore(ctx, "r2", "p1")
	require.True(t, ok)
	assert.Equal(t, 1000.0, score)
	assert.Equal(t, 5*time.Minute, mr.TTL("timeline:r2"))

	_, ok = c.ZScore(ctx, "r2", "p2")
	assert.False(t, ok)
}

func TestCache_ZRemMany(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, "timeline", time.Minute)

	require.NoError(t, c.ZAddMany(ctx, []string{"r1", "r2"}, "p1", 1000, 0))
	require.NoError(t, c.ZRemMany(ctx, []string{"r1", "r2", "never-written"}, "p1"))

	members, ok := c.ZRevRangeByScore(ctx, "r1", "+inf", "-inf", 0, 10)
	require.True(t, ok)
	assert.Empty(t, members)
}

func TestCache_ZAddMerges(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, "timeline", time.Minute)

	require.NoError(t, c.ZAddMany(ctx, []string{"r1"}, "older", 1, 0))
	require.NoError(t, c.ZAdd(ctx, "r1", []redis.Z{{Score: 5, Member: "a"}, {Score: 7, Member: "b"}}, 0))

	members, ok := c.ZRevRangeByScore(ctx, "r1", "+inf", "-inf", 0, 10)
	require.True(t, ok)
	assert.Equal(t, []string{"b", "a", "older"}, members)
	assert.Equal(t, time.Minute, mr.TTL("timeline:r1"))
}

func TestCache_ZRem(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, "presence", time.Minute)

	require.NoError(t, c.ZAdd(ctx, "u1", []redis.Z{{Score: 1, Member: "gw-a"}, {Score: 2, Member: "gw-b"}}, 0))
	require.NoError(t, c.ZRem(ctx, "u1", "gw-a"))
	require.NoError(t, c.ZRem(ctx, "u1", "never-added"))
	require.NoError(t, c.ZRem(ctx, "missing", "gw-a"))

	members, ok := c.ZRangeByScore(ctx, "u1", "-inf", "+inf", 0, -1)
	require.True(t, ok)
	assert.Equal(t, []string{"gw-b"}, members)
}

func TestCache_ZRangeByScoreAscending(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, "presence", time.Minute)
	require.NoError(t, c.ZAdd(ctx, "u1", []redis.Z{
		{Score: 30, Member: "c"},
		{Score: 10, Member: "a"},
		{Score: 20, Member: "b"},
	}, 0))

	all, ok := c.ZRangeByScore(ctx, "u1", "-inf", "+inf", 0, -1)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b", "c"}, all)

	recent, ok := c.ZRangeByScore(ctx, "u1", "15", "+inf", 0, 1)
	require.True(t, ok)
	assert.Equal(t, []string{"b"}, recent)

	empty, ok := c.ZRangeByScore(ctx, "missing", "-inf", "+inf", 0, -1)
	require.True(t, ok)
	assert.Empty(t, empty)
}

func TestCache_Delete(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, "timeline", time.Minute)

	require.NoError(t, c.ZAddMany(ctx, []string{"r1"}, "p1", 1, 0))
	require.True(t, mr.Exists("timeline:r1"))

	require.NoError(t, c.Delete(ctx, "r1"))
	assert.False(t, mr.Exists("timeline:r1"))
}

func TestCache_BrokerDownFailsSafe(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, "timeline", time.Minute)
	require.NoError(t, c.HealthCheck(ctx))

	mr.Close()

	var got profile
	assert.False(t, c.Get(ctx, "k", &got))
	_, ok := c.ZRevRangeByScore(ctx, "r1", "+inf", "-inf", 0, 10)
	assert.False(t, ok)
	_, ok = c.ZRangeByScore(ctx, "u1", "-inf", "+inf", 0, -1)
	assert.False(t, ok)
	_, err := c.IncrWindow(ctx, "k", time.Minute)
	assert.Error(t, err)
	assert.Error(t, c.ZRem(ctx, "u1", "gw-a"))
	assert.Error(t, c.ZAddMany(ctx, []string{"r1"}, "p1", 1, 0))

	require.NoError(t, mr.Restart())
	assert.NoError(t, c.HealthCheck(ctx))
}
