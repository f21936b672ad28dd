package seed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prudhvinik1/nebula/internal/events"
	"github.com/prudhvinik1/nebula/internal/models"
	"github.com/prudhvinik1/nebula/internal/utils"
)

type memUsers struct {
	created []models.User
	failAt  int
}

func (m *memUsers) Create(_ context.Context, u *models.User) error {
	if m.failAt > 0 && len(m.created)+1 == m.failAt {
		return errors.New("unique violation")
	}
	u.ID = fmt.Sprintf("u%03d", len(m.created))
	u.CreatedAt = time.Now()
	m.created = append(m.created, *u)
	return nil
}

type memFollows struct {
	pairs map[[2]string]bool
}

func (m *memFollows) Create(_ context.Context, f *models.Follow) error {
	key := [2]string{f.FollowerID, f.FollowingID}
	if m.pairs[key] {
		return errors.New("duplicate follow")
	}
	m.pairs[key] = true
	f.ID = fmt.Sprintf("f%04d", len(m.pairs))
	return nil
}

type memPosts struct {
	created []models.Post
}

func (m *memPosts) Create(_ context.Context, p *models.Post) error {
	p.ID = fmt.Sprintf("p%04d", len(m.created))
	p.CreatedAt = time.Now()
	m.created = append(m.created, *p)
	return nil
}

type recordingBus struct {
	mu     sync.Mutex
	events map[events.Type][]any
}

func (b *recordingBus) Emit(_ context.Context, t events.Type, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[t] = append(b.events[t], data)
}

func newSeeder() (*Seeder, *memUsers, *memFollows, *memPosts, *recordingBus) {
	users := &memUsers{}
	follows := &memFollows{pairs: map[[2]string]bool{}}
	posts := &memPosts{}
	bus := &recordingBus{events: map[events.Type][]any{}}
	return New(users, follows, posts, bus), users, follows, posts, bus
}

func TestSeeder_Run(t *testing.T) {
	// ARRANGE
	s, users, follows, posts, bus := newSeeder()

	// ACT
	res, err := s.Run(context.Background(), Config{Users: 6, FollowsPerUser: 3, PostsPerUser: 2, RandSeed: 42})

	// ASSERT
	require.NoError(t, err)
	assert.Len(t, res.Users, 6)
	assert.Equal(t, 18, res.Follows)
	assert.Equal(t, 12, res.Posts)

	assert.Len(t, users.created, 6)
	assert.Len(t, follows.pairs, 18)
	assert.Len(t, posts.created, 12)
	for pair := range follows.pairs {
		assert.NotEqual(t, pair[0], pair[1], "nobody follows themselves")
	}

	require.Len(t, bus.events[events.PostCreated], 12)
	assert.Len(t, bus.events[events.UserFollowed], 18)
	first := bus.events[events.PostCreated][0].(events.PostCreatedData)
	assert.Equal(t, posts.created[0].ID, first.PostID)
	assert.Equal(t, posts.created[0].UserID, first.UserID)
}

func TestSeeder_UsersCanLogIn(t *testing.T) {
	s, users, _, _, _ := newSeeder()

	_, err := s.Run(context.Background(), Config{Users: 2, Password: "let-me-in-please", RandSeed: 7})
	require.NoError(t, err)

	hash := users.created[0].PasswordHash
	assert.True(t, utils.CheckPassword(hash, "let-me-in-please"))
	assert.Equal(t, hash, users.created[1].PasswordHash)
}

func TestSeeder_StopsOnWriteError(t *testing.T) {
	s, users, _, _, bus := newSeeder()
	users.failAt = 3

	res, err := s.Run(context.Background(), Config{Users: 5, PostsPerUser: 1, RandSeed: 1})

	require.Error(t, err)
	assert.Len(t, res.Users, 2)
	assert.Empty(t, bus.events[events.PostCreated])
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{Users: 3, FollowsPerUser: 10, PostsPerUser: -1}.withDefaults()

	assert.Equal(t, 2, cfg.FollowsPerUser)
	assert.Equal(t, 0, cfg.PostsPerUser)
	assert.Equal(t, DefaultPassword, cfg.Password)
	assert.Equal(t, 20, Config{}.withDefaults().Users)
}

func TestGenerators_AreDeterministic(t *testing.T) {
	a := NewUser(gofakeit.New(99), 4)
	b := NewUser(gofakeit.New(99), 4)

	assert.Equal(t, a, b)
	assert.Contains(t, a.Username, "_4")
	assert.Contains(t, a.Email, a.Username+"@")
}

func TestNewPost_ContentCarriesHashtags(t *testing.T) {
	faker := gofakeit.New(5)
	for i := 0; i < 20; i++ {
		p := NewPost(faker, "author")
		assert.Equal(t, "author", p.UserID)
		for _, tag := range p.Hashtags {
			assert.Contains(t, p.Content, "#"+tag)
		}
	}
}

func TestPickFollowees(t *testing.T) {
	picked := PickFollowees(gofakeit.New(3), 2, 10, 4)

	require.Len(t, picked, 4)
	seen := map[int]bool{}
	for _, i := range picked {
		assert.NotEqual(t, 2, i)
		assert.False(t, seen[i])
		seen[i] = true
	}
	assert.Len(t, PickFollowees(gofakeit.New(3), 0, 3, 10), 2)
}
