package seed

import (
	"context"
	"fmt"
	"strings"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/rs/zerolog"

	"github.com/prudhvinik1/nebula/internal/events"
	"github.com/prudhvinik1/nebula/internal/log"
	"github.com/prudhvinik1/nebula/internal/models"
	"github.com/prudhvinik1/nebula/internal/utils"
)

const DefaultPassword = "nebula-seed-pass"

type UserWriter interface {
	Create(ctx context.Context, user *models.User) error
}

type FollowWriter interface {
	Create(ctx context.Context, follow *models.Follow) error
}

type PostWriter interface {
	Create(ctx context.Context, post *models.Post) error
}

// Emitter is the publishing half of the event bus.
type Emitter interface {
	Emit(ctx context.Context, t events.Type, data any)
}

type Config struct {
	Users          int
	FollowsPerUser int
	PostsPerUser   int
	Password       string
	// RandSeed fixes the generated data; 0 picks a random seed.
	RandSeed int64
}

func (c Config) withDefaults() Config {
	if c.Users <= 0 {
		c.Users = 20
	}
	if c.FollowsPerUser < 0 {
		c.FollowsPerUser = 0
	}
	if c.FollowsPerUser >= c.Users {
		c.FollowsPerUser = c.Users - 1
	}
	if c.PostsPerUser < 0 {
		c.PostsPerUser = 0
	}
	if c.Password == "" {
		c.Password = DefaultPassword
	}
	return c
}

type Result struct {
	Users   []models.User
	Follows int
	Posts   int
}

// Seeder fills a local database with fake users, follows and posts and
// announces them on the bus, so the fan-out path sees the same events it
// would in production.
type Seeder struct {
	users   UserWriter
	follows FollowWriter
	posts   PostWriter
	bus     Emitter
	logger  zerolog.Logger
}

func New(users UserWriter, follows FollowWriter, posts PostWriter, bus Emitter) *Seeder {
	return &Seeder{
		users:   users,
		follows: follows,
		posts:   posts,
		bus:     bus,
		logger:  log.WithComponent("seed"),
	}
}

func (s *Seeder) Run(ctx context.Context, cfg Config) (*Result, error) {
	cfg = cfg.withDefaults()
	faker := gofakeit.New(cfg.RandSeed)

	// every seeded account shares one password, hashed once
	hash, err := utils.HashPassword(cfg.Password)
	if err != nil {
		return nil, err
	}

	res := &Result{Users: make([]models.User, 0, cfg.Users)}
	for i := 0; i < cfg.Users; i++ {
		u := NewUser(faker, i)
		u.PasswordHash = hash
		if err := s.users.Create(ctx, &u); err != nil {
			return res, fmt.Errorf("failed to seed user %d: %w", i, err)
		}
		res.Users = append(res.Users, u)
	}
	s.logger.Info().Int("count", len(res.Users)).Msg("seeded users")

	for i, follower := range res.Users {
		for _, j := range PickFollowees(faker, i, cfg.Users, cfg.FollowsPerUser) {
			f := models.Follow{FollowerID: follower.ID, FollowingID: res.Users[j].ID}
			if err := s.follows.Create(ctx, &f); err != nil {
				return res, fmt.Errorf("failed to seed follow: %w", err)
			}
			res.Follows++
			s.bus.Emit(ctx, events.UserFollowed, events.UserFollowedData{
				FollowerID:  f.FollowerID,
				FollowingID: f.FollowingID,
				CreatedAt:   f.CreatedAt,
			})
		}
	}
	s.logger.Info().Int("count", res.Follows).Msg("seeded follows")

	for _, author := range res.Users {
		for k := 0; k < cfg.PostsPerUser; k++ {
			p := NewPost(faker, author.ID)
			if err := s.posts.Create(ctx, &p); err != nil {
				return res, fmt.Errorf("failed to seed post: %w", err)
			}
			res.Posts++
			s.bus.Emit(ctx, events.PostCreated, events.PostCreatedData{
				PostID:    p.ID,
				UserID:    p.UserID,
				Content:   p.Content,
				Hashtags:  p.Hashtags,
				CreatedAt: p.CreatedAt,
			})
		}
	}
	s.logger.Info().Int("count", res.Posts).Msg("seeded posts")

	return res, nil
}

// NewUser generates a profile. i keeps username and email unique across a run.
func NewUser(f *gofakeit.Faker, i int) models.User {
	name := f.Name()
	bio := f.Sentence(8)
	avatar := f.ImageURL(128, 128)
	username := fmt.Sprintf("%s_%d", strings.ToLower(f.Username()), i)
	return models.User{
		Email:     fmt.Sprintf("%s@%s", username, f.DomainName()),
		Username:  username,
		FullName:  &name,
		Bio:       &bio,
		AvatarURL: &avatar,
	}
}

func NewPost(f *gofakeit.Faker, authorID string) models.Post {
	var tags []string
	for n := f.Number(0, 3); n > 0; n-- {
		tags = append(tags, strings.ToLower(f.Word()))
	}
	content := f.Sentence(f.Number(5, 20))
	for _, tag := range tags {
		content += " #" + tag
	}
	return models.Post{
		UserID:   authorID,
		Content:  content,
		Hashtags: tags,
	}
}

// PickFollowees returns n distinct indexes in [0, total) other than self.
func PickFollowees(f *gofakeit.Faker, self, total, n int) []int {
	candidates := make([]int, 0, total-1)
	for i := 0; i < total; i++ {
		if i != self {
			candidates = append(candidates, i)
		}
	}
	f.ShuffleAnySlice(candidates)
	if n > len(candidates) {
		n = len(candidates)
	}
	return candidates[:n]
}
