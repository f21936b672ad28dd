package repositories

import (
	"context"
	"time"

	"github.com/prudhvinik1/nebula/internal/models"
)

type FollowRepository interface {
	// GetFollowers pages through userID's followers, newest follow first,
	// continuing after the follow relationship id in cursor.
	GetFollowers(ctx context.Context, userID, cursor string, pageSize int) (*models.FollowerPage, error)
	GetFollowStats(ctx context.Context, userID string) (*models.FollowStats, error)
}

type PostRepository interface {
	// GetTimeline returns up to limit visible posts by authors readerID
	// follows, newest first, starting at the post id in cursor (inclusive).
	GetTimeline(ctx context.Context, readerID, cursor string, limit int) ([]models.Post, error)
	// GetByIDs returns the visible posts among ids, in no particular order.
	GetByIDs(ctx context.Context, ids []string) ([]models.Post, error)
}

type TimelineCache interface {
	AddToTimelines(ctx context.Context, readerIDs []string, postID string, createdAt time.Time) error
	RemoveFromTimelines(ctx context.Context, postID string, readerIDs []string) error
	// GetPostIDs reads up to limit ids newest first, starting at cursor
	// (inclusive). ok is false on a miss, an unknown cursor or a broker error.
	GetPostIDs(ctx context.Context, readerID, cursor string, limit int) (ids []string, ok bool)
	SetTimeline(ctx context.Context, readerID string, posts []models.Post) error
	Invalidate(ctx context.Context, readerID string) error
}
