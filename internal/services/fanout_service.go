package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/prudhvinik1/nebula/internal/cache"
	"github.com/prudhvinik1/nebula/internal/events"
	"github.com/prudhvinik1/nebula/internal/log"
	"github.com/prudhvinik1/nebula/internal/metrics"
	"github.com/prudhvinik1/nebula/internal/models"
	"github.com/prudhvinik1/nebula/internal/repositories"
	"github.com/prudhvinik1/nebula/internal/telemetry"
)

type Strategy string

const (
	StrategyPush Strategy = "push"
	StrategyPull Strategy = "pull"
)

const (
	DefaultFanoutThreshold = 5000
	DefaultFollowerPage    = 100
	DefaultWriteBatch      = 100
	DefaultBatchWorkers    = 4
)

// StrategyPolicy decides, per author, whether a new post is pushed into
// follower timelines or left for readers to pull from storage.
type StrategyPolicy interface {
	Choose(ctx context.Context, authorID string) (Strategy, *models.FollowStats, error)
}

// ThresholdPolicy pushes for authors with at most Threshold followers.
// Follow stats are read through a short-lived cache.
type ThresholdPolicy struct {
	follows   repositories.FollowRepository
	stats     *cache.Cache
	threshold int
}

func NewThresholdPolicy(follows repositories.FollowRepository, stats *cache.Cache, threshold int) *ThresholdPolicy {
	if threshold <= 0 {
		threshold = DefaultFanoutThreshold
	}
	return &ThresholdPolicy{follows: follows, stats: stats, threshold: threshold}
}

func (p *ThresholdPolicy) Choose(ctx context.Context, authorID string) (Strategy, *models.FollowStats, error) {
	stats, err := p.FollowStats(ctx, authorID)
	if err != nil {
		return "", nil, err
	}
	if stats.FollowersCount > p.threshold {
		return StrategyPull, stats, nil
	}
	return StrategyPush, stats, nil
}

func (p *ThresholdPolicy) FollowStats(ctx context.Context, userID string) (*models.FollowStats, error) {
	var stats models.FollowStats
	if p.stats != nil && p.stats.Get(ctx, statsKey(userID), &stats) {
		return &stats, nil
	}

	fresh, err := p.follows.GetFollowStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get follow stats: %w", err)
	}
	if p.stats != nil {
		_ = p.stats.Set(ctx, statsKey(userID), fresh, 0)
	}
	return fresh, nil
}

// InvalidateStats drops cached counts after a follow change.
func (p *ThresholdPolicy) InvalidateStats(ctx context.Context, userIDs ...string) error {
	if p.stats == nil {
		return nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = statsKey(id)
	}
	return p.stats.Delete(ctx, keys...)
}

func statsKey(userID string) string {
	return "stats:" + userID
}

type FanoutConfig struct {
	PageSize     int
	BatchSize    int
	BatchWorkers int
}

type FanoutResult struct {
	Strategy       Strategy `json:"strategy"`
	FollowersCount int      `json:"followersCount"`
	Written        int      `json:"written"`
	// Skipped is set when the post was deleted or moderated out before
	// the push ran.
	Skipped bool `json:"skipped,omitempty"`
}

type RemovalResult struct {
	Removed int `json:"removed"`
}

// FanoutService writes and removes post ids in follower timelines. Every
// write is idempotent so a failed run is retried from scratch.
type FanoutService struct {
	follows   repositories.FollowRepository
	posts     repositories.PostRepository
	timelines repositories.TimelineCache
	policy    StrategyPolicy
	cfg       FanoutConfig
	tracer    trace.Tracer
	logger    zerolog.Logger
}

func NewFanoutService(
	follows repositories.FollowRepository,
	posts repositories.PostRepository,
	timelines repositories.TimelineCache,
	policy StrategyPolicy,
	cfg FanoutConfig,
) *FanoutService {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultFollowerPage
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultWriteBatch
	}
	if cfg.BatchWorkers <= 0 {
		cfg.BatchWorkers = DefaultBatchWorkers
	}
	return &FanoutService{
		follows:   follows,
		posts:     posts,
		timelines: timelines,
		policy:    policy,
		cfg:       cfg,
		tracer:    telemetry.Tracer("nebula/fanout"),
		logger:    log.WithComponent("fanout"),
	}
}

// FanoutPost pushes a new post into every follower's cached timeline, or
// does nothing for authors above the push threshold.
//
// A removal job may run before this one. The post's visibility is checked
// before the push and again after it, so a deleted post never stays cached.
func (s *FanoutService) FanoutPost(ctx context.Context, post events.PostCreatedData) (res *FanoutResult, err error) {
	ctx, span := s.tracer.Start(ctx, "fanout.post", trace.WithAttributes(
		attribute.String("post.id", post.PostID),
		attribute.String("author.id", post.UserID),
	))
	defer func() { endSpan(span, err) }()

	strategy, stats, err := s.policy.Choose(ctx, post.UserID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("fanout.strategy", string(strategy)))

	if strategy == StrategyPull {
		s.logger.Info().
			Str("author_id", post.UserID).
			Int("followers", stats.FollowersCount).
			Msg("skipping fan-out, author is read on pull")
		return &FanoutResult{Strategy: StrategyPull, FollowersCount: stats.FollowersCount}, nil
	}

	visible, err := s.visible(ctx, post.PostID)
	if err != nil {
		return nil, err
	}
	if !visible {
		s.logger.Info().Str("post_id", post.PostID).Msg("skipping fan-out, post is no longer visible")
		return &FanoutResult{Strategy: StrategyPush, FollowersCount: stats.FollowersCount, Skipped: true}, nil
	}

	followerIDs, err := s.collectFollowers(ctx, post.UserID)
	if err != nil {
		return nil, err
	}

	err = s.forEachBatch(ctx, followerIDs, func(ctx context.Context, batch []string) error {
		return s.timelines.AddToTimelines(ctx, batch, post.PostID, post.CreatedAt)
	})
	if err != nil {
		return nil, err
	}
	metrics.FanoutTimelineWrites.WithLabelValues("add").Add(float64(len(followerIDs)))

	// a delete that landed while we were writing has already run its removal
	if visible, err = s.visible(ctx, post.PostID); err != nil {
		return nil, err
	}
	if !visible {
		err = s.forEachBatch(ctx, followerIDs, func(ctx context.Context, batch []string) error {
			return s.timelines.RemoveFromTimelines(ctx, post.PostID, batch)
		})
		if err != nil {
			return nil, err
		}
		metrics.FanoutTimelineWrites.WithLabelValues("remove").Add(float64(len(followerIDs)))
		s.logger.Info().Str("post_id", post.PostID).Msg("post deleted during fan-out, entries withdrawn")
		return &FanoutResult{Strategy: StrategyPush, FollowersCount: stats.FollowersCount, Skipped: true}, nil
	}

	s.logger.Info().
		Str("post_id", post.PostID).
		Int("followers", len(followerIDs)).
		Msg("fanned out post")
	span.SetAttributes(attribute.Int("fanout.written", len(followerIDs)))
	return &FanoutResult{Strategy: StrategyPush, FollowersCount: stats.FollowersCount, Written: len(followerIDs)}, nil
}

func (s *FanoutService) visible(ctx context.Context, postID string) (bool, error) {
	found, err := s.posts.GetByIDs(ctx, []string{postID})
	if err != nil {
		return false, fmt.Errorf("failed to check post visibility: %w", err)
	}
	return len(found) > 0, nil
}

// RemovePost strips a deleted post from every follower's cached timeline.
// It runs regardless of strategy: read fallbacks can cache any post.
func (s *FanoutService) RemovePost(ctx context.Context, post events.PostDeletedData) (res *RemovalResult, err error) {
	ctx, span := s.tracer.Start(ctx, "fanout.remove", trace.WithAttributes(
		attribute.String("post.id", post.PostID),
		attribute.String("author.id", post.UserID),
	))
	defer func() { endSpan(span, err) }()

	followerIDs, err := s.collectFollowers(ctx, post.UserID)
	if err != nil {
		return nil, err
	}

	err = s.forEachBatch(ctx, followerIDs, func(ctx context.Context, batch []string) error {
		return s.timelines.RemoveFromTimelines(ctx, post.PostID, batch)
	})
	if err != nil {
		return nil, err
	}
	metrics.FanoutTimelineWrites.WithLabelValues("remove").Add(float64(len(followerIDs)))

	s.logger.Info().
		Str("post_id", post.PostID).
		Int("timelines", len(followerIDs)).
		Msg("removed post from timelines")
	return &RemovalResult{Removed: len(followerIDs)}, nil
}

// InvalidateReader deletes the reader's whole cached timeline.
func (s *FanoutService) InvalidateReader(ctx context.Context, readerID string) error {
	if err := s.timelines.Invalidate(ctx, readerID); err != nil {
		return err
	}
	s.logger.Debug().Str("reader_id", readerID).Msg("timeline invalidated")
	return nil
}

func (s *FanoutService) collectFollowers(ctx context.Context, authorID string) ([]string, error) {
	var ids []string
	cursor := ""
	for {
		page, err := s.follows.GetFollowers(ctx, authorID, cursor, s.cfg.PageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to page followers: %w", err)
		}
		ids = append(ids, page.FollowerIDs()...)
		if !page.HasNextPage || page.Cursor == "" {
			return ids, nil
		}
		cursor = page.Cursor
	}
}

func (s *FanoutService) forEachBatch(ctx context.Context, ids []string, fn func(context.Context, []string) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.BatchWorkers)

	for start := 0; start < len(ids); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(ids))
		batch := ids[start:end]
		g.Go(func() error {
			return fn(ctx, batch)
		})
	}
	return g.Wait()
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
