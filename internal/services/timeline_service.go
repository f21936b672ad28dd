package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/prudhvinik1/nebula/internal/log"
	"github.com/prudhvinik1/nebula/internal/metrics"
	"github.com/prudhvinik1/nebula/internal/models"
	"github.com/prudhvinik1/nebula/internal/repositories"
	"github.com/prudhvinik1/nebula/internal/telemetry"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 50
)

var ErrInvalidPageSize = errors.New("page size must be between 1 and 50")

// TimelineService serves a reader's home timeline: cached ids first, a
// storage query over followed authors when the cache has nothing.
//
// A cache hit only contains pushed posts. Authors above the push threshold
// show up once the reader's cached set expires and the storage query runs.
type TimelineService struct {
	posts     repositories.PostRepository
	timelines repositories.TimelineCache
	tracer    trace.Tracer
	logger    zerolog.Logger
}

func NewTimelineService(posts repositories.PostRepository, timelines repositories.TimelineCache) *TimelineService {
	return &TimelineService{
		posts:     posts,
		timelines: timelines,
		tracer:    telemetry.Tracer("nebula/timeline"),
		logger:    log.WithComponent("timeline"),
	}
}

// NormalizePageSize applies the default for 0 and rejects out-of-range sizes.
func NormalizePageSize(pageSize int) (int, error) {
	if pageSize == 0 {
		return DefaultPageSize, nil
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return 0, ErrInvalidPageSize
	}
	return pageSize, nil
}

// GetTimeline returns one page. The cursor is the id of the first post of
// the page to return; the returned cursor points at the first post of the
// next page.
func (s *TimelineService) GetTimeline(ctx context.Context, readerID, cursor string, pageSize int) (page *models.TimelinePage, err error) {
	ctx, span := s.tracer.Start(ctx, "timeline.read", trace.WithAttributes(
		attribute.String("reader.id", readerID),
		attribute.Bool("timeline.cursor", cursor != ""),
	))
	defer func() {
		if page != nil {
			span.SetAttributes(attribute.String("timeline.source", string(page.Meta.Source)))
		}
		endSpan(span, err)
	}()

	pageSize, err = NormalizePageSize(pageSize)
	if err != nil {
		return nil, err
	}

	if ids, ok := s.timelines.GetPostIDs(ctx, readerID, cursor, pageSize+1); ok {
		page, err = s.fromCache(ctx, readerID, ids, pageSize)
		if err != nil {
			return nil, err
		}
		metrics.TimelineReads.WithLabelValues(string(models.SourceCache)).Inc()
		return page, nil
	}

	posts, err := s.posts.GetTimeline(ctx, readerID, cursor, pageSize+1)
	if err != nil {
		return nil, fmt.Errorf("failed to read timeline: %w", err)
	}
	metrics.TimelineReads.WithLabelValues(string(models.SourceFallback)).Inc()

	page = &models.TimelinePage{Meta: models.TimelineMeta{Source: models.SourceFallback}}
	if len(posts) > pageSize {
		next := posts[pageSize].ID
		page.Meta.Cursor = &next
		page.Meta.HasNextPage = true
		posts = posts[:pageSize]
	}
	page.Data = nonNil(posts)

	// Only a first page is a safe seed since it starts at the newest post.
	// The next cursor is left out so the following page misses and reads
	// storage instead of a one-item cached tail.
	if cursor == "" && len(posts) > 0 {
		if err := s.timelines.SetTimeline(ctx, readerID, posts); err != nil {
			s.logger.Warn().Err(err).Str("reader_id", readerID).Msg("failed to populate timeline cache")
		}
	}
	return page, nil
}

func (s *TimelineService) fromCache(ctx context.Context, readerID string, ids []string, pageSize int) (*models.TimelinePage, error) {
	page := &models.TimelinePage{Meta: models.TimelineMeta{Source: models.SourceCache}}
	if len(ids) > pageSize {
		next := ids[pageSize]
		page.Meta.Cursor = &next
		page.Meta.HasNextPage = true
		ids = ids[:pageSize]
	} else if next, ok := s.continuation(ctx, readerID, ids[len(ids)-1]); ok {
		// the cached set ran out; storage may still hold older posts
		page.Meta.Cursor = &next
		page.Meta.HasNextPage = true
	}

	found, err := s.posts.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cached posts: %w", err)
	}

	byID := make(map[string]models.Post, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}

	// keep cache order, drop posts deleted or moderated since they were cached
	posts := make([]models.Post, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			posts = append(posts, p)
		}
	}
	page.Data = posts
	return page, nil
}

// continuation finds the first visible post after lastID in storage order.
// A failed probe ends the page set rather than failing the read.
func (s *TimelineService) continuation(ctx context.Context, readerID, lastID string) (string, bool) {
	more, err := s.posts.GetTimeline(ctx, readerID, lastID, 2)
	if err != nil {
		s.logger.Warn().Err(err).Str("reader_id", readerID).Msg("failed to probe for older posts")
		return "", false
	}
	for _, p := range more {
		if p.ID != lastID {
			return p.ID, true
		}
	}
	return "", false
}

func nonNil(posts []models.Post) []models.Post {
	if posts == nil {
		return []models.Post{}
	}
	return posts
}
