package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/prudhvinik1/nebula/internal/events"
	"github.com/prudhvinik1/nebula/internal/jobs"
	"github.com/prudhvinik1/nebula/internal/log"
	"github.com/prudhvinik1/nebula/internal/metrics"
)

const (
	JobFanout  = "fanout"
	JobRemoval = "removal"
)

// JobQueue is the part of jobs.Runner the listener needs.
type JobQueue interface {
	Enqueue(job jobs.Job) error
}

// StatsInvalidator drops cached follow counts.
type StatsInvalidator interface {
	InvalidateStats(ctx context.Context, userIDs ...string) error
}

// TimelineListener maps bus events onto timeline maintenance. Post events
// become background jobs; follow changes invalidate inline.
type TimelineListener struct {
	fanout *FanoutService
	queue  JobQueue
	stats  StatsInvalidator
	logger zerolog.Logger
}

func NewTimelineListener(fanout *FanoutService, queue JobQueue, stats StatsInvalidator) *TimelineListener {
	return &TimelineListener{
		fanout: fanout,
		queue:  queue,
		stats:  stats,
		logger: log.WithComponent("timeline-listener"),
	}
}

// Handle is an events.Handler.
func (l *TimelineListener) Handle(ctx context.Context, e events.Event) error {
	switch e.Type {
	case events.PostCreated:
		data, err := events.Decode[events.PostCreatedData](e)
		if err != nil {
			return err
		}
		return l.enqueue(JobFanout, data.PostID, func(ctx context.Context) error {
			res, err := l.fanout.FanoutPost(ctx, data)
			if err != nil {
				return err
			}
			metrics.FanoutJobs.WithLabelValues(JobFanout, string(res.Strategy), "ok").Inc()
			return nil
		})

	case events.PostDeleted:
		data, err := events.Decode[events.PostDeletedData](e)
		if err != nil {
			return err
		}
		return l.enqueue(JobRemoval, data.PostID, func(ctx context.Context) error {
			if _, err := l.fanout.RemovePost(ctx, data); err != nil {
				return err
			}
			metrics.FanoutJobs.WithLabelValues(JobRemoval, "", "ok").Inc()
			return nil
		})

	case events.UserFollowed:
		data, err := events.Decode[events.UserFollowedData](e)
		if err != nil {
			return err
		}
		return l.followChanged(ctx, data.FollowerID, data.FollowingID)

	case events.UserUnfollowed:
		data, err := events.Decode[events.UserUnfollowedData](e)
		if err != nil {
			return err
		}
		return l.followChanged(ctx, data.FollowerID, data.FollowingID)
	}

	return nil
}

func (l *TimelineListener) enqueue(kind, key string, run func(context.Context) error) error {
	err := l.queue.Enqueue(jobs.Job{Kind: kind, Key: key, Run: run})
	if err != nil {
		metrics.FanoutJobs.WithLabelValues(kind, "", "dropped").Inc()
		return fmt.Errorf("failed to enqueue %s job for %s: %w", kind, key, err)
	}
	l.logger.Debug().Str("kind", kind).Str("key", key).Msg("job enqueued")
	return nil
}

// followChanged drops the follower's cached timeline so the next read goes
// to storage and reflects the new follow set.
func (l *TimelineListener) followChanged(ctx context.Context, followerID, followingID string) error {
	if err := l.fanout.InvalidateReader(ctx, followerID); err != nil {
		return err
	}
	if l.stats != nil {
		if err := l.stats.InvalidateStats(ctx, followerID, followingID); err != nil {
			l.logger.Warn().Err(err).Msg("failed to invalidate follow stats")
		}
	}
	return nil
}
