package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/prudhvinik1/nebula/internal/api"
	"github.com/prudhvinik1/nebula/internal/cache"
	"github.com/prudhvinik1/nebula/internal/database"
	"github.com/prudhvinik1/nebula/internal/events"
	"github.com/prudhvinik1/nebula/internal/jobs"
	"github.com/prudhvinik1/nebula/internal/log"
	"github.com/prudhvinik1/nebula/internal/ratelimit"
	"github.com/prudhvinik1/nebula/internal/repositories"
	"github.com/prudhvinik1/nebula/internal/services"
	"github.com/prudhvinik1/nebula/internal/telemetry"
)

var timelineCmd = &cobra.Command{
	Use:   "timeline",
	Short: "Serve home timelines and run fan-out workers",
	Long: `Start the timeline service: the HTTP read path on SERVER_PORT, a
listener on the event bus and the background workers that push new posts
into follower timelines and remove deleted ones.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RequireDatabase(); err != nil {
			return err
		}
		if err := cfg.RequireJWTSecret(); err != nil {
			return err
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()
		return runTimeline(ctx)
	},
}

func runTimeline(ctx context.Context) error {
	logger := log.WithComponent("timeline")

	shutdownTracing, err := initTracing(ctx, "nebula-timeline")
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to create postgres pool: %w", err)
	}
	defer pool.Close()

	redisOpts, err := database.RedisOptions(cfg.RedisURL, cfg.RedisIPv6)
	if err != nil {
		return err
	}
	conns := cache.NewConnManager("timeline", redisOpts)
	defer conns.Close()
	busConns := cache.NewConnManager("timeline-bus", redisOpts)
	defer busConns.Close()

	follows := repositories.NewPostgresFollowRepository(pool)
	posts := repositories.NewPostgresPostRepository(pool)
	timelines := repositories.NewRedisTimelineCache(conns, cfg.TimelineTTL)

	policy := services.NewThresholdPolicy(follows, cache.New(conns, "follows", cfg.FollowStatsTTL), cfg.FanoutThreshold)
	fanout := services.NewFanoutService(follows, posts, timelines, policy, services.FanoutConfig{
		PageSize:  cfg.FanoutPageSize,
		BatchSize: cfg.FanoutBatchSize,
	})
	reader := services.NewTimelineService(posts, timelines)

	runner := jobs.NewRunner(jobs.Config{
		Workers:     cfg.FanoutWorkers,
		Timeout:     cfg.JobTimeout,
		MaxAttempts: cfg.JobMaxAttempts,
	})
	runner.Start()

	bus := events.NewBus(conns, busConns)
	listener := services.NewTimelineListener(fanout, runner, policy)

	router := api.NewRouter(api.RouterConfig{
		Verifier:      services.NewAuthService(cfg.JWTSecret),
		Limiter:       ratelimit.New(conns),
		TimelineLimit: cfg.RateLimitTimeline,
		Timeline:      reader,
	})
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: telemetry.Handler(router, "timeline"),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return listen(gctx, bus, listener.Handle)
	})
	g.Go(func() error {
		return serveHTTP(gctx, srv)
	})

	err = g.Wait()

	logger.Info().Msg("draining background jobs...")
	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if derr := runner.Shutdown(drainCtx); derr != nil {
		logger.Warn().Err(derr).Msg("background jobs did not finish in time")
	}

	if err != nil {
		return err
	}
	logger.Info().Msg("timeline service stopped gracefully")
	return nil
}
