package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/prudhvinik1/nebula/internal/cache"
	"github.com/prudhvinik1/nebula/internal/database"
	"github.com/prudhvinik1/nebula/internal/events"
	"github.com/prudhvinik1/nebula/internal/gateway"
	"github.com/prudhvinik1/nebula/internal/log"
	"github.com/prudhvinik1/nebula/internal/ratelimit"
	"github.com/prudhvinik1/nebula/internal/repositories"
	"github.com/prudhvinik1/nebula/internal/services"
	"github.com/prudhvinik1/nebula/internal/telemetry"
)

const presenceHeartbeat = 30 * time.Second

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the real-time websocket gateway",
	Long: `Start a gateway instance on GATEWAY_PORT. Connected clients receive
domain events addressed to them. Instances sharing a broker relay client
emissions to each other, so any number of them can run behind a load balancer.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RequireJWTSecret(); err != nil {
			return err
		}
		instanceID, _ := cmd.Flags().GetString("instance-id")
		if instanceID == "" {
			instanceID = uuid.NewString()
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()
		return runGateway(ctx, instanceID)
	},
}

func init() {
	gatewayCmd.Flags().String("instance-id", "", "Instance id used for presence and adapter packets (default random)")
}

func runGateway(ctx context.Context, instanceID string) error {
	logger := log.WithInstance("gateway", instanceID)

	shutdownTracing, err := initTracing(ctx, "nebula-gateway")
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	redisOpts, err := database.RedisOptions(cfg.RedisURL, cfg.RedisIPv6)
	if err != nil {
		return err
	}
	pub := cache.NewConnManager("gateway", redisOpts)
	defer pub.Close()
	adapterSub := cache.NewConnManager("gateway-adapter", redisOpts)
	defer adapterSub.Close()
	busSub := cache.NewConnManager("gateway-bus", redisOpts)
	defer busSub.Close()

	hub := gateway.NewHub()
	adapter := gateway.NewRedisAdapter(instanceID, pub, adapterSub, hub)
	if err := adapter.Start(ctx); err != nil {
		// clients on this instance still get local emissions
		logger.Warn().Err(err).Msg("broker adapter unavailable, running local-only")
	} else {
		hub.SetAdapter(adapter)
		defer adapter.Close()
	}

	server := gateway.NewServer(ctx, gateway.Config{
		InstanceID:        instanceID,
		AllowedOrigins:    cfg.CORSOrigins,
		TypingMinInterval: cfg.TypingMinInterval,
		ConnectLimit:      cfg.RateLimitConnect,
	}, hub, services.NewAuthService(cfg.JWTSecret)).
		WithLimiter(ratelimit.New(pub)).
		WithPresence(repositories.NewRedisPresenceRepository(pub)).
		WithHealth(cache.New(pub, "gateway", 0))

	srv := &http.Server{
		Addr:    ":" + cfg.GatewayPort,
		Handler: telemetry.Handler(server.Router(), "gateway"),
	}

	bus := events.NewBus(pub, busSub)
	listener := gateway.NewEventListener(hub)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return listen(gctx, bus, listener.Handle)
	})
	g.Go(func() error {
		server.Heartbeat(gctx, presenceHeartbeat)
		return nil
	})
	g.Go(func() error {
		err := serveHTTP(gctx, srv)
		// hijacked websocket connections outlive http.Server.Shutdown
		server.Shutdown()
		return err
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("gateway stopped: %w", err)
	}
	logger.Info().Msg("gateway stopped gracefully")
	return nil
}
