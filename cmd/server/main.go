package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/prudhvinik1/nebula/internal/config"
	"github.com/prudhvinik1/nebula/internal/events"
	"github.com/prudhvinik1/nebula/internal/log"
	"github.com/prudhvinik1/nebula/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"

	cfg *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Nebula timeline fan-out and real-time delivery",
	Long: `Nebula moves domain events between services. The timeline command
serves home timelines and keeps them warm, the gateway command pushes events
to connected clients over websockets.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// a missing .env is fine, real deployments set the environment
		_ = godotenv.Load()

		var err error
		cfg, err = config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
		return nil
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("Nebula version %s\nCommit: %s\n", Version, Commit))

	rootCmd.AddCommand(timelineCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(seedCmd)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func initTracing(ctx context.Context, defaultName string) (func(context.Context) error, error) {
	name := cfg.OTELServiceName
	if name == "" {
		name = defaultName
	}
	return telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: name,
		SampleRatio: cfg.OTELSampleRatio,
	})
}

// serveHTTP runs srv until ctx is done, then drains it within shutdownTimeout.
func serveHTTP(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		log.Logger.Info().Str("addr", srv.Addr).Msg("starting http server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down http server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// listen subscribes to the bus, retrying while the broker is unreachable,
// and dispatches to h until ctx is done.
func listen(ctx context.Context, bus *events.Bus, h events.Handler) error {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 30 * time.Second

	sub, err := backoff.Retry(ctx, func() (*events.Subscription, error) {
		s, err := bus.Listen(ctx)
		if err != nil {
			log.Logger.Warn().Err(err).Msg("event bus unavailable, retrying")
		}
		return s, err
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(0))
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to subscribe to event bus: %w", err)
	}
	defer sub.Close()

	sub.Run(ctx, h)
	return nil
}
