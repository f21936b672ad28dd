package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/prudhvinik1/nebula/internal/cache"
	"github.com/prudhvinik1/nebula/internal/database"
	"github.com/prudhvinik1/nebula/internal/events"
)

var publishCmd = &cobra.Command{
	Use:   "publish [EVENT_JSON]",
	Short: "Publish one domain event on the bus",
	Long: `Publish a {"type": ..., "data": {...}} event on the event bus. The
event is read from the argument, or from stdin when no argument is given.

Example:
  server publish '{"type":"post.deleted","data":{"postId":"p1","userId":"u1"}}'`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload []byte
		if len(args) == 1 {
			payload = []byte(args[0])
		} else {
			var err error
			if payload, err = io.ReadAll(os.Stdin); err != nil {
				return fmt.Errorf("failed to read event from stdin: %w", err)
			}
		}

		// Parse rejects unknown types and payloads missing their ids
		e, err := events.Parse(payload)
		if err != nil {
			return err
		}

		redisOpts, err := database.RedisOptions(cfg.RedisURL, cfg.RedisIPv6)
		if err != nil {
			return err
		}
		conns := cache.NewConnManager("publish", redisOpts)
		defer conns.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		// the bus never surfaces publish errors, so check the broker first
		if err := cache.New(conns, "", 0).HealthCheck(ctx); err != nil {
			return fmt.Errorf("broker unreachable: %w", err)
		}
		events.NewBus(conns, conns).Publish(ctx, e)

		fmt.Fprintf(cmd.OutOrStdout(), "published %s\n", e.Type)
		return nil
	},
}
