package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/prudhvinik1/nebula/internal/cache"
	"github.com/prudhvinik1/nebula/internal/database"
	"github.com/prudhvinik1/nebula/internal/events"
	"github.com/prudhvinik1/nebula/internal/repositories"
	"github.com/prudhvinik1/nebula/internal/seed"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Fill a development database with synthetic data",
	Long: `Create fake users, follows and posts in DATABASE_URL and publish the
matching events, so a running timeline service fans the posts out. Every
seeded account shares the --password value.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RequireDatabase(); err != nil {
			return err
		}
		users, _ := cmd.Flags().GetInt("users")
		followsPer, _ := cmd.Flags().GetInt("follows")
		postsPer, _ := cmd.Flags().GetInt("posts")
		password, _ := cmd.Flags().GetString("password")
		randSeed, _ := cmd.Flags().GetInt64("rand-seed")

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to create postgres pool: %w", err)
		}
		defer pool.Close()
		if err := repositories.EnsureSchema(ctx, pool); err != nil {
			return err
		}

		redisOpts, err := database.RedisOptions(cfg.RedisURL, cfg.RedisIPv6)
		if err != nil {
			return err
		}
		conns := cache.NewConnManager("seed", redisOpts)
		defer conns.Close()

		seeder := seed.New(
			repositories.NewPostgresUserRepository(pool),
			repositories.NewPostgresFollowRepository(pool),
			repositories.NewPostgresPostRepository(pool),
			events.NewBus(conns, conns),
		)
		res, err := seeder.Run(ctx, seed.Config{
			Users:          users,
			FollowsPerUser: followsPer,
			PostsPerUser:   postsPer,
			Password:       password,
			RandSeed:       randSeed,
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "✓ Seeded %d users, %d follows, %d posts\n", len(res.Users), res.Follows, res.Posts)
		return nil
	},
}

func init() {
	seedCmd.Flags().Int("users", 20, "Number of users to create")
	seedCmd.Flags().Int("follows", 5, "Accounts each user follows")
	seedCmd.Flags().Int("posts", 3, "Posts per user")
	seedCmd.Flags().String("password", seed.DefaultPassword, "Password shared by every seeded account")
	seedCmd.Flags().Int64("rand-seed", 0, "Seed for the data generator (0 = random)")
}
