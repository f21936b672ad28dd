package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prudhvinik1/nebula/internal/models"
)

var ErrNotFound = errors.New("not found")

type PostgresFollowRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresFollowRepository(pool *pgxpool.Pool) *PostgresFollowRepository {
	return &PostgresFollowRepository{pool: pool}
}

// GetFollowers fetches pageSize+1 rows to learn whether another page exists.
// A cursor that no longer exists (the follow was removed mid-run) ends the
// pagination early.
func (r *PostgresFollowRepository) GetFollowers(ctx context.Context, userID, cursor string, pageSize int) (*models.FollowerPage, error) {
	query := `SELECT f.id::text, f.follower_id::text, f.following_id::text, f.created_at
	          FROM follows f
	          WHERE f.following_id = $1
	            AND ($2::uuid IS NULL OR (f.created_at, f.id) < (
	                SELECT c.created_at, c.id FROM follows c WHERE c.id = $2::uuid))
	          ORDER BY f.created_at DESC, f.id DESC
	          LIMIT $3`

	rows, err := r.pool.Query(ctx, query, userID, nullable(cursor), pageSize+1)
	if err != nil {
		return nil, fmt.Errorf("failed to query followers: %w", err)
	}
	defer rows.Close()

	var follows []models.Follow
	for rows.Next() {
		var f models.Follow
		if err := rows.Scan(&f.ID, &f.FollowerID, &f.FollowingID, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan follow: %w", err)
		}
		follows = append(follows, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate followers: %w", err)
	}

	page := &models.FollowerPage{}
	if len(follows) > pageSize {
		follows = follows[:pageSize]
		page.HasNextPage = true
	}
	page.Follows = follows
	if len(follows) > 0 {
		page.Cursor = follows[len(follows)-1].ID
	}
	return page, nil
}

// GetFollowStats returns zero counts for unknown users.
func (r *PostgresFollowRepository) GetFollowStats(ctx context.Context, userID string) (*models.FollowStats, error) {
	query := `SELECT followers_count, following_count FROM users WHERE id = $1`

	var stats models.FollowStats
	err := r.pool.QueryRow(ctx, query, userID).Scan(&stats.FollowersCount, &stats.FollowingCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.FollowStats{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get follow stats: %w", err)
	}
	return &stats, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Create inserts a follow and bumps both users' counters in one transaction.
func (r *PostgresFollowRepository) Create(ctx context.Context, follow *models.Follow) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin follow transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `INSERT INTO follows (follower_id, following_id)
	          VALUES ($1, $2)
	          RETURNING id::text, created_at`
	if err := tx.QueryRow(ctx, query, follow.FollowerID, follow.FollowingID).Scan(&follow.ID, &follow.CreatedAt); err != nil {
		return fmt.Errorf("failed to create follow: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE users SET following_count = following_count + 1 WHERE id = $1`, follow.FollowerID); err != nil {
		return fmt.Errorf("failed to update following count: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE users SET followers_count = followers_count + 1 WHERE id = $1`, follow.FollowingID); err != nil {
		return fmt.Errorf("failed to update followers count: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit follow: %w", err)
	}
	return nil
}
