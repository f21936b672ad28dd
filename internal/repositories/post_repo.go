package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prudhvinik1/nebula/internal/models"
)

// Posts are ordered by creation time truncated to milliseconds, the same
// resolution the timeline cache scores with, then by id.
const postColumns = `p.id::text, p.user_id::text, u.username, u.full_name, u.avatar_url,
	p.content, p.hashtags, p.media_url, p.media_type::text, p.moderation_status::text,
	p.created_at, p.updated_at`

type PostgresPostRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresPostRepository(pool *pgxpool.Pool) *PostgresPostRepository {
	return &PostgresPostRepository{pool: pool}
}

func (r *PostgresPostRepository) GetTimeline(ctx context.Context, readerID, cursor string, limit int) ([]models.Post, error) {
	query := `SELECT ` + postColumns + `
	          FROM posts p
	          JOIN users u ON u.id = p.user_id
	          WHERE p.user_id IN (SELECT following_id FROM follows WHERE follower_id = $1)
	            AND p.deleted_at IS NULL
	            AND p.moderation_status = 'active'
	            AND ($2::uuid IS NULL OR (date_trunc('milliseconds', p.created_at), p.id) <= (
	                SELECT date_trunc('milliseconds', c.created_at), c.id FROM posts c WHERE c.id = $2::uuid))
	          ORDER BY date_trunc('milliseconds', p.created_at) DESC, p.id DESC
	          LIMIT $3`

	rows, err := r.pool.Query(ctx, query, readerID, nullable(cursor), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeline: %w", err)
	}
	return collectPosts(rows)
}

func (r *PostgresPostRepository) GetByIDs(ctx context.Context, ids []string) ([]models.Post, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + postColumns + `
	          FROM posts p
	          JOIN users u ON u.id = p.user_id
	          WHERE p.id = ANY($1::uuid[])
	            AND p.deleted_at IS NULL
	            AND p.moderation_status = 'active'`

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query posts by id: %w", err)
	}
	return collectPosts(rows)
}

func collectPosts(rows pgx.Rows) ([]models.Post, error) {
	defer rows.Close()

	var posts []models.Post
	for rows.Next() {
		var p models.Post
		var status string
		err := rows.Scan(
			&p.ID,
			&p.UserID,
			&p.Username,
			&p.FullName,
			&p.AvatarURL,
			&p.Content,
			&p.Hashtags,
			&p.MediaURL,
			&p.MediaType,
			&status,
			&p.CreatedAt,
			&p.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		p.ModerationStatus = models.ModerationStatus(status)
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate posts: %w", err)
	}
	return posts, nil
}

func (r *PostgresPostRepository) Create(ctx context.Context, post *models.Post) error {
	if post.Hashtags == nil {
		post.Hashtags = []string{}
	}
	if post.ModerationStatus == "" {
		post.ModerationStatus = models.ModerationActive
	}

	query := `INSERT INTO posts (user_id, content, hashtags, moderation_status)
	          VALUES ($1, $2, $3, $4::moderation_status)
	          RETURNING id::text, created_at, updated_at`

	err := r.pool.QueryRow(ctx, query, post.UserID, post.Content, post.Hashtags, string(post.ModerationStatus)).
		Scan(&post.ID, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}
	return nil
}

func (r *PostgresPostRepository) SoftDelete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE posts SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
