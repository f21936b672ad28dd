package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prudhvinik1/nebula/internal/models"
)

// PostgresUserRepository covers the account rows this module writes itself:
// synthetic users for local seeding and tests.
type PostgresUserRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresUserRepository(pool *pgxpool.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

// Create inserts a user. Without a PasswordHash the account cannot log in.
func (r *PostgresUserRepository) Create(ctx context.Context, user *models.User) error {
	hash := user.PasswordHash
	if hash == "" {
		hash = "!"
	}
	query := `INSERT INTO users (email, password, username, full_name, bio, avatar_url)
	          VALUES ($1, $2, $3, $4, $5, $6)
	          RETURNING id::text, created_at`

	err := r.pool.QueryRow(ctx, query, user.Email, hash, user.Username, user.FullName, user.Bio, user.AvatarURL).
		Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}
