package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaDDL mirrors the tables the timeline reads. Production schema is
// owned by the services that write these tables; EnsureSchema only exists
// so local seeding and integration tests have something to run against.
const schemaDDL = `
DO $$ BEGIN
	CREATE TYPE moderation_status AS ENUM ('active', 'flagged', 'hidden', 'suspended');
EXCEPTION WHEN duplicate_object THEN NULL;
END $$;

DO $$ BEGIN
	CREATE TYPE media_type AS ENUM ('image', 'video');
EXCEPTION WHEN duplicate_object THEN NULL;
END $$;

CREATE TABLE IF NOT EXISTS users (
	id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	email           TEXT NOT NULL UNIQUE,
	password        TEXT NOT NULL,
	username        TEXT NOT NULL UNIQUE,
	full_name       TEXT,
	bio             TEXT,
	avatar_url      TEXT,
	followers_count INTEGER NOT NULL DEFAULT 0,
	following_count INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS posts (
	id                UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	user_id           UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	content           TEXT NOT NULL,
	hashtags          TEXT[] NOT NULL DEFAULT '{}',
	media_url         TEXT,
	media_type        media_type,
	moderation_status moderation_status NOT NULL DEFAULT 'active',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	deleted_at        TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS posts_user_id_idx ON posts(user_id);
CREATE INDEX IF NOT EXISTS posts_created_at_idx ON posts(created_at);

CREATE TABLE IF NOT EXISTS follows (
	id           UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	follower_id  UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	following_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT follows_follower_following_unique UNIQUE (follower_id, following_id)
);
CREATE INDEX IF NOT EXISTS follows_follower_id_idx ON follows(follower_id);
CREATE INDEX IF NOT EXISTS follows_following_id_idx ON follows(following_id);
`

func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}
