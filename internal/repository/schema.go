package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		id              BIGINT PRIMARY KEY,
		client          TEXT NOT NULL,
		worker          TEXT NOT NULL,
		attestor        TEXT NOT NULL,
		asset_kind      SMALLINT NOT NULL,
		token           TEXT NOT NULL,
		amount          TEXT NOT NULL,
		deadline        TIMESTAMPTZ NOT NULL,
		status          SMALLINT NOT NULL,
		funded          BOOLEAN NOT NULL DEFAULT FALSE,
		work_uri        TEXT NOT NULL DEFAULT '',
		attestation_uid TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS tasks_created_at_idx ON tasks (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		id          UUID PRIMARY KEY,
		address     TEXT NOT NULL UNIQUE,
		secret_hash TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// EnsureSchema creates the application tables if they do not exist.
// River's own tables are created separately by rivermigrate.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
