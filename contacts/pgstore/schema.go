package pgstore

import (
	"context"
	"database/sql"
	"fmt"

	// database/sql driver "pgx"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/oy3o/contactd/o11y"
)

// Owned details are stored inline as jsonb; memberships get their own tables so that
// deleting a group or tag drops them through the foreign keys.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS contacts (
		id            uuid PRIMARY KEY,
		first_name    text NOT NULL,
		last_name     text NOT NULL,
		middle_name   text NOT NULL DEFAULT '',
		nickname      text NOT NULL DEFAULT '',
		company       text NOT NULL DEFAULT '',
		job_title     text NOT NULL DEFAULT '',
		date_of_birth date,
		notes         text NOT NULL DEFAULT '',
		created_at    timestamptz NOT NULL,
		updated_at    timestamptz NOT NULL,
		emails        jsonb NOT NULL DEFAULT '[]',
		phones        jsonb NOT NULL DEFAULT '[]',
		addresses     jsonb NOT NULL DEFAULT '[]'
	)`,
	`CREATE INDEX IF NOT EXISTS contacts_name_idx ON contacts (last_name, first_name, id)`,
	`CREATE TABLE IF NOT EXISTS groups (
		id          uuid PRIMARY KEY,
		name        text NOT NULL,
		description text NOT NULL DEFAULT '',
		created_at  timestamptz NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tags (
		id        uuid PRIMARY KEY,
		name      text NOT NULL,
		color_hex text NOT NULL DEFAULT ''
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS tags_name_key ON tags (lower(name))`,
	`CREATE TABLE IF NOT EXISTS contact_groups (
		contact_id uuid NOT NULL REFERENCES contacts (id) ON DELETE CASCADE,
		group_id   uuid NOT NULL REFERENCES groups (id) ON DELETE CASCADE,
		PRIMARY KEY (contact_id, group_id)
	)`,
	`CREATE TABLE IF NOT EXISTS contact_tags (
		contact_id uuid NOT NULL REFERENCES contacts (id) ON DELETE CASCADE,
		tag_id     uuid NOT NULL REFERENCES tags (id) ON DELETE CASCADE,
		PRIMARY KEY (contact_id, tag_id)
	)`,
}

// Migrate creates the contact book schema in the database at dsn. It runs through
// database/sql so every statement is traced, and reports the pool statistics of the
// migration connection while it runs.
func Migrate(ctx context.Context, s *o11y.Scope, dsn string) (err error) {
	db, err := o11y.OpenSQL(s, "pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	if reg, err := o11y.RegisterDBStatsMetrics(s, db, "migrations"); err == nil {
		defer reg.Unregister()
	}

	return s.Run(ctx, "Store.Migrate", func(ctx context.Context, st o11y.State) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration: %w", err)
		}
		if err := applySchema(ctx, tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration: %w", err)
		}
		st.Log.Info().Int("statements", len(schema)).Msg("Database schema is up to date")
		return nil
	})
}

func applySchema(ctx context.Context, tx *sql.Tx) error {
	for i, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement %d: %w", i, err)
		}
	}
	return nil
}
