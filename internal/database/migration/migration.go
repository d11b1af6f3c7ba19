package migration

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Step is one forward-only schema change. Applied names are recorded in
// schema_migrations and never run twice.
type Step struct {
	Name string
	SQL  string
}

const createLedger = `CREATE TABLE IF NOT EXISTS schema_migrations (
  name       TEXT        PRIMARY KEY,
  applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// Steps is the documents schema in application order.
var Steps = []Step{
	{
		Name: "create_table_documents",
		SQL: `CREATE TABLE IF NOT EXISTS documents (
  id             UUID        PRIMARY KEY,
  key            TEXT        NOT NULL UNIQUE,
  title          TEXT        NOT NULL,
  filename       TEXT        NOT NULL,
  file_type      TEXT        NOT NULL,
  storage_path   TEXT        NOT NULL UNIQUE,
  version        BIGINT      NOT NULL DEFAULT 1 CHECK (version >= 1),
  status         TEXT        NOT NULL DEFAULT 'ready' CHECK (status IN ('ready', 'editing', 'saving')),
  active_editors TEXT[]      NOT NULL DEFAULT '{}',
  owner_id       TEXT        NOT NULL,
  size           BIGINT      NOT NULL DEFAULT 0 CHECK (size >= 0),
  created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		Name: "create_index_documents_owner_updated",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_documents_owner_updated ON documents (owner_id, updated_at DESC, id DESC);`,
	},
	{
		Name: "create_index_documents_saving",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_documents_saving ON documents (updated_at) WHERE status = 'saving';`,
	},
}

// Migrate applies every step of Steps not yet recorded. Each step runs in its
// own transaction together with its ledger row.
func Migrate(ctx context.Context, db *sql.DB, log zerolog.Logger) error {
	return run(ctx, db, Steps, log)
}

func run(ctx context.Context, db *sql.DB, steps []Step, log zerolog.Logger) error {
	start := time.Now()
	log = log.With().Str("component", "database").Logger()
	log.Info().Str("event", "db_migration_check").Msg("checking schema")

	if _, err := db.ExecContext(ctx, createLedger); err != nil {
		log.Error().Err(err).Str("event", "db_migration_failed").Msg("create ledger")
		return fmt.Errorf("create migration ledger: %w", err)
	}

	applied, err := appliedSteps(ctx, db)
	if err != nil {
		log.Error().Err(err).Str("event", "db_migration_failed").Msg("read ledger")
		return err
	}

	ran := 0
	for _, step := range steps {
		if applied[step.Name] {
			continue
		}
		stepStart := time.Now()
		if err := apply(ctx, db, step); err != nil {
			log.Error().Err(err).
				Str("event", "db_migration_failed").
				Str("migration_step", step.Name).
				Int64("duration_ms", time.Since(start).Milliseconds()).
				Msg("migration step failed")
			return fmt.Errorf("migration step %s failed: %w", step.Name, err)
		}
		ran++
		log.Info().
			Str("event", "db_migration_step").
			Str("migration_step", step.Name).
			Int64("step_duration_ms", time.Since(stepStart).Milliseconds()).
			Msg("migration step applied")
	}

	if ran == 0 {
		log.Info().Str("event", "db_migration_skip").Msg("schema up to date")
		return nil
	}
	log.Info().
		Str("event", "db_migration_success").
		Int("steps", ran).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("schema migrated")
	return nil
}

func appliedSteps(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read migration ledger: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan migration ledger: %w", err)
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

func apply(ctx context.Context, db *sql.DB, step Step) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, step.SQL); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, step.Name); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
