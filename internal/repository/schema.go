package repository

import (
	"context"
	"fmt"
	"time"
)

// migration is one forward-only schema step. The SQL must be valid on
// SQLite and PostgreSQL alike.
type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{1, "dossiers", `
CREATE TABLE IF NOT EXISTS dossiers (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    reference TEXT,
    officer TEXT,
    status TEXT NOT NULL,
    request TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);
CREATE INDEX IF NOT EXISTS idx_dossiers_status ON dossiers(tenant_id, status);
`},
	// Results are append-only; dossier_id is empty for stateless analyses.
	{2, "scoring_results", `
CREATE TABLE IF NOT EXISTS scoring_results (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    dossier_id TEXT,
    global_score REAL NOT NULL,
    risk_class TEXT NOT NULL,
    recommendation TEXT NOT NULL,
    disagreement INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scoring_results_dossier ON scoring_results(tenant_id, dossier_id, created_at);
CREATE INDEX IF NOT EXISTS idx_scoring_results_class ON scoring_results(tenant_id, risk_class);
`},
	{3, "rule_configs", `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    bands TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 1.0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);
CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(tenant_id, enabled);
`},
	{4, "dossier_reference_unique", `
CREATE UNIQUE INDEX IF NOT EXISTS idx_dossiers_reference ON dossiers(tenant_id, reference) WHERE reference <> '';
`},
}

const migrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMP NOT NULL
);
`

// migrate applies the migrations newer than the recorded version, each in
// its own transaction.
func (r *SQLRepository) migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, migrationsTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := r.apply(ctx, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

func (r *SQLRepository) apply(ctx context.Context, m migration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		r.rebind(`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`),
		m.version, m.name, time.Now().UTC(),
	); err != nil {
		return err
	}
	return tx.Commit()
}
