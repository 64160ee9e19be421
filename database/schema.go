package database

import (
	"context"
	"fmt"
)

// Tables owned by the sync core. Everything else in the database is the
// documentation app's and is only read.
const (
	MappingsTable = "sync_mappings"
	PendingTable  = "pending_syncs"
	RunsTable     = "sync_runs"
)

var syncTablesDDL = []string{
	`CREATE TABLE IF NOT EXISTS sync_mappings (
		id BIGSERIAL PRIMARY KEY,
		entity_type TEXT NOT NULL,
		local_id BIGINT NOT NULL,
		remote_id BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (entity_type, local_id)
	);`,
	`CREATE TABLE IF NOT EXISTS pending_syncs (
		id BIGSERIAL PRIMARY KEY,
		entity_type TEXT NOT NULL,
		entity_id BIGINT NOT NULL,
		action TEXT NOT NULL,
		data JSONB,
		endpoint TEXT NOT NULL,
		method TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		synced_at TIMESTAMPTZ,
		error_message TEXT,
		next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_pending_syncs_due
		ON pending_syncs (created_at) WHERE synced_at IS NULL;`,
	`CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		job TEXT NOT NULL,
		subject TEXT,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		started_at TIMESTAMPTZ NOT NULL,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		executed_by TEXT,
		error_message TEXT
	);`,
	`CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs (started_at DESC);`,
}

// EnsureSyncTables creates the mapping, pending and run tables when missing.
func EnsureSyncTables(ctx context.Context, db DBTX) error {
	for _, stmt := range syncTablesDDL {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure sync tables: %w", err)
		}
	}
	return nil
}

// SyncTablesExist reports whether all three sync tables are present.
func SyncTablesExist(ctx context.Context, db DBTX) (bool, error) {
	var n int
	err := db.QueryRow(ctx, `
		SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = current_schema()
		AND table_name = ANY($1)`,
		[]string{MappingsTable, PendingTable, RunsTable},
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check sync tables: %w", err)
	}
	return n == 3, nil
}
