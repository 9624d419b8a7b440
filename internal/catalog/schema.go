// Package catalog implements CinchDB's metadata store: the single
// embedded SQLite database ("metadata.db") that authoritatively records
// databases, branches, tenants, changes, and branch/change links. See
// spec.md §4.4.
//
// The table shapes and migration style are grounded on
// internal/storage/sqlite/migrations/*.go in the teacher repo: each
// migration is an idempotent function guarded by a pragma_table_info
// check, applied in order at Open time.
package catalog

import (
	"database/sql"
	"fmt"
)

const schemaV1 = `
CREATE TABLE IF NOT EXISTS databases (
	id                     TEXT PRIMARY KEY,
	name                   TEXT NOT NULL UNIQUE,
	description            TEXT NOT NULL DEFAULT '',
	materialized           INTEGER NOT NULL DEFAULT 0,
	maintenance_mode       INTEGER NOT NULL DEFAULT 0,
	maintenance_reason     TEXT,
	maintenance_started_at TEXT,
	metadata               TEXT NOT NULL DEFAULT '{}',
	created_at             TEXT NOT NULL,
	updated_at             TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS branches (
	id                     TEXT PRIMARY KEY,
	database_id            TEXT NOT NULL REFERENCES databases(id) ON DELETE CASCADE,
	name                   TEXT NOT NULL,
	parent_branch          TEXT,
	schema_version         TEXT NOT NULL DEFAULT '1',
	materialized           INTEGER NOT NULL DEFAULT 0,
	maintenance_mode       INTEGER NOT NULL DEFAULT 0,
	maintenance_reason     TEXT,
	maintenance_started_at TEXT,
	cdc_enabled            INTEGER NOT NULL DEFAULT 0,
	archived_at            TEXT,
	metadata               TEXT NOT NULL DEFAULT '{}',
	created_at             TEXT NOT NULL,
	updated_at             TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_branches_active_name
	ON branches(database_id, name) WHERE archived_at IS NULL;

CREATE TABLE IF NOT EXISTS tenants (
	id           TEXT PRIMARY KEY,
	branch_id    TEXT NOT NULL REFERENCES branches(id) ON DELETE CASCADE,
	name         TEXT NOT NULL,
	shard        TEXT NOT NULL,
	materialized INTEGER NOT NULL DEFAULT 0,
	metadata     TEXT NOT NULL DEFAULT '{}',
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL,
	UNIQUE(branch_id, name)
);

CREATE TABLE IF NOT EXISTS changes (
	id                 TEXT PRIMARY KEY,
	database_id        TEXT NOT NULL REFERENCES databases(id) ON DELETE CASCADE,
	origin_branch_id   TEXT,
	origin_branch_name TEXT,
	type               TEXT NOT NULL,
	entity_type        TEXT NOT NULL,
	entity_name        TEXT NOT NULL,
	details            TEXT NOT NULL DEFAULT '{}',
	sql                TEXT NOT NULL,
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS branch_changes (
	branch_id               TEXT NOT NULL REFERENCES branches(id) ON DELETE CASCADE,
	branch_name             TEXT NOT NULL,
	change_id               TEXT NOT NULL REFERENCES changes(id) ON DELETE CASCADE,
	applied                 INTEGER NOT NULL DEFAULT 0,
	applied_order           INTEGER NOT NULL,
	copied_from_branch_id   TEXT,
	copied_from_branch_name TEXT,
	PRIMARY KEY (branch_id, change_id)
);

CREATE INDEX IF NOT EXISTS idx_branch_changes_order ON branch_changes(branch_id, applied_order);
CREATE INDEX IF NOT EXISTS idx_branch_changes_applied ON branch_changes(branch_id, applied);
`

// migration is one idempotent schema step applied after the base schema.
// None exist yet beyond schemaV1; the slice exists so future additive
// changes follow the teacher's one-function-per-migration shape instead
// of rewriting schemaV1 in place.
var migrations []func(*sql.DB) error

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaV1); err != nil {
		return fmt.Errorf("catalog: apply base schema: %w", err)
	}
	for i, m := range migrations {
		if err := m(db); err != nil {
			return fmt.Errorf("catalog: apply migration %d: %w", i, err)
		}
	}
	return nil
}
