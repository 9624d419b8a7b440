package catalog

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cinchdb/cinchdb/internal/cinchdberr"
	"github.com/cinchdb/cinchdb/internal/sqlitedb"
)

// Store is the metadata catalog: a pooled connection over metadata.db.
// Every write to the catalog goes through Store so that managers built on
// top (tenant, branch, changes, apply) reuse a single writer per process
// (spec.md §4.4, §5).
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the metadata database at path and
// applies the schema.
func Open(path string, opts sqlitedb.Options) (*Store, error) {
	db, err := sqlitedb.Open(path, opts)
	if err != nil {
		return nil, err
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for packages that need to run custom
// queries the Store doesn't wrap. No package in this module calls it.
func (s *Store) DB() *sql.DB {
	return s.db
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed: UNIQUE")
}

// ---- Databases ----------------------------------------------------------

// CreateDatabase inserts a new database row.
func (s *Store) CreateDatabase(ctx context.Context, name, description string) (*Database, error) {
	now := nowString()
	d := &Database{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Metadata:    "{}",
		CreatedAt:   mustParse(now),
		UpdatedAt:   mustParse(now),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO databases (id, name, description, materialized, metadata, created_at, updated_at)
		VALUES (?, ?, ?, 0, '{}', ?, ?)
	`, d.ID, d.Name, d.Description, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, cinchdberr.AlreadyExists("database", name)
		}
		return nil, cinchdberr.WrapCatalog("create database", err)
	}
	return d, nil
}

// GetDatabase returns the database named name, or nil if it does not exist.
func (s *Store) GetDatabase(ctx context.Context, name string) (*Database, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, materialized, maintenance_mode,
		       COALESCE(maintenance_reason, ''), maintenance_started_at,
		       metadata, created_at, updated_at
		FROM databases WHERE name = ?
	`, name)
	d, err := scanDatabase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, cinchdberr.WrapCatalog("get database", err)
	}
	return d, nil
}

// ListDatabases returns every database ordered by name ascending.
func (s *Store) ListDatabases(ctx context.Context, materializedOnly bool) ([]*Database, error) {
	q := `
		SELECT id, name, description, materialized, maintenance_mode,
		       COALESCE(maintenance_reason, ''), maintenance_started_at,
		       metadata, created_at, updated_at
		FROM databases`
	if materializedOnly {
		q += " WHERE materialized = 1"
	}
	q += " ORDER BY name ASC"

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, cinchdberr.WrapCatalog("list databases", err)
	}
	defer rows.Close()

	var out []*Database
	for rows.Next() {
		d, err := scanDatabase(rows)
		if err != nil {
			return nil, cinchdberr.WrapCatalog("scan database", err)
		}
		out = append(out, d)
	}
	return out, cinchdberr.WrapCatalog("iterate databases", rows.Err())
}

// MarkDatabaseMaterialized sets materialized = 1. Idempotent.
func (s *Store) MarkDatabaseMaterialized(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE databases SET materialized = 1, updated_at = ? WHERE name = ?
	`, nowString(), name)
	return cinchdberr.WrapCatalog("mark database materialized", err)
}

// SetDatabaseMaintenanceMode sets or clears maintenance mode for a database.
func (s *Store) SetDatabaseMaintenanceMode(ctx context.Context, name string, enabled bool, reason string) error {
	now := nowString()
	var startedAt interface{}
	if enabled {
		startedAt = now
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE databases
		SET maintenance_mode = ?, maintenance_reason = ?, maintenance_started_at = ?, updated_at = ?
		WHERE name = ?
	`, boolToInt(enabled), reason, startedAt, now, name)
	return cinchdberr.WrapCatalog("set database maintenance mode", err)
}

// DeleteDatabase removes a database row; ON DELETE CASCADE removes its
// branches, tenants, branch_changes, and changes.
func (s *Store) DeleteDatabase(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM databases WHERE name = ?`, name)
	return cinchdberr.WrapCatalog("delete database", err)
}

func scanDatabase(row interface{ Scan(...interface{}) error }) (*Database, error) {
	var d Database
	var materialized, maintenance int
	var startedAt sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&d.ID, &d.Name, &d.Description, &materialized, &maintenance,
		&d.MaintenanceReason, &startedAt, &d.Metadata, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	d.Materialized = materialized != 0
	d.MaintenanceMode = maintenance != 0
	if startedAt.Valid {
		t := mustParse(startedAt.String)
		d.MaintenanceStartedAt = &t
	}
	d.CreatedAt = mustParse(createdAt)
	d.UpdatedAt = mustParse(updatedAt)
	return &d, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nowString() string {
	return sqlitedb.FormatTime(time.Now())
}

// mustParse parses a stored timestamp that the catalog itself wrote.
// A parse failure here indicates corrupted metadata, not a recoverable
// caller error, so it panics rather than threading an error through every
// scan call site.
func mustParse(s string) time.Time {
	t, err := sqlitedb.ParseTime(s)
	if err != nil {
		panic("catalog: corrupt timestamp: " + err.Error())
	}
	return t
}
