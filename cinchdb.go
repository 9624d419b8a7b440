// Package cinchdb is CinchDB's public entry point: a Git-like, multi-tenant
// schema management layer over SQLite. A Project wires together the path
// layout, metadata catalog, change tracker, tenant manager, change
// applier, comparator, merge engine, and schema/data managers into one
// handle per project (spec.md §2).
package cinchdb

import (
	"context"
	"fmt"

	"github.com/cinchdb/cinchdb/internal/apply"
	"github.com/cinchdb/cinchdb/internal/branch"
	"github.com/cinchdb/cinchdb/internal/catalog"
	"github.com/cinchdb/cinchdb/internal/changes"
	"github.com/cinchdb/cinchdb/internal/cinchlog"
	"github.com/cinchdb/cinchdb/internal/compare"
	"github.com/cinchdb/cinchdb/internal/data"
	"github.com/cinchdb/cinchdb/internal/layout"
	"github.com/cinchdb/cinchdb/internal/merge"
	"github.com/cinchdb/cinchdb/internal/schema"
	"github.com/cinchdb/cinchdb/internal/sqlitedb"
	"github.com/cinchdb/cinchdb/internal/tenant"
)

// Re-exported types so callers need only import this one package for the
// common surface (spec.md §6's stable on-disk/catalog contract).
type (
	Database   = catalog.Database
	Branch     = catalog.Branch
	Tenant     = catalog.Tenant
	Change     = catalog.Change
	ChangeType = catalog.ChangeType
	EntityType = catalog.EntityType
	Column     = schema.Column
	ForeignKey = schema.ForeignKey
	Predicate  = data.Predicate
	Op         = data.Op
	Logic      = data.Logic
)

// Predicate operators and logic connectives, re-exported for callers
// building filters against Data.
const (
	Eq   = data.Eq
	Gt   = data.Gt
	Gte  = data.Gte
	Lt   = data.Lt
	Lte  = data.Lte
	Like = data.Like
	In   = data.In

	And = data.And
	Or  = data.Or
)

// Project is the root handle for one CinchDB project directory.
type Project struct {
	layout *layout.Project
	store  *catalog.Store
	pool   *sqlitedb.Pool

	Tracker *changes.Tracker
	Tenants *tenant.Manager
	Apply   *apply.Engine
	Compare *compare.Comparator
	Merge   *merge.Engine
	Schema  *schema.Manager
	Data    *data.Manager
	Branch  *branch.Manager
}

// Options configures Open.
type Options struct {
	// EncryptionProvider/EncryptionKey, if set, are applied to every
	// tenant and metadata connection this Project opens.
	EncryptionProvider string
	EncryptionKey      []byte
	// Logger overrides the change applier's logger. Defaults to
	// cinchlog.Default("apply").
	Logger *cinchlog.Logger
}

// Open opens (creating if needed) the CinchDB project rooted at root,
// wiring every manager together over one metadata catalog and one tenant
// connection pool.
func Open(root string, opts Options) (*Project, error) {
	proj := layout.NewProject(root)

	dbOpts := sqlitedb.Options{EncryptionProvider: opts.EncryptionProvider, EncryptionKey: opts.EncryptionKey}
	store, err := catalog.Open(proj.MetadataDBPath(), dbOpts)
	if err != nil {
		return nil, fmt.Errorf("cinchdb: open metadata catalog: %w", err)
	}

	pool := sqlitedb.NewPool(dbOpts)
	tracker := changes.New(store)
	tenantMgr := tenant.New(store, tracker, proj, pool)
	applier := apply.New(store, tracker, tenantMgr, proj, pool, opts.Logger)
	cmp := compare.New(tracker)
	mergeEngine := merge.New(store, tracker, cmp, applier)
	schemaMgr := schema.New(tracker, applier, tenantMgr, proj, pool)
	dataMgr := data.New(store, tenantMgr, proj, pool)
	branchMgr := branch.New(store, tracker, tenantMgr, proj)

	return &Project{
		layout:  proj,
		store:   store,
		pool:    pool,
		Tracker: tracker,
		Tenants: tenantMgr,
		Apply:   applier,
		Compare: cmp,
		Merge:   mergeEngine,
		Schema:  schemaMgr,
		Data:    dataMgr,
		Branch:  branchMgr,
	}, nil
}

// Close releases the project's metadata connection and pooled tenant
// connections.
func (p *Project) Close() error {
	poolErr := p.pool.Close()
	storeErr := p.store.Close()
	if storeErr != nil {
		return storeErr
	}
	return poolErr
}

// CreateDatabase registers a new database and its main branch, with
// main's system tenants materialized immediately (spec.md §4.4, §4.8).
func (p *Project) CreateDatabase(ctx context.Context, name, description string) (*Database, error) {
	db, err := p.store.CreateDatabase(ctx, name, description)
	if err != nil {
		return nil, err
	}
	main, err := p.store.CreateBranch(ctx, db.ID, layout.MainBranch, "")
	if err != nil {
		return nil, err
	}
	if err := p.Tenants.CreateSystemTenants(ctx, main.ID); err != nil {
		return nil, err
	}
	if err := p.Tenants.EnsureEmptyTenant(ctx, name, layout.MainBranch, main.ID); err != nil {
		return nil, err
	}
	if err := p.Tenants.MaterializeTenant(ctx, name, layout.MainBranch, main.ID, layout.MainTenant); err != nil {
		return nil, err
	}
	return db, nil
}

// ListDatabases returns every database known to the project.
func (p *Project) ListDatabases(ctx context.Context) ([]*Database, error) {
	return p.store.ListDatabases(ctx, false)
}

// GetDatabase returns a database by name, or nil if it does not exist.
func (p *Project) GetDatabase(ctx context.Context, name string) (*Database, error) {
	return p.store.GetDatabase(ctx, name)
}

// DeleteDatabase removes database and every branch/tenant/change under it.
func (p *Project) DeleteDatabase(ctx context.Context, name string) error {
	return p.store.DeleteDatabase(ctx, name)
}
