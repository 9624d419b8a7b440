// Package sqlitedb opens SQLite files with the WAL-mode pragmas CinchDB
// requires, and provides a connection pool keyed by resolved path plus a
// pluggable encryption hook. See spec.md §4.3.
package sqlitedb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/cinchdb/cinchdb/internal/cinchdberr"
)

// driverName is the database/sql driver registered by go-sqlite3/driver.
const driverName = "sqlite3"

// EncryptionProvider opens an encrypted SQLite connection. Implementations
// are registered by name so a build without any encryption provider still
// compiles; see RegisterEncryptionProvider.
type EncryptionProvider interface {
	// Open opens path with the given key applied, returning a ready
	// *sql.DB. key is guaranteed non-empty by the caller.
	Open(path string, key []byte) (*sql.DB, error)
}

var (
	encryptionProvidersMu sync.RWMutex
	encryptionProviders   = map[string]EncryptionProvider{}
)

// RegisterEncryptionProvider registers an EncryptionProvider under name.
// Call from an init() in a build that wants encryption support; the
// default build registers none.
func RegisterEncryptionProvider(name string, p EncryptionProvider) {
	encryptionProvidersMu.Lock()
	defer encryptionProvidersMu.Unlock()
	encryptionProviders[name] = p
}

func lookupEncryptionProvider(name string) (EncryptionProvider, bool) {
	encryptionProvidersMu.RLock()
	defer encryptionProvidersMu.RUnlock()
	p, ok := encryptionProviders[name]
	return p, ok
}

// Options configures how a connection is opened.
type Options struct {
	// EncryptionProvider, if non-empty, names a provider registered via
	// RegisterEncryptionProvider. If set, EncryptionKey must be non-empty.
	EncryptionProvider string
	EncryptionKey      []byte
}

// pragmaDSN builds the go-sqlite3 DSN query string carrying the pragmas
// spec.md §4.3 requires: WAL journal mode, NORMAL synchronous, disabled
// auto-checkpoint (the __empty__ template is checkpointed explicitly after
// each rebuild; see tenant.EnsureEmptyTenant), and foreign keys on.
func pragmaDSN(path string) string {
	return path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=wal_autocheckpoint(0)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)"
}

// Open opens path, creating parent directories as needed, and applies the
// standard pragma set. Rows are read by column name by callers using
// (*sql.Rows).Columns / struct scanning as usual; this layer does not
// impose a specific scan style.
func Open(path string, opts Options) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlitedb: create directory for %s: %w", path, err)
	}

	if opts.EncryptionProvider != "" {
		if len(opts.EncryptionKey) == 0 {
			return nil, cinchdberr.ErrEncryptionKeyMissing
		}
		provider, ok := lookupEncryptionProvider(opts.EncryptionProvider)
		if !ok {
			return nil, fmt.Errorf("sqlitedb: no encryption provider registered as %q", opts.EncryptionProvider)
		}
		db, err := provider.Open(path, opts.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("sqlitedb: open encrypted %s: %w", path, err)
		}
		return db, nil
	}

	db, err := sql.Open(driverName, pragmaDSN(path))
	if err != nil {
		return nil, fmt.Errorf("sqlitedb: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitedb: ping %s: %w", path, err)
	}
	// A single writer per file; WAL still allows concurrent readers, but
	// *sql.DB pools multiple connections by default which would defeat
	// the single-writer invariant tenants rely on (spec.md §5).
	db.SetMaxOpenConns(1)
	return db, nil
}

// Pool is a thread-safe connection pool keyed by resolved path, so
// managers can share one writer per tenant/metadata file per process
// (spec.md §4.4, §5).
type Pool struct {
	mu    sync.Mutex
	conns map[string]*sql.DB
	opts  Options
}

// NewPool creates an empty Pool. opts apply to every connection the pool
// opens.
func NewPool(opts Options) *Pool {
	return &Pool{conns: make(map[string]*sql.DB), opts: opts}
}

// Get returns the pooled connection for path, opening it on first use.
func (p *Pool) Get(path string) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if db, ok := p.conns[path]; ok {
		return db, nil
	}
	db, err := Open(path, p.opts)
	if err != nil {
		return nil, err
	}
	p.conns[path] = db
	return db, nil
}

// Evict closes and forgets the pooled connection for path, if any. Call
// after deleting or renaming the underlying file.
func (p *Pool) Evict(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	db, ok := p.conns[path]
	if !ok {
		return nil
	}
	delete(p.conns, path)
	return db.Close()
}

// Close closes every pooled connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for path, db := range p.conns {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sqlitedb: close %s: %w", path, err)
		}
	}
	p.conns = make(map[string]*sql.DB)
	return firstErr
}
