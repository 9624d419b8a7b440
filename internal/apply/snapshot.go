package apply

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/cinchdb/cinchdb/internal/catalog"
	"github.com/cinchdb/cinchdb/internal/cinchlog"
	"github.com/cinchdb/cinchdb/internal/layout"
)

const snapshotConcurrencyLimit = 8

// tenantFileSuffixes lists a SQLite tenant's possible on-disk files beyond
// the main database file. WAL/SHM are tolerated as missing everywhere they
// are touched (spec.md §4.7).
var tenantFileSuffixes = []string{"-wal", "-shm"}

// snapshotTenants copies every tenant's .db/.db-wal/.db-shm files into the
// change's backup directory, concurrently (snapshotting is independent
// per tenant and has no ordering requirement, unlike the apply phase).
func snapshotTenants(ctx context.Context, proj *layout.Project, database, branch, changeID string, tenants []*catalog.Tenant) error {
	backupDir := proj.ChangeBackupDir(database, branch, changeID)
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return fmt.Errorf("apply: create backup dir: %w", err)
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(snapshotConcurrencyLimit)
	for _, t := range tenants {
		t := t
		g.Go(func() error {
			src := proj.TenantPath(database, branch, t.Name)
			dst := filepath.Join(backupDir, t.Name+".db")
			return snapshotOne(src, dst)
		})
	}
	return g.Wait()
}

func snapshotOne(srcBase, dstBase string) error {
	if err := copyIfExists(srcBase, dstBase); err != nil {
		return err
	}
	for _, suffix := range tenantFileSuffixes {
		if err := copyIfExists(srcBase+suffix, dstBase+suffix); err != nil {
			return err
		}
	}
	return nil
}

// restoreTenants restores every tenant from its change backup. Each
// restore is independent and best-effort: a failure is logged but does not
// abort the restoration of the remaining tenants (spec.md §4.7).
func restoreTenants(proj *layout.Project, database, branch, changeID string, tenants []*catalog.Tenant, logger *cinchlog.Logger) {
	backupDir := proj.ChangeBackupDir(database, branch, changeID)

	done := make(chan struct{}, len(tenants))
	for _, t := range tenants {
		t := t
		go func() {
			defer func() { done <- struct{}{} }()
			dst := proj.TenantPath(database, branch, t.Name)
			src := filepath.Join(backupDir, t.Name+".db")
			if err := restoreOne(src, dst); err != nil {
				logger.Error("restore tenant %q: %v", t.Name, err)
			}
		}()
	}
	for range tenants {
		<-done
	}
}

func restoreOne(srcBase, dstBase string) error {
	if err := copyIfExists(srcBase, dstBase); err != nil {
		return err
	}
	for _, suffix := range tenantFileSuffixes {
		if fileExists(srcBase + suffix) {
			if err := copyIfExists(srcBase+suffix, dstBase+suffix); err != nil {
				return err
			}
		} else if err := os.Remove(dstBase + suffix); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func deleteBackupDir(proj *layout.Project, database, branch, changeID string) error {
	return os.RemoveAll(proj.ChangeBackupDir(database, branch, changeID))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func copyIfExists(src, dst string) error {
	if !fileExists(src) {
		return nil
	}
	return copyFile(src, dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
