package apply

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/flock"

	"github.com/cinchdb/cinchdb/internal/cinchdberr"
	"github.com/cinchdb/cinchdb/internal/layout"
	"github.com/cinchdb/cinchdb/internal/sqlitedb"
)

// skipSettleWaitEnv lets tests collapse the settle wait to zero, per
// spec.md §4.7's "skippable by a test-only environment switch".
const skipSettleWaitEnv = "CINCHDB_SKIP_SETTLE_WAIT"

const settleWaitInterval = 250 * time.Millisecond

type maintenanceSentinel struct {
	Reason    string `json:"reason"`
	ChangeID  string `json:"change_id"`
	StartedAt string `json:"started_at"`
}

// enterMaintenance writes the maintenance sentinel, acquires its exclusive
// file lock, flips the catalog flag, and waits for in-flight writers to
// settle. The returned *flock.Flock must be passed to exitMaintenance.
func (e *Engine) enterMaintenance(ctx context.Context, database, branch, branchID, changeID, reason string) (*flock.Flock, error) {
	path := e.layout.MaintenanceSentinelPath(database, branch)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, cinchdberr.MaintenanceMode(branch, "another change is already applying")
	}

	sentinel := maintenanceSentinel{Reason: reason, ChangeID: changeID, StartedAt: sqlitedb.FormatTime(time.Now())}
	data, err := json.Marshal(sentinel)
	if err != nil {
		_ = fl.Unlock()
		return nil, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		_ = fl.Unlock()
		return nil, err
	}

	if err := e.store.SetBranchMaintenanceMode(ctx, branchID, true, reason); err != nil {
		_ = fl.Unlock()
		return nil, err
	}

	if err := settleWait(ctx); err != nil {
		_ = e.store.SetBranchMaintenanceMode(ctx, branchID, false, "")
		_ = fl.Unlock()
		return nil, err
	}
	return fl, nil
}

// exitMaintenance clears the catalog flag, removes the sentinel file, and
// releases the lock acquired by enterMaintenance.
func (e *Engine) exitMaintenance(ctx context.Context, database, branch, branchID string, fl *flock.Flock) error {
	defer fl.Unlock()

	if err := e.store.SetBranchMaintenanceMode(ctx, branchID, false, ""); err != nil {
		return err
	}
	path := e.layout.MaintenanceSentinelPath(database, branch)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// settleWait blocks for settleWaitInterval so in-flight writers reach a
// safe point before the apply phase begins, unless skipSettleWaitEnv is
// set (test-only). Implemented as a single retry through a constant
// backoff of settleWaitInterval rather than a bare time.Sleep, so the wait
// ends early if ctx is cancelled.
func settleWait(ctx context.Context) error {
	if os.Getenv(skipSettleWaitEnv) != "" {
		return nil
	}

	settled := false
	op := func() error {
		if settled {
			return nil
		}
		settled = true
		return errSettling
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(settleWaitInterval), 1), ctx)
	return backoff.Retry(op, b)
}

var errSettling = errors.New("apply: waiting for in-flight writers to settle")
