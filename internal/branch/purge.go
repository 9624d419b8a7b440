package branch

import (
	"os"

	"github.com/cinchdb/cinchdb/internal/layout"
)

// purgeBranchDir best-effort removes a branch's entire on-disk directory
// (tenant files, maintenance sentinel, change backups) after its catalog
// rows have already been archived. A failure here is surfaced to the
// caller but leaves the catalog state (already archived) unchanged.
func purgeBranchDir(proj *layout.Project, database, branch string) error {
	return os.RemoveAll(proj.BranchDir(database, branch))
}
