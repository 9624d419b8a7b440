package catalog

import "time"

// ChangeType enumerates the fixed set of DDL operations CinchDB tracks
// (spec.md §3).
type ChangeType string

const (
	ChangeCreateTable        ChangeType = "create_table"
	ChangeDropTable          ChangeType = "drop_table"
	ChangeRenameTable        ChangeType = "rename_table"
	ChangeAddColumn          ChangeType = "add_column"
	ChangeDropColumn         ChangeType = "drop_column"
	ChangeRenameColumn       ChangeType = "rename_column"
	ChangeModifyColumn       ChangeType = "modify_column"
	ChangeAlterColumnNull    ChangeType = "alter_column_nullable"
	ChangeCreateView         ChangeType = "create_view"
	ChangeDropView           ChangeType = "drop_view"
	ChangeUpdateView         ChangeType = "update_view"
	ChangeCreateIndex        ChangeType = "create_index"
	ChangeDropIndex          ChangeType = "drop_index"
)

// EntityType enumerates the schema object kinds a Change targets.
type EntityType string

const (
	EntityTable  EntityType = "table"
	EntityColumn EntityType = "column"
	EntityView   EntityType = "view"
	EntityIndex  EntityType = "index"
)

// Database is the top-level named container (spec.md §3).
type Database struct {
	ID                   string
	Name                 string
	Description          string
	Materialized         bool
	MaintenanceMode      bool
	MaintenanceReason    string
	MaintenanceStartedAt *time.Time
	Metadata             string // raw JSON
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Branch is a named, ordered sequence of schema changes within a Database.
type Branch struct {
	ID                   string
	DatabaseID           string
	Name                 string
	ParentBranch         string // empty for main
	SchemaVersion        string
	Materialized         bool
	MaintenanceMode      bool
	MaintenanceReason    string
	MaintenanceStartedAt *time.Time
	CDCEnabled           bool
	ArchivedAt           *time.Time
	Metadata             string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Tenant is an isolated SQLite file within a Branch.
type Tenant struct {
	ID           string
	BranchID     string
	Name         string
	Shard        string
	Materialized bool
	Metadata     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Change is a single immutable DDL operation recorded against a Database.
type Change struct {
	ID               string
	DatabaseID       string
	OriginBranchID   string
	OriginBranchName string
	Type             ChangeType
	EntityType       EntityType
	EntityName       string
	Details          string // raw JSON
	SQL              string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// BranchChange links a Change into a Branch's applied-order history.
type BranchChange struct {
	BranchID             string
	BranchName           string
	ChangeID             string
	Applied              bool
	AppliedOrder         int
	CopiedFromBranchID   string
	CopiedFromBranchName string
}
