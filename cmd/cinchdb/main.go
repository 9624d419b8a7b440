// Command cinchdb is a thin CLI shell over the cinchdb package: project
// bootstrap, status, branch listing, and merge preview/apply. It holds no
// business logic of its own and exists only to give the core packages a
// terminal front door (spec.md's CLI framing is explicitly out of scope
// beyond this, per SPEC_FULL.md §1).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cinchdb/cinchdb"
	"github.com/cinchdb/cinchdb/internal/cinchdberr"
	"github.com/cinchdb/cinchdb/internal/merge"
	"github.com/cinchdb/cinchdb/internal/procconfig"
)

func openProject(root string) (*cinchdb.Project, error) {
	return cinchdb.Open(root, cinchdb.Options{})
}

var projectRoot string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cinchdb",
	Short: "cinchdb - Git-like schema management over SQLite",
	Long:  "A multi-tenant schema management layer over SQLite: databases, branches, and per-tenant materialization.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectRoot, "project", "", "project root (default: discover by walking up from cwd)")

	rootCmd.AddCommand(projectCmd, statusCmd, branchCmd, mergeCmd)
	projectCmd.AddCommand(projectInitCmd)
	branchCmd.AddCommand(branchListCmd, branchCreateCmd)
}

func resolveRoot() (string, error) {
	if projectRoot != "" {
		return projectRoot, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	root, err := procconfig.FindProjectRoot(cwd)
	if err != nil {
		return cwd, nil // no .cinchdb yet: caller is likely running `project init`
	}
	return root, nil
}

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage the current project",
}

var projectInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new CinchDB project in the current (or --project) directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := resolveRoot()
		if err != nil {
			return err
		}
		if err := procconfig.Save(root, &procconfig.Identity{Branch: "main", Tenant: "main"}); err != nil {
			return err
		}
		proj, err := openProject(root)
		if err != nil {
			return err
		}
		defer proj.Close()
		fmt.Printf("initialized CinchDB project at %s\n", root)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active database/branch/tenant and its databases",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := resolveRoot()
		if err != nil {
			return err
		}
		id, err := procconfig.Load(root)
		if err != nil {
			return err
		}
		proj, err := openProject(root)
		if err != nil {
			return err
		}
		defer proj.Close()

		fmt.Printf("project:  %s\n", root)
		fmt.Printf("database: %s\n", displayOr(id.Database, "(none)"))
		fmt.Printf("branch:   %s\n", id.Branch)
		fmt.Printf("tenant:   %s\n", id.Tenant)

		dbs, err := proj.ListDatabases(context.Background())
		if err != nil {
			return err
		}
		if len(dbs) == 0 {
			fmt.Println("no databases yet")
			return nil
		}
		fmt.Println("databases:")
		for _, d := range dbs {
			fmt.Printf("  - %s\n", d.Name)
		}
		return nil
	},
}

var branchCmd = &cobra.Command{
	Use:   "branch",
	Short: "Inspect and create branches",
}

var branchListCmd = &cobra.Command{
	Use:   "ls <database>",
	Short: "List a database's active branches",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := resolveRoot()
		if err != nil {
			return err
		}
		proj, err := openProject(root)
		if err != nil {
			return err
		}
		defer proj.Close()

		db, err := proj.GetDatabase(context.Background(), args[0])
		if err != nil {
			return err
		}
		if db == nil {
			return cinchdberr.NotFound("database", args[0])
		}
		branches, err := proj.Branch.ListBranches(context.Background(), db.ID)
		if err != nil {
			return err
		}
		for _, b := range branches {
			marker := ""
			if b.MaintenanceMode {
				marker = " (maintenance)"
			}
			fmt.Printf("%s%s\n", b.Name, marker)
		}
		return nil
	},
}

var branchCreateCmd = &cobra.Command{
	Use:   "create <database> <parent> <name>",
	Short: "Create a new branch from an existing one",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := resolveRoot()
		if err != nil {
			return err
		}
		proj, err := openProject(root)
		if err != nil {
			return err
		}
		defer proj.Close()

		database, parent, name := args[0], args[1], args[2]
		db, err := proj.GetDatabase(context.Background(), database)
		if err != nil {
			return err
		}
		if db == nil {
			return cinchdberr.NotFound("database", database)
		}
		b, err := proj.Branch.CreateBranch(context.Background(), database, db.ID, parent, name)
		if err != nil {
			return err
		}
		fmt.Printf("created branch %q from %q\n", b.Name, parent)
		return nil
	},
}

var (
	mergeDryRun bool
	mergeForce  bool
	mergeTarget string
)

var mergeCmd = &cobra.Command{
	Use:   "merge <database> <source>",
	Short: "Merge a branch into main (or --target), previewing first with --dry-run",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := resolveRoot()
		if err != nil {
			return err
		}
		proj, err := openProject(root)
		if err != nil {
			return err
		}
		defer proj.Close()

		database, source := args[0], args[1]
		db, err := proj.GetDatabase(context.Background(), database)
		if err != nil {
			return err
		}
		if db == nil {
			return cinchdberr.NotFound("database", database)
		}

		ctx := context.Background()
		var steps []merge.DryRunStep
		if mergeTarget == "" || mergeTarget == "main" {
			steps, err = proj.Merge.MergeIntoMain(ctx, database, db.ID, source, mergeForce, mergeDryRun)
		} else {
			steps, err = proj.Merge.MergeBranches(ctx, database, db.ID, source, mergeTarget, mergeForce, mergeDryRun)
		}
		if err != nil {
			return err
		}

		if mergeDryRun {
			fmt.Printf("%d change(s) would be applied:\n", len(steps))
			for _, s := range steps {
				fmt.Printf("  %d. %s %s\n     %s\n", s.Step, s.EntityType, s.EntityName, s.SQL)
			}
			return nil
		}
		fmt.Printf("merged %q into %q\n", source, displayOr(mergeTarget, "main"))
		return nil
	},
}

func init() {
	mergeCmd.Flags().BoolVar(&mergeDryRun, "dry-run", false, "preview the merge without applying it")
	mergeCmd.Flags().BoolVar(&mergeForce, "force", false, "merge despite conflicts or a stale source")
	mergeCmd.Flags().StringVar(&mergeTarget, "target", "", "target branch (default: main)")
}

func displayOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
