package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/ridoystarlord/dbdocsync/database"
	"github.com/ridoystarlord/dbdocsync/orchestrator"
	"github.com/ridoystarlord/dbdocsync/store"
	"github.com/spf13/cobra"
)

var checkTimeout time.Duration

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the local tables a sync reads",
	Long: `Check that every local table a sync reads exists and has the columns the
sync filters on, and that those columns are indexed.

This command will:
- Verify database connectivity
- Check the project and description tables
- Check each entity and detail table and its parent column
- Warn about parent columns without an index

Examples:
  dbdocsync check                    # Check current state
  dbdocsync check --timeout 10s      # Set custom timeout
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), checkTimeout)
		defer cancel()

		pool, err := database.Open(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer pool.Close()

		problems, err := checkLocalTables(ctx, store.NewPostgres(pool),
			orchestrator.DefaultKinds(cfg.Sync.BatchSize, cfg.Sync.DetailBatchSize))
		if err != nil {
			return fmt.Errorf("schema check failed: %w", err)
		}
		if problems > 0 {
			return fmt.Errorf("%d tables cannot be synced", problems)
		}
		fmt.Println("✅ Schema check completed successfully")
		return nil
	},
}

func init() {
	checkCmd.Flags().DurationVarP(&checkTimeout, "timeout", "t", 10*time.Second, "Timeout for schema check")
}

type tableRequirement struct {
	table    string
	parentFK string
}

func syncRequirements(kinds []orchestrator.Kind) []tableRequirement {
	reqs := []tableRequirement{
		{table: orchestrator.ProjectsTable},
		{table: orchestrator.DescriptionsTable, parentFK: orchestrator.ProjectFK},
	}
	for _, k := range kinds {
		reqs = append(reqs, tableRequirement{table: k.Table, parentFK: k.ParentFK})
		for _, d := range k.Details {
			reqs = append(reqs, tableRequirement{table: d.Table, parentFK: d.ParentFK})
		}
	}
	return reqs
}

// checkLocalTables prints one line per table and returns how many tables
// are missing or lack a required column.
func checkLocalTables(ctx context.Context, src *store.Postgres, kinds []orchestrator.Kind) (int, error) {
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	problems := 0
	for _, req := range syncRequirements(kinds) {
		cols, err := src.Columns(ctx, req.table)
		if err != nil {
			return problems, err
		}
		if len(cols) == 0 {
			red.Printf("❌ %s: table not found\n", req.table)
			problems++
			continue
		}

		has := map[string]bool{}
		for _, c := range cols {
			has[c.Name] = true
		}
		if !has["id"] {
			red.Printf("❌ %s: no id column\n", req.table)
			problems++
			continue
		}
		if req.parentFK != "" && !has[req.parentFK] {
			red.Printf("❌ %s: parent column %s not found\n", req.table, req.parentFK)
			problems++
			continue
		}

		if req.parentFK != "" {
			leading, err := src.LeadingIndexColumns(ctx, req.table)
			if err != nil {
				return problems, err
			}
			if !leading[req.parentFK] {
				yellow.Printf("⚠️  %s: %s is not indexed, batches will scan the table\n", req.table, req.parentFK)
				continue
			}
		}
		green.Printf("✅ %s (%d columns)\n", req.table, len(cols))
	}
	return problems, nil
}
