package cmd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/ridoystarlord/dbdocsync/orchestrator"
	"github.com/spf13/cobra"
)

var dryRunSync bool

var syncCmd = &cobra.Command{
	Use:   "sync <description-id>",
	Short: "Push a database description and everything under it",
	Long: `Push one database description to the remote API: its project, the
description itself, then tables, views, functions, procedures and triggers
with their columns, indexes, relations, parameters and information rows.

Examples:
  dbdocsync sync 7             # Sync description 7
  dbdocsync sync 7 --dry-run   # Show what would be sent
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if dryRunSync {
			plan, err := a.orchestrator().Plan(ctx, id)
			if err != nil {
				return fmt.Errorf("dry run failed: %w", err)
			}
			showPlan(plan)
			return nil
		}

		fmt.Printf("🔄 Syncing description %d to %s\n", id, a.sess.CurrentTenant().BaseURL)
		report, err := a.runSync(ctx, id)
		if report != nil {
			showReport(report)
		}
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&dryRunSync, "dry-run", false, "Count what would be sent without calling the remote")
}

func showPlan(plan []orchestrator.PlanEntry) {
	fmt.Println("📋 Sync plan (dry run)")
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"PHASE", "ENDPOINT", "ROWS", "BATCHES", "NOTE"})
	var batches int64
	for _, e := range plan {
		note := ""
		if e.Mapped {
			note = "already mapped"
		}
		batches += e.Batches
		tw.Append([]string{e.Phase, e.Endpoint, strconv.FormatInt(e.Rows, 10), strconv.FormatInt(e.Batches, 10), note})
	}
	tw.Render()
	fmt.Printf("📊 %d requests would be sent\n", batches)
}

func showReport(r *orchestrator.Report) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen, color.Bold)

	if r.Skipped != nil {
		yellow.Printf("⚠️  Sync skipped: %s\n", r.Skipped.Reason)
		fmt.Println("   Configure remote.base_url and remote.token (see 'dbdocsync init --help')")
		return
	}

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"PHASE", "TOTAL", "SENT", "MAPPED", "PAGES", "SKIPPED"})
	for _, p := range r.Phases {
		tw.Append([]string{
			p.Phase,
			strconv.FormatInt(p.Total, 10),
			strconv.Itoa(p.Sent),
			strconv.Itoa(p.Mapped),
			strconv.Itoa(p.Pages),
			skipSummary(p.Skipped),
		})
	}
	tw.Render()

	sent, mapped, skipped := r.Totals()
	green.Printf("✅ %d rows sent, %d mapped, %d skipped in %d requests (%s)\n",
		sent, mapped, skipped, r.Requests, r.Duration().Round(time.Millisecond))
}

func skipSummary(skips []orchestrator.Skip) string {
	if len(skips) == 0 {
		return ""
	}
	counts := map[orchestrator.SkipReason]int{}
	var order []orchestrator.SkipReason
	for _, s := range skips {
		if counts[s.Reason] == 0 {
			order = append(order, s.Reason)
		}
		counts[s.Reason]++
	}
	out := ""
	for i, reason := range order {
		if i > 0 {
			out += ", "
		}
		if n := counts[reason]; n > 1 {
			out += fmt.Sprintf("%s x%d", reason, n)
		} else {
			out += string(reason)
		}
	}
	return out
}
