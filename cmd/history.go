package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/ridoystarlord/dbdocsync/jobs"
	"github.com/spf13/cobra"
)

var (
	historyLimit    int
	historyJob      string
	historyDetailed bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show sync and drain run history",
	Long: `Show recorded sync and drain runs with durations, attempts and errors.

Examples:
  dbdocsync history                    # Show all runs
  dbdocsync history --limit 10         # Show last 10 runs
  dbdocsync history --job sync         # Only description syncs
  dbdocsync history --detailed         # Show detailed information
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.history.Recent(ctx, historyLimit, historyJob)
		if err != nil {
			return fmt.Errorf("error getting run history: %w", err)
		}
		if len(runs) == 0 {
			fmt.Println("📋 No runs recorded yet")
			return nil
		}

		fmt.Println("📋 Run History")
		fmt.Println(strings.Repeat("=", 60))
		if historyDetailed {
			showDetailedHistory(runs)
		} else {
			showSummaryHistory(runs)
		}
		return nil
	},
}

func statusIcon(status string) string {
	switch status {
	case jobs.StatusSuccess:
		return color.New(color.FgGreen, color.Bold).Sprint("✅")
	case jobs.StatusFailed:
		return color.New(color.FgRed, color.Bold).Sprint("❌")
	default:
		return color.New(color.FgYellow, color.Bold).Sprint("⚠️")
	}
}

func runName(rec jobs.Record) string {
	if rec.Subject == "" {
		return rec.Job
	}
	return rec.Job + " " + rec.Subject
}

func showDetailedHistory(runs []jobs.Record) {
	red := color.New(color.FgRed, color.Bold)
	blue := color.New(color.FgBlue, color.Bold)
	cyan := color.New(color.FgCyan)

	for i, rec := range runs {
		fmt.Printf("\n%d. %s ", i+1, statusIcon(rec.Status))
		blue.Printf("%s\n", runName(rec))

		cyan.Printf("   🆔 Run: %s\n", rec.ID)
		cyan.Printf("   📅 Started: %s\n", rec.StartedAt.Format("2006-01-02 15:04:05"))
		cyan.Printf("   ⏱️  Duration: %v\n", rec.Duration)
		cyan.Printf("   🔁 Attempts: %d\n", rec.Attempts)
		if rec.ExecutedBy != "" {
			cyan.Printf("   👤 User: %s\n", rec.ExecutedBy)
		}
		cyan.Printf("   📊 Status: %s\n", rec.Status)
		if rec.Status == jobs.StatusFailed && rec.ErrorMessage != "" {
			red.Printf("   💥 Error: %s\n", rec.ErrorMessage)
		}
	}
}

func showSummaryHistory(runs []jobs.Record) {
	blue := color.New(color.FgBlue, color.Bold)

	fmt.Printf("%-4s %-8s %-25s %-12s %-9s %s\n", "#", "Status", "Run", "Duration", "Attempts", "Date")
	fmt.Println(strings.Repeat("-", 80))

	var (
		success, failed int
		total           time.Duration
	)
	for i, rec := range runs {
		name := runName(rec)
		if len(name) > 23 {
			name = name[:20] + "..."
		}
		fmt.Printf("%-4d %-8s %-25s %-12s %-9d %s\n",
			i+1,
			statusIcon(rec.Status),
			blue.Sprint(name),
			rec.Duration.Round(time.Millisecond),
			rec.Attempts,
			rec.StartedAt.Format("2006-01-02 15:04"),
		)

		switch rec.Status {
		case jobs.StatusSuccess:
			success++
		case jobs.StatusFailed:
			failed++
		}
		total += rec.Duration
	}

	fmt.Println(strings.Repeat("-", 80))
	fmt.Printf("📊 Summary: %d total, %d successful, %d failed\n", len(runs), success, failed)
	if total > 0 {
		fmt.Printf("⏱️  Total run time: %v\n", total.Round(time.Millisecond))
	}
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 0, "Limit number of records to show (0 = all)")
	historyCmd.Flags().StringVarP(&historyJob, "job", "j", "", "Filter by job (sync or drain)")
	historyCmd.Flags().BoolVarP(&historyDetailed, "detailed", "d", false, "Show detailed information")
}
