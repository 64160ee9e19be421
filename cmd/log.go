package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/ridoystarlord/dbdocsync/jobs"
	"github.com/ridoystarlord/dbdocsync/pending"
	"github.com/spf13/cobra"
)

var logLimit int

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show recent sync failures",
	Long: `Show recent failures: failed runs and queued changes whose last replay
failed, newest first.

Examples:
  dbdocsync log                    # Show recent failures
  dbdocsync log --limit 20         # Show last 20 entries
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.history.Recent(ctx, logLimit, "")
		if err != nil {
			return fmt.Errorf("error getting run history: %w", err)
		}
		changes, err := a.pending.List(ctx, pending.ListFilter{MaxRetries: a.cfg.Drain.MaxRetries, Limit: 1000})
		if err != nil {
			return fmt.Errorf("error getting queued changes: %w", err)
		}

		entries := failureEntries(runs, changes, a.cfg.Drain.MaxRetries)
		if len(entries) == 0 {
			fmt.Println("📋 No failures found")
			return nil
		}
		if logLimit > 0 && len(entries) > logLimit {
			entries = entries[:logLimit]
		}
		showFailures(entries)
		return nil
	},
}

type failureEntry struct {
	At      time.Time
	Level   string
	Message string
	User    string
	Details string
}

func failureEntries(runs []jobs.Record, changes []pending.Change, maxRetries int) []failureEntry {
	var out []failureEntry
	for _, rec := range runs {
		if rec.Status != jobs.StatusFailed {
			continue
		}
		out = append(out, failureEntry{
			At:      rec.StartedAt,
			Level:   "ERROR",
			Message: fmt.Sprintf("%s failed after %d attempts", runName(rec), rec.Attempts),
			User:    rec.ExecutedBy,
			Details: rec.ErrorMessage,
		})
	}
	for _, c := range changes {
		if c.ErrorMessage == "" || !c.Pending() {
			continue
		}
		level := "WARN"
		msg := fmt.Sprintf("change %d (%s %s) failed %d times", c.ID, c.Method, c.Endpoint, c.RetryCount)
		if c.Dead(maxRetries) {
			level = "ERROR"
			msg = fmt.Sprintf("change %d (%s %s) gave up", c.ID, c.Method, c.Endpoint)
		}
		out = append(out, failureEntry{At: c.UpdatedAt, Level: level, Message: msg, Details: c.ErrorMessage})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].At.After(out[j].At)
	})
	return out
}

func showFailures(entries []failureEntry) {
	yellow := color.New(color.FgYellow, color.Bold)
	red := color.New(color.FgRed, color.Bold)
	cyan := color.New(color.FgCyan)

	fmt.Println("📋 Recent Sync Failures")
	fmt.Println(strings.Repeat("=", 60))

	for i, e := range entries {
		fmt.Printf("\n%d. ", i+1)
		switch e.Level {
		case "WARN":
			yellow.Print("⚠️  ")
		case "ERROR":
			red.Print("❌ ")
		default:
			fmt.Print("📝 ")
		}

		cyan.Printf("[%s] ", e.At.Format("2006-01-02 15:04:05"))
		fmt.Printf("%s", e.Message)
		if e.User != "" {
			fmt.Printf(" (by %s)", e.User)
		}
		fmt.Println()

		if e.Details != "" {
			cyan.Printf("   📄 Details: %s\n", e.Details)
		}
	}

	fmt.Println(strings.Repeat("-", 60))
	fmt.Printf("📊 Showing %d recent entries\n", len(entries))
}

func init() {
	logCmd.Flags().IntVarP(&logLimit, "limit", "l", 50, "Limit number of entries to show")
}
