package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session, queue and last run state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		green := color.New(color.FgGreen, color.Bold)
		yellow := color.New(color.FgYellow, color.Bold)

		id := a.sess.CurrentTenant()
		if a.sess.IsConnected() {
			green.Printf("✅ Connected to %s (tenant %q)\n", id.BaseURL, id.Tenant)
		} else {
			yellow.Println("⚠️  Not connected: syncs and drains are skipped")
		}

		st, err := a.pending.Stats(ctx, a.cfg.Drain.MaxRetries)
		if err != nil {
			return err
		}
		fmt.Println("\n📦 Queue:")
		showPendingStats(st)

		for _, job := range []string{"sync", "drain"} {
			runs, err := a.history.Recent(ctx, 1, job)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Printf("\n🕒 Last %s: never\n", job)
				continue
			}
			rec := runs[0]
			fmt.Printf("\n🕒 Last %s: %s %s at %s\n", job, statusIcon(rec.Status), runName(rec),
				rec.StartedAt.Format("2006-01-02 15:04:05"))
			if rec.ErrorMessage != "" {
				fmt.Printf("   - %s\n", rec.ErrorMessage)
			}
		}
		return nil
	},
}
