package cmd

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/ridoystarlord/dbdocsync/jobs"
	"github.com/ridoystarlord/dbdocsync/pending"
	"github.com/ridoystarlord/dbdocsync/scheduler"
	"github.com/spf13/cobra"
)

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Replay queued changes once",
	Long: `Replay up to drain.limit queued changes, oldest first. Changes that fail
are retried later with backoff until drain.max_retries is reached.

Examples:
  dbdocsync drain
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		release, ok, err := a.locker.TryLock(ctx, scheduler.DrainLock)
		if err != nil {
			return err
		}
		if !ok {
			color.New(color.FgYellow, color.Bold).Println("⚠️  A drain is already running elsewhere")
			return nil
		}
		defer release()

		drainer := a.drainer()
		var res *pending.DrainResult
		_, err = jobs.NewRunner(jobs.Options{Attempts: 1, Timeout: a.cfg.Sync.Timeout, History: a.history, Logger: a.log}).
			Run(ctx, jobs.Job{Name: "drain", Run: func(ctx context.Context) error {
				r, err := drainer.Drain(ctx)
				res = r
				return err
			}})
		if err != nil {
			return fmt.Errorf("drain failed: %w", err)
		}
		showDrainResult(res)
		return nil
	},
}

func showDrainResult(res *pending.DrainResult) {
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	if res.NotConnected {
		yellow.Println("⚠️  Remote session not connected, nothing was sent")
		return
	}
	if res.Selected == 0 {
		fmt.Println("📭 No queued changes are due")
		return
	}

	green.Printf("✅ %d of %d changes synced\n", res.Synced, res.Selected)
	if res.Failed > 0 {
		yellow.Printf("🔁 %d failed and will be retried\n", res.Failed-res.DeadLettered)
	}
	if res.DeadLettered > 0 {
		red.Printf("💀 %d gave up after max retries (see 'dbdocsync pending list --state dead')\n", res.DeadLettered)
	}
}
