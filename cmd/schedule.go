package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Drain queued changes on an interval until stopped",
	Long: `Run the drain every drain.interval until interrupted. Only one drain runs
at a time across every process sharing the database.

Examples:
  dbdocsync schedule
  DBDOC_DRAIN_INTERVAL=1m dbdocsync schedule
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		s := a.scheduler()
		if err := s.Start(ctx); err != nil {
			return err
		}
		fmt.Printf("⏰ Draining every %s. Press Ctrl+C to stop\n", a.cfg.Drain.Interval)

		<-ctx.Done()
		s.Stop()

		st := s.Status()
		fmt.Printf("👋 Stopped after %d drains (%d skipped)\n", st.Runs, st.Skipped)
		return nil
	},
}
