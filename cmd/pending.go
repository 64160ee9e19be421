package cmd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/ridoystarlord/dbdocsync/pending"
	"github.com/spf13/cobra"
)

var (
	pendingState  string
	pendingEntity string
	pendingLimit  int
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Inspect and manage queued changes",
	Long: `Inspect and manage changes waiting to be replayed to the remote.

Examples:
  dbdocsync pending list                 # Changes still to send
  dbdocsync pending list --state dead    # Changes that gave up
  dbdocsync pending retry 42             # Give change 42 a fresh set of retries
  dbdocsync pending stats
`,
}

var pendingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		state := pending.State(pendingState)
		switch state {
		case pending.StateAll, pending.StatePending, pending.StateDead, pending.StateSynced:
		default:
			return fmt.Errorf("unknown state %q (pending, dead, synced or empty for all)", pendingState)
		}

		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		changes, err := a.pending.List(ctx, pending.ListFilter{
			State:      state,
			EntityType: pendingEntity,
			MaxRetries: a.cfg.Drain.MaxRetries,
			Limit:      pendingLimit,
		})
		if err != nil {
			return err
		}
		if len(changes) == 0 {
			fmt.Println("📭 No queued changes found")
			return nil
		}

		tw := tablewriter.NewWriter(os.Stdout)
		tw.SetHeader([]string{"ID", "ENTITY", "ACTION", "METHOD", "ENDPOINT", "RETRIES", "NEXT ATTEMPT", "ERROR"})
		for _, c := range changes {
			next := c.NextAttemptAt.Format(time.RFC3339)
			if c.SyncedAt != nil {
				next = "synced " + c.SyncedAt.Format(time.RFC3339)
			} else if c.Dead(a.cfg.Drain.MaxRetries) {
				next = "never"
			}
			tw.Append([]string{
				strconv.FormatInt(c.ID, 10),
				fmt.Sprintf("%s %d", c.EntityType, c.EntityID),
				string(c.Action),
				c.Method,
				c.Endpoint,
				strconv.Itoa(c.RetryCount),
				next,
				truncate(c.ErrorMessage, 40),
			})
		}
		tw.Render()
		return nil
	},
}

var pendingRetryCmd = &cobra.Command{
	Use:   "retry <change-id>",
	Short: "Reset a change's retries so the next drain picks it up",
	Args:  cobra.ExactArgs(1),
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

		if err := a.pending.Requeue(ctx, id); err != nil {
			return err
		}
		color.New(color.FgGreen, color.Bold).Printf("✅ Change %d will be retried on the next drain\n", id)
		return nil
	},
}

var pendingStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.pending.Stats(ctx, a.cfg.Drain.MaxRetries)
		if err != nil {
			return err
		}
		showPendingStats(st)
		return nil
	},
}

func showPendingStats(st pending.Stats) {
	red := color.New(color.FgRed, color.Bold)

	fmt.Printf("🕒 Pending: %d\n", st.Pending)
	if st.Dead > 0 {
		red.Printf("💀 Dead:    %d\n", st.Dead)
	} else {
		fmt.Printf("💀 Dead:    %d\n", st.Dead)
	}
	fmt.Printf("✅ Synced:  %d\n", st.Synced)
	if st.Oldest != nil {
		fmt.Printf("📅 Oldest unsynced: %s (%s ago)\n", st.Oldest.Format("2006-01-02 15:04:05"),
			time.Since(*st.Oldest).Round(time.Second))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func init() {
	pendingListCmd.Flags().StringVarP(&pendingState, "state", "s", "pending", "pending, dead, synced or empty for all")
	pendingListCmd.Flags().StringVarP(&pendingEntity, "entity", "e", "", "Filter by entity type")
	pendingListCmd.Flags().IntVarP(&pendingLimit, "limit", "l", 50, "Max rows")

	pendingCmd.AddCommand(pendingListCmd)
	pendingCmd.AddCommand(pendingRetryCmd)
	pendingCmd.AddCommand(pendingStatsCmd)
}
