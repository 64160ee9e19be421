package cmd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var mappingType string

var mappingCmd = &cobra.Command{
	Use:   "mapping",
	Short: "Look up local to remote id mappings",
	Long: `Look up which remote id a local record was assigned.

Entity types: project, db_description, table, view, function, procedure, trigger.

Examples:
  dbdocsync mapping get table 41
  dbdocsync mapping list --type view
`,
}

var mappingGetCmd = &cobra.Command{
	Use:   "get <entity-type> <local-id>",
	Short: "Show the remote id of one local record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		localID, err := parseID(args[1])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		remoteID, ok, err := a.mappings.RemoteID(ctx, args[0], localID)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Printf("🔍 %s %d has not been synced\n", args[0], localID)
			return nil
		}
		fmt.Printf("🔗 %s %d → %d\n", args[0], localID, remoteID)
		return nil
	},
}

var mappingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List mappings",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		mappings, err := a.mappings.List(ctx, mappingType)
		if err != nil {
			return err
		}
		if len(mappings) == 0 {
			fmt.Println("📭 No mappings found")
			return nil
		}

		tw := tablewriter.NewWriter(os.Stdout)
		tw.SetHeader([]string{"ENTITY", "LOCAL ID", "REMOTE ID", "UPDATED"})
		for _, m := range mappings {
			tw.Append([]string{
				m.EntityType,
				strconv.FormatInt(m.LocalID, 10),
				strconv.FormatInt(m.RemoteID, 10),
				m.UpdatedAt.Format(time.RFC3339),
			})
		}
		tw.Render()
		fmt.Printf("📊 %d mappings\n", len(mappings))
		return nil
	},
}

func init() {
	mappingListCmd.Flags().StringVarP(&mappingType, "type", "t", "", "Filter by entity type")

	mappingCmd.AddCommand(mappingGetCmd)
	mappingCmd.AddCommand(mappingListCmd)
}
