package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/ridoystarlord/dbdocsync/config"
	"github.com/ridoystarlord/dbdocsync/database"
	"github.com/ridoystarlord/dbdocsync/logging"
	"github.com/ridoystarlord/dbdocsync/session"
	"github.com/spf13/cobra"
)

var healthTimeout time.Duration

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check database connectivity and sync setup",
	Long: `Check that the database is reachable, the sync tables exist and a remote
credential is configured.

Examples:
  dbdocsync health                    # Check with default timeout
  dbdocsync health --timeout 10s      # Set custom timeout
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := checkDatabaseHealth(cmd.Context(), cfg); err != nil {
			return fmt.Errorf("database health check failed: %w", err)
		}

		sess := session.FromConfig(cfg.Remote, logging.New(cfg.Log))
		if sess.IsConnected() {
			fmt.Printf("✅ Remote credential configured for %s\n", sess.CurrentTenant().BaseURL)
		} else {
			fmt.Println("⚠️  No usable remote credential: syncs will be skipped")
			fmt.Println("   Run 'dbdocsync init --token ... --secret ...' to configure one")
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().DurationVarP(&healthTimeout, "timeout", "t", 5*time.Second, "Timeout for health check")
}

func checkDatabaseHealth(parent context.Context, cfg config.Config) error {
	ctx, cancel := context.WithTimeout(parent, healthTimeout)
	defer cancel()

	pool, err := database.Open(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()
	fmt.Println("✅ Database is healthy and accessible")

	ok, err := database.SyncTablesExist(ctx, pool)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("⚠️  Database is accessible but the sync tables were not found")
		fmt.Println("   Run 'dbdocsync init --tables' to create them")
		return nil
	}

	var mappings, queued int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+database.MappingsTable).Scan(&mappings); err != nil {
		return fmt.Errorf("failed to count mappings: %w", err)
	}
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+database.PendingTable+` WHERE synced_at IS NULL`).Scan(&queued); err != nil {
		return fmt.Errorf("failed to count queued changes: %w", err)
	}
	fmt.Printf("📊 Found %d mappings and %d unsynced changes\n", mappings, queued)
	return nil
}
