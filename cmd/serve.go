package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ridoystarlord/dbdocsync/database"
	"github.com/ridoystarlord/dbdocsync/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveDrain bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP sync trigger API",
	Long: `Serve the HTTP trigger API:

  POST /sync/{description}   start a sync (202, or 409 while one is running)
  GET  /sync/{description}   whether a sync is running
  POST /changes              send a change now or queue it
  GET  /pending/stats        queue counters
  GET  /healthz              database and session health

Examples:
  dbdocsync serve
  dbdocsync serve --addr :9000 --drain
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		addr := viper.GetString("server.addr")
		if addr == "" {
			addr = a.cfg.Server.Addr
		}

		h := server.New(ctx, server.Config{
			Sync: func(ctx context.Context, id int64) error {
				_, err := a.syncLocked(ctx, id)
				return err
			},
			Locker:     a.locker,
			Changes:    a.dispatcher(),
			Pending:    a.pending,
			MaxRetries: a.cfg.Drain.MaxRetries,
			Health: func(ctx context.Context) error {
				return checkHealth(ctx, a)
			},
			Logger: a.log,
		})

		if serveDrain {
			s := a.scheduler()
			if err := s.Start(ctx); err != nil {
				return err
			}
			defer s.Stop()
		}

		srv := &http.Server{Addr: addr, Handler: h.Router(), ReadHeaderTimeout: 10 * time.Second}
		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.ListenAndServe()
		}()
		fmt.Printf("🚀 Serving sync triggers on %s\n", addr)
		fmt.Println("Press Ctrl+C to stop the server")

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("server shutdown", "error", err)
		}
		h.Wait()
		fmt.Println("👋 Server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Address to listen on (default: server.addr)")
	viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	serveCmd.Flags().BoolVar(&serveDrain, "drain", false, "Also drain queued changes every drain.interval")
}

func checkHealth(ctx context.Context, a *app) error {
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	ok, err := database.SyncTablesExist(ctx, a.pool)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("sync tables missing")
	}
	return nil
}
