package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ridoystarlord/dbdocsync/config"
	"github.com/ridoystarlord/dbdocsync/database"
	"github.com/ridoystarlord/dbdocsync/jobs"
	"github.com/ridoystarlord/dbdocsync/logging"
	"github.com/ridoystarlord/dbdocsync/mapping"
	"github.com/ridoystarlord/dbdocsync/orchestrator"
	"github.com/ridoystarlord/dbdocsync/pending"
	"github.com/ridoystarlord/dbdocsync/scheduler"
	"github.com/ridoystarlord/dbdocsync/session"
	"github.com/ridoystarlord/dbdocsync/store"
	"github.com/ridoystarlord/dbdocsync/transport"
)

// errBusy is returned when another run holds the lock.
var errBusy = errors.New("already running elsewhere")

// app holds everything a command needs, built from the loaded config.
type app struct {
	cfg      config.Config
	log      *slog.Logger
	pool     *pgxpool.Pool
	sess     *session.Remote
	client   *transport.HTTPClient
	mappings *mapping.PgStore
	pending  *pending.PgStore
	history  *jobs.PgHistory
	locker   *database.AdvisoryLocker
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// openApp connects to the database and makes sure the sync tables exist.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log := logging.New(cfg.Log)

	pool, err := database.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	if err := database.EnsureSyncTables(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	sess := session.FromConfig(cfg.Remote, log)
	return &app{
		cfg:      cfg,
		log:      log,
		pool:     pool,
		sess:     sess,
		client:   transport.NewHTTPClient(sess, cfg.Remote.Timeout),
		mappings: mapping.NewPgStore(pool),
		pending:  pending.NewPgStore(pool),
		history:  jobs.NewPgHistory(pool),
		locker:   database.NewAdvisoryLocker(pool),
	}, nil
}

func (a *app) Close() {
	a.pool.Close()
}

func (a *app) orchestrator() *orchestrator.Orchestrator {
	return orchestrator.New(store.NewPostgres(a.pool), a.mappings, a.client, a.sess, orchestrator.Options{
		Kinds:      orchestrator.DefaultKinds(a.cfg.Sync.BatchSize, a.cfg.Sync.DetailBatchSize),
		BatchDelay: a.cfg.Sync.BatchDelay,
		Logger:     a.log,
	})
}

func (a *app) drainer() *pending.Drainer {
	return pending.NewDrainer(a.pending, a.client, a.sess, pending.Options{
		Limit:      a.cfg.Drain.Limit,
		MaxRetries: a.cfg.Drain.MaxRetries,
		Backoff:    a.cfg.Drain.Backoff,
		MaxBackoff: a.cfg.Drain.MaxBackoff,
		Logger:     a.log,
	})
}

func (a *app) dispatcher() *pending.Dispatcher {
	return pending.NewDispatcher(a.pending, a.client, a.sess, a.log)
}

func (a *app) runner() *jobs.Runner {
	return jobs.NewRunner(jobs.Options{
		Timeout:  a.cfg.Sync.Timeout,
		Attempts: a.cfg.Sync.Attempts,
		History:  a.history,
		Logger:   a.log,
	})
}

func (a *app) scheduler() *scheduler.Scheduler {
	return scheduler.New(a.drainer(), scheduler.Options{
		Interval: a.cfg.Drain.Interval,
		Runner: jobs.NewRunner(jobs.Options{
			Timeout:  a.cfg.Sync.Timeout,
			Attempts: 1,
			History:  a.history,
			Logger:   a.log,
		}),
		Locker: a.locker,
		Logger: a.log,
	})
}

// runSync syncs one description through the job runner while holding its
// lock. The caller must not already hold the lock.
func (a *app) runSync(ctx context.Context, descriptionID int64) (*orchestrator.Report, error) {
	release, ok, err := a.locker.TryLock(ctx, orchestrator.LockName(descriptionID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("sync of description %d %w", descriptionID, errBusy)
	}
	defer release()

	return a.syncLocked(ctx, descriptionID)
}

func (a *app) syncLocked(ctx context.Context, descriptionID int64) (*orchestrator.Report, error) {
	orch := a.orchestrator()
	var report *orchestrator.Report
	_, err := a.runner().Run(ctx, jobs.Job{
		Name:    "sync",
		Subject: strconv.FormatInt(descriptionID, 10),
		Run: func(ctx context.Context) error {
			r, err := orch.Sync(ctx, descriptionID)
			report = r
			if errors.Is(err, store.ErrNotFound) {
				return jobs.Permanent(err)
			}
			return err
		},
	})
	return report, err
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q: must be a positive integer", s)
	}
	return id, nil
}
