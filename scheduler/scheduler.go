// Package scheduler drains the pending-change queue on a fixed interval.
// At most one drain runs per process, and the database lock keeps it to one
// across every process sharing the database.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ridoystarlord/dbdocsync/database"
	"github.com/ridoystarlord/dbdocsync/jobs"
	"github.com/ridoystarlord/dbdocsync/pending"
)

// DrainLock is the lock name every drain takes.
const DrainLock = "pending-drain"

// Drainer is satisfied by *pending.Drainer.
type Drainer interface {
	Drain(ctx context.Context) (*pending.DrainResult, error)
}

type Options struct {
	Interval time.Duration
	Runner   *jobs.Runner
	Locker   database.Locker
	Logger   *slog.Logger
}

// Status is a snapshot of the scheduler.
type Status struct {
	Running    bool
	InProgress bool
	Interval   time.Duration
	Runs       int
	Skipped    int
	LastRun    time.Time
	LastResult *pending.DrainResult
	LastError  string
}

type Scheduler struct {
	drainer  Drainer
	runner   *jobs.Runner
	locker   database.Locker
	interval time.Duration
	logger   *slog.Logger

	mu         sync.Mutex
	running    bool
	inProgress bool
	runs       int
	skipped    int
	lastRun    time.Time
	lastResult *pending.DrainResult
	lastErr    error
	stopCh     chan struct{}
	done       chan struct{}
}

func New(d Drainer, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Runner == nil {
		opts.Runner = jobs.NewRunner(jobs.Options{Attempts: 1, Logger: opts.Logger})
	}
	if opts.Locker == nil {
		opts.Locker = database.NewLocalLocker()
	}
	return &Scheduler{
		drainer:  d,
		runner:   opts.Runner,
		locker:   opts.Locker,
		interval: opts.Interval,
		logger:   opts.Logger,
	}
}

// Start drains once right away and then on every tick until Stop or ctx ends.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	stopCh, done := s.stopCh, s.done
	s.mu.Unlock()

	s.logger.Info("scheduler started", "interval", s.interval)

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.TriggerDrain(ctx)
		for {
			select {
			case <-ticker.C:
				s.TriggerDrain(ctx)
			case <-stopCh:
				s.logger.Info("scheduler stopped")
				return
			case <-ctx.Done():
				s.logger.Info("scheduler context cancelled")
				return
			}
		}
	}()
	return nil
}

// Stop ends the loop and waits for a drain in progress to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running || s.stopCh == nil {
		done := s.done
		s.mu.Unlock()
		if done != nil {
			<-done
		}
		return
	}
	close(s.stopCh)
	s.stopCh = nil
	done := s.done
	s.mu.Unlock()
	<-done
}

// TriggerDrain runs one drain now unless one is already running here or in
// another process. It reports whether a drain ran.
func (s *Scheduler) TriggerDrain(ctx context.Context) bool {
	s.mu.Lock()
	if s.inProgress {
		s.skipped++
		s.mu.Unlock()
		s.logger.Debug("drain already in progress, skipping")
		return false
	}
	s.inProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inProgress = false
		s.mu.Unlock()
	}()

	release, ok, err := s.locker.TryLock(ctx, DrainLock)
	if err != nil {
		s.logger.Error("could not take drain lock", "error", err)
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		return false
	}
	if !ok {
		s.mu.Lock()
		s.skipped++
		s.mu.Unlock()
		s.logger.Info("drain running in another process, skipping")
		return false
	}
	defer release()

	var result *pending.DrainResult
	_, err = s.runner.Run(ctx, jobs.Job{Name: "drain", Run: func(ctx context.Context) error {
		res, err := s.drainer.Drain(ctx)
		result = res
		return err
	}})
	s.record(result, err)
	return true
}

func (s *Scheduler) record(res *pending.DrainResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs++
	s.lastRun = time.Now()
	s.lastResult = res
	s.lastErr = err
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:    s.running,
		InProgress: s.inProgress,
		Interval:   s.interval,
		Runs:       s.runs,
		Skipped:    s.skipped,
		LastRun:    s.lastRun,
		LastResult: s.lastResult,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}
