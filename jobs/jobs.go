// Package jobs runs sync work with a per-attempt timeout, a bounded number
// of attempts and a recorded history of every run.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/user"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	// ErrExhausted wraps the last failure once every attempt has been used.
	ErrExhausted = errors.New("job attempts exhausted")
	errPermanent = errors.New("permanent failure")
)

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", errPermanent, err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	return errors.Is(err, errPermanent)
}

// Job is one unit of work. Subject identifies what it acts on, e.g. a
// description id, and is stored with the run.
type Job struct {
	Name    string
	Subject string
	Run     func(ctx context.Context) error
}

type Options struct {
	Timeout  time.Duration // per attempt
	Attempts int
	Backoff  time.Duration // before the second attempt, doubled after
	History  History
	Sleep    func(ctx context.Context, d time.Duration) error
	Now      func() time.Time
	Logger   *slog.Logger
}

// Runner executes jobs.
type Runner struct {
	opts Options
}

func NewRunner(opts Options) *Runner {
	if opts.Timeout <= 0 {
		opts.Timeout = time.Hour
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 5 * time.Second
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{opts: opts}
}

// Run executes job until it succeeds, fails permanently, the parent context
// ends or the attempts run out. The run is recorded in the history either way.
func (r *Runner) Run(ctx context.Context, job Job) (Record, error) {
	rec := Record{
		ID:         ulid.Make().String(),
		Job:        job.Name,
		Subject:    job.Subject,
		StartedAt:  r.opts.Now(),
		ExecutedBy: currentUser(),
	}
	log := r.opts.Logger.With("job", job.Name, "subject", job.Subject, "run", rec.ID)

	err := r.attempt(ctx, job, &rec, log)

	rec.Duration = r.opts.Now().Sub(rec.StartedAt)
	if err != nil {
		rec.Status = StatusFailed
		rec.ErrorMessage = err.Error()
		log.Error("job failed", "attempts", rec.Attempts, "duration", rec.Duration.Round(time.Millisecond), "error", err)
	} else {
		rec.Status = StatusSuccess
		log.Info("job finished", "attempts", rec.Attempts, "duration", rec.Duration.Round(time.Millisecond))
	}

	if r.opts.History != nil {
		// the parent context may already be done; the record still matters
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if herr := r.opts.History.Save(saveCtx, rec); herr != nil {
			log.Warn("could not record job run", "error", herr)
		}
		cancel()
	}
	return rec, err
}

func (r *Runner) attempt(ctx context.Context, job Job, rec *Record, log *slog.Logger) error {
	var last error
	wait := r.opts.Backoff

	for rec.Attempts < r.opts.Attempts {
		rec.Attempts++

		attemptCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
		last = job.Run(attemptCtx)
		cancel()

		switch {
		case last == nil:
			return nil
		case ctx.Err() != nil:
			return last
		case IsPermanent(last):
			return last
		case rec.Attempts >= r.opts.Attempts:
			return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, rec.Attempts, last)
		}

		log.Warn("job attempt failed, retrying", "attempt", rec.Attempts, "wait", wait, "error", last)
		if err := r.opts.Sleep(ctx, wait); err != nil {
			return last
		}
		wait *= 2
	}
	return last
}

func currentUser() string {
	u, err := user.Current()
	if err != nil {
		return "unknown"
	}
	return u.Username
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
