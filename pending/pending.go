// Package pending keeps mutations that could not reach the remote API and
// replays them later. A change stays pending until it is marked synced; it
// becomes a dead letter once it has failed MaxRetries times.
package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrNotFound          = errors.New("pending change not found")
	ErrUnsupportedMethod = errors.New("unsupported method")
)

// Defaults for draining.
const (
	DefaultLimit      = 50
	DefaultMaxRetries = 3
	DefaultBackoff    = time.Minute
	DefaultMaxBackoff = time.Hour
)

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Change is one queued mutation.
type Change struct {
	ID            int64
	EntityType    string
	EntityID      int64
	Action        Action
	Data          json.RawMessage
	Endpoint      string
	Method        string
	RetryCount    int
	SyncedAt      *time.Time
	ErrorMessage  string
	NextAttemptAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Pending reports whether the change still has to be sent.
func (c Change) Pending() bool {
	return c.SyncedAt == nil
}

// Dead reports whether the change has used up its retries.
func (c Change) Dead(maxRetries int) bool {
	return c.Pending() && c.RetryCount >= maxRetries
}

// Validate checks the fields Enqueue needs. The method is checked at replay.
func (c Change) Validate() error {
	switch {
	case c.EntityType == "":
		return errors.New("pending change: entity type required")
	case c.Endpoint == "":
		return errors.New("pending change: endpoint required")
	case c.Method == "":
		return errors.New("pending change: method required")
	}
	return nil
}

// CheckMethod rejects anything but POST, PUT and DELETE.
func CheckMethod(method string) error {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete:
		return nil
	}
	return fmt.Errorf("%w %q", ErrUnsupportedMethod, method)
}

// State selects changes in List.
type State string

const (
	StateAll     State = ""
	StatePending State = "pending"
	StateDead    State = "dead"
	StateSynced  State = "synced"
)

type ListFilter struct {
	State      State
	EntityType string
	MaxRetries int // splits pending from dead
	Limit      int
}

type Stats struct {
	Pending int64
	Dead    int64
	Synced  int64
	Oldest  *time.Time // oldest unsynced change
}

// Store persists pending changes. A Store schedules retries against its
// own clock, the database's for PgStore, so callers never pass times in.
type Store interface {
	// Enqueue stores c and fills in its ID and timestamps.
	Enqueue(ctx context.Context, c *Change) error
	// Due returns up to limit unsynced changes with fewer than maxRetries
	// failures whose next attempt has arrived, oldest first.
	Due(ctx context.Context, limit, maxRetries int) ([]Change, error)
	MarkSynced(ctx context.Context, id int64) error
	// MarkFailed increments the retry count and schedules the next attempt
	// delay from now.
	MarkFailed(ctx context.Context, id int64, message string, delay time.Duration) error
	Stats(ctx context.Context, maxRetries int) (Stats, error)
	List(ctx context.Context, f ListFilter) ([]Change, error)
	// Requeue clears the failures of an unsynced change so it is due now.
	Requeue(ctx context.Context, id int64) error
}

// Backoff is the wait before the next attempt after the given number of
// failures: base, 2*base, 4*base ... capped at max.
func Backoff(failures int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = DefaultBackoff
	}
	if max <= 0 {
		max = DefaultMaxBackoff
	}
	if failures < 1 {
		failures = 1
	}

	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
