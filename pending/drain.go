package pending

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ridoystarlord/dbdocsync/session"
	"github.com/ridoystarlord/dbdocsync/transport"
)

// Options tune draining. Zero values fall back to the package defaults.
type Options struct {
	Limit      int
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration
	Logger     *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.Backoff <= 0 {
		o.Backoff = DefaultBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = DefaultMaxBackoff
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// DrainResult counts what one Drain did.
type DrainResult struct {
	NotConnected bool
	Selected     int
	Synced       int
	Failed       int
	DeadLettered int
}

// Drainer replays due changes against the remote.
type Drainer struct {
	store  Store
	client transport.Client
	sess   session.Session
	opts   Options
}

func NewDrainer(store Store, client transport.Client, sess session.Session, opts Options) *Drainer {
	return &Drainer{store: store, client: client, sess: sess, opts: opts.withDefaults()}
}

// MaxRetries is the failure count at which a change stops being retried.
func (d *Drainer) MaxRetries() int {
	return d.opts.MaxRetries
}

// Drain replays up to Limit due changes, oldest first. A failed replay only
// affects its own change; store errors abort the drain. Without a connected
// session nothing is read or written.
func (d *Drainer) Drain(ctx context.Context) (*DrainResult, error) {
	log := d.opts.Logger
	res := &DrainResult{}

	if !d.sess.IsConnected() {
		res.NotConnected = true
		log.Info("remote session not connected, skipping drain")
		return res, nil
	}

	due, err := d.store.Due(ctx, d.opts.Limit, d.opts.MaxRetries)
	if err != nil {
		return res, err
	}
	res.Selected = len(due)
	if len(due) == 0 {
		log.Debug("no pending changes due")
		return res, nil
	}

	for _, c := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		_, sendErr := replay(ctx, d.client, c)
		if sendErr == nil {
			if err := d.store.MarkSynced(ctx, c.ID); err != nil {
				return res, err
			}
			res.Synced++
			continue
		}

		failures := c.RetryCount + 1
		wait := Backoff(failures, d.opts.Backoff, d.opts.MaxBackoff)
		if err := d.store.MarkFailed(ctx, c.ID, sendErr.Error(), wait); err != nil {
			return res, err
		}
		res.Failed++

		attrs := []any{"change", c.ID, "entity", c.EntityType, "entity_id", c.EntityID,
			"method", c.Method, "endpoint", c.Endpoint, "retry", failures, "error", sendErr}
		if failures >= d.opts.MaxRetries {
			res.DeadLettered++
			log.Warn("pending change gave up after max retries", attrs...)
		} else {
			log.Info("pending change failed, will retry", append(attrs, "retry_in", wait)...)
		}
	}

	log.Info("drain finished", "selected", res.Selected, "synced", res.Synced,
		"failed", res.Failed, "dead", res.DeadLettered)
	return res, nil
}

// replay sends c by its method. DELETE carries no body.
func replay(ctx context.Context, client transport.Client, c Change) (transport.Response, error) {
	if err := CheckMethod(c.Method); err != nil {
		return nil, err
	}

	var body any
	if len(c.Data) > 0 {
		body = c.Data
	}

	var (
		resp transport.Response
		err  error
	)
	switch c.Method {
	case http.MethodPost:
		resp, err = client.Post(ctx, c.Endpoint, body)
	case http.MethodPut:
		resp, err = client.Put(ctx, c.Endpoint, body)
	case http.MethodDelete:
		resp, err = client.Delete(ctx, c.Endpoint)
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", c.Method, c.Endpoint, err)
	}
	return resp, nil
}
