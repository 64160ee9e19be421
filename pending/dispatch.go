package pending

import (
	"context"
	"log/slog"

	"github.com/ridoystarlord/dbdocsync/session"
	"github.com/ridoystarlord/dbdocsync/transport"
)

// SubmitResult says what happened to a submitted change.
type SubmitResult struct {
	Sent     bool
	Queued   bool
	ChangeID int64              // set when queued
	Response transport.Response // set when sent
	Error    string             // the send failure that caused queueing
}

// Dispatcher sends a mutation right away when it can and queues it when it
// cannot.
type Dispatcher struct {
	store  Store
	client transport.Client
	sess   session.Session
	log    *slog.Logger
}

func NewDispatcher(store Store, client transport.Client, sess session.Session, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{store: store, client: client, sess: sess, log: log}
}

// Submit tries c once. A disconnected session or a failed send queues c for
// the drain. Only invalid changes and store failures are returned as errors.
func (d *Dispatcher) Submit(ctx context.Context, c Change) (*SubmitResult, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := CheckMethod(c.Method); err != nil {
		return nil, err
	}

	res := &SubmitResult{}
	if d.sess.IsConnected() {
		resp, err := replay(ctx, d.client, c)
		if err == nil {
			res.Sent = true
			res.Response = resp
			return res, nil
		}
		res.Error = err.Error()
		c.ErrorMessage = err.Error()
		d.log.Warn("send failed, queueing change", "entity", c.EntityType, "entity_id", c.EntityID, "error", err)
	}

	if err := d.store.Enqueue(ctx, &c); err != nil {
		return res, err
	}
	res.Queued = true
	res.ChangeID = c.ID
	d.log.Info("change queued", "change", c.ID, "entity", c.EntityType, "entity_id", c.EntityID, "method", c.Method)
	return res, nil
}
