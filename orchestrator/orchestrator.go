// Package orchestrator pushes one database description and everything under
// it to the remote API in dependency order: the owning project, the
// description itself, then tables, views, functions, procedures and
// triggers with their details.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ridoystarlord/dbdocsync/chunk"
	"github.com/ridoystarlord/dbdocsync/mapping"
	"github.com/ridoystarlord/dbdocsync/session"
	"github.com/ridoystarlord/dbdocsync/store"
	"github.com/ridoystarlord/dbdocsync/transport"
)

// Phase names that are not kinds.
const (
	PhaseProjectParent = "project-parent"
	PhaseProject       = "project"
)

// Options tune an Orchestrator. Zero values fall back to defaults.
type Options struct {
	Kinds      []Kind
	BatchDelay time.Duration
	Sleep      func(ctx context.Context, d time.Duration) error
	Logger     *slog.Logger
}

// Orchestrator runs description syncs. It holds no per-run state and is
// safe to share; callers keep one description from running twice at once.
type Orchestrator struct {
	src      store.Source
	mappings mapping.Store
	client   transport.Client
	sess     session.Session
	kinds    []Kind
	delay    time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	log      *slog.Logger
}

func New(src store.Source, mappings mapping.Store, client transport.Client, sess session.Session, opts Options) *Orchestrator {
	o := &Orchestrator{
		src:      src,
		mappings: mappings,
		client:   client,
		sess:     sess,
		kinds:    opts.Kinds,
		delay:    opts.BatchDelay,
		sleep:    opts.Sleep,
		log:      opts.Logger,
	}
	if o.kinds == nil {
		o.kinds = DefaultKinds(chunk.ParentPageSize, chunk.DetailPageSize)
	}
	if o.sleep == nil {
		o.sleep = sleepContext
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return o
}

// Kinds returns the kinds in sync order.
func (o *Orchestrator) Kinds() []Kind {
	return o.kinds
}

// Sync pushes description descriptionID. A disconnected session yields a
// report marked SkipNotConnected and no error. Project-parent failures are
// logged and absorbed; any other push failure aborts with a *SyncError.
func (o *Orchestrator) Sync(ctx context.Context, descriptionID int64) (*Report, error) {
	report := &Report{DescriptionID: descriptionID, StartedAt: time.Now()}
	defer func() { report.FinishedAt = time.Now() }()

	log := o.log.With("description", descriptionID)

	if !o.sess.IsConnected() {
		report.Skipped = &Skip{Reason: SkipNotConnected}
		log.Info("remote session not connected, skipping sync")
		return report, nil
	}

	desc, err := o.src.Find(ctx, DescriptionsTable, descriptionID)
	if err != nil {
		return report, &SyncError{Phase: PhaseProject, Err: err}
	}

	if err := o.syncProjectParent(ctx, desc, report); err != nil {
		log.Warn("project parent sync failed, continuing", "error", err)
	}

	if err := o.syncRoot(ctx, desc, report); err != nil {
		return report, err
	}

	for _, k := range o.kinds {
		if err := o.syncKind(ctx, k, descriptionID, report); err != nil {
			return report, err
		}
	}

	sent, mapped, skipped := report.Totals()
	log.Info("sync complete", "sent", sent, "mapped", mapped, "skipped", skipped,
		"requests", report.Requests, "duration", time.Since(report.StartedAt).Round(time.Millisecond))
	return report, nil
}

func (o *Orchestrator) syncProjectParent(ctx context.Context, desc chunk.Row, report *Report) error {
	res := report.phase(PhaseProjectParent)

	projectID, ok := desc.Int(ProjectFK)
	if !ok {
		res.skip(SkipParentMissing, 0)
		return nil
	}
	res.Total = 1

	if _, ok, err := o.mappings.RemoteID(ctx, mapping.Project, projectID); err != nil {
		return err
	} else if ok {
		res.skip(SkipAlreadyMapped, 0)
		return nil
	}

	project, err := o.src.Find(ctx, ProjectsTable, projectID)
	if errors.Is(err, store.ErrNotFound) {
		res.skip(SkipParentMissing, projectID)
		return nil
	}
	if err != nil {
		return err
	}

	report.Requests++
	resp, err := o.client.Post(ctx, ProjectParentEndpoint, payload(project, "", 0))
	if err != nil {
		return err
	}
	res.Sent = 1

	remoteID, ok := rootRemoteID(resp)
	if !ok {
		return fmt.Errorf("project %d: response carried no remote id", projectID)
	}
	if err := o.mappings.Save(ctx, mapping.Project, projectID, remoteID); err != nil {
		return err
	}
	res.Mapped = 1
	return nil
}

func (o *Orchestrator) syncRoot(ctx context.Context, desc chunk.Row, report *Report) error {
	res := report.phase(PhaseProject)
	res.Total = 1
	id := desc.ID()

	if _, ok, err := o.mappings.RemoteID(ctx, mapping.DBDescription, id); err != nil {
		return &SyncError{Phase: PhaseProject, Err: err}
	} else if ok {
		res.skip(SkipAlreadyMapped, 0)
		return nil
	}

	body := payload(desc, "", 0)
	if projectID, ok := desc.Int(ProjectFK); ok {
		remote, mapped, err := o.mappings.RemoteID(ctx, mapping.Project, projectID)
		if err != nil {
			return &SyncError{Phase: PhaseProject, Err: err}
		}
		switch {
		case mapped:
			body[ProjectFK] = remote
		case o.projectExists(ctx, projectID):
			// the description waits until its project has a remote id
			res.skip(SkipParentUnmapped, projectID)
			o.log.Warn("project has no remote id yet, description not sent",
				"description", id, "project", projectID)
			return nil
		default:
			body[ProjectFK] = nil
		}
	}

	report.Requests++
	resp, err := o.client.Post(ctx, ProjectEndpoint, body)
	if err != nil {
		return &SyncError{Phase: PhaseProject, Err: err}
	}
	res.Sent = 1

	remoteID, ok := rootRemoteID(resp)
	if !ok {
		return &SyncError{Phase: PhaseProject, Err: errors.New("response carried no remote id")}
	}
	if err := o.mappings.Save(ctx, mapping.DBDescription, id, remoteID); err != nil {
		return &SyncError{Phase: PhaseProject, Err: err}
	}
	res.Mapped = 1
	return nil
}

// projectExists reports whether the local project row is there. Lookup
// errors count as present so the description waits for a later run.
func (o *Orchestrator) projectExists(ctx context.Context, projectID int64) bool {
	_, err := o.src.Find(ctx, ProjectsTable, projectID)
	return !errors.Is(err, store.ErrNotFound)
}

// syncKind is the one routine every kind goes through.
func (o *Orchestrator) syncKind(ctx context.Context, k Kind, descriptionID int64, report *Report) error {
	res := report.phase(k.Name)
	log := o.log.With("description", descriptionID, "phase", k.Name)

	parentRemote, ok, err := o.mappings.RemoteID(ctx, mapping.DBDescription, descriptionID)
	if err != nil {
		return &SyncError{Phase: k.Name, Err: err}
	}
	if !ok {
		res.skip(SkipParentUnmapped, 0)
		log.Warn("description has no remote id, skipping")
		return nil
	}

	filter := store.Filter{Table: k.Table, Column: k.ParentFK, Values: []int64{descriptionID}}
	total, err := o.src.Count(ctx, filter)
	if err != nil {
		return &SyncError{Phase: k.Name, Err: err}
	}
	res.Total = total
	if total == 0 {
		res.skip(SkipNoRows, 0)
		log.Info("nothing to sync")
		return nil
	}

	_, err = chunk.EachLogged(ctx, o.src.Pager(filter), k.PageSize, log, func(page []chunk.Row) error {
		items := make([]map[string]any, len(page))
		sent := make(map[int64]bool, len(page))
		for i, row := range page {
			items[i] = payload(row, k.ParentFK, parentRemote)
			sent[row.ID()] = true
		}

		report.Requests++
		resp, err := o.client.Post(ctx, k.Endpoint, map[string]any{k.PayloadKey: items})
		if err != nil {
			return o.pageError(k.Name, res, err, log)
		}
		res.Pages++
		res.Sent += len(page)

		mapped, err := o.saveResults(ctx, k.MappingKind, resp, sent)
		res.Mapped += mapped
		if err != nil {
			return o.pageError(k.Name, res, err, log)
		}

		log.Info("batch sent", "page", res.Pages, "rows", len(page), "mapped", mapped,
			"progress", fmt.Sprintf("%.0f%%", res.Percent()))
		return o.sleep(ctx, o.delay)
	})
	if err != nil {
		return asSyncError(k.Name, res, err)
	}

	if len(k.Details) == 0 {
		return nil
	}
	parentIDs, err := o.src.IDs(ctx, filter)
	if err != nil {
		return &SyncError{Phase: k.Name, Err: err}
	}
	for _, d := range k.Details {
		if err := o.syncDetail(ctx, k, d, parentIDs, report); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) syncDetail(ctx context.Context, k Kind, d Detail, parentIDs []int64, report *Report) error {
	res := report.phase(d.Name)
	log := o.log.With("phase", d.Name)

	if len(parentIDs) == 0 {
		res.skip(SkipNoRows, 0)
		return nil
	}

	filter := store.Filter{Table: d.Table, Column: d.ParentFK, Values: parentIDs}
	total, err := o.src.Count(ctx, filter)
	if err != nil {
		return &SyncError{Phase: d.Name, Err: err}
	}
	res.Total = total
	if total == 0 {
		res.skip(SkipNoRows, 0)
		log.Info("nothing to sync")
		return nil
	}

	remotes := make(map[int64]int64)
	lookup := func(localID int64) (int64, bool, error) {
		if remote, ok := remotes[localID]; ok {
			return remote, true, nil
		}
		remote, ok, err := o.mappings.RemoteID(ctx, k.MappingKind, localID)
		if err != nil || !ok {
			return 0, false, err
		}
		remotes[localID] = remote
		return remote, true, nil
	}

	_, err = chunk.EachLogged(ctx, o.src.Pager(filter), d.PageSize, log, func(page []chunk.Row) error {
		items := make([]map[string]any, 0, len(page))
		for _, row := range page {
			fk, _ := row.Int(d.ParentFK)
			remote, ok, err := lookup(fk)
			if err != nil {
				return err
			}
			if !ok {
				res.skip(SkipParentUnmapped, row.ID())
				log.Warn("parent has no remote id, row not sent", "row", row.ID(), "parent", fk)
				continue
			}
			items = append(items, payload(row, d.ParentFK, remote))
		}
		if len(items) == 0 {
			return nil
		}

		report.Requests++
		if _, err := o.client.Post(ctx, d.Endpoint, map[string]any{d.PayloadKey: items}); err != nil {
			return o.pageError(d.Name, res, err, log)
		}
		res.Pages++
		res.Sent += len(items)

		log.Info("batch sent", "page", res.Pages, "rows", len(items),
			"progress", fmt.Sprintf("%.0f%%", res.Percent()))
		return o.sleep(ctx, o.delay)
	})
	if err != nil {
		return asSyncError(d.Name, res, err)
	}
	return nil
}

// saveResults records a mapping for every successful entry of a batch
// response. Entries without both ids, or for rows not in sent, are ignored.
func (o *Orchestrator) saveResults(ctx context.Context, entityType string, resp transport.Response, sent map[int64]bool) (int, error) {
	results, _ := resp["results"].([]any)
	saved := 0
	for _, r := range results {
		entry, ok := r.(map[string]any)
		if !ok {
			continue
		}
		if success, _ := entry["success"].(bool); !success {
			continue
		}
		localID, ok := chunk.AsInt(entry["local_id"])
		if !ok {
			continue
		}
		if !sent[localID] {
			o.log.Warn("result for a row not in the batch ignored", "mapping", entityType, "local_id", localID)
			continue
		}
		remoteID, ok := chunk.AsInt(entry["remote_id"])
		if !ok {
			continue
		}
		if err := o.mappings.Save(ctx, entityType, localID, remoteID); err != nil {
			return saved, err
		}
		saved++
	}
	return saved, nil
}

func (o *Orchestrator) pageError(phase string, res *PhaseResult, err error, log *slog.Logger) error {
	log.Error("batch failed", "page", res.Pages+1, "sent", res.Sent, "total", res.Total,
		"progress", fmt.Sprintf("%.0f%%", res.Percent()), "error", err)
	return &SyncError{Phase: phase, Page: res.Pages + 1, Sent: res.Sent, Total: res.Total, Err: err}
}

func asSyncError(phase string, res *PhaseResult, err error) error {
	var se *SyncError
	if errors.As(err, &se) {
		return se
	}
	return &SyncError{Phase: phase, Page: res.Pages + 1, Sent: res.Sent, Total: res.Total, Err: err}
}

// payload copies row without its id, adds local_id and, when fk is set,
// replaces that column with the parent's remote id.
func payload(row chunk.Row, fk string, parentRemote int64) map[string]any {
	out := make(map[string]any, len(row)+1)
	for col, v := range row {
		if col == "id" {
			continue
		}
		out[col] = v
	}
	out["local_id"] = row.ID()
	if fk != "" {
		out[fk] = parentRemote
	}
	return out
}

func rootRemoteID(resp transport.Response) (int64, bool) {
	if id, ok := chunk.AsInt(resp["remote_id"]); ok {
		return id, true
	}
	return chunk.AsInt(resp["id"])
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
