package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ridoystarlord/dbdocsync/chunk"
	"github.com/ridoystarlord/dbdocsync/logging"
	"github.com/ridoystarlord/dbdocsync/mapping"
	"github.com/ridoystarlord/dbdocsync/session"
	"github.com/ridoystarlord/dbdocsync/store"
	"github.com/ridoystarlord/dbdocsync/transport"
	"github.com/ridoystarlord/dbdocsync/transport/transporttest"
)

const (
	tablesEndpoint  = "/api/sync/tables/batch"
	columnsEndpoint = "/api/sync/columns/batch"
)

type fixture struct {
	src      *store.Memory
	mappings *mapping.MemoryStore
	client   *transporttest.Fake
	sleeps   int
	orch     *Orchestrator
}

// newFixture seeds project 1, description 7, 120 tables and 250 columns.
func newFixture(t *testing.T, sess session.Session, h transporttest.HandlerFunc) *fixture {
	t.Helper()

	src := store.NewMemory()
	src.Insert(ProjectsTable, chunk.Row{"id": int64(1), "name": "acme"})
	src.Insert(DescriptionsTable, chunk.Row{"id": int64(7), "project_id": int64(1), "name": "main"})
	for i := int64(1); i <= 120; i++ {
		src.Insert("table_descriptions", chunk.Row{"id": i, "dbid": int64(7), "table_name": "t"})
	}
	for i := int64(1); i <= 250; i++ {
		src.Insert("table_structures", chunk.Row{"id": i, "id_table": i%120 + 1, "column_name": "c"})
	}

	if h == nil {
		h = remoteAPI(func(int64) bool { return true })
	}
	f := &fixture{
		src:      src,
		mappings: mapping.NewMemoryStore(),
		client:   transporttest.New(h),
	}
	f.orch = New(src, f.mappings, f.client, sess, Options{
		BatchDelay: 500 * time.Millisecond,
		Sleep: func(ctx context.Context, d time.Duration) error {
			f.sleeps++
			return nil
		},
		Logger: logging.Discard(),
	})
	return f
}

// remoteAPI answers like the remote: roots get fixed ids, batch rows get
// local+1000 when accept says so.
func remoteAPI(accept func(localID int64) bool) transporttest.HandlerFunc {
	return func(method, path string, body any) (transport.Response, error) {
		switch path {
		case ProjectParentEndpoint:
			return transport.Response{"remote_id": transporttest.Number(9001)}, nil
		case ProjectEndpoint:
			return transport.Response{"id": transporttest.Number(7000)}, nil
		case tablesEndpoint:
			return transporttest.BatchResults(body, "tables", func(local int64) (int64, bool) {
				return local + 1000, accept(local)
			}), nil
		}
		return transport.Response{}, nil
	}
}

var connected = session.Static{Connected: true, Identity: session.Identity{Tenant: "acme"}}

func TestSyncPushesInDependencyOrder(t *testing.T) {
	f := newFixture(t, connected, nil)

	report, err := f.orch.Sync(context.Background(), 7)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	var paths []string
	for _, c := range f.client.Calls() {
		paths = append(paths, c.Path)
	}
	want := []string{
		ProjectParentEndpoint, ProjectEndpoint,
		tablesEndpoint, tablesEndpoint, tablesEndpoint,
		columnsEndpoint, columnsEndpoint, columnsEndpoint,
	}
	if strings.Join(paths, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected call order:\n got %v\nwant %v", paths, want)
	}

	if remote, ok, _ := f.mappings.RemoteID(context.Background(), mapping.DBDescription, 7); !ok || remote != 7000 {
		t.Errorf("expected description mapped to 7000, got %d %v", remote, ok)
	}
	if remote, ok, _ := f.mappings.RemoteID(context.Background(), mapping.Project, 1); !ok || remote != 9001 {
		t.Errorf("expected project mapped to 9001, got %d %v", remote, ok)
	}
	if n := f.mappings.Len(); n != 122 {
		t.Errorf("expected 122 mappings, got %d", n)
	}

	tables := report.Phase("tables")
	if tables.Total != 120 || tables.Sent != 120 || tables.Mapped != 120 || tables.Pages != 3 {
		t.Errorf("unexpected tables result %+v", tables)
	}
	if views := report.Phase("views"); len(views.Skipped) != 1 || views.Skipped[0].Reason != SkipNoRows {
		t.Errorf("expected views skipped for no rows, got %+v", views)
	}
	if f.sleeps != 6 {
		t.Errorf("expected a delay after each of 6 pages, got %d", f.sleeps)
	}
	if report.Requests != 8 {
		t.Errorf("expected 8 requests, got %d", report.Requests)
	}
}

func TestSyncRemapsPayloads(t *testing.T) {
	f := newFixture(t, connected, nil)
	if _, err := f.orch.Sync(context.Background(), 7); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	calls := f.client.Calls()
	root := calls[1].Body.(map[string]any)
	if root["project_id"] != int64(9001) || root["local_id"] != int64(7) {
		t.Errorf("root payload not remapped: %v", root)
	}
	if _, ok := root["id"]; ok {
		t.Error("root payload must not carry the local id column")
	}

	tables := transporttest.Items(calls[2].Body, "tables")
	if len(tables) != 50 {
		t.Fatalf("expected 50 tables in first page, got %d", len(tables))
	}
	if tables[0]["dbid"] != int64(7000) || tables[0]["local_id"] != int64(1) {
		t.Errorf("table payload not remapped: %v", tables[0])
	}

	columns := transporttest.Items(calls[5].Body, "columns")
	if len(columns) != 100 {
		t.Fatalf("expected 100 columns in first page, got %d", len(columns))
	}
	// column 1 belongs to table 2
	if columns[0]["id_table"] != int64(1002) {
		t.Errorf("column parent not remapped: %v", columns[0])
	}
}

func TestSecondRunSkipsMappedRoots(t *testing.T) {
	f := newFixture(t, connected, nil)
	ctx := context.Background()

	if _, err := f.orch.Sync(ctx, 7); err != nil {
		t.Fatalf("first sync failed: %v", err)
	}
	f.client.Reset()

	report, err := f.orch.Sync(ctx, 7)
	if err != nil {
		t.Fatalf("second sync failed: %v", err)
	}
	if n := f.client.CallsTo(ProjectEndpoint) + f.client.CallsTo(ProjectParentEndpoint); n != 0 {
		t.Errorf("expected no root calls on rerun, got %d", n)
	}
	if n := f.client.CallsTo(tablesEndpoint); n != 3 {
		t.Errorf("expected table batches resent, got %d", n)
	}
	if n := f.client.CallsTo(columnsEndpoint); n != 3 {
		t.Errorf("expected column batches resent, got %d", n)
	}
	if p := report.Phase(PhaseProject); len(p.Skipped) != 1 || p.Skipped[0].Reason != SkipAlreadyMapped {
		t.Errorf("expected root skipped as mapped, got %+v", p)
	}
	if n := f.mappings.Len(); n != 122 {
		t.Errorf("mappings should be upserted, not duplicated: %d", n)
	}
}

func TestTableFailureSendsNoColumns(t *testing.T) {
	boom := errors.New("connection reset")
	accept := remoteAPI(func(int64) bool { return true })
	f := newFixture(t, connected, func(method, path string, body any) (transport.Response, error) {
		if path == tablesEndpoint {
			return nil, boom
		}
		return accept(method, path, body)
	})

	_, err := f.orch.Sync(context.Background(), 7)
	var se *SyncError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SyncError, got %v", err)
	}
	if se.Phase != "tables" || se.Page != 1 || !errors.Is(err, boom) {
		t.Errorf("unexpected error detail %+v", se)
	}
	if n := f.client.CallsTo(columnsEndpoint); n != 0 {
		t.Errorf("expected no column calls after table failure, got %d", n)
	}
	if f.client.CallsTo("/api/sync/views/batch") != 0 {
		t.Error("later kinds must not run after a failure")
	}
}

func TestUnmappedTablesLeaveColumnsSkipped(t *testing.T) {
	f := newFixture(t, connected, remoteAPI(func(int64) bool { return false }))

	report, err := f.orch.Sync(context.Background(), 7)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if n := f.client.CallsTo(columnsEndpoint); n != 0 {
		t.Errorf("expected no column calls, got %d", n)
	}
	columns := report.Phase("columns")
	if len(columns.Skipped) != 250 {
		t.Fatalf("expected 250 skipped columns, got %d", len(columns.Skipped))
	}
	for _, s := range columns.Skipped {
		if s.Reason != SkipParentUnmapped {
			t.Fatalf("unexpected skip reason %s", s.Reason)
		}
	}
	if report.Phase("tables").Mapped != 0 {
		t.Error("unsuccessful results must not be mapped")
	}
}

func TestPartiallyMappedTables(t *testing.T) {
	f := newFixture(t, connected, remoteAPI(func(local int64) bool { return local%2 == 1 }))

	report, err := f.orch.Sync(context.Background(), 7)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	sent := 0
	for _, c := range f.client.Calls() {
		if c.Path != columnsEndpoint {
			continue
		}
		for _, item := range transporttest.Items(c.Body, "columns") {
			if item["id_table"].(int64)%2 != 1 {
				t.Fatalf("column sent under unmapped table: %v", item)
			}
			sent++
		}
	}
	columns := report.Phase("columns")
	if sent != columns.Sent || sent+len(columns.Skipped) != 250 {
		t.Errorf("sent %d skipped %d, want 250 total", sent, len(columns.Skipped))
	}
}

func TestDisconnectedSessionIsANoop(t *testing.T) {
	f := newFixture(t, session.Static{Connected: false}, nil)

	report, err := f.orch.Sync(context.Background(), 7)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if report.Skipped == nil || report.Skipped.Reason != SkipNotConnected {
		t.Errorf("expected not-connected report, got %+v", report.Skipped)
	}
	if n := len(f.client.Calls()); n != 0 {
		t.Errorf("expected zero transport calls, got %d", n)
	}
	if n := f.mappings.Len(); n != 0 {
		t.Errorf("expected zero mapping writes, got %d", n)
	}
}

func TestRootFailurePropagates(t *testing.T) {
	f := newFixture(t, connected, func(method, path string, body any) (transport.Response, error) {
		if path == ProjectEndpoint {
			return nil, &transport.StatusError{Method: method, Path: path, Code: 500}
		}
		return transport.Response{"remote_id": transporttest.Number(9001)}, nil
	})

	_, err := f.orch.Sync(context.Background(), 7)
	var se *SyncError
	if !errors.As(err, &se) || se.Phase != PhaseProject {
		t.Fatalf("expected project SyncError, got %v", err)
	}
	if !transport.IsStatus(err, 500) {
		t.Errorf("expected status 500 to be reachable, got %v", err)
	}
	if f.client.CallsTo(tablesEndpoint) != 0 {
		t.Error("tables must not be pushed without a root")
	}
}

func TestDescriptionWaitsForItsProject(t *testing.T) {
	parentDown := true
	accept := remoteAPI(func(int64) bool { return true })
	f := newFixture(t, connected, func(method, path string, body any) (transport.Response, error) {
		if path == ProjectParentEndpoint && parentDown {
			return nil, errors.New("timeout")
		}
		return accept(method, path, body)
	})
	ctx := context.Background()

	report, err := f.orch.Sync(ctx, 7)
	if err != nil {
		t.Fatalf("project parent failure must not abort: %v", err)
	}
	if n := f.client.CallsTo(ProjectEndpoint) + f.client.CallsTo(tablesEndpoint); n != 0 {
		t.Errorf("nothing may be pushed before the project has a remote id, got %d calls", n)
	}
	if _, ok, _ := f.mappings.RemoteID(ctx, mapping.DBDescription, 7); ok {
		t.Error("description must stay unmapped")
	}
	if p := report.Phase(PhaseProject); len(p.Skipped) != 1 || p.Skipped[0].Reason != SkipParentUnmapped || p.Skipped[0].LocalID != 1 {
		t.Errorf("expected root skipped for its unmapped project, got %+v", p)
	}
	if p := report.Phase("tables"); len(p.Skipped) != 1 || p.Skipped[0].Reason != SkipParentUnmapped {
		t.Errorf("expected tables skipped, got %+v", p)
	}

	parentDown = false
	f.client.Reset()
	if _, err := f.orch.Sync(ctx, 7); err != nil {
		t.Fatalf("second run: %v", err)
	}
	calls := f.client.Calls()
	if len(calls) < 2 || calls[0].Path != ProjectParentEndpoint || calls[1].Path != ProjectEndpoint {
		t.Fatalf("expected project then description on the second run, got %+v", calls)
	}
	if root := calls[1].Body.(map[string]any); root["project_id"] != int64(9001) {
		t.Errorf("description must carry the project's remote id, got %v", root["project_id"])
	}
	if remote, ok, _ := f.mappings.RemoteID(ctx, mapping.DBDescription, 7); !ok || remote != 7000 {
		t.Errorf("expected description mapped to 7000, got %d %v", remote, ok)
	}
	if f.client.CallsTo(tablesEndpoint) != 3 {
		t.Error("expected tables to be pushed once the root is mapped")
	}
}

func TestDescriptionWithMissingProjectSendsNoProject(t *testing.T) {
	f := newFixture(t, connected, nil)
	f.src.Insert(DescriptionsTable, chunk.Row{"id": int64(8), "project_id": int64(55), "name": "orphan"})

	report, err := f.orch.Sync(context.Background(), 8)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if n := f.client.CallsTo(ProjectParentEndpoint); n != 0 {
		t.Errorf("missing project must not be pushed, got %d calls", n)
	}
	calls := f.client.Calls()
	if len(calls) != 1 || calls[0].Path != ProjectEndpoint {
		t.Fatalf("expected only the description push, got %+v", calls)
	}
	root := calls[0].Body.(map[string]any)
	if v, ok := root["project_id"]; !ok || v != nil {
		t.Errorf("local project id must not be sent, got %v", v)
	}
	if p := report.Phase(PhaseProjectParent); len(p.Skipped) != 1 || p.Skipped[0].Reason != SkipParentMissing {
		t.Errorf("expected parent skipped as missing, got %+v", p)
	}
}

func TestBatchResultsOnlyMapSentRows(t *testing.T) {
	f := newFixture(t, connected, func(method, path string, body any) (transport.Response, error) {
		switch path {
		case ProjectParentEndpoint:
			return transport.Response{"remote_id": transporttest.Number(9001)}, nil
		case ProjectEndpoint:
			return transport.Response{"remote_id": transporttest.Number(7000)}, nil
		case tablesEndpoint:
			resp := transporttest.BatchResults(body, "tables", func(local int64) (int64, bool) { return local + 1000, true })
			stray := map[string]any{"success": true, "local_id": transporttest.Number(500), "remote_id": transporttest.Number(1)}
			resp["results"] = append(resp["results"].([]any), stray)
			return resp, nil
		}
		return transport.Response{}, nil
	})
	ctx := context.Background()
	if err := f.mappings.Save(ctx, mapping.Table, 500, 77); err != nil {
		t.Fatal(err)
	}

	report, err := f.orch.Sync(ctx, 7)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if remote, _, _ := f.mappings.RemoteID(ctx, mapping.Table, 500); remote != 77 {
		t.Errorf("mapping of a row outside the batch was overwritten: %d", remote)
	}
	if tables := report.Phase("tables"); tables.Mapped != 120 {
		t.Errorf("expected 120 mapped tables, got %d", tables.Mapped)
	}
}

func TestMissingDescription(t *testing.T) {
	f := newFixture(t, connected, nil)

	_, err := f.orch.Sync(context.Background(), 99)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(f.client.Calls()) != 0 {
		t.Error("expected no calls for a missing description")
	}
}

func TestCancelledContextStopsBetweenPages(t *testing.T) {
	f := newFixture(t, connected, nil)
	ctx, cancel := context.WithCancel(context.Background())
	f.orch.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := f.orch.Sync(ctx, 7)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n := f.client.CallsTo(tablesEndpoint); n != 1 {
		t.Errorf("expected one table page before cancellation, got %d", n)
	}
}

func TestPlanMakesNoCalls(t *testing.T) {
	f := newFixture(t, connected, nil)

	plan, err := f.orch.Plan(context.Background(), 7)
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if len(f.client.Calls()) != 0 {
		t.Error("plan must not call the remote")
	}

	byPhase := map[string]PlanEntry{}
	for _, e := range plan {
		byPhase[e.Phase] = e
	}
	if e := byPhase["tables"]; e.Rows != 120 || e.Batches != 3 {
		t.Errorf("unexpected tables plan %+v", e)
	}
	if e := byPhase["columns"]; e.Rows != 250 || e.Batches != 3 {
		t.Errorf("unexpected columns plan %+v", e)
	}
	if e := byPhase["views"]; e.Rows != 0 || e.Batches != 0 {
		t.Errorf("unexpected views plan %+v", e)
	}
	if e := byPhase[PhaseProject]; e.Mapped || e.Batches != 1 {
		t.Errorf("unexpected root plan %+v", e)
	}
}

func TestDefaultKindsOrder(t *testing.T) {
	var names []string
	for _, k := range DefaultKinds(0, 0) {
		names = append(names, k.Name)
		if k.PageSize != chunk.ParentPageSize {
			t.Errorf("%s: expected page size %d, got %d", k.Name, chunk.ParentPageSize, k.PageSize)
		}
		for _, d := range k.Details {
			if d.PageSize != chunk.DetailPageSize {
				t.Errorf("%s: expected detail page size %d, got %d", d.Name, chunk.DetailPageSize, d.PageSize)
			}
		}
	}
	if got := strings.Join(names, ","); got != "tables,views,functions,procedures,triggers" {
		t.Errorf("unexpected kind order %s", got)
	}
}

func TestOrdersScenarioEndToEnd(t *testing.T) {
	ctx := context.Background()
	src := store.NewMemory()
	src.Insert(ProjectsTable, chunk.Row{"id": int64(9), "name": "shop"})
	src.Insert(DescriptionsTable, chunk.Row{"id": int64(9), "project_id": int64(9)})
	src.Insert("table_descriptions", chunk.Row{"id": int64(41), "dbid": int64(9), "tablename": "orders"})
	src.Insert("table_structures",
		chunk.Row{"id": int64(1), "id_table": int64(41), "column_name": "id"},
		chunk.Row{"id": int64(2), "id_table": int64(41), "column_name": "total"},
	)

	client := transporttest.New(func(method, path string, body any) (transport.Response, error) {
		switch path {
		case ProjectParentEndpoint:
			return transport.Response{"remote_id": transporttest.Number(501)}, nil
		case ProjectEndpoint:
			return transport.Response{"remote_id": transporttest.Number(901)}, nil
		case tablesEndpoint:
			return transporttest.BatchResults(body, "tables", func(int64) (int64, bool) { return 4100, true }), nil
		}
		return transport.Response{}, nil
	})
	mappings := mapping.NewMemoryStore()
	orch := New(src, mappings, client, connected, Options{
		Sleep:  func(context.Context, time.Duration) error { return nil },
		Logger: logging.Discard(),
	})

	if _, err := orch.Sync(ctx, 9); err != nil {
		t.Fatalf("first run: %v", err)
	}
	for _, want := range []struct {
		kind  string
		local int64
		id    int64
	}{
		{mapping.Project, 9, 501},
		{mapping.DBDescription, 9, 901},
		{mapping.Table, 41, 4100},
	} {
		if got, ok, _ := mappings.RemoteID(ctx, want.kind, want.local); !ok || got != want.id {
			t.Errorf("mapping(%s,%d) = %d %v, want %d", want.kind, want.local, got, ok, want.id)
		}
	}

	calls := client.Calls()
	if len(calls) != 4 {
		t.Fatalf("expected 4 calls, got %d", len(calls))
	}
	tables := transporttest.Items(calls[2].Body, "tables")
	if len(tables) != 1 || tables[0]["local_id"] != int64(41) || tables[0]["dbid"] != int64(901) || tables[0]["tablename"] != "orders" {
		t.Errorf("unexpected tables batch %v", tables)
	}
	columns := transporttest.Items(calls[3].Body, "columns")
	if len(columns) != 2 || columns[0]["id_table"] != int64(4100) || columns[1]["id_table"] != int64(4100) {
		t.Errorf("unexpected columns batch %v", columns)
	}

	client.Reset()
	if _, err := orch.Sync(ctx, 9); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if n := client.CallsTo(ProjectParentEndpoint) + client.CallsTo(ProjectEndpoint); n != 0 {
		t.Errorf("second run made %d root calls", n)
	}
	if client.CallsTo(tablesEndpoint) != 1 || client.CallsTo(columnsEndpoint) != 1 {
		t.Errorf("second run should resend table and column batches, got %v", client.Calls())
	}
}
