package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ridoystarlord/dbdocsync/database"
	"github.com/ridoystarlord/dbdocsync/logging"
	"github.com/ridoystarlord/dbdocsync/orchestrator"
	"github.com/ridoystarlord/dbdocsync/pending"
	"github.com/ridoystarlord/dbdocsync/session"
	"github.com/ridoystarlord/dbdocsync/transport"
	"github.com/ridoystarlord/dbdocsync/transport/transporttest"
)

func newTestServer(t *testing.T, cfg Config) (*Handler, *httptest.Server) {
	t.Helper()
	cfg.Logger = logging.Discard()
	if cfg.Pending == nil {
		cfg.Pending = pending.NewMemoryStore()
	}
	h := New(context.Background(), cfg)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(func() {
		srv.Close()
		h.Wait()
	})
	return h, srv
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestPostSyncAcceptsAndRejectsConcurrentRuns(t *testing.T) {
	release := make(chan struct{})
	var runs atomic.Int32
	h, srv := newTestServer(t, Config{Sync: func(ctx context.Context, id int64) error {
		runs.Add(1)
		<-release
		return nil
	}})

	resp, err := http.Post(srv.URL+"/sync/7", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, _ = http.Post(srv.URL+"/sync/7", "application/json", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for a running description, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, _ = http.Post(srv.URL+"/sync/8", "application/json", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("other descriptions should not be blocked, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, _ = http.Get(srv.URL + "/sync/7")
	if body := decode(t, resp); body["running"] != true {
		t.Errorf("expected description 7 running, got %v", body)
	}

	close(release)
	h.Wait()
	if n := runs.Load(); n != 2 {
		t.Errorf("expected 2 syncs, got %d", n)
	}

	resp, _ = http.Get(srv.URL + "/sync/7")
	if body := decode(t, resp); body["running"] != false {
		t.Errorf("expected description 7 finished, got %v", body)
	}
}

func TestPostSyncRespectsSharedLock(t *testing.T) {
	locker := database.NewLocalLocker()
	unlock, _, _ := locker.TryLock(context.Background(), orchestrator.LockName(7))
	defer unlock()

	var runs atomic.Int32
	h, srv := newTestServer(t, Config{Locker: locker, Sync: func(context.Context, int64) error {
		runs.Add(1)
		return nil
	}})

	resp, _ := http.Post(srv.URL+"/sync/7", "application/json", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 while another process holds the lock, got %d", resp.StatusCode)
	}
	resp.Body.Close()
	h.Wait()
	if runs.Load() != 0 {
		t.Error("sync must not run")
	}
}

func TestPostSyncRejectsBadID(t *testing.T) {
	_, srv := newTestServer(t, Config{Sync: func(context.Context, int64) error { return nil }})

	for _, id := range []string{"abc", "0", "-3"} {
		resp, _ := http.Post(srv.URL+"/sync/"+id, "application/json", nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", id, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestPostChange(t *testing.T) {
	store := pending.NewMemoryStore()
	client := transporttest.New(func(string, string, any) (transport.Response, error) {
		return nil, errors.New("remote down")
	})
	dispatcher := pending.NewDispatcher(store, client, session.Static{Connected: true}, logging.Discard())
	_, srv := newTestServer(t, Config{Changes: dispatcher, Pending: store})

	body := `{"entity_type":"table","entity_id":4,"action":"update","endpoint":"/api/tables/4","method":"PUT","data":{"comment":"x"}}`
	resp, err := http.Post(srv.URL+"/changes", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("expected 202 for a queued change, got %d", resp.StatusCode)
	}
	if out := decode(t, resp); out["queued"] != true {
		t.Errorf("expected queued, got %v", out)
	}

	resp, _ = http.Get(srv.URL + "/pending/stats")
	if out := decode(t, resp); out["pending"] != float64(1) {
		t.Errorf("expected one pending change, got %v", out)
	}

	bad := strings.Replace(body, "PUT", "PATCH", 1)
	resp, _ = http.Post(srv.URL+"/changes", "application/json", strings.NewReader(bad))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for unsupported method, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, _ = http.Post(srv.URL+"/changes", "application/json", strings.NewReader("{"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad JSON, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHealthz(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	_, srv := newTestServer(t, Config{Health: func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("database unreachable")
	}})

	resp, _ := http.Get(srv.URL + "/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	healthy.Store(false)
	resp, _ = http.Get(srv.URL + "/healthz")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
