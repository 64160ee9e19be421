// Package server exposes sync triggers over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ridoystarlord/dbdocsync/database"
	"github.com/ridoystarlord/dbdocsync/orchestrator"
	"github.com/ridoystarlord/dbdocsync/pending"
)

// SyncFunc runs one description sync to completion.
type SyncFunc func(ctx context.Context, descriptionID int64) error

// Submitter is satisfied by *pending.Dispatcher.
type Submitter interface {
	Submit(ctx context.Context, c pending.Change) (*pending.SubmitResult, error)
}

// StatsSource is satisfied by every pending.Store.
type StatsSource interface {
	Stats(ctx context.Context, maxRetries int) (pending.Stats, error)
}

type Config struct {
	Sync       SyncFunc
	Locker     database.Locker
	Changes    Submitter
	Pending    StatsSource
	MaxRetries int
	Health     func(ctx context.Context) error
	Logger     *slog.Logger
}

// Handler serves the trigger API. Syncs it starts run in the background on
// the context given to New and outlive the request.
type Handler struct {
	cfg  Config
	base context.Context
	log  *slog.Logger

	mu       sync.Mutex
	inflight map[int64]time.Time
	wg       sync.WaitGroup
}

func New(base context.Context, cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Locker == nil {
		cfg.Locker = database.NewLocalLocker()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = pending.DefaultMaxRetries
	}
	return &Handler{cfg: cfg, base: base, log: cfg.Logger, inflight: make(map[int64]time.Time)}
}

// Router wires the handler into a chi router.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.getHealth)
	r.Post("/sync/{description}", h.postSync)
	r.Get("/sync/{description}", h.getSync)
	r.Post("/changes", h.postChange)
	r.Get("/pending/stats", h.getPendingStats)
	return r
}

// Wait blocks until background syncs have finished.
func (h *Handler) Wait() {
	h.wg.Wait()
}

func (h *Handler) postSync(w http.ResponseWriter, r *http.Request) {
	id, ok := descriptionParam(w, r)
	if !ok {
		return
	}

	h.mu.Lock()
	if started, busy := h.inflight[id]; busy {
		h.mu.Unlock()
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": "sync already running", "description": id, "started_at": started,
		})
		return
	}
	h.inflight[id] = time.Now()
	h.mu.Unlock()

	release, locked, err := h.cfg.Locker.TryLock(r.Context(), orchestrator.LockName(id))
	if err != nil || !locked {
		h.finish(id)
		if err != nil {
			h.log.Error("sync lock failed", "description", id, "error", err)
			writeError(w, http.StatusInternalServerError, "could not take sync lock")
			return
		}
		writeJSON(w, http.StatusConflict, map[string]any{"error": "sync running in another process", "description": id})
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer h.finish(id)
		defer release()

		if err := h.cfg.Sync(h.base, id); err != nil {
			h.log.Error("triggered sync failed", "description", id, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{"description": id, "status": "accepted"})
}

func (h *Handler) getSync(w http.ResponseWriter, r *http.Request) {
	id, ok := descriptionParam(w, r)
	if !ok {
		return
	}

	h.mu.Lock()
	started, running := h.inflight[id]
	h.mu.Unlock()

	out := map[string]any{"description": id, "running": running}
	if running {
		out["started_at"] = started
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) finish(id int64) {
	h.mu.Lock()
	delete(h.inflight, id)
	h.mu.Unlock()
}

type changeRequest struct {
	EntityType string          `json:"entity_type"`
	EntityID   int64           `json:"entity_id"`
	Action     string          `json:"action"`
	Data       json.RawMessage `json:"data,omitempty"`
	Endpoint   string          `json:"endpoint"`
	Method     string          `json:"method"`
}

func (h *Handler) postChange(w http.ResponseWriter, r *http.Request) {
	var req changeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	res, err := h.cfg.Changes.Submit(r.Context(), pending.Change{
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		Action:     pending.Action(req.Action),
		Data:       req.Data,
		Endpoint:   req.Endpoint,
		Method:     req.Method,
	})
	if err != nil {
		if res == nil || errors.Is(err, pending.ErrUnsupportedMethod) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error("queueing change failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not queue change")
		return
	}

	status := http.StatusOK
	if res.Queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, map[string]any{
		"sent":      res.Sent,
		"queued":    res.Queued,
		"change_id": res.ChangeID,
		"response":  res.Response,
		"error":     res.Error,
	})
}

func (h *Handler) getPendingStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.cfg.Pending.Stats(r.Context(), h.cfg.MaxRetries)
	if err != nil {
		h.log.Error("pending stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not read pending stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pending": st.Pending,
		"dead":    st.Dead,
		"synced":  st.Synced,
		"oldest":  st.Oldest,
	})
}

func (h *Handler) getHealth(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Health != nil {
		if err := h.cfg.Health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func descriptionParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "description"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "description must be a positive integer id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
