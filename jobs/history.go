package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ridoystarlord/dbdocsync/database"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Record is one job run.
type Record struct {
	ID           string // ULID, sorts by start time
	Job          string
	Subject      string
	Status       string
	Attempts     int
	StartedAt    time.Time
	Duration     time.Duration
	ExecutedBy   string
	ErrorMessage string
}

// History stores job runs.
type History interface {
	Save(ctx context.Context, rec Record) error
	// Recent returns up to limit runs, newest first. An empty job matches all.
	Recent(ctx context.Context, limit int, job string) ([]Record, error)
}

// PgHistory keeps runs in the sync_runs table.
type PgHistory struct {
	db database.DBTX
}

func NewPgHistory(db database.DBTX) *PgHistory {
	return &PgHistory{db: db}
}

func (h *PgHistory) Save(ctx context.Context, rec Record) error {
	_, err := h.db.Exec(ctx, `
		INSERT INTO sync_runs (id, job, subject, status, attempts, started_at, duration_ms, executed_by, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''))`,
		rec.ID, rec.Job, rec.Subject, rec.Status, rec.Attempts, rec.StartedAt,
		rec.Duration.Milliseconds(), rec.ExecutedBy, rec.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("record %s run: %w", rec.Job, err)
	}
	return nil
}

func (h *PgHistory) Recent(ctx context.Context, limit int, job string) ([]Record, error) {
	query := `
		SELECT id, job, COALESCE(subject, ''), status, attempts, started_at, duration_ms,
		       COALESCE(executed_by, ''), COALESCE(error_message, '')
		FROM sync_runs
	`

	var args []any
	argCount := 0

	if job != "" {
		argCount++
		query += fmt.Sprintf(" WHERE job = $%d", argCount)
		args = append(args, job)
	}

	query += " ORDER BY started_at DESC, id DESC"

	if limit > 0 {
		argCount++
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, limit)
	}

	rows, err := h.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query run history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec Record
			ms  int64
		)
		if err := rows.Scan(&rec.ID, &rec.Job, &rec.Subject, &rec.Status, &rec.Attempts,
			&rec.StartedAt, &ms, &rec.ExecutedBy, &rec.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rec.Duration = time.Duration(ms) * time.Millisecond
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return records, nil
}

// MemoryHistory is an in-process History.
type MemoryHistory struct {
	mu      sync.Mutex
	records []Record
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

func (h *MemoryHistory) Save(_ context.Context, rec Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
	return nil
}

func (h *MemoryHistory) Recent(_ context.Context, limit int, job string) ([]Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []Record
	for _, rec := range h.records {
		if job == "" || rec.Job == job {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
