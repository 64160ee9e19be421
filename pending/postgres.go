package pending

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/ridoystarlord/dbdocsync/database"
)

// PgStore keeps changes in the pending_syncs table.
type PgStore struct {
	db database.DBTX
}

func NewPgStore(db database.DBTX) *PgStore {
	return &PgStore{db: db}
}

const changeColumns = `id, entity_type, entity_id, action, data, endpoint, method,
	retry_count, synced_at, COALESCE(error_message, ''), next_attempt_at, created_at, updated_at`

func (s *PgStore) Enqueue(ctx context.Context, c *Change) error {
	if err := c.Validate(); err != nil {
		return err
	}

	var data any
	if len(c.Data) > 0 {
		data = string(c.Data)
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO pending_syncs (entity_type, entity_id, action, data, endpoint, method, error_message)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, NULLIF($7, ''))
		RETURNING id, next_attempt_at, created_at, updated_at`,
		c.EntityType, c.EntityID, string(c.Action), data, c.Endpoint, c.Method, c.ErrorMessage,
	).Scan(&c.ID, &c.NextAttemptAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("enqueue %s %d: %w", c.EntityType, c.EntityID, err)
	}
	return nil
}

func (s *PgStore) Due(ctx context.Context, limit, maxRetries int) ([]Change, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+changeColumns+`
		FROM pending_syncs
		WHERE synced_at IS NULL AND retry_count < $1 AND next_attempt_at <= now()
		ORDER BY created_at, id
		LIMIT $2`,
		maxRetries, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query due changes: %w", err)
	}
	return collectChanges(rows)
}

func (s *PgStore) MarkSynced(ctx context.Context, id int64) error {
	return s.update(ctx, id, `
		UPDATE pending_syncs SET synced_at = now(), updated_at = now()
		WHERE id = $1`)
}

func (s *PgStore) MarkFailed(ctx context.Context, id int64, message string, delay time.Duration) error {
	return s.update(ctx, id, `
		UPDATE pending_syncs
		SET retry_count = retry_count + 1, error_message = $2,
			next_attempt_at = now() + make_interval(secs => $3), updated_at = now()
		WHERE id = $1`, message, delay.Seconds())
}

func (s *PgStore) Requeue(ctx context.Context, id int64) error {
	return s.update(ctx, id, `
		UPDATE pending_syncs
		SET retry_count = 0, error_message = NULL, next_attempt_at = now(), updated_at = now()
		WHERE id = $1 AND synced_at IS NULL`)
}

func (s *PgStore) update(ctx context.Context, id int64, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("update pending change %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("change %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PgStore) Stats(ctx context.Context, maxRetries int) (Stats, error) {
	var st Stats
	err := s.db.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE synced_at IS NULL AND retry_count < $1),
			COUNT(*) FILTER (WHERE synced_at IS NULL AND retry_count >= $1),
			COUNT(*) FILTER (WHERE synced_at IS NOT NULL),
			MIN(created_at) FILTER (WHERE synced_at IS NULL)
		FROM pending_syncs`,
		maxRetries,
	).Scan(&st.Pending, &st.Dead, &st.Synced, &st.Oldest)
	if err != nil {
		return Stats{}, fmt.Errorf("pending stats: %w", err)
	}
	return st, nil
}

func (s *PgStore) List(ctx context.Context, f ListFilter) ([]Change, error) {
	if f.MaxRetries <= 0 {
		f.MaxRetries = DefaultMaxRetries
	}
	if f.Limit <= 0 {
		f.Limit = 100
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+changeColumns+`
		FROM pending_syncs
		WHERE ($1 = '' OR entity_type = $1)
		AND CASE $2
			WHEN 'pending' THEN synced_at IS NULL AND retry_count < $3
			WHEN 'dead' THEN synced_at IS NULL AND retry_count >= $3
			WHEN 'synced' THEN synced_at IS NOT NULL
			ELSE true
		END
		ORDER BY created_at, id
		LIMIT $4`,
		f.EntityType, string(f.State), f.MaxRetries, f.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending changes: %w", err)
	}
	return collectChanges(rows)
}

func collectChanges(rows pgx.Rows) ([]Change, error) {
	defer rows.Close()

	var out []Change
	for rows.Next() {
		var (
			c      Change
			action string
			data   []byte
		)
		if err := rows.Scan(&c.ID, &c.EntityType, &c.EntityID, &action, &data, &c.Endpoint, &c.Method,
			&c.RetryCount, &c.SyncedAt, &c.ErrorMessage, &c.NextAttemptAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan pending change: %w", err)
		}
		c.Action = Action(action)
		c.Data = data
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pending changes: %w", err)
	}
	return out, nil
}
