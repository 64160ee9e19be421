// Package chunk walks a local entity set in fixed-size pages ordered by id,
// so a sync never holds more than one page of rows in memory.
package chunk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
)

// Page sizes used for parent-level and detail-level entity kinds.
const (
	ParentPageSize = 50
	DetailPageSize = 100
)

// Row is one record keyed by column name.
type Row map[string]any

// ID returns the row's "id" column.
func (r Row) ID() int64 {
	id, _ := r.Int("id")
	return id
}

// Int reads an integer column. ok is false for missing, null or
// non-numeric values.
func (r Row) Int(col string) (int64, bool) {
	return AsInt(r[col])
}

// AsInt converts the integer shapes produced by pgx and encoding/json.
func AsInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case int16:
		return int64(n), true
	case float64:
		return int64(n), n == float64(int64(n))
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}

// Pager returns up to limit rows with id greater than afterID, ascending.
type Pager interface {
	Page(ctx context.Context, afterID int64, limit int) ([]Row, error)
}

// PagerFunc adapts a function to Pager.
type PagerFunc func(ctx context.Context, afterID int64, limit int) ([]Row, error)

func (f PagerFunc) Page(ctx context.Context, afterID int64, limit int) ([]Row, error) {
	return f(ctx, afterID, limit)
}

// Each calls fn once per page until the pager is exhausted and returns the
// number of rows visited. It stops at the first error from the pager or fn.
// Calling Each again restarts from the beginning.
func Each(ctx context.Context, p Pager, size int, fn func(page []Row) error) (int, error) {
	return EachLogged(ctx, p, size, slog.Default(), fn)
}

// EachLogged is Each with an explicit logger.
func EachLogged(ctx context.Context, p Pager, size int, log *slog.Logger, fn func(page []Row) error) (int, error) {
	if size <= 0 {
		return 0, fmt.Errorf("chunk: page size must be positive, got %d", size)
	}

	var (
		after int64
		seen  int
	)
	for {
		if err := ctx.Err(); err != nil {
			return seen, err
		}

		page, err := p.Page(ctx, after, size)
		if err != nil {
			return seen, fmt.Errorf("chunk: read page after id %d: %w", after, err)
		}
		if len(page) == 0 {
			break
		}
		if len(page) > size {
			return seen, fmt.Errorf("chunk: pager returned %d rows for page size %d", len(page), size)
		}

		last := page[len(page)-1].ID()
		if last <= after {
			return seen, fmt.Errorf("chunk: page not ordered by ascending id (last %d after %d)", last, after)
		}

		if err := fn(page); err != nil {
			return seen, err
		}
		seen += len(page)
		after = last

		if len(page) < size {
			break
		}
	}

	if seen == 0 {
		log.Info("nothing to sync")
	}
	return seen, nil
}
