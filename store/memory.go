package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/ridoystarlord/dbdocsync/chunk"
)

// Memory is an in-process Source. Rows are kept sorted by id per table.
type Memory struct {
	mu     sync.RWMutex
	tables map[string][]chunk.Row
}

func NewMemory() *Memory {
	return &Memory{tables: make(map[string][]chunk.Row)}
}

// Insert adds rows to table. Each row needs an "id" column.
func (m *Memory) Insert(table string, rows ...chunk.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tables[table] = append(m.tables[table], rows...)
	sort.Slice(m.tables[table], func(i, j int) bool {
		return m.tables[table][i].ID() < m.tables[table][j].ID()
	})
}

func (m *Memory) Find(_ context.Context, table string, id int64) (chunk.Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, row := range m.tables[table] {
		if row.ID() == id {
			return row, nil
		}
	}
	return nil, fmt.Errorf("%s %d: %w", table, id, ErrNotFound)
}

func (m *Memory) Count(_ context.Context, f Filter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.match(f))), nil
}

func (m *Memory) IDs(_ context.Context, f Filter) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []int64
	for _, row := range m.match(f) {
		ids = append(ids, row.ID())
	}
	return ids, nil
}

func (m *Memory) Pager(f Filter) chunk.Pager {
	return chunk.PagerFunc(func(_ context.Context, after int64, limit int) ([]chunk.Row, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()

		var page []chunk.Row
		for _, row := range m.match(f) {
			if row.ID() <= after {
				continue
			}
			page = append(page, row)
			if len(page) == limit {
				break
			}
		}
		return page, nil
	})
}

func (m *Memory) match(f Filter) []chunk.Row {
	if f.Column == "" {
		return m.tables[f.Table]
	}
	var out []chunk.Row
	for _, row := range m.tables[f.Table] {
		v, ok := row.Int(f.Column)
		if ok && slices.Contains(f.Values, v) {
			out = append(out, row)
		}
	}
	return out
}
