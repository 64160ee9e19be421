package pending

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local Store for tests and dry runs.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	changes map[int64]*Change
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{changes: make(map[int64]*Change), now: time.Now}
}

func (s *MemoryStore) Enqueue(_ context.Context, c *Change) error {
	if err := c.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	now := s.now()
	c.ID = s.nextID
	c.CreatedAt = now
	c.UpdatedAt = now
	c.NextAttemptAt = now
	stored := *c
	s.changes[c.ID] = &stored
	return nil
}

func (s *MemoryStore) Due(_ context.Context, limit, maxRetries int) ([]Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := s.sorted(func(c *Change) bool {
		return c.Pending() && c.RetryCount < maxRetries && !c.NextAttemptAt.After(now)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkSynced(_ context.Context, id int64) error {
	return s.update(id, func(c *Change, now time.Time) {
		c.SyncedAt = &now
	})
}

func (s *MemoryStore) MarkFailed(_ context.Context, id int64, message string, delay time.Duration) error {
	return s.update(id, func(c *Change, now time.Time) {
		c.RetryCount++
		c.ErrorMessage = message
		c.NextAttemptAt = now.Add(delay)
	})
}

func (s *MemoryStore) Requeue(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.changes[id]
	if !ok || !c.Pending() {
		return fmt.Errorf("change %d: %w", id, ErrNotFound)
	}
	now := s.now()
	c.RetryCount = 0
	c.ErrorMessage = ""
	c.NextAttemptAt = now
	c.UpdatedAt = now
	return nil
}

func (s *MemoryStore) update(id int64, fn func(c *Change, now time.Time)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.changes[id]
	if !ok {
		return fmt.Errorf("change %d: %w", id, ErrNotFound)
	}
	now := s.now()
	fn(c, now)
	c.UpdatedAt = now
	return nil
}

func (s *MemoryStore) Stats(_ context.Context, maxRetries int) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	for _, c := range s.changes {
		switch {
		case !c.Pending():
			st.Synced++
			continue
		case c.RetryCount >= maxRetries:
			st.Dead++
		default:
			st.Pending++
		}
		if st.Oldest == nil || c.CreatedAt.Before(*st.Oldest) {
			created := c.CreatedAt
			st.Oldest = &created
		}
	}
	return st, nil
}

func (s *MemoryStore) List(_ context.Context, f ListFilter) ([]Change, error) {
	if f.MaxRetries <= 0 {
		f.MaxRetries = DefaultMaxRetries
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.sorted(func(c *Change) bool {
		if f.EntityType != "" && c.EntityType != f.EntityType {
			return false
		}
		switch f.State {
		case StatePending:
			return c.Pending() && c.RetryCount < f.MaxRetries
		case StateDead:
			return c.Dead(f.MaxRetries)
		case StateSynced:
			return !c.Pending()
		}
		return true
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Get returns a copy of change id.
func (s *MemoryStore) Get(id int64) (Change, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.changes[id]
	if !ok {
		return Change{}, false
	}
	return *c, true
}

func (s *MemoryStore) sorted(keep func(c *Change) bool) []Change {
	var out []Change
	for _, c := range s.changes {
		if keep(c) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
