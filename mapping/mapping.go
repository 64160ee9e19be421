// Package mapping persists local id → remote id correspondences per entity
// type. Saves are idempotent upserts; nothing here ever deletes a mapping.
package mapping

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/ridoystarlord/dbdocsync/database"
)

// Entity types used as mapping keys.
const (
	Project       = "project"
	DBDescription = "db_description"
	Table         = "table"
	View          = "view"
	Function      = "function"
	Procedure     = "procedure"
	Trigger       = "trigger"
)

// Mapping is one (entity_type, local_id) → remote_id correspondence.
type Mapping struct {
	EntityType string
	LocalID    int64
	RemoteID   int64
	UpdatedAt  time.Time
}

// Store looks up and records mappings.
type Store interface {
	// RemoteID returns ok=false when no mapping exists.
	RemoteID(ctx context.Context, entityType string, localID int64) (remoteID int64, ok bool, err error)
	// Save upserts on (entityType, localID); the last remoteID wins.
	Save(ctx context.Context, entityType string, localID, remoteID int64) error
	List(ctx context.Context, entityType string) ([]Mapping, error)
}

// PgStore keeps mappings in the sync_mappings table.
type PgStore struct {
	db database.DBTX
}

func NewPgStore(db database.DBTX) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) RemoteID(ctx context.Context, entityType string, localID int64) (int64, bool, error) {
	var remoteID int64
	err := s.db.QueryRow(ctx, `
		SELECT remote_id FROM sync_mappings
		WHERE entity_type = $1 AND local_id = $2`,
		entityType, localID,
	).Scan(&remoteID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup %s mapping %d: %w", entityType, localID, err)
	}
	return remoteID, true, nil
}

func (s *PgStore) Save(ctx context.Context, entityType string, localID, remoteID int64) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO sync_mappings (entity_type, local_id, remote_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (entity_type, local_id)
		DO UPDATE SET remote_id = EXCLUDED.remote_id, updated_at = now()`,
		entityType, localID, remoteID,
	)
	if err != nil {
		return fmt.Errorf("save %s mapping %d→%d: %w", entityType, localID, remoteID, err)
	}
	return nil
}

// List returns mappings ordered by local id. An empty entityType lists all.
func (s *PgStore) List(ctx context.Context, entityType string) ([]Mapping, error) {
	rows, err := s.db.Query(ctx, `
		SELECT entity_type, local_id, remote_id, updated_at
		FROM sync_mappings
		WHERE $1 = '' OR entity_type = $1
		ORDER BY entity_type, local_id`,
		entityType,
	)
	if err != nil {
		return nil, fmt.Errorf("query mappings: %w", err)
	}
	defer rows.Close()

	var out []Mapping
	for rows.Next() {
		var m Mapping
		if err := rows.Scan(&m.EntityType, &m.LocalID, &m.RemoteID, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating mapping rows: %w", err)
	}
	return out, nil
}

type key struct {
	entityType string
	localID    int64
}

// MemoryStore is a process-local Store, used for dry runs and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[key]Mapping
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[key]Mapping), now: time.Now}
}

func (s *MemoryStore) RemoteID(_ context.Context, entityType string, localID int64) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.data[key{entityType, localID}]
	return m.RemoteID, ok, nil
}

func (s *MemoryStore) Save(_ context.Context, entityType string, localID, remoteID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key{entityType, localID}] = Mapping{
		EntityType: entityType,
		LocalID:    localID,
		RemoteID:   remoteID,
		UpdatedAt:  s.now(),
	}
	return nil
}

func (s *MemoryStore) List(_ context.Context, entityType string) ([]Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Mapping
	for _, m := range s.data {
		if entityType == "" || m.EntityType == entityType {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityType != out[j].EntityType {
			return out[i].EntityType < out[j].EntityType
		}
		return out[i].LocalID < out[j].LocalID
	})
	return out, nil
}

// Len reports how many mappings are held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
