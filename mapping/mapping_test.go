package mapping

import (
	"context"
	"os"
	"testing"

	"github.com/ridoystarlord/dbdocsync/database"
)

// storeContract runs the behaviour every Store must share.
func storeContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := s.RemoteID(ctx, Table, 41); err != nil || ok {
		t.Fatalf("expected no mapping before save, ok=%v err=%v", ok, err)
	}

	for i := 0; i < 2; i++ {
		if err := s.Save(ctx, Table, 41, 4100); err != nil {
			t.Fatalf("Save #%d failed: %v", i+1, err)
		}
	}

	got, ok, err := s.RemoteID(ctx, Table, 41)
	if err != nil || !ok || got != 4100 {
		t.Fatalf("expected 4100, got %d ok=%v err=%v", got, ok, err)
	}

	list, err := s.List(ctx, Table)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected exactly one row after duplicate saves, got %d", len(list))
	}

	if err := s.Save(ctx, Table, 41, 4200); err != nil {
		t.Fatalf("Save update failed: %v", err)
	}
	if got, _, _ := s.RemoteID(ctx, Table, 41); got != 4200 {
		t.Errorf("expected last write 4200 to win, got %d", got)
	}

	// Same local id under another type is a separate mapping.
	if err := s.Save(ctx, View, 41, 7); err != nil {
		t.Fatalf("Save view failed: %v", err)
	}
	if got, _, _ := s.RemoteID(ctx, Table, 41); got != 4200 {
		t.Errorf("view save clobbered table mapping: %d", got)
	}
	all, _ := s.List(ctx, "")
	if len(all) < 2 {
		t.Errorf("expected both types listed, got %d", len(all))
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	storeContract(t, s)
	if s.Len() != 2 {
		t.Errorf("expected 2 mappings, got %d", s.Len())
	}
}

func TestPgStore(t *testing.T) {
	url := os.Getenv("DBDOC_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("DBDOC_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	pool, err := database.Open(ctx, url)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer pool.Close()

	if err := database.EnsureSyncTables(ctx, pool); err != nil {
		t.Fatalf("ensure tables: %v", err)
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM sync_mappings`); err != nil {
		t.Fatalf("reset: %v", err)
	}
	storeContract(t, NewPgStore(tx))
}
