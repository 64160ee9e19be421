package cmd

import (
	"testing"
	"time"

	"github.com/ridoystarlord/dbdocsync/jobs"
	"github.com/ridoystarlord/dbdocsync/orchestrator"
	"github.com/ridoystarlord/dbdocsync/pending"
)

func TestParseID(t *testing.T) {
	if id, err := parseID("42"); err != nil || id != 42 {
		t.Errorf("parseID(42) = %d, %v", id, err)
	}
	for _, bad := range []string{"", "0", "-1", "x"} {
		if _, err := parseID(bad); err == nil {
			t.Errorf("parseID(%q) should fail", bad)
		}
	}
}

func TestSkipSummary(t *testing.T) {
	skips := []orchestrator.Skip{
		{Reason: orchestrator.SkipParentUnmapped, LocalID: 1},
		{Reason: orchestrator.SkipNoRows},
		{Reason: orchestrator.SkipParentUnmapped, LocalID: 2},
	}
	if got := skipSummary(skips); got != "parent_unmapped x2, no_rows" {
		t.Errorf("unexpected summary %q", got)
	}
	if skipSummary(nil) != "" {
		t.Error("expected empty summary")
	}
}

func TestSyncRequirementsCoverEveryTable(t *testing.T) {
	reqs := syncRequirements(orchestrator.DefaultKinds(0, 0))
	if len(reqs) != 2+5+10 {
		t.Fatalf("expected 17 tables, got %d", len(reqs))
	}
	seen := map[string]string{}
	for _, r := range reqs {
		seen[r.table] = r.parentFK
	}
	if seen["table_structures"] != "id_table" || seen["trigger_descriptions"] != "dbid" || seen["projects"] != "" {
		t.Errorf("unexpected requirements %v", seen)
	}
}

func TestFailureEntries(t *testing.T) {
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	runs := []jobs.Record{
		{Job: "sync", Subject: "7", Status: jobs.StatusFailed, Attempts: 3, StartedAt: base, ErrorMessage: "boom"},
		{Job: "drain", Status: jobs.StatusSuccess, StartedAt: base.Add(time.Hour)},
	}
	changes := []pending.Change{
		{ID: 1, Method: "PUT", Endpoint: "/a", RetryCount: 3, ErrorMessage: "503", UpdatedAt: base.Add(2 * time.Hour)},
		{ID: 2, Method: "POST", Endpoint: "/b", RetryCount: 1, ErrorMessage: "timeout", UpdatedAt: base.Add(time.Minute)},
		{ID: 3, Method: "POST", Endpoint: "/c"},
	}

	entries := failureEntries(runs, changes, 3)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Level != "ERROR" || entries[0].Details != "503" {
		t.Errorf("newest entry should be the dead letter, got %+v", entries[0])
	}
	if entries[1].Level != "WARN" || entries[2].Details != "boom" {
		t.Errorf("unexpected order %+v", entries)
	}
}

func TestTruncate(t *testing.T) {
	if truncate("short", 10) != "short" {
		t.Error("short strings must pass through")
	}
	if got := truncate("abcdefghijkl", 8); got != "abcde..." {
		t.Errorf("unexpected %q", got)
	}
}
