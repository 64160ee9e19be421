package orchestrator

import (
	"fmt"
	"time"
)

// SkipReason says why something was not sent.
type SkipReason string

const (
	SkipNotConnected   SkipReason = "not_connected"
	SkipAlreadyMapped  SkipReason = "already_mapped"
	SkipNoRows         SkipReason = "no_rows"
	SkipParentUnmapped SkipReason = "parent_unmapped"
	SkipParentMissing  SkipReason = "parent_missing"
)

// Skip is a designed non-send: a whole phase (LocalID 0) or a single row.
type Skip struct {
	Reason  SkipReason
	Phase   string
	LocalID int64
}

// PhaseResult is the progress of one phase of a run.
type PhaseResult struct {
	Phase   string
	Total   int64
	Sent    int
	Mapped  int
	Pages   int
	Skipped []Skip
}

func (p *PhaseResult) skip(reason SkipReason, localID int64) {
	p.Skipped = append(p.Skipped, Skip{Reason: reason, Phase: p.Phase, LocalID: localID})
}

// Percent is the share of Total already sent or skipped.
func (p *PhaseResult) Percent() float64 {
	if p.Total == 0 {
		return 100
	}
	done := float64(p.Sent + len(p.rowSkips()))
	return done * 100 / float64(p.Total)
}

func (p *PhaseResult) rowSkips() []Skip {
	var out []Skip
	for _, s := range p.Skipped {
		if s.LocalID != 0 {
			out = append(out, s)
		}
	}
	return out
}

// Report is the outcome of one orchestrator run.
type Report struct {
	DescriptionID int64
	Skipped       *Skip
	Phases        []*PhaseResult
	Requests      int
	StartedAt     time.Time
	FinishedAt    time.Time
}

func (r *Report) phase(name string) *PhaseResult {
	p := &PhaseResult{Phase: name}
	r.Phases = append(r.Phases, p)
	return p
}

// Phase returns the named phase result, or nil.
func (r *Report) Phase(name string) *PhaseResult {
	for _, p := range r.Phases {
		if p.Phase == name {
			return p
		}
	}
	return nil
}

// Totals sums sent rows, mappings and row-level skips across phases.
func (r *Report) Totals() (sent, mapped, skipped int) {
	for _, p := range r.Phases {
		sent += p.Sent
		mapped += p.Mapped
		skipped += len(p.rowSkips())
	}
	return sent, mapped, skipped
}

// Duration is how long the run took.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// SyncError is a structural failure that aborted a run.
type SyncError struct {
	Phase string
	Page  int // 1-based page within the phase, 0 when not paging
	Sent  int
	Total int64
	Err   error
}

func (e *SyncError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("sync %s page %d (%d/%d sent): %v", e.Phase, e.Page, e.Sent, e.Total, e.Err)
	}
	return fmt.Sprintf("sync %s: %v", e.Phase, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}
