package model

import "time"

// PhaseOutcome summarizes one reconciliation phase.
type PhaseOutcome struct {
	Name     string        `json:"name"`
	Ran      bool          `json:"ran"`
	Skipped  string        `json:"skipped,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Failed reports whether the phase ran and was discarded.
func (p PhaseOutcome) Failed() bool { return p.Error != "" }

// Snapshot is a stored reconciliation result.
type Snapshot struct {
	ID        string         `json:"id"`
	Symbol    string         `json:"symbol"`
	Record    *Record        `json:"record,omitempty"`
	Gaps      []string       `json:"gaps"`
	Phases    []PhaseOutcome `json:"phases"`
	CreatedAt time.Time      `json:"created_at"`
}

// Age returns how long ago the snapshot was taken.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}
