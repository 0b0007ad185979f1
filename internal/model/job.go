package model

import "time"

// JobState represents the lifecycle state of an enrichment job.
type JobState string

const (
	JobStateIdle      JobState = "idle"
	JobStateRunning   JobState = "running"
	JobStateStopping  JobState = "stopping"
	JobStateStopped   JobState = "stopped"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Terminal reports whether no further transitions are possible from s.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateStopped, JobStateCompleted, JobStateFailed:
		return true
	default:
		return false
	}
}

// Active reports whether a job in state s still owns the browser session.
func (s JobState) Active() bool {
	return s == JobStateRunning || s == JobStateStopping
}

// CanTransition reports whether the state machine permits moving from s to next.
//
//	idle -> running -> (stopping -> stopped) | completed | failed
func (s JobState) CanTransition(next JobState) bool {
	switch s {
	case JobStateIdle:
		return next == JobStateRunning || next == JobStateFailed
	case JobStateRunning:
		return next == JobStateStopping || next == JobStateCompleted || next == JobStateFailed
	case JobStateStopping:
		return next == JobStateStopped || next == JobStateFailed
	default:
		return false
	}
}

// Job is the persisted view of one enrichment job.
type Job struct {
	ID           string     `json:"id"`
	Key          string     `json:"key"` // ledger key; equals ID unless resuming an earlier job
	State        JobState   `json:"state"`
	InputName    string     `json:"input_name"`
	Options      JobOptions `json:"options"`
	Processed    int        `json:"processed"`
	TotalInScope int        `json:"total_in_scope"`
	Skipped      int        `json:"skipped"`
	LedgerPath   string     `json:"ledger_path,omitempty"`
	OutputPath   string     `json:"output_path,omitempty"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	State JobState `json:"state,omitempty"`
	Limit int      `json:"limit,omitempty"`
}
