package models

import (
	"time"
)

// Status enumerates lifecycle states persisted for a cleaning job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProfiling  Status = "profiling"
	StatusSuggesting Status = "suggesting"
	StatusApplying   Status = "applying"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Phase names a gated unit of work on a job.
type Phase string

const (
	PhaseProfile Phase = "profile"
	PhaseSuggest Phase = "suggest"
	PhaseApply   Phase = "apply"
)

// Status returns the job status a phase runs under.
func (p Phase) Status() Status {
	switch p {
	case PhaseProfile:
		return StatusProfiling
	case PhaseSuggest:
		return StatusSuggesting
	case PhaseApply:
		return StatusApplying
	default:
		return ""
	}
}

// Task is a phase dispatched for a job.
type Task struct {
	JobID string `json:"job_id"`
	Phase Phase  `json:"phase"`
}

// Job is one dataset-cleaning task tracked through the pipeline.
type Job struct {
	ID               string     `json:"id"`
	OriginalFilename string     `json:"original_filename"`
	Status           Status     `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// JobEvent records a single status transition.
type JobEvent struct {
	JobID      string    `json:"job_id"`
	FromStatus Status    `json:"from_status"`
	ToStatus   Status    `json:"to_status"`
	Detail     string    `json:"detail"`
	Recorded   time.Time `json:"recorded_at"`
}

// ProfilingResult holds the observed shape of a job's original dataset.
type ProfilingResult struct {
	JobID       string            `json:"job_id"`
	RowCount    int               `json:"row_count"`
	ColumnCount int               `json:"column_count"`
	ColumnTypes map[string]string `json:"column_types"`
	NullCounts  map[string]int    `json:"null_counts"`
}

// Suggestion is a named operation with parameters. Order within a set matters.
type Suggestion struct {
	Operation string         `json:"operation"`
	Params    map[string]any `json:"params"`
}

// SuggestionSet is one generated batch of suggestions; the newest per job wins.
type SuggestionSet struct {
	ID          string       `json:"id"`
	JobID       string       `json:"job_id"`
	Suggestions []Suggestion `json:"suggestions"`
	CreatedAt   time.Time    `json:"created_at"`
}
