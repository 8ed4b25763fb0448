package models

import (
	"fmt"
	"time"
)

// TriggerKind distinguishes scheduled runs from operator-initiated ones.
type TriggerKind string

const (
	TriggerScheduled TriggerKind = "scheduled"
	TriggerManual    TriggerKind = "manual"
)

// JobStatus is the lifecycle state of an ingestion job. Transitions are
// monotonic: pending -> running -> one terminal state, never reopened.
type JobStatus string

const (
	JobPending             JobStatus = "pending"
	JobRunning             JobStatus = "running"
	JobCompleted           JobStatus = "completed"
	JobCompletedWithErrors JobStatus = "completed_with_errors"
	JobFailed              JobStatus = "failed"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobCompletedWithErrors, JobFailed:
		return true
	}
	return false
}

// OutcomeKind is the per-stock result inside a job.
type OutcomeKind string

const (
	OutcomeOK      OutcomeKind = "success"
	OutcomeFailed  OutcomeKind = "failed"
	OutcomeSkipped OutcomeKind = "skipped"
)

// Outcome records how a single stock code fared within a job.
type Outcome struct {
	Kind   OutcomeKind `json:"kind"`
	Reason string      `json:"reason,omitempty"`
	Bars   int         `json:"bars,omitempty"`
}

// Job is one full-market (or partial) ingestion run.
type Job struct {
	ID          string             `json:"id"`
	Trigger     TriggerKind        `json:"trigger"`
	Status      JobStatus          `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	Universe    []string           `json:"universe"`
	Outcomes    map[string]Outcome `json:"outcomes"`
}

// Counts summarizes outcomes for progress reporting.
func (j *Job) Counts() (ok, failed, skipped int) {
	for _, o := range j.Outcomes {
		switch o.Kind {
		case OutcomeOK:
			ok++
		case OutcomeFailed:
			failed++
		case OutcomeSkipped:
			skipped++
		}
	}
	return
}

// NewJobID builds a sortable job identifier from the creation time.
func NewJobID(t time.Time) string {
	return fmt.Sprintf("job-%s-%06d", t.UTC().Format("20060102T150405"), t.Nanosecond()/1000)
}
