package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the closed set of job states. Transitions are validated by
// CanTransition; a job never leaves a terminal state.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSucceeded  JobStatus = "succeeded"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusProcessing, JobStatusCancelled},
	JobStatusProcessing: {JobStatusSucceeded, JobStatusFailed, JobStatusPending},
}

// CanTransition reports whether from -> to is a legal status transition.
// processing -> pending is the compensating revert used when the debit is
// refused; everything else follows pending -> processing -> terminal.
func CanTransition(from, to JobStatus) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status is final.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCancelled
}

// ParseJobStatus validates a raw status string from storage or the wire.
func ParseJobStatus(raw string) (JobStatus, bool) {
	switch JobStatus(raw) {
	case JobStatusPending, JobStatusProcessing, JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return JobStatus(raw), true
	}
	return "", false
}

// Job is one paid image-processing request. The tenant is charged the fixed
// cost when the job runs, not when it is created. Ownership (TenantID) is set
// at creation and never reassigned.
type Job struct {
	ID           uuid.UUID       `db:"id"            json:"id"`
	TenantID     uuid.UUID       `db:"tenant_id"     json:"tenant_id"`
	Type         string          `db:"type"          json:"type"`
	Status       JobStatus       `db:"status"        json:"status"`
	Cost         int64           `db:"cost"          json:"cost"`
	InputRef     string          `db:"input_ref"     json:"input_ref"`
	Params       json.RawMessage `db:"params"        json:"params,omitempty"`
	ResultRef    *string         `db:"result_ref"    json:"result_ref,omitempty"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	StartedAt    *time.Time      `db:"started_at"    json:"started_at,omitempty"`
	CompletedAt  *time.Time      `db:"completed_at"  json:"completed_at,omitempty"`
	CreatedAt    time.Time       `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"    json:"updated_at"`
}
