package model

import "time"

// JobStatus is the queue-side lifecycle of a background job. The values
// double as the job-status query vocabulary exposed to polling clients.
type JobStatus string

const (
	JobStatusWaiting   JobStatus = "waiting"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusDelayed   JobStatus = "delayed"
	JobStatusUnknown   JobStatus = "unknown"
)

// JobKindInitiate is the only job kind this pipeline enqueues today.
const JobKindInitiate = "initiate_enrichment"

// Job is one row of the store-backed work queue.
type Job struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Payload   []byte    `json:"payload"`
	Status    JobStatus `json:"status"`
	Attempts  int       `json:"attempts"`
	RunAt     time.Time `json:"run_at"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InitiationJob is the payload for JobKindInitiate.
type InitiationJob struct {
	CNJ     string         `json:"cnj"`
	CaseID  string         `json:"case_id,omitempty"`
	Purpose RequestPurpose `json:"purpose"`
}

// Progress maps a request lifecycle onto a coarse completion percentage for
// polling clients.
func Progress(status RequestStatus) int {
	switch status {
	case RequestStatusPending:
		return 25
	case RequestStatusProcessing:
		return 50
	case RequestStatusCompleted, RequestStatusFailed:
		return 100
	default:
		return 0
	}
}
