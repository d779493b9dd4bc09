package domain

import "time"

// JobStatus is the lifecycle state of a queued job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// QueuedJob is a generation job parked for later processing.
type QueuedJob struct {
	ID         string            `json:"id"`
	JobID      string            `json:"job_id"`
	ProviderID string            `json:"provider_id"`
	Script     string            `json:"script"`
	Options    VideoOptions      `json:"options"`
	Criteria   SelectionCriteria `json:"criteria"`
	Category   ErrorCategory     `json:"category"`
	Tier       Tier              `json:"tier"`
	Priority   int               `json:"priority"`
	RetryAfter time.Time         `json:"retry_after"`
	Attempts   int               `json:"attempts"`
	Status     JobStatus         `json:"status"`
	LastError  string            `json:"last_error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}
