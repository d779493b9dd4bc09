package domain

import (
	"fmt"
	"time"
)

// ErrorCategory is the semantic class a failure is mapped to.
type ErrorCategory string

const (
	CategoryTransient        ErrorCategory = "transient"
	CategoryRateLimit        ErrorCategory = "rate_limit"
	CategoryAPIFailure       ErrorCategory = "api_failure"
	CategoryQualityFailure   ErrorCategory = "quality_failure"
	CategoryTimeout          ErrorCategory = "timeout"
	CategoryAuthentication   ErrorCategory = "authentication"
	CategoryProviderOverload ErrorCategory = "provider_overload"
	CategorySystemError      ErrorCategory = "system_error"
	CategoryNetworkError     ErrorCategory = "network_error"
	CategoryQuotaExceeded    ErrorCategory = "quota_exceeded"
	CategoryProcessingError  ErrorCategory = "processing_error"
)

// AllCategories returns the closed set of categories.
func AllCategories() []ErrorCategory {
	return []ErrorCategory{
		CategoryTransient,
		CategoryRateLimit,
		CategoryAPIFailure,
		CategoryQualityFailure,
		CategoryTimeout,
		CategoryAuthentication,
		CategoryProviderOverload,
		CategorySystemError,
		CategoryNetworkError,
		CategoryQuotaExceeded,
		CategoryProcessingError,
	}
}

// FallbackAction is what the recovery engine does for a category.
type FallbackAction string

const (
	ActionRetrySame           FallbackAction = "retry_same"
	ActionSwitchProvider      FallbackAction = "switch_provider"
	ActionGracefulDegradation FallbackAction = "graceful_degradation"
	ActionFailFast            FallbackAction = "fail_fast"
	ActionQueueForLater       FallbackAction = "queue_for_later"
)

// ErrorRecord is one entry of a recovery session's error history.
// Records are appended, never modified.
type ErrorRecord struct {
	Timestamp      time.Time      `json:"timestamp"`
	ProviderID     string         `json:"provider_id"`
	Category       ErrorCategory  `json:"category"`
	ErrorType      string         `json:"error_type"`
	Message        string         `json:"message"`
	Retryable      bool           `json:"retryable"`
	RecoveryAction FallbackAction `json:"recovery_action"`
}

// RecoveryContext is the per-session state of one recovery. It is owned by a
// single session and must not be shared between jobs.
type RecoveryContext struct {
	JobID      string
	ProviderID string
	Script     string
	Options    VideoOptions
	Criteria   SelectionCriteria
	Attempt    int
	StartTime  time.Time
	Errors     []ErrorRecord
	Tier       Tier

	// DisableQueue makes queue_for_later terminate as a failure instead of
	// parking the job again. Set when resuming an already queued job.
	DisableQueue bool
}

// RecoveryError is the typed final error handed back to callers.
type RecoveryError struct {
	Category   ErrorCategory `json:"category"`
	Message    string        `json:"message"`
	ProviderID string        `json:"provider_id"`
	Attempt    int           `json:"attempt"`
	Err        error         `json:"-"`
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("%s from provider %s (attempt %d): %s", e.Category, e.ProviderID, e.Attempt, e.Message)
}

func (e *RecoveryError) Unwrap() error { return e.Err }

// RecoveryResult is the terminal value of a recovery session.
type RecoveryResult struct {
	Success           bool           `json:"success"`
	Result            *VideoResult   `json:"result,omitempty"`
	Action            FallbackAction `json:"action"`
	ProviderID        string         `json:"provider_id"`
	AttemptsUsed      int            `json:"attempts_used"`
	TotalRecoveryTime time.Duration  `json:"total_recovery_time"`
	ErrorHistory      []ErrorRecord  `json:"error_history"`
	FinalError        *RecoveryError `json:"final_error,omitempty"`
	QueuedJobID       string         `json:"queued_job_id,omitempty"`
}

// RecoveryLog is the persisted form of a finished recovery session.
type RecoveryLog struct {
	ID                 string         `json:"id"                   db:"id"`
	JobID              string         `json:"job_id"               db:"job_id"`
	OriginalProviderID string         `json:"original_provider_id" db:"original_provider_id"`
	FinalProviderID    string         `json:"final_provider_id"    db:"final_provider_id"`
	Category           ErrorCategory  `json:"category"             db:"category"`
	Action             FallbackAction `json:"action"               db:"action"`
	Success            bool           `json:"success"              db:"success"`
	AttemptsUsed       int            `json:"attempts_used"        db:"attempts_used"`
	RecoveryTimeMs     int64          `json:"recovery_time_ms"     db:"recovery_time_ms"`
	Errors             []ErrorRecord  `json:"errors"               db:"-"`
	CreatedAt          time.Time      `json:"created_at"           db:"created_at"`
}

// ProviderSwitched reports whether the session ended on a different provider.
func (l RecoveryLog) ProviderSwitched() bool {
	return l.FinalProviderID != "" && l.FinalProviderID != l.OriginalProviderID
}

// RecoveryStatistics aggregates recovery logs over a trailing period.
type RecoveryStatistics struct {
	Period                string                 `json:"period"`
	From                  time.Time              `json:"from"`
	To                    time.Time              `json:"to"`
	TotalRecoveries       int                    `json:"total_recoveries"`
	SuccessfulRecoveries  int                    `json:"successful_recoveries"`
	SuccessRate           float64                `json:"success_rate"`
	ActionDistribution    map[FallbackAction]int `json:"action_distribution"`
	CategoryDistribution  map[ErrorCategory]int  `json:"category_distribution"`
	AverageRecoveryTimeMs float64                `json:"average_recovery_time_ms"`
	ProviderSwitches      int                    `json:"provider_switches"`
}
