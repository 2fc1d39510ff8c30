// Package jobs tracks asynchronous processing work: the job records, their
// state machine, the stores that persist them, and the orchestrator that
// executes them on a worker pool.
package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes the two job families the pipeline runs.
type Kind string

const (
	KindProcess Kind = "process"
	KindExport  Kind = "export"
)

// Status is a job's position in its lifecycle. Transitions are strictly
// queued -> processing -> completed | failed, with failed -> queued allowed
// for retries.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Reason classifies a job failure so clients and the retry policy can react
// to the category rather than the message.
type Reason string

const (
	ReasonInput      Reason = "input"
	ReasonRenderer   Reason = "renderer"
	ReasonExtraction Reason = "extraction"
	ReasonStorage    Reason = "storage"
	ReasonTimeout    Reason = "timeout"
	ReasonInternal   Reason = "internal"
)

// Error is a classified job failure.
type Error struct {
	Reason  Reason
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Fail wraps an error with a failure reason.
func Fail(reason Reason, message string, cause error) *Error {
	return &Error{Reason: reason, Message: message, Cause: cause}
}

// ReasonOf extracts the failure reason from an error chain, defaulting to
// internal for unclassified errors.
func ReasonOf(err error) Reason {
	var je *Error
	if errors.As(err, &je) {
		return je.Reason
	}
	return ReasonInternal
}

// DefaultMaxAttempts bounds processing attempts per job, counting the first.
const DefaultMaxAttempts = 3

// Job is one unit of asynchronous work.
type Job struct {
	ID   string `json:"job_id"`
	Kind Kind   `json:"kind"`

	SessionID  string `json:"session_id"`
	DocumentID string `json:"document_id"`

	Status   Status `json:"status"`
	Progress int    `json:"progress"`
	Stage    string `json:"stage,omitempty"`

	Attempts    int `json:"attempts"`
	MaxAttempts int `json:"max_attempts"`

	// ForceRegenerate bypasses the result cache on process jobs.
	ForceRegenerate bool `json:"force_regenerate,omitempty"`
	// GenerateThumbnails requests per-slide PNG previews, honored only when
	// the service has a thumbnailer configured.
	GenerateThumbnails bool `json:"generate_thumbnails,omitempty"`

	// ResultKey is the storage key of the finished artifact.
	ResultKey string `json:"result_key,omitempty"`

	FailureReason Reason `json:"failure_reason,omitempty"`
	ErrorMessage  string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewJob builds a queued job with a fresh ID.
func NewJob(kind Kind, sessionID, documentID string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:          uuid.NewString(),
		Kind:        kind,
		SessionID:   sessionID,
		DocumentID:  documentID,
		Status:      StatusQueued,
		MaxAttempts: DefaultMaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Terminal reports whether the job has reached a final state.
func (j *Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// Exhausted reports whether the job has no attempts left.
func (j *Job) Exhausted() bool {
	return j.Attempts >= j.MaxAttempts
}
