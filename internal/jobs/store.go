package jobs

import (
	"context"
	"errors"
)

// ErrNotFound is returned for unknown job IDs.
var ErrNotFound = errors.New("jobs: job not found")

// ErrInvalidTransition is returned when a state change violates the job
// lifecycle, such as completing a job that never started.
var ErrInvalidTransition = errors.New("jobs: invalid status transition")

// Store persists jobs. Mutations are expressed as explicit transitions
// rather than a generic update so every implementation enforces the same
// state machine.
type Store interface {
	// Create persists a new queued job.
	Create(ctx context.Context, job *Job) error
	// Get returns a copy of a job.
	Get(ctx context.Context, id string) (*Job, error)
	// MarkProcessing transitions queued -> processing, increments the
	// attempt counter, and returns the updated job.
	MarkProcessing(ctx context.Context, id string) (*Job, error)
	// MarkCompleted transitions processing -> completed with the result.
	MarkCompleted(ctx context.Context, id, resultKey string) error
	// MarkFailed transitions processing -> failed with a classified error.
	MarkFailed(ctx context.Context, id string, reason Reason, message string) error
	// Requeue transitions failed -> queued for a retry, keeping the
	// attempt count.
	Requeue(ctx context.Context, id string) (*Job, error)
	// SetProgress updates progress percentage and stage label.
	SetProgress(ctx context.Context, id string, progress int, stage string) error
	// FindLatest returns the most recently created job for a session and
	// kind, or ErrNotFound.
	FindLatest(ctx context.Context, sessionID string, kind Kind) (*Job, error)
	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
}
