package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps jobs in process memory. It is the default store for
// single-instance deployments and tests; job history disappears on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	jobs  []*Job
	index map[string]int
}

// NewMemoryStore creates an empty in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{index: make(map[string]int)}
}

func (s *MemoryStore) Create(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.index[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	clone := *job
	s.index[job.ID] = len(s.jobs)
	s.jobs = append(s.jobs, &clone)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	clone := *job
	return &clone, nil
}

func (s *MemoryStore) MarkProcessing(ctx context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusQueued {
		return nil, fmt.Errorf("%w: %s -> processing", ErrInvalidTransition, job.Status)
	}
	now := time.Now().UTC()
	job.Status = StatusProcessing
	job.Attempts++
	job.StartedAt = &now
	job.UpdatedAt = now
	job.FailureReason = ""
	job.ErrorMessage = ""
	clone := *job
	return &clone, nil
}

func (s *MemoryStore) MarkCompleted(ctx context.Context, id, resultKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.lookup(id)
	if err != nil {
		return err
	}
	if job.Status != StatusProcessing {
		return fmt.Errorf("%w: %s -> completed", ErrInvalidTransition, job.Status)
	}
	now := time.Now().UTC()
	job.Status = StatusCompleted
	job.Progress = 100
	job.Stage = "completed"
	job.ResultKey = resultKey
	job.CompletedAt = &now
	job.UpdatedAt = now
	return nil
}

func (s *MemoryStore) MarkFailed(ctx context.Context, id string, reason Reason, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.lookup(id)
	if err != nil {
		return err
	}
	// Failure is reachable from processing (handler error) and from
	// queued (pool rejection before any worker picked the job up).
	if job.Status != StatusProcessing && job.Status != StatusQueued {
		return fmt.Errorf("%w: %s -> failed", ErrInvalidTransition, job.Status)
	}
	now := time.Now().UTC()
	job.Status = StatusFailed
	job.FailureReason = reason
	job.ErrorMessage = message
	job.CompletedAt = &now
	job.UpdatedAt = now
	return nil
}

func (s *MemoryStore) Requeue(ctx context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusFailed {
		return nil, fmt.Errorf("%w: %s -> queued", ErrInvalidTransition, job.Status)
	}
	job.Status = StatusQueued
	job.Progress = 0
	job.Stage = ""
	job.CompletedAt = nil
	job.UpdatedAt = time.Now().UTC()
	clone := *job
	return &clone, nil
}

func (s *MemoryStore) SetProgress(ctx context.Context, id string, progress int, stage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.lookup(id)
	if err != nil {
		return err
	}
	if job.Terminal() {
		// A late progress report after completion is harmless noise.
		return nil
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	// Progress is monotonic within an attempt; a report racing in behind
	// a later one must not move the bar backwards.
	if progress < job.Progress {
		return nil
	}
	job.Progress = progress
	job.Stage = stage
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) FindLatest(ctx context.Context, sessionID string, kind Kind) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.jobs) - 1; i >= 0; i-- {
		job := s.jobs[i]
		if job.SessionID == sessionID && job.Kind == kind {
			clone := *job
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// lookup requires the caller to hold at least a read lock.
func (s *MemoryStore) lookup(id string) (*Job, error) {
	i, ok := s.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.jobs[i], nil
}
