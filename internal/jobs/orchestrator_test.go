package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrchestrator(t *testing.T, opts *Options) (*Orchestrator, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	o := NewOrchestrator(store, opts, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})
	return o, store
}

func waitForStatus(t *testing.T, store Store, id string, want Status) *Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.Get(context.Background(), id)
		require.NoError(t, err)
		if job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", id, want)
	return nil
}

func TestOrchestratorRunsJob(t *testing.T) {
	o, store := newTestOrchestrator(t, &Options{Workers: 2})
	o.Register(KindProcess, func(ctx context.Context, job *Job, report func(int, string)) (string, error) {
		report(50, "rendering_slides")
		return "doc1/result.json", nil
	})
	o.Start()

	job := NewJob(KindProcess, "sess1", "doc1")
	require.NoError(t, o.Enqueue(context.Background(), job))

	done := waitForStatus(t, store, job.ID, StatusCompleted)
	assert.Equal(t, "doc1/result.json", done.ResultKey)
	assert.Equal(t, 100, done.Progress)

	m := o.Metrics()
	assert.Equal(t, int64(1), m.Enqueued)
	assert.Equal(t, int64(1), m.Completed)
}

func TestOrchestratorClassifiesFailure(t *testing.T) {
	o, store := newTestOrchestrator(t, &Options{Workers: 1})
	o.Register(KindProcess, func(ctx context.Context, job *Job, report func(int, string)) (string, error) {
		return "", Fail(ReasonRenderer, "bridge unreachable", errors.New("connection refused"))
	})
	o.Start()

	job := NewJob(KindProcess, "sess1", "doc1")
	require.NoError(t, o.Enqueue(context.Background(), job))

	failed := waitForStatus(t, store, job.ID, StatusFailed)
	assert.Equal(t, ReasonRenderer, failed.FailureReason)
	assert.Contains(t, failed.ErrorMessage, "bridge unreachable")
	assert.Equal(t, int64(1), o.Metrics().Failed)
}

func TestOrchestratorTimeout(t *testing.T) {
	o, store := newTestOrchestrator(t, &Options{Workers: 1, JobTimeout: 50 * time.Millisecond})
	o.Register(KindProcess, func(ctx context.Context, job *Job, report func(int, string)) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	o.Start()

	job := NewJob(KindProcess, "sess1", "doc1")
	require.NoError(t, o.Enqueue(context.Background(), job))

	failed := waitForStatus(t, store, job.ID, StatusFailed)
	assert.Equal(t, ReasonTimeout, failed.FailureReason)
}

func TestOrchestratorStorageAutoRetry(t *testing.T) {
	o, store := newTestOrchestrator(t, &Options{Workers: 1, RetryBase: 10 * time.Millisecond})
	var calls atomic.Int32
	o.Register(KindProcess, func(ctx context.Context, job *Job, report func(int, string)) (string, error) {
		if calls.Add(1) == 1 {
			return "", Fail(ReasonStorage, "transient write failure", nil)
		}
		return "doc1/result.json", nil
	})
	o.Start()

	job := NewJob(KindProcess, "sess1", "doc1")
	require.NoError(t, o.Enqueue(context.Background(), job))

	done := waitForStatus(t, store, job.ID, StatusCompleted)
	assert.Equal(t, 2, done.Attempts)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOrchestratorRendererFailureNeedsManualRetry(t *testing.T) {
	o, store := newTestOrchestrator(t, &Options{Workers: 1, RetryBase: time.Millisecond})
	var calls atomic.Int32
	o.Register(KindProcess, func(ctx context.Context, job *Job, report func(int, string)) (string, error) {
		if calls.Add(1) == 1 {
			return "", Fail(ReasonRenderer, "bridge down", nil)
		}
		return "doc1/result.json", nil
	})
	o.Start()

	job := NewJob(KindProcess, "sess1", "doc1")
	require.NoError(t, o.Enqueue(context.Background(), job))
	waitForStatus(t, store, job.ID, StatusFailed)

	// No automatic retry for renderer failures.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	_, err := o.Retry(context.Background(), job.ID)
	require.NoError(t, err)
	waitForStatus(t, store, job.ID, StatusCompleted)
}

func TestOrchestratorRetryExhausted(t *testing.T) {
	o, store := newTestOrchestrator(t, &Options{Workers: 1})
	o.Register(KindProcess, func(ctx context.Context, job *Job, report func(int, string)) (string, error) {
		return "", Fail(ReasonRenderer, "always broken", nil)
	})
	o.Start()

	job := NewJob(KindProcess, "sess1", "doc1")
	job.MaxAttempts = 2
	require.NoError(t, o.Enqueue(context.Background(), job))
	waitForStatus(t, store, job.ID, StatusFailed)

	_, err := o.Retry(context.Background(), job.ID)
	require.NoError(t, err)
	waitForStatus(t, store, job.ID, StatusFailed)

	_, err = o.Retry(context.Background(), job.ID)
	assert.True(t, errors.Is(err, ErrRetryExhausted))
}

func TestOrchestratorRetryNonFailedJob(t *testing.T) {
	o, store := newTestOrchestrator(t, &Options{Workers: 1})
	block := make(chan struct{})
	o.Register(KindProcess, func(ctx context.Context, job *Job, report func(int, string)) (string, error) {
		<-block
		return "ok", nil
	})
	o.Start()

	job := NewJob(KindProcess, "sess1", "doc1")
	require.NoError(t, o.Enqueue(context.Background(), job))
	waitForStatus(t, store, job.ID, StatusProcessing)

	_, err := o.Retry(context.Background(), job.ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	close(block)
}

func TestOrchestratorSerializesSameDocument(t *testing.T) {
	o, store := newTestOrchestrator(t, &Options{Workers: 4})
	var inFlight atomic.Int32
	var overlap atomic.Bool
	o.Register(KindProcess, func(ctx context.Context, job *Job, report func(int, string)) (string, error) {
		if inFlight.Add(1) > 1 {
			overlap.Store(true)
		}
		time.Sleep(30 * time.Millisecond)
		inFlight.Add(-1)
		return "doc1/result.json", nil
	})
	o.Start()

	first := NewJob(KindProcess, "sess1", "doc1")
	second := NewJob(KindProcess, "sess2", "doc1")
	require.NoError(t, o.Enqueue(context.Background(), first))
	require.NoError(t, o.Enqueue(context.Background(), second))

	waitForStatus(t, store, first.ID, StatusCompleted)
	waitForStatus(t, store, second.ID, StatusCompleted)
	assert.False(t, overlap.Load(), "same-document jobs must not run concurrently")
}

func TestOrchestratorExportsRunConcurrently(t *testing.T) {
	o, store := newTestOrchestrator(t, &Options{Workers: 4})
	entered := make(chan struct{}, 2)
	proceed := make(chan struct{})
	o.Register(KindExport, func(ctx context.Context, job *Job, report func(int, string)) (string, error) {
		entered <- struct{}{}
		<-proceed
		return "export.pptx", nil
	})
	o.Start()

	// Exports carry no document ID at submission; two of them must not
	// serialize on a shared lock.
	first := NewJob(KindExport, "sess1", "")
	second := NewJob(KindExport, "sess2", "")
	require.NoError(t, o.Enqueue(context.Background(), first))
	require.NoError(t, o.Enqueue(context.Background(), second))

	for range 2 {
		select {
		case <-entered:
		case <-time.After(2 * time.Second):
			t.Fatal("second export never started while the first was in flight")
		}
	}
	close(proceed)
	waitForStatus(t, store, first.ID, StatusCompleted)
	waitForStatus(t, store, second.ID, StatusCompleted)
}

func TestOrchestratorQueueFullFailsJob(t *testing.T) {
	o, store := newTestOrchestrator(t, &Options{Workers: 1, QueueDepth: 1})
	o.Register(KindProcess, func(ctx context.Context, job *Job, report func(int, string)) (string, error) {
		return "doc/result.json", nil
	})

	// Workers are not running yet, so the single queue slot is all there is.
	first := NewJob(KindProcess, "sess1", "doc1")
	require.NoError(t, o.Enqueue(context.Background(), first))

	second := NewJob(KindProcess, "sess2", "doc2")
	err := o.Enqueue(context.Background(), second)
	assert.True(t, errors.Is(err, ErrQueueFull))

	// The rejected job's record reflects the rejection instead of sitting
	// queued forever.
	rejected, err := store.Get(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rejected.Status)
	assert.Equal(t, ReasonInternal, rejected.FailureReason)
	assert.Contains(t, rejected.ErrorMessage, "queue full")

	// Once the pool drains, an explicit retry runs it to completion.
	o.Start()
	waitForStatus(t, store, first.ID, StatusCompleted)
	_, err = o.Retry(context.Background(), second.ID)
	require.NoError(t, err)
	waitForStatus(t, store, second.ID, StatusCompleted)
}

func TestOrchestratorUnregisteredKind(t *testing.T) {
	o, _ := newTestOrchestrator(t, &Options{Workers: 1})
	o.Start()
	err := o.Enqueue(context.Background(), NewJob(KindExport, "s", "d"))
	assert.Error(t, err)
}
