package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrRetryExhausted is returned by Retry when a job has used all attempts.
var ErrRetryExhausted = errors.New("jobs: retry attempts exhausted")

// ErrQueueFull is returned by Enqueue when the queue cannot accept work.
var ErrQueueFull = errors.New("jobs: queue full")

// Handler executes one job and returns the storage key of its result.
// Handlers report progress through the callback; the orchestrator persists
// those reports on the job record.
type Handler func(ctx context.Context, job *Job, report func(progress int, stage string)) (resultKey string, err error)

// Options tunes the orchestrator.
type Options struct {
	// Workers is the number of concurrent job executors. Defaults to the
	// CPU count.
	Workers int
	// QueueDepth bounds how many jobs can wait. Defaults to 256.
	QueueDepth int
	// JobTimeout bounds one job execution wall-clock. Defaults to 5m.
	JobTimeout time.Duration
	// RetryBase is the first automatic-retry delay; each retry doubles it.
	RetryBase time.Duration
}

func (o *Options) withDefaults() Options {
	out := Options{Workers: runtime.NumCPU(), QueueDepth: 256, JobTimeout: 5 * time.Minute, RetryBase: 500 * time.Millisecond}
	if o == nil {
		return out
	}
	if o.Workers > 0 {
		out.Workers = o.Workers
	}
	if o.QueueDepth > 0 {
		out.QueueDepth = o.QueueDepth
	}
	if o.JobTimeout > 0 {
		out.JobTimeout = o.JobTimeout
	}
	if o.RetryBase > 0 {
		out.RetryBase = o.RetryBase
	}
	return out
}

// Metrics is a snapshot of orchestrator counters.
type Metrics struct {
	Enqueued  int64 `json:"jobs_enqueued"`
	Completed int64 `json:"jobs_completed"`
	Failed    int64 `json:"jobs_failed"`
	Retried   int64 `json:"jobs_retried"`
	InFlight  int64 `json:"jobs_in_flight"`
	Queued    int64 `json:"jobs_queued"`
}

// Orchestrator runs jobs from a queue on a fixed worker pool. Process jobs
// for the same document serialize on a per-document lock, so concurrent
// submissions of one deck never render it twice at the same time. Storage
// failures requeue automatically with exponential backoff while attempts
// remain; all other failures wait for an explicit retry call.
type Orchestrator struct {
	store Store
	opts  Options
	log   zerolog.Logger

	queue    chan string
	handlers map[Kind]Handler

	docLocks sync.Map // document ID -> *sync.Mutex

	enqueued  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
	inFlight  atomic.Int64

	wg      sync.WaitGroup
	runCtx  context.Context
	cancel  context.CancelFunc
	started bool
	mu      sync.Mutex
}

// NewOrchestrator creates an orchestrator over the given store.
func NewOrchestrator(store Store, opts *Options, log zerolog.Logger) *Orchestrator {
	resolved := opts.withDefaults()
	return &Orchestrator{
		store:    store,
		opts:     resolved,
		log:      log.With().Str("component", "orchestrator").Logger(),
		queue:    make(chan string, resolved.QueueDepth),
		handlers: make(map[Kind]Handler),
	}
}

// Register installs the handler for a job kind. Must be called before Start.
func (o *Orchestrator) Register(kind Kind, h Handler) {
	o.handlers[kind] = h
}

// Start launches the worker pool.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return
	}
	o.runCtx, o.cancel = context.WithCancel(context.Background())
	for i := 0; i < o.opts.Workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
	o.started = true
	o.log.Info().Int("workers", o.opts.Workers).Msg("worker pool started")
}

// Shutdown stops accepting work and waits for in-flight jobs, up to the
// context deadline.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return nil
	}
	o.cancel()
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Enqueue persists a job and submits it to the worker pool.
func (o *Orchestrator) Enqueue(ctx context.Context, job *Job) error {
	if _, ok := o.handlers[job.Kind]; !ok {
		return fmt.Errorf("no handler registered for kind %q", job.Kind)
	}
	if err := o.store.Create(ctx, job); err != nil {
		return err
	}
	select {
	case o.queue <- job.ID:
		o.enqueued.Add(1)
		return nil
	default:
		// Queue is saturated; fail the record so the client sees it and
		// can retry once the pool drains.
		if err := o.store.MarkFailed(ctx, job.ID, ReasonInternal, "queue full"); err != nil {
			o.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to record pool rejection")
		}
		return ErrQueueFull
	}
}

// Retry requeues a failed job. Jobs that are still running or queued return
// ErrInvalidTransition; jobs out of attempts return ErrRetryExhausted.
func (o *Orchestrator) Retry(ctx context.Context, id string) (*Job, error) {
	job, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusFailed {
		return nil, fmt.Errorf("%w: %s -> queued", ErrInvalidTransition, job.Status)
	}
	if job.Exhausted() {
		return nil, fmt.Errorf("%w: %d attempts used", ErrRetryExhausted, job.Attempts)
	}
	requeued, err := o.store.Requeue(ctx, id)
	if err != nil {
		return nil, err
	}
	select {
	case o.queue <- id:
		o.retried.Add(1)
		return requeued, nil
	default:
		if err := o.store.MarkFailed(ctx, id, ReasonInternal, "queue full"); err != nil {
			o.log.Error().Err(err).Str("job_id", id).Msg("failed to record pool rejection")
		}
		return nil, ErrQueueFull
	}
}

// Metrics returns a snapshot of the orchestrator counters.
func (o *Orchestrator) Metrics() Metrics {
	return Metrics{
		Enqueued:  o.enqueued.Load(),
		Completed: o.completed.Load(),
		Failed:    o.failed.Load(),
		Retried:   o.retried.Load(),
		InFlight:  o.inFlight.Load(),
		Queued:    int64(len(o.queue)),
	}
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for {
		select {
		case <-o.runCtx.Done():
			return
		case id := <-o.queue:
			o.runJob(id)
		}
	}
}

func (o *Orchestrator) runJob(id string) {
	ctx := o.runCtx
	job, err := o.store.MarkProcessing(ctx, id)
	if err != nil {
		// Raced with a shutdown or a duplicate submission; nothing to run.
		o.log.Debug().Err(err).Str("job_id", id).Msg("job not runnable")
		return
	}

	o.inFlight.Add(1)
	defer o.inFlight.Add(-1)

	log := o.log.With().
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Str("document_id", job.DocumentID).
		Logger()

	// Serialize process jobs per document so two of them cannot interleave
	// their artifact writes. Exports write session-scoped keys and may not
	// know their document yet, so they run unserialized.
	if job.Kind == KindProcess {
		unlock := o.lockDocument(job.DocumentID)
		defer unlock()
	}

	jobCtx, cancel := context.WithTimeout(ctx, o.opts.JobTimeout)
	defer cancel()

	report := func(progress int, stage string) {
		if err := o.store.SetProgress(ctx, job.ID, progress, stage); err != nil {
			log.Warn().Err(err).Msg("failed to record progress")
		}
	}

	start := time.Now()
	handler := o.handlers[job.Kind]
	resultKey, err := handler(jobCtx, job, report)
	if err != nil {
		reason := ReasonOf(err)
		if jobCtx.Err() != nil && ctx.Err() == nil {
			reason = ReasonTimeout
		}
		o.finishFailed(ctx, job, reason, err, log)
		return
	}

	if err := o.store.MarkCompleted(ctx, job.ID, resultKey); err != nil {
		log.Error().Err(err).Msg("failed to record completion")
		return
	}
	o.completed.Add(1)
	log.Info().Dur("elapsed", time.Since(start)).Str("result_key", resultKey).Msg("job completed")
}

func (o *Orchestrator) finishFailed(ctx context.Context, job *Job, reason Reason, cause error, log zerolog.Logger) {
	if err := o.store.MarkFailed(ctx, job.ID, reason, cause.Error()); err != nil {
		log.Error().Err(err).Msg("failed to record failure")
		return
	}
	o.failed.Add(1)
	log.Warn().Err(cause).Str("reason", string(reason)).Int("attempt", job.Attempts).Msg("job failed")

	// Storage blips are worth retrying without operator involvement.
	if reason != ReasonStorage || job.Attempts >= job.MaxAttempts {
		return
	}
	delay := o.opts.RetryBase << (job.Attempts - 1)
	time.AfterFunc(delay, func() {
		if o.runCtx.Err() != nil {
			return
		}
		if _, err := o.Retry(context.Background(), job.ID); err != nil {
			log.Warn().Err(err).Msg("automatic retry not scheduled")
		}
	})
	log.Info().Dur("delay", delay).Msg("automatic retry scheduled")
}

func (o *Orchestrator) lockDocument(documentID string) func() {
	v, _ := o.docLocks.LoadOrStore(documentID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
