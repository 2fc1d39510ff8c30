package render

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SelectorOptions tunes the primary/fallback switchover.
type SelectorOptions struct {
	// FailureThreshold is how many consecutive bridge failures within one
	// document run disable the bridge for the rest of that run.
	FailureThreshold int
	// Cooldown is how long after a trip the renderer reports itself
	// degraded to health checks.
	Cooldown time.Duration
}

// DefaultSelectorOptions returns the default circuit breaker settings.
func DefaultSelectorOptions() *SelectorOptions {
	return &SelectorOptions{
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
	}
}

// Selector routes slide rendering to the bridge while it is healthy and to
// the shape synthesizer when it is not. Breaker state is scoped to a single
// document run: individual slide failures fall back immediately, and once a
// run accumulates enough consecutive failures its remaining slides skip the
// bridge entirely instead of waiting out its timeout each time. The next
// document starts with a clean slate.
type Selector struct {
	primary *Bridge
	opts    *SelectorOptions
	log     zerolog.Logger
	now     func() time.Time

	mu       sync.Mutex
	lastTrip time.Time
}

// NewSelector wires a bridge client behind a circuit breaker. A nil primary
// routes everything to the synthesizer, for deployments without a bridge.
func NewSelector(primary *Bridge, opts *SelectorOptions, log zerolog.Logger) *Selector {
	if opts == nil {
		opts = DefaultSelectorOptions()
	}
	return &Selector{
		primary: primary,
		opts:    opts,
		log:     log.With().Str("component", "render_selector").Logger(),
		now:     time.Now,
	}
}

// Run holds the breaker state for one document's processing. Runs are safe
// for concurrent use by the slide workers of a single job.
type Run struct {
	sel *Selector

	mu       sync.Mutex
	failures int
	tripped  bool
}

// StartRun opens a fresh breaker scope for one document. Failures recorded
// against the returned run never affect other documents.
func (s *Selector) StartRun() *Run {
	return &Run{sel: s}
}

// RenderSlide renders one slide, preferring the bridge while the run's
// breaker is closed. It never fails: any bridge error falls through to the
// synthesizer, which always produces output.
func (r *Run) RenderSlide(ctx context.Context, req Request) (Result, error) {
	s := r.sel
	if s.primary != nil && r.allowPrimary() {
		svg, err := s.primary.RenderSlide(ctx, req)
		if err == nil {
			r.recordSuccess()
			return Result{SVG: svg, Backend: s.primary.Name()}, nil
		}
		r.recordFailure(req.DocumentID)
		s.log.Warn().Err(err).
			Str("document_id", req.DocumentID).
			Int("slide", req.SlideIndex+1).
			Msg("bridge render failed, using synthesizer")
	}

	svg := Synthesize(req.WidthPx, req.HeightPx, req.Shapes)
	return Result{SVG: svg, Backend: BackendFallback, Fallback: true}, nil
}

// Healthy reports bridge availability. With a run's circuit open the
// renderer is degraded but still serving through the synthesizer.
func (s *Selector) Healthy(ctx context.Context) error {
	if s.primary == nil {
		return nil
	}
	return s.primary.Healthy(ctx)
}

// Degraded reports whether any run tripped its breaker within the cooldown
// window.
func (s *Selector) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Before(s.lastTrip.Add(s.opts.Cooldown))
}

func (r *Run) allowPrimary() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.tripped
}

func (r *Run) recordSuccess() {
	r.mu.Lock()
	r.failures = 0
	r.mu.Unlock()
}

func (r *Run) recordFailure(documentID string) {
	r.mu.Lock()
	r.failures++
	trip := !r.tripped && r.failures >= r.sel.opts.FailureThreshold
	if trip {
		r.tripped = true
	}
	r.mu.Unlock()

	if trip {
		r.sel.noteTrip()
		r.sel.log.Warn().Str("document_id", documentID).
			Msg("bridge circuit opened for remainder of document")
	}
}

func (s *Selector) noteTrip() {
	s.mu.Lock()
	s.lastTrip = s.now()
	s.mu.Unlock()
}
