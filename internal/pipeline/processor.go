// Package pipeline implements the job handlers: processing a deck into
// per-slide SVGs plus positioned text shapes, and exporting a translated
// copy of a processed deck.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/slidesmith/pptx-pipeline/internal/cache"
	"github.com/slidesmith/pptx-pipeline/internal/extract"
	"github.com/slidesmith/pptx-pipeline/internal/geometry"
	"github.com/slidesmith/pptx-pipeline/internal/jobs"
	"github.com/slidesmith/pptx-pipeline/internal/pptx"
	"github.com/slidesmith/pptx-pipeline/internal/render"
	"github.com/slidesmith/pptx-pipeline/internal/storage"
	"github.com/slidesmith/pptx-pipeline/internal/types"
	"github.com/slidesmith/pptx-pipeline/internal/validate"
)

// ProcessorOptions tunes per-job processing.
type ProcessorOptions struct {
	// Validate overrides the coordinate validation thresholds.
	Validate *validate.Options
	// SlideParallelism caps concurrent slide renders within one job.
	SlideParallelism int
}

// DefaultProcessorOptions returns the processing defaults.
func DefaultProcessorOptions() *ProcessorOptions {
	return &ProcessorOptions{SlideParallelism: 4}
}

// Thumbnailer rasterizes an SVG into a PNG preview. Thumbnails are best
// effort; a nil Thumbnailer or a rasterization error leaves the slide
// without one.
type Thumbnailer interface {
	Render(ctx context.Context, svg []byte, slideW, slideH int) ([]byte, error)
}

// SessionManifest links a session to the content-addressed document it
// uploaded, stored at the session's session.json key.
type SessionManifest struct {
	DocumentID string    `json:"document_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Processor turns an uploaded deck into rendered slides and extracted
// shapes.
type Processor struct {
	store    storage.Gateway
	renderer *render.Selector
	cache    *cache.Cache
	thumbs   Thumbnailer
	opts     *ProcessorOptions
	log      zerolog.Logger
}

// NewProcessor wires the processing handler. cache may be cache.Disabled(),
// thumbs may be nil, and a nil opts takes the defaults.
func NewProcessor(store storage.Gateway, renderer *render.Selector, c *cache.Cache, thumbs Thumbnailer, opts *ProcessorOptions, log zerolog.Logger) *Processor {
	if c == nil {
		c = cache.Disabled()
	}
	if opts == nil {
		opts = DefaultProcessorOptions()
	}
	if opts.SlideParallelism < 1 {
		opts.SlideParallelism = DefaultProcessorOptions().SlideParallelism
	}
	return &Processor{
		store:    store,
		renderer: renderer,
		cache:    c,
		thumbs:   thumbs,
		opts:     opts,
		log:      log.With().Str("component", "processor").Logger(),
	}
}

// Handle is the jobs.Handler for process jobs. The job's document must
// already be uploaded at its source key.
func (p *Processor) Handle(ctx context.Context, job *jobs.Job, report func(int, string)) (string, error) {
	log := p.log.With().Str("job_id", job.ID).Str("document_id", job.DocumentID).Logger()
	resultKey := storage.ResultKey(job.DocumentID)

	report(5, "loading_document")
	archive, err := p.store.Get(ctx, storage.SourceKey(job.DocumentID))
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return "", jobs.Fail(jobs.ReasonInput, "uploaded document not found", err)
		}
		return "", jobs.Fail(jobs.ReasonStorage, "load uploaded document", err)
	}

	variant := cache.VariantFor(p.thumbs != nil && job.GenerateThumbnails)
	if job.ForceRegenerate {
		p.cache.Invalidate(ctx, job.DocumentID)
	} else if payload, ok := p.cache.GetResult(ctx, job.DocumentID, variant); ok {
		// The deck is content-addressed, so a cache hit means this exact
		// file was already processed and its artifacts are in storage.
		log.Info().Msg("result cache hit")
		report(95, "finalizing")
		if err := p.finalize(ctx, job, resultKey, payload); err != nil {
			return "", err
		}
		return resultKey, nil
	}

	report(10, "validating_file")
	pkg, err := pptx.Open(archive)
	if err != nil {
		return "", jobs.Fail(jobs.ReasonInput, "open presentation", err)
	}

	start := time.Now()
	widthPx := geometry.PxFromEMU(pkg.SlideWidthEMU)
	heightPx := geometry.PxFromEMU(pkg.SlideHeightEMU)
	slideCount := pkg.SlideCount()
	slides := make([]types.Slide, slideCount)

	// Slides render concurrently; the bridge keeps the converted document
	// hot between calls so parallel slide fetches are cheap for it.
	report(20, "rendering_slides")
	var mu sync.Mutex
	var done int
	reportSlide := func() {
		mu.Lock()
		done++
		report(20+75*done/slideCount, "rendering_slides")
		mu.Unlock()
	}
	run := p.renderer.StartRun()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.SlideParallelism)
	for i := 0; i < slideCount; i++ {
		g.Go(func() error {
			slide, err := p.processSlide(gctx, run, job, pkg, archive, i, widthPx, heightPx)
			if err != nil {
				return err
			}
			slides[i] = slide
			reportSlide()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	report(95, "finalizing")
	status := types.ProcessingCompleted
	for _, s := range slides {
		if s.RenderedBy == render.BackendFallback {
			status = types.ProcessingPartial
			break
		}
	}
	pres := types.Presentation{
		DocumentID:     job.DocumentID,
		SessionID:      job.SessionID,
		SlideCount:     slideCount,
		Status:         status,
		ProcessingTime: time.Since(start).Seconds(),
		ProcessedAt:    time.Now().UTC(),
		Slides:         slides,
	}
	payload, err := json.Marshal(pres)
	if err != nil {
		return "", jobs.Fail(jobs.ReasonInternal, "encode result", err)
	}
	if err := p.finalize(ctx, job, resultKey, payload); err != nil {
		return "", err
	}
	p.cache.SetResult(ctx, job.DocumentID, variant, payload)
	log.Info().Int("slides", slideCount).Dur("elapsed", time.Since(start)).Msg("document processed")
	return resultKey, nil
}

func (p *Processor) processSlide(ctx context.Context, run *render.Run, job *jobs.Job, pkg *pptx.Package, archive []byte, idx, widthPx, heightPx int) (types.Slide, error) {
	slideNum := idx + 1

	shapes, err := extract.Slide(pkg, idx)
	if err != nil {
		return types.Slide{}, jobs.Fail(jobs.ReasonExtraction, fmt.Sprintf("extract slide %d", slideNum), err)
	}

	res, err := run.RenderSlide(ctx, render.Request{
		DocumentID: job.DocumentID,
		Archive:    archive,
		SlideIndex: idx,
		WidthPx:    widthPx,
		HeightPx:   heightPx,
		Shapes:     shapes,
	})
	if err != nil {
		return types.Slide{}, jobs.Fail(jobs.ReasonRenderer, fmt.Sprintf("render slide %d", slideNum), err)
	}

	validate.Slide(shapes, res.SVG, res.Fallback, p.opts.Validate, p.log)

	svgKey := storage.SlideKey(job.DocumentID, slideNum)
	if err := p.store.Put(ctx, svgKey, res.SVG, "image/svg+xml"); err != nil {
		return types.Slide{}, jobs.Fail(jobs.ReasonStorage, fmt.Sprintf("store slide %d svg", slideNum), err)
	}

	slide := types.Slide{
		SlideID:        fmt.Sprintf("%s-s%d", job.DocumentID, slideNum),
		SlideNumber:    slideNum,
		SVGPath:        svgKey,
		OriginalWidth:  widthPx,
		OriginalHeight: heightPx,
		RenderedBy:     res.Backend,
		Shapes:         shapes,
	}

	if p.thumbs != nil && job.GenerateThumbnails {
		thumb, err := p.thumbs.Render(ctx, res.SVG, widthPx, heightPx)
		if err != nil {
			p.log.Warn().Err(err).Int("slide", slideNum).Msg("thumbnail generation failed")
		} else {
			thumbKey := storage.ThumbnailKey(job.DocumentID, slideNum)
			if err := p.store.Put(ctx, thumbKey, thumb, "image/png"); err != nil {
				p.log.Warn().Err(err).Int("slide", slideNum).Msg("thumbnail store failed")
			} else {
				slide.ThumbnailPath = thumbKey
			}
		}
	}
	return slide, nil
}

// finalize publishes the result payload and the session manifest.
func (p *Processor) finalize(ctx context.Context, job *jobs.Job, resultKey string, payload []byte) error {
	if err := p.store.Put(ctx, resultKey, payload, "application/json"); err != nil {
		return jobs.Fail(jobs.ReasonStorage, "store result", err)
	}
	manifest, err := json.Marshal(SessionManifest{DocumentID: job.DocumentID, CreatedAt: time.Now().UTC()})
	if err != nil {
		return jobs.Fail(jobs.ReasonInternal, "encode session manifest", err)
	}
	if err := p.store.Put(ctx, storage.SessionKey(job.SessionID), manifest, "application/json"); err != nil {
		return jobs.Fail(jobs.ReasonStorage, "store session manifest", err)
	}
	return nil
}
