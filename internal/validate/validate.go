package validate

import (
	"github.com/rs/zerolog"

	"github.com/slidesmith/pptx-pipeline/internal/geometry"
	"github.com/slidesmith/pptx-pipeline/internal/types"
)

// Options tunes the validation strategies.
type Options struct {
	// IoUCutoff is the overlap above which extracted geometry is trusted
	// as-is. Below it, a matched shape's geometry snaps to the SVG box.
	IoUCutoff float64
	// SimilarityThreshold is the minimum Levenshtein ratio for a fuzzy
	// text match.
	SimilarityThreshold float64
}

// DefaultOptions returns the standard validation thresholds.
func DefaultOptions() *Options {
	return &Options{
		IoUCutoff:           0.90,
		SimilarityThreshold: 0.70,
	}
}

// positionalScore is the confidence assigned when the SVG cannot confirm or
// deny the extracted geometry: text-free SVGs, synthesizer output, and
// non-text shapes all cap out here.
const positionalScore = 0.5

// Slide scores and corrects the shapes of one slide in place against its
// rendered SVG. Three strategies apply in order per text shape: exact text
// match with sufficient overlap, fuzzy text match with geometry correction,
// and positional confidence when the SVG offers no text to compare against.
// A slide rendered by the synthesizer never validates above the positional
// score, since its SVG was drawn from the very coordinates under test.
func Slide(shapes []types.Shape, svg []byte, fallbackRendered bool, opts *Options, log zerolog.Logger) {
	if opts == nil {
		opts = DefaultOptions()
	}
	corpus := ParseSVGText(svg)
	selfConfirming := fallbackRendered || len(corpus.Elements) == 0 || corpus.Width <= 0

	for i := range shapes {
		sh := &shapes[i]
		if !sh.HasText() {
			sh.ValidationScore = positionalScore
			continue
		}
		if selfConfirming {
			sh.ValidationScore = positionalScore
			if fallbackRendered {
				sh.CoordinateSource = types.SourceFallback
			}
			continue
		}
		validateShape(sh, corpus, opts, log)
	}
}

func validateShape(sh *types.Shape, corpus *SVGText, opts *Options, log zerolog.Logger) {
	extracted := geometry.Rect{X: sh.X, Y: sh.Y, W: sh.Width, H: sh.Height}

	if box, ok := matchExact(sh.Paragraphs(), sh.OriginalText, corpus); ok {
		iou := geometry.IoU(extracted, box)
		if iou >= opts.IoUCutoff {
			sh.ValidationScore = iou
			return
		}
		// Same text, different place: the renderer wins.
		applyBox(sh, box)
		sh.ValidationScore = 0.5 + iou/2
		log.Debug().
			Str("shape_id", sh.ShapeID).
			Float64("iou", iou).
			Msg("exact text match relocated to rendered position")
		return
	}

	if box, sim, ok := matchFuzzy(sh.OriginalText, extracted, corpus, opts.SimilarityThreshold); ok {
		iou := geometry.IoU(extracted, box)
		if iou < opts.IoUCutoff {
			applyBox(sh, box)
		}
		sh.ValidationScore = 0.5 + (sim*iou)/2
		return
	}

	// Text shapes the renderer shows no trace of score zero; the geometry
	// stays as extracted so the shape is still usable downstream.
	sh.ValidationScore = 0
	log.Debug().
		Str("shape_id", sh.ShapeID).
		Msg("shape text not found in rendered svg")
}

// applyBox snaps the shape to an SVG-derived box, clamped to the canvas.
func applyBox(sh *types.Shape, box geometry.Rect) {
	clamped, out := box.Clamp()
	sh.X, sh.Y, sh.Width, sh.Height = clamped.X, clamped.Y, clamped.W, clamped.H
	sh.OutOfBounds = out
	sh.CoordinateSource = types.SourceSVGMatch
}

// SlideScore aggregates shape scores into a slide-level confidence. Shapes
// without text are excluded when any text shape exists.
func SlideScore(shapes []types.Shape) float64 {
	var sum float64
	var n int
	for _, sh := range shapes {
		if sh.HasText() {
			sum += sh.ValidationScore
			n++
		}
	}
	if n == 0 {
		for _, sh := range shapes {
			sum += sh.ValidationScore
			n++
		}
	}
	if n == 0 {
		return positionalScore
	}
	return sum / float64(n)
}
