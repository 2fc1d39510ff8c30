package validate

import (
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/slidesmith/pptx-pipeline/internal/geometry"
)

// normalize collapses whitespace so extraction and renderer output compare
// on content rather than layout.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// similarity is a normalized Levenshtein ratio in [0,1], computed over the
// lowercased, whitespace-collapsed texts.
func similarity(a, b string) float64 {
	a = strings.ToLower(normalize(a))
	b = strings.ToLower(normalize(b))
	if a == b {
		return 1
	}
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}

// matchExact finds SVG elements whose text equals the shape's full text or
// one of its paragraphs. The matched box is the union of every matched line.
func matchExact(paragraphs []string, full string, corpus *SVGText) (geometry.Rect, bool) {
	want := make(map[string]bool, len(paragraphs)+1)
	want[normalize(full)] = true
	for _, p := range paragraphs {
		if n := normalize(p); n != "" {
			want[n] = true
		}
	}

	var union geometry.Rect
	found := false
	for _, el := range corpus.Elements {
		if !want[normalize(el.Text)] {
			continue
		}
		box := corpus.PercentBox(el.Box())
		if !found {
			union = box
			found = true
		} else {
			union = union.Union(box)
		}
	}
	return union, found
}

// matchFuzzy finds the corpus element most similar to the shape text,
// provided the similarity clears the threshold. Ties prefer the element
// whose box overlaps the extracted geometry most.
func matchFuzzy(full string, extracted geometry.Rect, corpus *SVGText, threshold float64) (geometry.Rect, float64, bool) {
	var (
		bestBox geometry.Rect
		bestSim float64
		bestIoU float64
		found   bool
	)
	for _, el := range corpus.Elements {
		sim := similarity(full, el.Text)
		if sim < threshold {
			continue
		}
		box := corpus.PercentBox(el.Box())
		iou := geometry.IoU(extracted, box)
		if !found || sim > bestSim || (sim == bestSim && iou > bestIoU) {
			bestBox, bestSim, bestIoU, found = box, sim, iou, true
		}
	}
	return bestBox, bestSim, found
}
