package validate

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slidesmith/pptx-pipeline/internal/types"
)

// svgWith builds a 1280x720 SVG containing the given positioned text lines.
func svgWith(texts ...string) []byte {
	svg := `<svg xmlns="http://www.w3.org/2000/svg" width="1280" height="720" viewBox="0 0 1280 720">`
	svg += `<rect width="1280" height="720" fill="#fff"/>`
	svg += texts[0]
	for _, t := range texts[1:] {
		svg += t
	}
	return []byte(svg + `</svg>`)
}

func textEl(x, y, size float64, s string) string {
	return fmt.Sprintf(`<text x="%g" y="%g" font-size="%g">%s</text>`, x, y, size, s)
}

func TestParseSVGText(t *testing.T) {
	svg := svgWith(
		textEl(128, 80, 44, "Quarterly Review"),
		`<text font-size="18"><tspan x="128" y="200">first line</tspan><tspan x="128" y="222">second line</tspan></text>`,
	)

	corpus := ParseSVGText(svg)
	assert.Equal(t, 1280.0, corpus.Width)
	assert.Equal(t, 720.0, corpus.Height)
	require.Len(t, corpus.Elements, 3)

	assert.Equal(t, "Quarterly Review", corpus.Elements[0].Text)
	assert.Equal(t, 128.0, corpus.Elements[0].X)
	assert.Equal(t, 44.0, corpus.Elements[0].FontSize)

	// tspans inherit the parent font size and carry their own positions.
	assert.Equal(t, "first line", corpus.Elements[1].Text)
	assert.Equal(t, 200.0, corpus.Elements[1].Y)
	assert.Equal(t, 18.0, corpus.Elements[1].FontSize)
	assert.Equal(t, "second line", corpus.Elements[2].Text)
}

func TestParseSVGTextGarbage(t *testing.T) {
	corpus := ParseSVGText([]byte("not an svg at all"))
	assert.Empty(t, corpus.Elements)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, similarity("Hello World", "hello   world"))
	assert.InDelta(t, 0.9, similarity("Quarterly Review", "Quarterly Rewiew"), 0.05)
	assert.Less(t, similarity("Quarterly Review", "completely different"), 0.3)
}

func textShape(id, text string, x, y, w, h float64) types.Shape {
	return types.Shape{
		ShapeID: id, ShapeType: types.ShapeText, OriginalText: text,
		X: x, Y: y, Width: w, Height: h,
		CoordinateSource: types.SourceExtraction,
	}
}

func TestSlideExactMatchKeepsGeometry(t *testing.T) {
	// Element at x=128, baseline 124, size 44: estimated box is
	// (128, 80, 242, 52.8)px, i.e. (10%, 11.1%, 18.9%, 7.3%) of 1280x720.
	svg := svgWith(textEl(128, 124, 44, "Board Deck"))
	shapes := []types.Shape{textShape("s1-2", "Board Deck", 10, 11.11, 18.91, 7.33)}

	Slide(shapes, svg, false, nil, zerolog.Nop())

	assert.GreaterOrEqual(t, shapes[0].ValidationScore, 0.9)
	assert.Equal(t, types.SourceExtraction, shapes[0].CoordinateSource)
	assert.InDelta(t, 10.0, shapes[0].X, 0.01, "trusted geometry is untouched")
}

func TestSlideExactMatchRelocates(t *testing.T) {
	// Extraction put the shape in the wrong corner; the SVG knows better.
	svg := svgWith(textEl(640, 412, 44, "Board Deck"))
	shapes := []types.Shape{textShape("s1-2", "Board Deck", 1, 1, 20, 5)}

	Slide(shapes, svg, false, nil, zerolog.Nop())

	sh := shapes[0]
	assert.Equal(t, types.SourceSVGMatch, sh.CoordinateSource)
	assert.InDelta(t, 50.0, sh.X, 0.1)
	assert.GreaterOrEqual(t, sh.ValidationScore, 0.5)
	assert.Less(t, sh.ValidationScore, 0.9)
}

func TestSlideFuzzyMatch(t *testing.T) {
	// Renderer shows slightly different text (ligatures, hyphenation).
	svg := svgWith(textEl(128, 124, 44, "Quarterly Rewiew"))
	shapes := []types.Shape{textShape("s1-2", "Quarterly Review", 9, 10, 31, 8)}

	Slide(shapes, svg, false, nil, zerolog.Nop())

	sh := shapes[0]
	assert.Equal(t, types.SourceSVGMatch, sh.CoordinateSource)
	assert.Greater(t, sh.ValidationScore, 0.5)
	assert.InDelta(t, 10.0, sh.X, 0.5)
}

func TestSlideNoMatchScoresZero(t *testing.T) {
	svg := svgWith(textEl(128, 124, 44, "something else entirely"))
	shapes := []types.Shape{textShape("s1-2", "Board Deck", 10, 10, 20, 5)}

	Slide(shapes, svg, false, nil, zerolog.Nop())

	assert.Equal(t, 0.0, shapes[0].ValidationScore)
	assert.InDelta(t, 10.0, shapes[0].X, 0.01, "unmatched geometry stays as extracted")
}

func TestSlideTextFreeSVGIsPositional(t *testing.T) {
	svg := []byte(`<svg xmlns="http://www.w3.org/2000/svg" width="1280" height="720"><rect width="1280" height="720"/></svg>`)
	shapes := []types.Shape{textShape("s1-2", "Board Deck", 10, 10, 20, 5)}

	Slide(shapes, svg, false, nil, zerolog.Nop())

	assert.Equal(t, 0.5, shapes[0].ValidationScore)
}

func TestSlideFallbackRenderCapsScore(t *testing.T) {
	// The synthesizer drew this SVG from the extracted shapes themselves,
	// so a perfect text match must not count as confirmation.
	svg := svgWith(textEl(128, 124, 44, "Board Deck"))
	shapes := []types.Shape{textShape("s1-2", "Board Deck", 10, 11.1, 30.3, 7.3)}

	Slide(shapes, svg, true, nil, zerolog.Nop())

	assert.LessOrEqual(t, shapes[0].ValidationScore, 0.5)
	assert.Equal(t, types.SourceFallback, shapes[0].CoordinateSource)
}

func TestSlideNonTextShapes(t *testing.T) {
	svg := svgWith(textEl(128, 124, 44, "Board Deck"))
	shapes := []types.Shape{
		{ShapeID: "s1-5", ShapeType: types.ShapeImage, X: 50, Y: 50, Width: 10, Height: 10},
	}

	Slide(shapes, svg, false, nil, zerolog.Nop())
	assert.Equal(t, 0.5, shapes[0].ValidationScore)
}

func TestSlideScore(t *testing.T) {
	shapes := []types.Shape{
		{ShapeType: types.ShapeText, OriginalText: "a", ValidationScore: 1.0},
		{ShapeType: types.ShapeText, OriginalText: "b", ValidationScore: 0.5},
		{ShapeType: types.ShapeImage, ValidationScore: 0.5},
	}
	assert.InDelta(t, 0.75, SlideScore(shapes), 0.001)

	onlyImages := []types.Shape{{ShapeType: types.ShapeImage, ValidationScore: 0.5}}
	assert.Equal(t, 0.5, SlideScore(onlyImages))

	assert.Equal(t, 0.5, SlideScore(nil))
}
