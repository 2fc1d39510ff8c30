// Package extract turns scanned slide shapes into positioned, styled text
// shapes with percentage coordinates and translation metadata.
package extract

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/slidesmith/pptx-pipeline/internal/geometry"
	"github.com/slidesmith/pptx-pipeline/internal/pptx"
	"github.com/slidesmith/pptx-pipeline/internal/types"
)

// Style defaults applied when a run carries no explicit properties. These
// match PowerPoint's body text defaults.
const (
	DefaultFontFamily = "Calibri"
	DefaultFontSize   = 18.0
	DefaultColor      = "#000000"
)

// readingBandFraction is the vertical tolerance, as a fraction of slide
// height, within which shapes are considered to sit on the same line for
// reading order purposes.
const readingBandFraction = 0.05

// Slide extracts the shapes of one slide (0-based index) from an opened
// package. Shapes come back sorted by reading order, with coordinates
// normalized to percentages of the slide size and clamped to the canvas.
func Slide(pkg *pptx.Package, idx int) ([]types.Shape, error) {
	if idx < 0 || idx >= pkg.SlideCount() {
		return nil, fmt.Errorf("slide index %d out of range (deck has %d slides)", idx, pkg.SlideCount())
	}
	raws, err := pptx.ScanSlide(pkg.Slides[idx].Data)
	if err != nil {
		return nil, fmt.Errorf("scan slide %d: %w", idx+1, err)
	}

	slideNum := idx + 1
	shapes := make([]types.Shape, 0, len(raws))
	for _, raw := range raws {
		shapes = append(shapes, buildShape(raw, slideNum, pkg.SlideWidthEMU, pkg.SlideHeightEMU))
	}
	orderShapes(shapes)
	return shapes, nil
}

func buildShape(raw pptx.RawShape, slideNum int, slideW, slideH int64) types.Shape {
	sh := types.Shape{
		ShapeID:          fmt.Sprintf("s%d-%s", slideNum, raw.ID),
		ShapeType:        shapeType(raw.Kind),
		NativeX:          raw.X,
		NativeY:          raw.Y,
		NativeWidth:      raw.CX,
		NativeHeight:     raw.CY,
		CoordinateSource: types.SourceExtraction,
	}

	rect := geometry.PercentRect(raw.X, raw.Y, raw.CX, raw.CY, slideW, slideH)
	clamped, out := rect.Clamp()
	sh.X, sh.Y, sh.Width, sh.Height = clamped.X, clamped.Y, clamped.W, clamped.H
	sh.OutOfBounds = out

	if raw.Kind != pptx.KindText && raw.Kind != pptx.KindTableCell {
		return sh
	}

	text := raw.Text()
	sh.OriginalText = text
	sh.TextLength = utf8.RuneCountInString(text)
	sh.WordCount = len(strings.Fields(text))
	sh.PlaceholderType = raw.Placeholder
	sh.IsTitle = raw.Placeholder == "title" || raw.Placeholder == "ctrTitle"
	sh.IsSubtitle = raw.Placeholder == "subTitle"
	sh.TranslationPriority = priority(sh)

	sh.FontFamily = DefaultFontFamily
	sh.FontSize = DefaultFontSize
	sh.FontWeight = "normal"
	sh.FontStyle = "normal"
	sh.Color = DefaultColor
	if run, ok := raw.FirstRun(); ok {
		if run.Font != "" {
			sh.FontFamily = run.Font
		}
		if run.SizePt > 0 {
			sh.FontSize = run.SizePt
		}
		if run.Bold {
			sh.FontWeight = "bold"
		}
		if run.Italic {
			sh.FontStyle = "italic"
		}
		if run.Color != "" {
			sh.Color = run.Color
		}
	}
	sh.TextAlign = "left"
	if len(raw.Paragraphs) > 0 {
		sh.TextAlign = alignName(raw.Paragraphs[0].Align)
	}
	return sh
}

func shapeType(kind pptx.ShapeKind) types.ShapeType {
	switch kind {
	case pptx.KindText:
		return types.ShapeText
	case pptx.KindImage:
		return types.ShapeImage
	case pptx.KindTableCell:
		return types.ShapeTableCell
	default:
		return types.ShapeOther
	}
}

// priority ranks shapes for translation workflows: titles first, subtitles
// next, then any other shape carrying text.
func priority(sh types.Shape) int {
	switch {
	case !sh.HasText():
		return 0
	case sh.IsTitle:
		return 10
	case sh.IsSubtitle:
		return 8
	default:
		return 5
	}
}

func alignName(algn string) string {
	switch algn {
	case "ctr":
		return "center"
	case "r":
		return "right"
	case "just":
		return "justify"
	default:
		return "left"
	}
}

// orderShapes assigns reading order top-left to bottom-right. Shapes whose
// vertical positions fall within a narrow band are treated as one line and
// ordered left to right inside it.
func orderShapes(shapes []types.Shape) {
	sort.SliceStable(shapes, func(i, j int) bool { return shapes[i].Y < shapes[j].Y })

	tol := readingBandFraction * 100
	for start := 0; start < len(shapes); {
		end := start + 1
		for end < len(shapes) && shapes[end].Y-shapes[start].Y <= tol {
			end++
		}
		band := shapes[start:end]
		sort.SliceStable(band, func(i, j int) bool { return band[i].X < band[j].X })
		start = end
	}
	for i := range shapes {
		shapes[i].ReadingOrder = i
	}
}
