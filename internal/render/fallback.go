package render

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/slidesmith/pptx-pipeline/internal/types"
)

// Synthesize draws an approximate SVG for a slide directly from its
// extracted shapes. Text shapes render their text at the extracted position
// and style; images and other shapes render as placeholder boxes. The result
// is visually crude but keeps the workflow alive when the bridge is down.
func Synthesize(widthPx, heightPx int, shapes []types.Shape) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`,
		widthPx, heightPx, widthPx, heightPx)
	fmt.Fprintf(&b, `<rect width="%d" height="%d" fill="#ffffff"/>`, widthPx, heightPx)

	for _, sh := range shapes {
		x := sh.X / 100 * float64(widthPx)
		y := sh.Y / 100 * float64(heightPx)
		w := sh.Width / 100 * float64(widthPx)
		h := sh.Height / 100 * float64(heightPx)

		switch {
		case sh.HasText():
			fmt.Fprintf(&b, `<rect x="%.1f" y="%.1f" width="%.1f" height="%.1f" fill="none" stroke="#d0d0d0" stroke-width="1"/>`, x, y, w, h)
			writeTextLines(&b, sh, x, y)
		case sh.ShapeType == types.ShapeImage:
			fmt.Fprintf(&b, `<rect x="%.1f" y="%.1f" width="%.1f" height="%.1f" fill="#e8e8e8" stroke="#c0c0c0" stroke-width="1"/>`, x, y, w, h)
		default:
			fmt.Fprintf(&b, `<rect x="%.1f" y="%.1f" width="%.1f" height="%.1f" fill="none" stroke="#e0e0e0" stroke-width="1"/>`, x, y, w, h)
		}
	}
	b.WriteString(`</svg>`)
	return []byte(b.String())
}

// writeTextLines emits one <text> element per paragraph, stacked with a 1.2
// line height below the shape's top edge.
func writeTextLines(b *strings.Builder, sh types.Shape, x, y float64) {
	size := sh.FontSize
	if size <= 0 {
		size = 18
	}
	lineHeight := size * 1.2
	weight := sh.FontWeight
	if weight == "" {
		weight = "normal"
	}
	fill := sh.Color
	if fill == "" {
		fill = "#000000"
	}
	for i, line := range sh.Paragraphs() {
		if strings.TrimSpace(line) == "" {
			continue
		}
		baseline := y + float64(i)*lineHeight + size
		fmt.Fprintf(b, `<text x="%.1f" y="%.1f" font-family="%s" font-size="%.1f" font-weight="%s" fill="%s">%s</text>`,
			x, baseline, escapeAttr(sh.FontFamily), size, weight, escapeAttr(fill), escapeText(line))
	}
}

func escapeText(s string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return s
	}
	return b.String()
}

func escapeAttr(s string) string {
	return escapeText(s)
}
