// Package render produces per-slide SVG images. The primary backend is an
// external LibreOffice bridge service; when it is unreachable or misbehaving
// a local synthesizer draws an approximate SVG from the extracted shapes so
// processing can finish in degraded form.
package render

import (
	"github.com/slidesmith/pptx-pipeline/internal/types"
)

// Backend names reported on rendered slides.
const (
	BackendBridge   = "libreoffice-bridge"
	BackendFallback = "shape-synthesis"
)

// Request carries everything needed to render one slide by either backend.
type Request struct {
	// DocumentID keys the uploaded archive on the bridge so a deck is
	// uploaded once per document, not once per slide.
	DocumentID string
	Archive    []byte
	SlideIndex int

	// Pixel dimensions of the slide at 96 DPI.
	WidthPx  int
	HeightPx int

	// Shapes drive the fallback synthesizer.
	Shapes []types.Shape
}

// Result is one rendered slide.
type Result struct {
	SVG      []byte
	Backend  string
	Fallback bool
}
