// Package types defines the shared data model for the presentation pipeline.
package types

import (
	"strings"
	"time"
)

// ShapeType classifies a shape on a slide.
type ShapeType string

const (
	ShapeText      ShapeType = "text"
	ShapeImage     ShapeType = "image"
	ShapeTableCell ShapeType = "table_cell"
	ShapeOther     ShapeType = "other"
)

// CoordinateSource records where a shape's final geometry came from.
type CoordinateSource string

const (
	SourceExtraction CoordinateSource = "extraction"
	SourceSVGMatch   CoordinateSource = "svg_match"
	SourceFallback   CoordinateSource = "fallback"
)

// Shape is a single positioned element on a slide. Geometry is expressed as
// percentages of the slide dimensions; the raw EMU values are kept for
// traceability back into the source document.
type Shape struct {
	ShapeID      string    `json:"shape_id"`
	ShapeType    ShapeType `json:"shape_type"`
	OriginalText string    `json:"original_text,omitempty"`
	// TranslatedText is written by the external editor. The pipeline never
	// produces it but must carry it through export untouched.
	TranslatedText string `json:"translated_text,omitempty"`

	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`

	NativeX      int64 `json:"native_x"`
	NativeY      int64 `json:"native_y"`
	NativeWidth  int64 `json:"native_width"`
	NativeHeight int64 `json:"native_height"`

	FontFamily string  `json:"font_family,omitempty"`
	FontSize   float64 `json:"font_size,omitempty"`
	FontWeight string  `json:"font_weight,omitempty"`
	FontStyle  string  `json:"font_style,omitempty"`
	Color      string  `json:"color,omitempty"`
	TextAlign  string  `json:"text_align,omitempty"`

	ReadingOrder int `json:"reading_order"`

	IsTitle             bool   `json:"is_title,omitempty"`
	IsSubtitle          bool   `json:"is_subtitle,omitempty"`
	PlaceholderType     string `json:"placeholder_type,omitempty"`
	TranslationPriority int    `json:"translation_priority,omitempty"`
	TextLength          int    `json:"text_length,omitempty"`
	WordCount           int    `json:"word_count,omitempty"`

	ValidationScore  float64          `json:"validation_score"`
	CoordinateSource CoordinateSource `json:"coordinate_source,omitempty"`
	// OutOfBounds flags shapes whose geometry cannot be contained within the
	// slide even after validation. Flagged shapes are kept, never dropped.
	OutOfBounds bool `json:"out_of_bounds,omitempty"`
}

// HasText reports whether the shape carries translatable text.
func (s *Shape) HasText() bool {
	return strings.TrimSpace(s.OriginalText) != ""
}

// Paragraphs splits the original text back into its paragraph units. The
// extractor joins paragraphs with "\n" so translation keeps structure.
func (s *Shape) Paragraphs() []string {
	if s.OriginalText == "" {
		return nil
	}
	return strings.Split(s.OriginalText, "\n")
}

// Slide is one processed page of a presentation.
type Slide struct {
	SlideID     string `json:"slide_id"`
	SlideNumber int    `json:"slide_number"`

	SVGPath       string `json:"svg_path"`
	ThumbnailPath string `json:"thumbnail_path,omitempty"`

	// Original dimensions in pixels at 96 DPI, needed to interpret the
	// percentage coordinates of the slide's shapes.
	OriginalWidth  int `json:"original_width"`
	OriginalHeight int `json:"original_height"`

	// RenderedBy names the backend that produced the slide's vector image.
	RenderedBy string `json:"rendered_by,omitempty"`
	// Regenerated is set when a retry re-rendered an already persisted slide.
	Regenerated bool `json:"regenerated,omitempty"`

	Shapes []Shape `json:"shapes"`
}

// ProcessingStatus is the overall outcome recorded in a result document.
type ProcessingStatus string

const (
	ProcessingCompleted ProcessingStatus = "completed"
	ProcessingPartial   ProcessingStatus = "partially_completed"
)

// Presentation is the full result tree persisted as {document_id}/result.json.
type Presentation struct {
	DocumentID     string           `json:"document_id"`
	SessionID      string           `json:"session_id"`
	SlideCount     int              `json:"slide_count"`
	Status         ProcessingStatus `json:"processing_status"`
	ProcessingTime float64          `json:"processing_time_seconds,omitempty"`
	ProcessedAt    time.Time        `json:"processed_at"`
	Slides         []Slide          `json:"slides"`
}

// Translations maps shape ids to translated text, supplied by the editor and
// consumed by the export reconstructor.
type Translations map[string]string
