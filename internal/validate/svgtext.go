// Package validate reconciles extracted shape coordinates against the
// rendered SVG. The renderer is the authority on where text actually landed;
// validation scores each shape's extracted geometry against the SVG's text
// elements and corrects it when the two disagree.
package validate

import (
	"bytes"
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"github.com/slidesmith/pptx-pipeline/internal/geometry"
)

// TextElement is one positioned piece of text found in a rendered SVG.
// Coordinates are in SVG user units; Y is the text baseline.
type TextElement struct {
	Text     string
	X, Y     float64
	FontSize float64
}

// Box estimates the bounding box of the rendered element. Glyph metrics are not
// available without the font, so width uses an average advance of 0.55em and
// height a 1.2 line height, with the top edge one em above the baseline.
func (e TextElement) Box() geometry.Rect {
	runes := len([]rune(e.Text))
	return geometry.Rect{
		X: e.X,
		Y: e.Y - e.FontSize,
		W: 0.55 * e.FontSize * float64(runes),
		H: 1.2 * e.FontSize,
	}
}

// SVGText is the text content of one rendered slide.
type SVGText struct {
	Width    float64
	Height   float64
	Elements []TextElement
}

// ParseSVGText pulls the positioned text elements out of a rendered SVG.
// Each <text> or <tspan> carrying its own x attribute becomes one element;
// tspans inherit the font size of their enclosing text element. A parse
// failure or a text-free SVG yields an empty corpus, not an error, since
// validation degrades to positional confidence in that case.
func ParseSVGText(svg []byte) *SVGText {
	out := &SVGText{}
	dec := xml.NewDecoder(bytes.NewReader(svg))
	dec.Strict = false

	type frame struct {
		x, y, size float64
		hasOwnPos  bool
		text       strings.Builder
	}
	var stack []*frame

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return out
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "svg":
				if out.Width == 0 {
					out.Width, out.Height = svgCanvas(t)
				}
			case "text", "tspan":
				f := &frame{}
				if len(stack) > 0 {
					parent := stack[len(stack)-1]
					f.x, f.y, f.size = parent.x, parent.y, parent.size
				}
				if v, ok := floatAttr(t, "x"); ok {
					f.x = v
					f.hasOwnPos = true
				}
				if v, ok := floatAttr(t, "y"); ok {
					f.y = v
					f.hasOwnPos = true
				}
				if v, ok := floatAttr(t, "font-size"); ok {
					f.size = v
				}
				stack = append(stack, f)
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		case xml.EndElement:
			if t.Name.Local != "text" && t.Name.Local != "tspan" {
				continue
			}
			if len(stack) == 0 {
				continue
			}
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			text := strings.TrimSpace(f.text.String())
			if text == "" {
				continue
			}
			size := f.size
			if size <= 0 {
				size = 16
			}
			out.Elements = append(out.Elements, TextElement{Text: text, X: f.x, Y: f.y, FontSize: size})
		}
	}
	return out
}

// PercentBox converts an element box from SVG units to percentages of the
// slide canvas.
func (s *SVGText) PercentBox(r geometry.Rect) geometry.Rect {
	if s.Width <= 0 || s.Height <= 0 {
		return geometry.Rect{}
	}
	return geometry.Rect{
		X: r.X / s.Width * 100,
		Y: r.Y / s.Height * 100,
		W: r.W / s.Width * 100,
		H: r.H / s.Height * 100,
	}
}

func svgCanvas(se xml.StartElement) (w, h float64) {
	if vb := attrValue(se, "viewBox"); vb != "" {
		parts := strings.Fields(vb)
		if len(parts) == 4 {
			w, _ = strconv.ParseFloat(parts[2], 64)
			h, _ = strconv.ParseFloat(parts[3], 64)
			if w > 0 && h > 0 {
				return w, h
			}
		}
	}
	w, _ = parseLength(attrValue(se, "width"))
	h, _ = parseLength(attrValue(se, "height"))
	return w, h
}

func attrValue(se xml.StartElement, name string) string {
	for _, a := range se.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func floatAttr(se xml.StartElement, name string) (float64, bool) {
	raw := attrValue(se, name)
	if raw == "" {
		return 0, false
	}
	// x may be a list; the first value anchors the run.
	if i := strings.IndexAny(raw, " ,"); i > 0 {
		raw = raw[:i]
	}
	v, err := parseLength(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseLength parses an SVG length, tolerating a trailing unit suffix.
func parseLength(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimSuffix(raw, "px")
	raw = strings.TrimSuffix(raw, "pt")
	return strconv.ParseFloat(raw, 64)
}
