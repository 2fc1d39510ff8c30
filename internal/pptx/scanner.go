package pptx

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ShapeKind classifies a scanned shape.
type ShapeKind string

const (
	KindText      ShapeKind = "text"
	KindImage     ShapeKind = "image"
	KindTableCell ShapeKind = "table_cell"
	KindOther     ShapeKind = "other"
)

// span is the byte range of an <a:t> element's content inside the slide XML.
// A zero span means the run has no rewritable region (synthetic line breaks,
// self-closing <a:t/>).
type span struct {
	start int64
	end   int64
}

func (s span) valid() bool { return s.end > s.start || (s.start > 0 && s.end == s.start) }

// RawRun is one text run with its resolved character properties.
type RawRun struct {
	Text   string
	Font   string
	SizePt float64
	Bold   bool
	Italic bool
	Color  string

	textSpan span
}

// RawParagraph is one paragraph of a text body.
type RawParagraph struct {
	Align string
	Runs  []RawRun
}

// RawShape is a shape as it appears in the slide XML, before any coordinate
// normalization. Geometry is in EMU; zero CX/CY means the shape inherits its
// extent from a layout or placeholder and carries no explicit transform.
type RawShape struct {
	ID          string
	Name        string
	Kind        ShapeKind
	X, Y        int64
	CX, CY      int64
	Placeholder string
	Paragraphs  []RawParagraph
}

// Text joins the shape's paragraphs with newlines. Runs within a paragraph
// concatenate without separators, matching how the text renders.
func (s *RawShape) Text() string {
	parts := make([]string, 0, len(s.Paragraphs))
	for _, p := range s.Paragraphs {
		var b strings.Builder
		for _, r := range p.Runs {
			b.WriteString(r.Text)
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, "\n")
}

// FirstRun returns the first run carrying style information, if any.
func (s *RawShape) FirstRun() (RawRun, bool) {
	for _, p := range s.Paragraphs {
		for _, r := range p.Runs {
			if r.Text != "" || r.Font != "" || r.SizePt > 0 {
				return r, true
			}
		}
	}
	return RawRun{}, false
}

// ScanSlide walks one slide part and returns its shapes in document order.
// The scanner records byte offsets for every run's text content so
// RewriteSlideText can splice replacements without reserializing the XML.
func ScanSlide(data []byte) ([]RawShape, error) {
	sc := &slideScanner{
		dec: xml.NewDecoder(bytes.NewReader(data)),
		raw: data,
	}
	return sc.scan()
}

type slideScanner struct {
	dec *xml.Decoder
	raw []byte
}

func (sc *slideScanner) scan() ([]RawShape, error) {
	var shapes []RawShape
	for {
		tok, err := sc.dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse slide xml: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "sp":
			sh, err := sc.scanSp(se)
			if err != nil {
				return nil, err
			}
			shapes = append(shapes, sh)
		case "pic":
			sh, err := sc.scanPic(se)
			if err != nil {
				return nil, err
			}
			shapes = append(shapes, sh)
		case "graphicFrame":
			frame, err := sc.scanGraphicFrame(se)
			if err != nil {
				return nil, err
			}
			shapes = append(shapes, frame...)
		}
	}
	return shapes, nil
}

// scanSp consumes a p:sp element. Shapes with a non-empty text body are
// classified as text, everything else as other.
func (sc *slideScanner) scanSp(start xml.StartElement) (RawShape, error) {
	sh := RawShape{Kind: KindOther}
	depth := 1
	inXfrm := false
	for depth > 0 {
		tok, err := sc.dec.Token()
		if err != nil {
			return sh, fmt.Errorf("parse shape: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "cNvPr":
				if sh.ID == "" {
					sh.ID = attr(t, "id")
					sh.Name = attr(t, "name")
				}
				depth++
			case "ph":
				sh.Placeholder = attr(t, "type")
				if sh.Placeholder == "" {
					// A bare <p:ph/> is a body placeholder.
					sh.Placeholder = "body"
				}
				depth++
			case "xfrm":
				inXfrm = true
				depth++
			case "off":
				// <a:ext> also occurs inside extension lists; only the
				// transform's off/ext carry shape geometry.
				if inXfrm {
					sh.X = attrInt64(t, "x")
					sh.Y = attrInt64(t, "y")
				}
				depth++
			case "ext":
				if inXfrm {
					sh.CX = attrInt64(t, "cx")
					sh.CY = attrInt64(t, "cy")
				}
				depth++
			case "txBody":
				paras, err := sc.scanTxBody()
				if err != nil {
					return sh, err
				}
				sh.Paragraphs = paras
			default:
				depth++
			}
		case xml.EndElement:
			if t.Name.Local == "xfrm" {
				inXfrm = false
			}
			depth--
		}
	}
	if shapeHasText(sh.Paragraphs) {
		sh.Kind = KindText
	}
	return sh, nil
}

func (sc *slideScanner) scanPic(start xml.StartElement) (RawShape, error) {
	sh := RawShape{Kind: KindImage}
	depth := 1
	inXfrm := false
	for depth > 0 {
		tok, err := sc.dec.Token()
		if err != nil {
			return sh, fmt.Errorf("parse picture: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "cNvPr":
				if sh.ID == "" {
					sh.ID = attr(t, "id")
					sh.Name = attr(t, "name")
				}
			case "xfrm":
				inXfrm = true
			case "off":
				if inXfrm {
					sh.X = attrInt64(t, "x")
					sh.Y = attrInt64(t, "y")
				}
			case "ext":
				if inXfrm {
					sh.CX = attrInt64(t, "cx")
					sh.CY = attrInt64(t, "cy")
				}
			}
			depth++
		case xml.EndElement:
			if t.Name.Local == "xfrm" {
				inXfrm = false
			}
			depth--
		}
	}
	return sh, nil
}

// scanGraphicFrame consumes a p:graphicFrame. Frames holding a table expand
// into one shape per cell, with the cell geometry computed from the table
// grid; other frames (charts, diagrams) yield a single non-text shape.
func (sc *slideScanner) scanGraphicFrame(start xml.StartElement) ([]RawShape, error) {
	var (
		frameID          string
		frameName        string
		fx, fy, fcx, fcy int64
		colWidths        []int64
		cells            []RawShape
		row              int
		col              int
		rowHeights       []int64
		inTable          bool
		inXfrm           bool
	)
	depth := 1
	for depth > 0 {
		tok, err := sc.dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parse graphic frame: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "cNvPr":
				if frameID == "" {
					frameID = attr(t, "id")
					frameName = attr(t, "name")
				}
				depth++
			case "xfrm":
				inXfrm = true
				depth++
			case "off":
				if inXfrm {
					fx = attrInt64(t, "x")
					fy = attrInt64(t, "y")
				}
				depth++
			case "ext":
				if inXfrm {
					fcx = attrInt64(t, "cx")
					fcy = attrInt64(t, "cy")
				}
				depth++
			case "tbl":
				inTable = true
				depth++
			case "gridCol":
				colWidths = append(colWidths, attrInt64(t, "w"))
				depth++
			case "tr":
				rowHeights = append(rowHeights, attrInt64(t, "h"))
				col = 0
				depth++
			case "tc":
				cell, err := sc.scanTableCell(frameID, row, col, fx, fy, colWidths, rowHeights)
				if err != nil {
					return nil, err
				}
				cells = append(cells, cell)
				col++
			default:
				depth++
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "tr":
				row++
			case "xfrm":
				inXfrm = false
			}
			depth--
		}
	}
	if inTable {
		return cells, nil
	}
	return []RawShape{{
		ID:   frameID,
		Name: frameName,
		Kind: KindOther,
		X:    fx, Y: fy, CX: fcx, CY: fcy,
	}}, nil
}

// scanTableCell consumes an a:tc element. Cell geometry is derived from the
// frame origin plus the accumulated grid column widths and row heights.
func (sc *slideScanner) scanTableCell(frameID string, row, col int, fx, fy int64, colWidths, rowHeights []int64) (RawShape, error) {
	cell := RawShape{
		ID:   fmt.Sprintf("%s:r%dc%d", frameID, row, col),
		Kind: KindTableCell,
	}
	cell.X = fx + sumInt64(colWidths[:min(col, len(colWidths))])
	cell.Y = fy + sumInt64(rowHeights[:min(row, len(rowHeights))])
	if col < len(colWidths) {
		cell.CX = colWidths[col]
	}
	if row < len(rowHeights) {
		cell.CY = rowHeights[row]
	}

	depth := 1
	for depth > 0 {
		tok, err := sc.dec.Token()
		if err != nil {
			return cell, fmt.Errorf("parse table cell: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "txBody" {
				paras, err := sc.scanTxBody()
				if err != nil {
					return cell, err
				}
				cell.Paragraphs = paras
				continue
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return cell, nil
}

// scanTxBody consumes a txBody element, collecting paragraphs, runs, and the
// byte spans of each run's text content.
func (sc *slideScanner) scanTxBody() ([]RawParagraph, error) {
	var paras []RawParagraph
	depth := 1
	for depth > 0 {
		tok, err := sc.dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parse text body: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				para, err := sc.scanParagraph()
				if err != nil {
					return nil, err
				}
				paras = append(paras, para)
			default:
				depth++
			}
		case xml.EndElement:
			depth--
		}
	}
	return paras, nil
}

func (sc *slideScanner) scanParagraph() (RawParagraph, error) {
	var para RawParagraph
	depth := 1
	for depth > 0 {
		tok, err := sc.dec.Token()
		if err != nil {
			return para, fmt.Errorf("parse paragraph: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "pPr":
				if a := attr(t, "algn"); a != "" {
					para.Align = a
				}
				depth++
			case "r", "fld":
				run, err := sc.scanRun()
				if err != nil {
					return para, err
				}
				para.Runs = append(para.Runs, run)
			case "br":
				// Explicit line break inside a paragraph; carried as a
				// synthetic run with no rewritable span.
				para.Runs = append(para.Runs, RawRun{Text: "\n"})
				depth++
			default:
				depth++
			}
		case xml.EndElement:
			depth--
		}
	}
	return para, nil
}

func (sc *slideScanner) scanRun() (RawRun, error) {
	var run RawRun
	depth := 1
	for depth > 0 {
		tok, err := sc.dec.Token()
		if err != nil {
			return run, fmt.Errorf("parse run: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "rPr":
				if sz := attrInt64(t, "sz"); sz > 0 {
					run.SizePt = float64(sz) / 100
				}
				run.Bold = attr(t, "b") == "1"
				run.Italic = attr(t, "i") == "1"
				depth++
			case "srgbClr":
				if run.Color == "" {
					run.Color = "#" + attr(t, "val")
				}
				depth++
			case "latin":
				run.Font = attr(t, "typeface")
				depth++
			case "t":
				text, sp, err := sc.scanText()
				if err != nil {
					return run, err
				}
				run.Text = text
				run.textSpan = sp
			default:
				depth++
			}
		case xml.EndElement:
			depth--
		}
	}
	return run, nil
}

// scanText consumes an a:t element, returning the decoded content and the raw
// byte range it occupies. Self-closing <a:t/> elements yield a zero span so
// the rewriter leaves them alone.
func (sc *slideScanner) scanText() (string, span, error) {
	contentStart := sc.dec.InputOffset()
	prev := contentStart
	var b strings.Builder
	for {
		tok, err := sc.dec.Token()
		if err != nil {
			return "", span{}, fmt.Errorf("parse text element: %w", err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			b.Write(t)
		case xml.EndElement:
			end := prev
			if end == contentStart && sc.selfClosingAt(contentStart) {
				return "", span{}, nil
			}
			return b.String(), span{start: contentStart, end: end}, nil
		}
		prev = sc.dec.InputOffset()
	}
}

// selfClosingAt reports whether the element whose content would start at the
// given offset was written as <a:t/>. For a self-closing tag the two bytes
// before the content offset are "/>".
func (sc *slideScanner) selfClosingAt(offset int64) bool {
	return offset >= 2 && sc.raw[offset-2] == '/'
}

func shapeHasText(paras []RawParagraph) bool {
	for _, p := range paras {
		for _, r := range p.Runs {
			if strings.TrimSpace(r.Text) != "" {
				return true
			}
		}
	}
	return false
}

func attr(se xml.StartElement, name string) string {
	for _, a := range se.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func attrInt64(se xml.StartElement, name string) int64 {
	v, err := strconv.ParseInt(attr(se, name), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func sumInt64(vals []int64) int64 {
	var total int64
	for _, v := range vals {
		total += v
	}
	return total
}
