// Package pptxtest builds minimal .pptx archives for tests.
package pptxtest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

// Slide dimensions used by all generated decks (16:9, in EMU).
const (
	SlideWidthEMU  = 12192000
	SlideHeightEMU = 6858000
)

// TextBox describes one text shape to place on a generated slide.
type TextBox struct {
	ID          int
	X, Y        int64
	CX, CY      int64
	Text        string // paragraphs separated by \n
	Placeholder string // "", "title", "subTitle", "body", ...
	FontSize    int    // pt; 0 omits the size attribute
	Bold        bool
}

// SlideXML renders a slide part containing the given text boxes.
func SlideXML(boxes ...TextBox) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n")
	b.WriteString(`<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"><p:cSld><p:spTree>`)
	for _, box := range boxes {
		b.WriteString(shapeXML(box))
	}
	b.WriteString(`</p:spTree></p:cSld></p:sld>`)
	return b.String()
}

func shapeXML(box TextBox) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<p:sp><p:nvSpPr><p:cNvPr id="%d" name="TextBox %d"/><p:cNvSpPr/>`, box.ID, box.ID)
	if box.Placeholder != "" {
		fmt.Fprintf(&b, `<p:nvPr><p:ph type="%s"/></p:nvPr>`, box.Placeholder)
	} else {
		b.WriteString(`<p:nvPr/>`)
	}
	b.WriteString(`</p:nvSpPr><p:spPr><a:xfrm>`)
	fmt.Fprintf(&b, `<a:off x="%d" y="%d"/><a:ext cx="%d" cy="%d"/>`, box.X, box.Y, box.CX, box.CY)
	b.WriteString(`</a:xfrm></p:spPr><p:txBody><a:bodyPr/>`)
	for _, para := range strings.Split(box.Text, "\n") {
		b.WriteString(`<a:p><a:r>`)
		b.WriteString(`<a:rPr lang="en-US"`)
		if box.FontSize > 0 {
			fmt.Fprintf(&b, ` sz="%d"`, box.FontSize*100)
		}
		if box.Bold {
			b.WriteString(` b="1"`)
		}
		b.WriteString(`/>`)
		fmt.Fprintf(&b, `<a:t>%s</a:t>`, escape(para))
		b.WriteString(`</a:r></a:p>`)
	}
	b.WriteString(`</p:txBody></p:sp>`)
	return b.String()
}

func escape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// Deck assembles a complete archive from raw slide XML parts, one per slide,
// in presentation order.
func Deck(slideXML ...string) []byte {
	parts := map[string]string{
		"[Content_Types].xml": contentTypes(len(slideXML)),
		"_rels/.rels":         rootRels,
		"ppt/presentation.xml": presentation(len(slideXML)),
		"ppt/_rels/presentation.xml.rels": presentationRels(len(slideXML)),
	}
	order := []string{"[Content_Types].xml", "_rels/.rels", "ppt/presentation.xml", "ppt/_rels/presentation.xml.rels"}
	for i, xmlStr := range slideXML {
		name := fmt.Sprintf("ppt/slides/slide%d.xml", i+1)
		parts[name] = xmlStr
		order = append(order, name)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range order {
		w, err := zw.Create(name)
		if err != nil {
			panic(err)
		}
		if _, err := w.Write([]byte(parts[name])); err != nil {
			panic(err)
		}
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// SimpleDeck builds a deck where each slide holds a single full-width title
// box with the given text.
func SimpleDeck(slideTexts ...string) []byte {
	slides := make([]string, len(slideTexts))
	for i, text := range slideTexts {
		slides[i] = SlideXML(TextBox{
			ID: 2, X: 838200, Y: 365125, CX: 10515600, CY: 1325563,
			Text: text, Placeholder: "title", FontSize: 44,
		})
	}
	return Deck(slides...)
}

func contentTypes(slides int) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	b.WriteString(`<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">`)
	b.WriteString(`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>`)
	b.WriteString(`<Default Extension="xml" ContentType="application/xml"/>`)
	b.WriteString(`<Override PartName="/ppt/presentation.xml" ContentType="application/vnd.openxmlformats-officedocument.presentationml.presentation.main+xml"/>`)
	for i := 1; i <= slides; i++ {
		fmt.Fprintf(&b, `<Override PartName="/ppt/slides/slide%d.xml" ContentType="application/vnd.openxmlformats-officedocument.presentationml.slide+xml"/>`, i)
	}
	b.WriteString(`</Types>`)
	return b.String()
}

const rootRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
	`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
	`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="ppt/presentation.xml"/>` +
	`</Relationships>`

func presentation(slides int) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	b.WriteString(`<p:presentation xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main">`)
	b.WriteString(`<p:sldIdLst>`)
	for i := 1; i <= slides; i++ {
		fmt.Fprintf(&b, `<p:sldId id="%d" r:id="rId%d"/>`, 255+i, i+1)
	}
	b.WriteString(`</p:sldIdLst>`)
	fmt.Fprintf(&b, `<p:sldSz cx="%d" cy="%d"/>`, SlideWidthEMU, SlideHeightEMU)
	b.WriteString(`</p:presentation>`)
	return b.String()
}

func presentationRels(slides int) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	b.WriteString(`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">`)
	b.WriteString(`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slideMaster" Target="slideMasters/slideMaster1.xml"/>`)
	for i := 1; i <= slides; i++ {
		fmt.Fprintf(&b, `<Relationship Id="rId%d" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slide" Target="slides/slide%d.xml"/>`, i+1, i)
	}
	b.WriteString(`</Relationships>`)
	return b.String()
}

// SlideTexts collects every <a:t> text value from every slide part of a
// deck, in archive order. Unreadable archives yield nil.
func SlideTexts(deck []byte) []string {
	zr, err := zip.NewReader(bytes.NewReader(deck), int64(len(deck)))
	if err != nil {
		return nil
	}
	var texts []string
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, "ppt/slides/") || !strings.HasSuffix(f.Name, ".xml") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			continue
		}
		dec := xml.NewDecoder(rc)
		for {
			tok, err := dec.Token()
			if err != nil {
				break
			}
			start, ok := tok.(xml.StartElement)
			if !ok || start.Name.Local != "t" {
				continue
			}
			var val string
			if err := dec.DecodeElement(&val, &start); err == nil && val != "" {
				texts = append(texts, val)
			}
		}
		rc.Close()
	}
	return texts
}
