// Package pptx reads and rewrites PowerPoint (.pptx) packages. A .pptx file
// is a zip archive of OOXML parts; this package resolves the ordered slide
// parts and slide dimensions, and exposes a shape scanner shared by the
// extractor and the export reconstructor so both enumerate shapes
// identically.
package pptx

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrCorruptArchive indicates the upload is not a readable zip archive.
var ErrCorruptArchive = errors.New("pptx: corrupt or unreadable archive")

// ErrNotPresentation indicates the archive is a zip but not a presentation.
var ErrNotPresentation = errors.New("pptx: archive is not a presentation document")

const (
	presentationPart = "ppt/presentation.xml"
	presentationRels = "ppt/_rels/presentation.xml.rels"
)

// SlidePart is one slide's XML part, in presentation order.
type SlidePart struct {
	Path string
	Data []byte
}

// Package is an opened presentation. It keeps every zip part in memory so a
// rewritten copy can be emitted without touching parts the export did not
// modify.
type Package struct {
	SlideWidthEMU  int64
	SlideHeightEMU int64
	Slides         []SlidePart

	parts map[string][]byte
	names []string
}

type presentationXML struct {
	SldSz struct {
		CX int64 `xml:"cx,attr"`
		CY int64 `xml:"cy,attr"`
	} `xml:"sldSz"`
	SldIDLst struct {
		IDs []struct {
			RID string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
		} `xml:"sldId"`
	} `xml:"sldIdLst"`
}

type relationshipsXML struct {
	Rels []struct {
		ID     string `xml:"Id,attr"`
		Type   string `xml:"Type,attr"`
		Target string `xml:"Target,attr"`
	} `xml:"Relationship"`
}

// Open parses a .pptx archive from memory.
func Open(data []byte) (*Package, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}

	p := &Package{parts: make(map[string][]byte, len(zr.File))}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %v", ErrCorruptArchive, f.Name, err)
		}
		content, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrCorruptArchive, f.Name, err)
		}
		p.parts[f.Name] = content
		p.names = append(p.names, f.Name)
	}

	presXML, ok := p.parts[presentationPart]
	if !ok {
		return nil, ErrNotPresentation
	}
	var pres presentationXML
	if err := xml.Unmarshal(presXML, &pres); err != nil {
		return nil, fmt.Errorf("%w: presentation.xml: %v", ErrNotPresentation, err)
	}
	if pres.SldSz.CX <= 0 || pres.SldSz.CY <= 0 {
		return nil, fmt.Errorf("%w: missing slide size", ErrNotPresentation)
	}
	p.SlideWidthEMU = pres.SldSz.CX
	p.SlideHeightEMU = pres.SldSz.CY

	relXML, ok := p.parts[presentationRels]
	if !ok {
		return nil, fmt.Errorf("%w: missing presentation relationships", ErrNotPresentation)
	}
	var rels relationshipsXML
	if err := xml.Unmarshal(relXML, &rels); err != nil {
		return nil, fmt.Errorf("%w: presentation rels: %v", ErrNotPresentation, err)
	}
	targets := make(map[string]string, len(rels.Rels))
	for _, r := range rels.Rels {
		targets[r.ID] = r.Target
	}

	for _, sld := range pres.SldIDLst.IDs {
		target, ok := targets[sld.RID]
		if !ok {
			return nil, fmt.Errorf("%w: unresolved slide relationship %s", ErrNotPresentation, sld.RID)
		}
		partPath := resolveTarget(target)
		content, ok := p.parts[partPath]
		if !ok {
			return nil, fmt.Errorf("%w: missing slide part %s", ErrNotPresentation, partPath)
		}
		p.Slides = append(p.Slides, SlidePart{Path: partPath, Data: content})
	}
	if len(p.Slides) == 0 {
		return nil, fmt.Errorf("%w: no slides", ErrNotPresentation)
	}
	return p, nil
}

// resolveTarget turns a relationship target like "slides/slide1.xml" into a
// zip part path rooted at the archive.
func resolveTarget(target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(target, "/")
	}
	return path.Clean(path.Join("ppt", target))
}

// SlideCount returns the number of slides in presentation order.
func (p *Package) SlideCount() int {
	return len(p.Slides)
}

// Part returns a raw zip part by path.
func (p *Package) Part(name string) ([]byte, bool) {
	data, ok := p.parts[name]
	return data, ok
}

// WriteRewritten emits a new archive where the given parts are replaced and
// every other part is copied byte for byte in the original order.
func (p *Package) WriteRewritten(rewritten map[string][]byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range p.names {
		content := p.parts[name]
		if replacement, ok := rewritten[name]; ok {
			content = replacement
		}
		w, err := zw.Create(name)
		if err != nil {
			return nil, fmt.Errorf("write part %s: %w", name, err)
		}
		if _, err := w.Write(content); err != nil {
			return nil, fmt.Errorf("write part %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}
