package pptx

import (
	"bytes"
	"encoding/xml"
	"sort"
	"strings"
)

// RewriteSlideText replaces the text of the shapes named in repl and returns
// the rewritten slide XML. repl maps a shape ID to its paragraph texts, one
// entry per paragraph. Only the byte ranges of <a:t> contents are touched;
// every other byte of the part, including formatting, whitespace, and
// attribute order, is preserved. An empty repl returns the input unchanged.
//
// Within a paragraph the replacement text lands in the first rewritable run
// and the remaining runs are emptied, so the paragraph keeps the leading
// run's character formatting. Extra replacement paragraphs beyond what the
// shape has are folded into its last paragraph.
func RewriteSlideText(data []byte, repl map[string][]string) ([]byte, error) {
	if len(repl) == 0 {
		return data, nil
	}
	shapes, err := ScanSlide(data)
	if err != nil {
		return nil, err
	}

	type edit struct {
		start, end int64
		text       string
	}
	var edits []edit
	for _, sh := range shapes {
		paras, ok := repl[sh.ID]
		if !ok {
			continue
		}
		for pi, p := range sh.Paragraphs {
			var text string
			switch {
			case pi == len(sh.Paragraphs)-1 && len(paras) > len(sh.Paragraphs):
				text = strings.Join(paras[pi:], " ")
			case pi < len(paras):
				text = paras[pi]
			}
			assigned := false
			for _, r := range p.Runs {
				if !r.textSpan.valid() {
					continue
				}
				if !assigned {
					edits = append(edits, edit{r.textSpan.start, r.textSpan.end, escapeText(text)})
					assigned = true
				} else {
					edits = append(edits, edit{r.textSpan.start, r.textSpan.end, ""})
				}
			}
		}
	}
	if len(edits) == 0 {
		return data, nil
	}

	sort.Slice(edits, func(i, j int) bool { return edits[i].start < edits[j].start })
	var out bytes.Buffer
	out.Grow(len(data))
	var cursor int64
	for _, e := range edits {
		out.Write(data[cursor:e.start])
		out.WriteString(e.text)
		cursor = e.end
	}
	out.Write(data[cursor:])
	return out.Bytes(), nil
}

func escapeText(s string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return s
	}
	return b.String()
}
