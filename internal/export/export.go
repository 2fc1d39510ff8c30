// Package export rebuilds a .pptx deck with translated text. The original
// archive is the template: only the text content of translated shapes
// changes, every other byte of every part survives untouched, so formatting,
// media, themes, and animations all round-trip exactly.
package export

import (
	"fmt"
	"strings"

	"github.com/slidesmith/pptx-pipeline/internal/pptx"
	"github.com/slidesmith/pptx-pipeline/internal/types"
)

// Reconstruct produces a translated copy of the deck. Translations map shape
// IDs (as produced by extraction, slide-prefixed) to replacement text with
// "\n" separating paragraphs. Shapes without an entry keep their original
// text; an empty map returns the archive unchanged.
func Reconstruct(archive []byte, translations types.Translations) ([]byte, error) {
	pkg, err := pptx.Open(archive)
	if err != nil {
		return nil, err
	}
	if len(translations) == 0 {
		return archive, nil
	}

	rewritten := make(map[string][]byte)
	for i, slide := range pkg.Slides {
		repl := slideReplacements(translations, i+1)
		if len(repl) == 0 {
			continue
		}
		out, err := pptx.RewriteSlideText(slide.Data, repl)
		if err != nil {
			return nil, fmt.Errorf("rewrite slide %d: %w", i+1, err)
		}
		rewritten[slide.Path] = out
	}
	if len(rewritten) == 0 {
		return archive, nil
	}
	return pkg.WriteRewritten(rewritten)
}

// slideReplacements selects this slide's translations and strips the slide
// prefix, yielding raw shape ID -> paragraph texts.
func slideReplacements(translations types.Translations, slideNum int) map[string][]string {
	prefix := fmt.Sprintf("s%d-", slideNum)
	repl := make(map[string][]string)
	for shapeID, text := range translations {
		rawID, ok := strings.CutPrefix(shapeID, prefix)
		if !ok {
			continue
		}
		repl[rawID] = strings.Split(text, "\n")
	}
	return repl
}
