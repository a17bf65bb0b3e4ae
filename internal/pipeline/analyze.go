package pipeline

import (
	"context"
	"math"
	"strings"

	"github.com/zombor/pricescan/internal/extraction"
	"github.com/zombor/pricescan/internal/receipt"
	"github.com/zombor/pricescan/internal/recognition"
	"github.com/zombor/pricescan/internal/stores"
)

type analysis struct {
	storeID    string
	prices     []receipt.ExtractedPrice
	confidence float64
	counts     map[receipt.Method]int
	candidates int
	rejected   int
}

// analyze runs classifier, strategies, merger and enhancer over recognized text
func (s *Service) analyze(ctx context.Context, text *recognition.Text, width, height int) (*analysis, error) {
	storeID := s.classifier.DetectStore(headerText(text, width, height))

	candidates, counts, err := s.extractor.Extract(ctx, text, storeID)
	if err != nil {
		return nil, err
	}
	merged := extraction.Merge(candidates)
	enhanced := s.enhancer.EnhanceAll(merged, storeID)

	return &analysis{
		storeID:    storeID,
		prices:     enhanced,
		confidence: extraction.OverallConfidence(enhanced, text),
		counts:     counts,
		candidates: len(candidates),
		rejected:   len(merged) - len(enhanced),
	}, nil
}

// headerText returns the lines inside the header region. Without geometry
// the first share of lines stands in for it.
func headerText(text *recognition.Text, width, height int) string {
	lines := text.Lines()
	if len(lines) == 0 {
		return ""
	}

	region := stores.HeaderRegion(width, height)
	var out []string
	positioned := false
	for _, l := range lines {
		if l.Bounds.IsEmpty() {
			continue
		}
		positioned = true
		if _, cy := l.Bounds.Center(); cy <= float64(region.Max.Y) {
			out = append(out, l.Text)
		}
	}
	if positioned && height > 0 {
		return strings.Join(out, "\n")
	}

	n := int(math.Ceil(float64(len(lines)) * stores.HeaderFraction))
	for _, l := range lines[:n] {
		out = append(out, l.Text)
	}
	return strings.Join(out, "\n")
}

type section struct {
	text   *recognition.Text
	width  int
	height int
}

// stitch stacks section texts top to bottom, offsetting every box by the
// cumulative height of the sections above it
func stitch(sections []section) (*recognition.Text, int, int) {
	out := &recognition.Text{}
	var texts []string
	width, offset := 0, 0
	for _, sec := range sections {
		dy := float64(offset)
		for _, b := range sec.text.Blocks {
			nb := recognition.Block{Text: b.Text, Bounds: b.Bounds.Translate(0, dy)}
			for _, l := range b.Lines {
				nl := recognition.Line{Text: l.Text, Bounds: l.Bounds.Translate(0, dy), Confidence: l.Confidence}
				for _, e := range l.Elements {
					ne := e
					ne.Bounds = e.Bounds.Translate(0, dy)
					nl.Elements = append(nl.Elements, ne)
				}
				nb.Lines = append(nb.Lines, nl)
			}
			out.Blocks = append(out.Blocks, nb)
		}
		if t := strings.TrimSpace(sec.text.Text); t != "" {
			texts = append(texts, t)
		}
		offset += sec.height
		width = max(width, sec.width)
	}
	out.Text = strings.Join(texts, "\n")
	return out, width, offset
}
