package recognition

import (
	"math"
	"strings"
)

// Rect is an axis-aligned box in image pixel coordinates, origin top-left
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the center point of the box
func (r Rect) Center() (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// IsEmpty reports whether the box has no area
func (r Rect) IsEmpty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Contains reports whether the point lies inside the box
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x <= r.X+r.Width && y >= r.Y && y <= r.Y+r.Height
}

// Translate returns the box moved by dx, dy
func (r Rect) Translate(dx, dy float64) Rect {
	return Rect{X: r.X + dx, Y: r.Y + dy, Width: r.Width, Height: r.Height}
}

// Union returns the smallest box containing every non-empty box given
func Union(rects ...Rect) Rect {
	minX, minY := math.MaxFloat64, math.MaxFloat64
	maxX, maxY := -math.MaxFloat64, -math.MaxFloat64
	found := false
	for _, r := range rects {
		if r.IsEmpty() {
			continue
		}
		found = true
		minX = math.Min(minX, r.X)
		minY = math.Min(minY, r.Y)
		maxX = math.Max(maxX, r.X+r.Width)
		maxY = math.Max(maxY, r.Y+r.Height)
	}
	if !found {
		return Rect{}
	}
	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// Element is a single recognized token
type Element struct {
	Text   string `json:"text"`
	Bounds Rect   `json:"bounds"`
	// Confidence is nil when the engine does not report one
	Confidence *float64 `json:"confidence,omitempty"`
}

// Line groups elements sharing a baseline
type Line struct {
	Text       string    `json:"text"`
	Bounds     Rect      `json:"bounds"`
	Elements   []Element `json:"elements,omitempty"`
	Confidence *float64  `json:"confidence,omitempty"`
}

// Block groups lines forming one logical region of the receipt
type Block struct {
	Text   string `json:"text"`
	Bounds Rect   `json:"bounds"`
	Lines  []Line `json:"lines"`
}

// Text is the output of a recognition engine. It is read-only once returned.
type Text struct {
	Text   string  `json:"text"`
	Blocks []Block `json:"blocks"`
}

// Lines returns every line in reading order
func (t *Text) Lines() []Line {
	if t == nil {
		return nil
	}
	var lines []Line
	for _, b := range t.Blocks {
		lines = append(lines, b.Lines...)
	}
	return lines
}

// ElementConfidences returns every per-element confidence the engine reported
func (t *Text) ElementConfidences() []float64 {
	var out []float64
	for _, l := range t.Lines() {
		for _, e := range l.Elements {
			if e.Confidence != nil {
				out = append(out, clamp01(*e.Confidence))
			}
		}
	}
	return out
}

// IsEmpty reports whether nothing was recognized
func (t *Text) IsEmpty() bool {
	return t == nil || strings.TrimSpace(t.Text) == ""
}

// Float returns a pointer to v, for building confidences
func Float(v float64) *float64 {
	return &v
}

// FromLines builds a single-block Text from plain lines, laying them out
// top to bottom with a fixed line height. Used for engines that return
// transcripts without geometry.
func FromLines(lines []string, lineHeight, width float64) *Text {
	if lineHeight <= 0 {
		lineHeight = 40
	}
	if width <= 0 {
		width = 1000
	}

	block := Block{}
	var kept []string
	y := 0.0
	for _, raw := range lines {
		text := strings.TrimSpace(raw)
		if text == "" {
			continue
		}
		kept = append(kept, text)
		words := strings.Fields(text)
		line := Line{Text: text, Bounds: Rect{X: 0, Y: y, Width: width, Height: lineHeight}}
		if len(words) > 0 {
			step := width / float64(len(words))
			for i, w := range words {
				line.Elements = append(line.Elements, Element{
					Text:   w,
					Bounds: Rect{X: float64(i) * step, Y: y, Width: step, Height: lineHeight},
				})
			}
		}
		block.Lines = append(block.Lines, line)
		y += lineHeight
	}
	block.Text = strings.Join(kept, "\n")
	block.Bounds = Rect{Width: width, Height: y}

	t := &Text{Text: block.Text}
	if len(block.Lines) > 0 {
		t.Blocks = []Block{block}
	}
	return t
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
