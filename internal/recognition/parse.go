package recognition

import (
	"encoding/json"
	"fmt"
	"strings"
)

// transcriptPrompt is the shared prompt used by all LLM providers to transcribe receipts
const transcriptPrompt = `You are transcribing a photographed retail receipt. Read every printed line from top to bottom exactly as it appears, without correcting spelling or prices.

For each line return:
1. "text": the exact characters on the line, including item codes and prices
2. "box": the bounding box as [x, y, width, height] in pixels of the supplied image, or null if unknown
3. "confidence": your certainty for the line between 0 and 1

Return ONLY valid JSON in this exact format:
{
  "lines": [
    {"text": "RICE 5LB   450.00", "box": [12, 240, 610, 38], "confidence": 0.92}
  ]
}

Important:
- Keep the original line order
- Do not merge or split lines
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

type transcriptLine struct {
	Text       string    `json:"text"`
	Box        []float64 `json:"box"`
	Confidence *float64  `json:"confidence"`
}

type transcript struct {
	Lines []transcriptLine `json:"lines"`
}

// parseTranscriptJSON parses the JSON response from an LLM transcription
func parseTranscriptJSON(text string, meta Metadata) (*Text, error) {
	text = strings.TrimSpace(text)

	// Remove opening markdown code blocks
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var data transcript
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	raw := make([]string, 0, len(data.Lines))
	for _, l := range data.Lines {
		raw = append(raw, l.Text)
	}

	lineHeight := 40.0
	if meta.Height > 0 && len(raw) > 0 {
		lineHeight = float64(meta.Height) / float64(len(raw))
	}
	out := FromLines(raw, lineHeight, float64(meta.Width))

	// Overlay engine-reported geometry and confidence where present.
	if len(out.Blocks) == 0 {
		return out, nil
	}
	lines := out.Blocks[0].Lines
	i := 0
	for _, l := range data.Lines {
		if strings.TrimSpace(l.Text) == "" {
			continue
		}
		line := &lines[i]
		i++
		if len(l.Box) == 4 && l.Box[2] > 0 && l.Box[3] > 0 {
			box := Rect{X: l.Box[0], Y: l.Box[1], Width: l.Box[2], Height: l.Box[3]}
			line.Bounds = box
			step := box.Width / float64(max(len(line.Elements), 1))
			for j := range line.Elements {
				line.Elements[j].Bounds = Rect{X: box.X + float64(j)*step, Y: box.Y, Width: step, Height: box.Height}
			}
		}
		if l.Confidence != nil {
			c := clamp01(*l.Confidence)
			line.Confidence = &c
			for j := range line.Elements {
				line.Elements[j].Confidence = Float(c)
			}
		}
	}
	out.Blocks[0].Bounds = Union(boundsOf(lines)...)

	return out, nil
}

func boundsOf(lines []Line) []Rect {
	out := make([]Rect, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.Bounds)
	}
	return out
}
