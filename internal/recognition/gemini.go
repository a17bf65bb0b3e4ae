package recognition

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini transcribes receipts with a Google Gemini vision model
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini connects to Gemini. Temperature is pinned to zero so repeated
// scans of one image transcribe identically.
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)

	return &Gemini{
		client: client,
		model:  model,
	}, nil
}

// Recognize transcribes a receipt image. The caller bounds the call with ctx.
func (g *Gemini) Recognize(ctx context.Context, image []byte, meta Metadata) (*Text, error) {
	format := meta.Format
	if format == "" {
		format = "png"
	}

	// ImageData takes the bare format suffix, not a MIME type
	resp, err := g.model.GenerateContent(ctx, genai.ImageData(format, image), genai.Text(transcriptPrompt))
	if err != nil {
		return nil, fmt.Errorf("recognizing with gemini: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("gemini returned no candidates")
	}

	var reply strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			reply.WriteString(string(t))
		}
	}

	text, err := parseTranscriptJSON(reply.String(), meta)
	if err != nil {
		return nil, fmt.Errorf("parsing transcript: %w", err)
	}
	return text, nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
