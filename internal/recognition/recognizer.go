package recognition

import "context"

// Metadata describes the encoded image passed to a Recognizer
type Metadata struct {
	Width  int
	Height int
	Format string // e.g. "png"
}

// Recognizer defines the interface for text-recognition engines.
// Implementations are long-lived and shared across pipeline runs.
type Recognizer interface {
	// Recognize turns an encoded image into structured text
	Recognize(ctx context.Context, image []byte, meta Metadata) (*Text, error)
	// Close releases the engine's resources
	Close() error
}
