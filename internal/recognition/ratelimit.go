package recognition

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Recognizer so calls never exceed a fixed rate. Used in
// front of metered cloud engines.
type RateLimited struct {
	next    Recognizer
	limiter *rate.Limiter
}

// NewRateLimited allows perSecond calls with the given burst
func NewRateLimited(next Recognizer, perSecond float64, burst int) *RateLimited {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Recognize waits for a token, then delegates
func (r *RateLimited) Recognize(ctx context.Context, image []byte, meta Metadata) (*Text, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for recognition quota: %w", err)
	}
	return r.next.Recognize(ctx, image, meta)
}

// Close closes the wrapped recognizer
func (r *RateLimited) Close() error {
	return r.next.Close()
}
