package extraction

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/zombor/pricescan/internal/receipt"
	"github.com/zombor/pricescan/internal/recognition"
	"github.com/zombor/pricescan/internal/stores"
)

// Extractor runs every strategy over recognized text
type Extractor struct {
	strategies []Strategy
}

// NewExtractor creates an Extractor with the built-in strategies in their
// fixed precedence: store-specific, generic, line-tail, spatial
func NewExtractor(registry *stores.Registry) *Extractor {
	return NewExtractorWithStrategies(
		NewStorePattern(registry),
		NewGenericPattern(registry),
		LineTail{},
		Spatial{},
	)
}

// NewExtractorWithStrategies creates an Extractor with custom strategies for testing
func NewExtractorWithStrategies(strategies ...Strategy) *Extractor {
	return &Extractor{strategies: strategies}
}

// Extract runs the strategies concurrently and returns all candidates
// concatenated in precedence order, plus a per-method count
func (e *Extractor) Extract(ctx context.Context, text *recognition.Text, storeID string) ([]receipt.ExtractedPrice, map[receipt.Method]int, error) {
	results := make([][]receipt.ExtractedPrice, len(e.strategies))

	g, ctx := errgroup.WithContext(ctx)
	for i, s := range e.strategies {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = s.Extract(text, storeID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var all []receipt.ExtractedPrice
	counts := make(map[receipt.Method]int, len(e.strategies))
	for i, r := range results {
		counts[e.strategies[i].Method()] += len(r)
		all = append(all, r...)
	}
	return all, counts, nil
}
