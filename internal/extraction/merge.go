package extraction

import (
	"math"
	"sort"

	"github.com/zombor/pricescan/internal/receipt"
	"github.com/zombor/pricescan/internal/recognition"
)

const (
	// PositionTolerance is the center distance under which two candidates are the same item
	PositionTolerance = 50.0
	// DefaultEngineConfidence stands in when the engine reports no per-element confidence
	DefaultEngineConfidence = 0.8

	candidateWeight = 0.7
	engineWeight    = 0.3
)

// Similar reports whether two candidates describe the same detection:
// prices within one minor unit, or box centers within PositionTolerance
func Similar(a, b receipt.ExtractedPrice) bool {
	if d := a.Price - b.Price; d > -1 && d < 1 {
		return true
	}
	ax, ay := a.Position.Center()
	bx, by := b.Position.Center()
	return math.Hypot(ax-bx, ay-by) < PositionTolerance
}

// Merge fuses candidates from every strategy into a ranked list with no two
// similar entries. The more confident of two similar candidates survives;
// on equal confidence the one earlier in the input wins, so callers pass
// candidates in strategy precedence order.
func Merge(candidates []receipt.ExtractedPrice) []receipt.ExtractedPrice {
	ranked := append([]receipt.ExtractedPrice(nil), candidates...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})

	out := make([]receipt.ExtractedPrice, 0, len(ranked))
	for _, c := range ranked {
		dup := false
		for _, kept := range out {
			if Similar(c, kept) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, c)
		}
	}
	return out
}

// OverallConfidence is 0.7 × mean candidate confidence + 0.3 × mean engine
// element confidence (0.8 when the engine reports none)
func OverallConfidence(prices []receipt.ExtractedPrice, text *recognition.Text) float64 {
	var candidateMean float64
	if len(prices) > 0 {
		var sum float64
		for _, p := range prices {
			sum += p.Confidence
		}
		candidateMean = sum / float64(len(prices))
	}

	engineMean := DefaultEngineConfidence
	if confs := text.ElementConfidences(); len(confs) > 0 {
		var sum float64
		for _, c := range confs {
			sum += c
		}
		engineMean = sum / float64(len(confs))
	}

	return clamp01(candidateWeight*candidateMean + engineWeight*engineMean)
}
