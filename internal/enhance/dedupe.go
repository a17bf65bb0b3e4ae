package enhance

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/zombor/pricescan/internal/receipt"
)

const (
	// DuplicateThreshold is the name similarity above which two candidates may be duplicates
	DuplicateThreshold = 0.8
	// PriceTolerance is the relative price difference within which duplicates are fused
	PriceTolerance = 0.15
)

// NameSimilarity averages token-set Jaccard and normalized edit-distance
// similarity of two item names
func NameSimilarity(a, b string) float64 {
	na, nb := normalize(a), normalize(b)
	if na == "" && nb == "" {
		return 1
	}
	return 0.5*jaccard(na, nb) + 0.5*editSimilarity(na, nb)
}

// PricesClose reports whether two prices are within PriceTolerance of the larger
func PricesClose(a, b receipt.Money) bool {
	hi := math.Max(float64(a), float64(b))
	if hi == 0 {
		return true
	}
	return math.Abs(float64(a-b)) <= PriceTolerance*hi
}

// Dedupe removes candidates whose names are more than DuplicateThreshold
// similar and whose prices are close, keeping the more confident one
func Dedupe(prices []receipt.ExtractedPrice) []receipt.ExtractedPrice {
	ranked := append([]receipt.ExtractedPrice(nil), prices...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})

	out := make([]receipt.ExtractedPrice, 0, len(ranked))
	for _, p := range ranked {
		dup := false
		for _, kept := range out {
			if NameSimilarity(p.ItemName, kept.ItemName) > DuplicateThreshold && PricesClose(p.Price, kept.Price) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, p)
		}
	}
	return out
}

func normalize(name string) string {
	return strings.Join(tokenize(name), " ")
}

func jaccard(a, b string) float64 {
	setA := make(map[string]bool)
	for _, t := range strings.Fields(a) {
		setA[t] = true
	}
	setB := make(map[string]bool)
	for _, t := range strings.Fields(b) {
		setB[t] = true
	}
	var inter int
	for t := range setA {
		if setB[t] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 1
	}
	return float64(inter) / float64(union)
}

func editSimilarity(a, b string) float64 {
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}
