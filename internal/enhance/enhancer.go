package enhance

import (
	"math"
	"regexp"
	"strings"

	"github.com/zombor/pricescan/internal/receipt"
)

// ConfidenceBoost is applied to every candidate that survives enhancement
const ConfidenceBoost = 1.1

var (
	artifacts     = regexp.MustCompile(`[^A-Za-z0-9 .,&'/%()-]+`)
	punctRuns     = regexp.MustCompile(`[.,/-]{2,}`)
	leadingCode   = regexp.MustCompile(`^\d{4,13}\s+`)
	zeroInWord    = regexp.MustCompile(`([A-Za-z])0([A-Za-z])`)
	measureToken  = regexp.MustCompile(`^(\d+(?:[.,]\d+)?)([a-z]+)$`)
	tokenSplitter = regexp.MustCompile(`[\s/]+`)
)

// Enhancer cleans candidate names, assigns category and unit, and drops
// implausible prices
type Enhancer struct{}

// New creates an Enhancer backed by the built-in tables
func New() *Enhancer {
	return &Enhancer{}
}

// Enhance returns an improved copy of p, or false when p should be dropped
func (e *Enhancer) Enhance(p receipt.ExtractedPrice, storeID string) (receipt.ExtractedPrice, bool) {
	name := CleanName(p.ItemName)
	if name == "" {
		return receipt.ExtractedPrice{}, false
	}

	tokens := tokenize(name)
	category := Categorize(tokens)
	if !Plausible(p.Price, category, storeID) {
		return receipt.ExtractedPrice{}, false
	}

	out := p
	out.ItemName = name
	out.Category = category
	out.Unit = InferUnit(tokens, category)
	out.Confidence = math.Min(1, p.Confidence*ConfidenceBoost)
	return out, true
}

// EnhanceAll enhances every candidate and removes semantic duplicates
func (e *Enhancer) EnhanceAll(prices []receipt.ExtractedPrice, storeID string) []receipt.ExtractedPrice {
	enhanced := make([]receipt.ExtractedPrice, 0, len(prices))
	for _, p := range prices {
		if out, ok := e.Enhance(p, storeID); ok {
			enhanced = append(enhanced, out)
		}
	}
	return Dedupe(enhanced)
}

// CleanName strips OCR artifacts and item codes, fixes known misspellings
// and normalizes capitalization
func CleanName(raw string) string {
	s := artifacts.ReplaceAllString(raw, " ")
	s = punctRuns.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	s = leadingCode.ReplaceAllString(s, "")
	s = zeroInWord.ReplaceAllString(s, "${1}o${2}")
	s = strings.Trim(s, " .,-/&")

	words := strings.Fields(s)
	if len(words) == 0 {
		return ""
	}
	for i, w := range words {
		lower := strings.ToLower(w)
		if fixed, ok := misspellings[lower]; ok {
			lower = fixed
		}
		words[i] = capitalize(lower, i == 0)
	}
	return strings.Join(words, " ")
}

func capitalize(word string, first bool) string {
	if brand, ok := brands[word]; ok {
		return brand
	}
	if measureToken.MatchString(word) {
		return word
	}
	if stopWords[word] && !first {
		return word
	}
	if word == "" || word[0] < 'a' || word[0] > 'z' {
		return word
	}
	return strings.ToUpper(word[:1]) + word[1:]
}

func tokenize(name string) []string {
	var out []string
	for _, t := range tokenSplitter.Split(strings.ToLower(name), -1) {
		t = strings.Trim(t, ".,()'-&%")
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Categorize scores every category by summed keyword weight and returns the
// best one reaching MinCategoryScore, or Other
func Categorize(tokens []string) receipt.Category {
	best := receipt.CategoryOther
	bestScore := 0.0
	for _, c := range categories {
		var score float64
		for _, t := range tokens {
			score += c.keywords[t]
		}
		if score >= MinCategoryScore && score > bestScore {
			best, bestScore = c.category, score
		}
	}
	return best
}

// InferUnit prefers an explicit unit token, then the category default, then each
func InferUnit(tokens []string, category receipt.Category) receipt.Unit {
	for _, t := range tokens {
		if m := measureToken.FindStringSubmatch(t); m != nil {
			if u, ok := unitTokens[m[2]]; ok {
				return u
			}
			continue
		}
		// bare one-letter tokens are too ambiguous without a quantity in front
		if len(t) < 2 {
			continue
		}
		if u, ok := unitTokens[t]; ok {
			return u
		}
	}
	if u, ok := defaultUnits[category]; ok {
		return u
	}
	return receipt.UnitEach
}

// Plausible reports whether price fits the category range scaled for the store
func Plausible(price receipt.Money, category receipt.Category, storeID string) bool {
	r, ok := priceRanges[category]
	if !ok {
		r = priceRanges[receipt.CategoryOther]
	}
	lo, hi := float64(r.min), float64(r.max)
	if m, ok := storeMultipliers[storeID]; ok {
		lo *= m.min
		hi *= m.max
	}
	v := float64(price)
	return v >= lo && v <= hi && price < receipt.UpperBound
}
