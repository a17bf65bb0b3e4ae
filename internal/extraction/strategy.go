package extraction

import (
	"math"
	"regexp"
	"strings"

	"github.com/zombor/pricescan/internal/receipt"
	"github.com/zombor/pricescan/internal/recognition"
	"github.com/zombor/pricescan/internal/stores"
)

const (
	baseConfidence     = 0.6
	multiWordBonus     = 0.1
	wellFormedBonus    = 0.1
	productLineBonus   = 0.1
	storeSpecificBonus = 0.2
)

var wellFormedPrice = regexp.MustCompile(`^(?:\d{1,3}(?:,\d{3})+|\d+)\.\d{2}$`)

// Strategy extracts candidate prices from recognized text independently of
// every other strategy
type Strategy interface {
	Method() receipt.Method
	Extract(text *recognition.Text, storeID string) []receipt.ExtractedPrice
}

// PatternConfidence scores a match: base 0.6, +0.1 multi-word name, +0.1
// two-decimal price, +0.1 product line, +0.2 store-specific pattern
func PatternConfidence(name, price, line string, storeSpecific bool) float64 {
	c := baseConfidence
	if len(strings.Fields(name)) > 1 {
		c += multiWordBonus
	}
	if wellFormedPrice.MatchString(strings.TrimSpace(price)) {
		c += wellFormedBonus
	}
	if !IsNonProductLine(line) {
		c += productLineBonus
	}
	if storeSpecific {
		c += storeSpecificBonus
	}
	return clamp01(c)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

type candidateSource struct {
	method        receipt.Method
	storeID       string
	patternID     string
	storeSpecific bool
}

// newCandidate validates a raw match. ok is false for empty names or prices
// outside (0, UpperBound).
func newCandidate(name, price string, line recognition.Line, src candidateSource) (receipt.ExtractedPrice, bool) {
	name = cleanName(name)
	if name == "" || !hasLetter.MatchString(name) {
		return receipt.ExtractedPrice{}, false
	}
	amount, ok := receipt.ParseMoney(price)
	if !ok || amount <= 0 || amount >= receipt.UpperBound {
		return receipt.ExtractedPrice{}, false
	}
	return receipt.ExtractedPrice{
		ItemName:   name,
		Price:      amount,
		SourceLine: line.Text,
		Confidence: PatternConfidence(name, price, line.Text, src.storeSpecific),
		Position:   line.Bounds,
		Category:   receipt.CategoryOther,
		Unit:       receipt.UnitEach,
		Method:     src.method,
		StoreID:    src.storeID,
		PatternID:  src.patternID,
	}, true
}

// StorePattern applies the detected store's price expressions line by line
type StorePattern struct {
	registry *stores.Registry
}

// NewStorePattern creates the store-specific strategy
func NewStorePattern(registry *stores.Registry) *StorePattern {
	return &StorePattern{registry: registry}
}

func (s *StorePattern) Method() receipt.Method { return receipt.MethodStorePattern }

func (s *StorePattern) Extract(text *recognition.Text, storeID string) []receipt.ExtractedPrice {
	profile, ok := s.registry.Get(storeID)
	if !ok {
		return nil
	}

	var out []receipt.ExtractedPrice
	for _, line := range text.Lines() {
		if IsNonProductLine(line.Text) {
			continue
		}
		name, price, patternID, hit := profile.Match(strings.TrimSpace(line.Text))
		if !hit {
			continue
		}
		src := candidateSource{method: s.Method(), storeID: storeID, patternID: patternID, storeSpecific: true}
		if c, ok := newCandidate(name, price, line, src); ok {
			out = append(out, c)
		}
	}
	return out
}

var genericPatterns = []stores.PricePattern{
	{ID: "generic#0", Regexp: regexp.MustCompile(`(?i)^(?:\d{4,13}\s+)?(?P<name>[a-z][a-z0-9 .,&'/%()-]*?)\s+[$J]*(?P<price>\d{1,3}(?:,\d{3})+\.\d{2}|\d+\.\d{2})\s*[a-z*]?$`)},
	{ID: "generic#1", Regexp: regexp.MustCompile(`(?i)^(?P<name>[a-z][a-z0-9 .&'/%()-]*?)\s+\d+\s*[@x]\s*[$]?\d+[.,]\d{2}\s+[$]?(?P<price>\d+[.,]\d{2})$`)},
	{ID: "generic#2", Regexp: regexp.MustCompile(`(?i)^(?P<name>[a-z][a-z0-9 .&'/%()-]*?)\s+(?P<price>\d+,\d{2})$`)},
	{ID: "generic#3", Regexp: regexp.MustCompile(`(?i)^[$]?(?P<price>\d+\.\d{2})\s+(?P<name>[a-z][a-z0-9 .&'/%()-]+)$`)},
}

// GenericPattern applies currency-agnostic fallback expressions to lines the
// store-specific pass did not match
type GenericPattern struct {
	registry *stores.Registry
}

// NewGenericPattern creates the generic fallback strategy
func NewGenericPattern(registry *stores.Registry) *GenericPattern {
	return &GenericPattern{registry: registry}
}

func (g *GenericPattern) Method() receipt.Method { return receipt.MethodGenericPattern }

func (g *GenericPattern) Extract(text *recognition.Text, storeID string) []receipt.ExtractedPrice {
	profile, hasProfile := g.registry.Get(storeID)

	var out []receipt.ExtractedPrice
	for _, line := range text.Lines() {
		if IsNonProductLine(line.Text) {
			continue
		}
		trimmed := strings.TrimSpace(line.Text)
		if hasProfile {
			if _, _, _, hit := profile.Match(trimmed); hit {
				continue
			}
		}
		for _, pp := range genericPatterns {
			name, price, hit := stores.MatchPattern(pp.Regexp, trimmed)
			if !hit {
				continue
			}
			src := candidateSource{method: g.Method(), storeID: storeID, patternID: pp.ID}
			if c, ok := newCandidate(name, price, line, src); ok {
				out = append(out, c)
			}
			break
		}
	}
	return out
}

var lineTailPattern = regexp.MustCompile(`^(?P<name>.*?)\s*(?P<price>\d+(?:,\d{3})*\.\d{2})$`)

// LineTail treats any line ending in a digits.dd token as priced, using the
// prefix as the item name
type LineTail struct{}

func (LineTail) Method() receipt.Method { return receipt.MethodLineTail }

func (l LineTail) Extract(text *recognition.Text, storeID string) []receipt.ExtractedPrice {
	var out []receipt.ExtractedPrice
	for _, line := range text.Lines() {
		if IsNonProductLine(line.Text) {
			continue
		}
		name, price, hit := stores.MatchPattern(lineTailPattern, strings.TrimSpace(line.Text))
		if !hit {
			continue
		}
		src := candidateSource{method: l.Method(), storeID: storeID, patternID: "line_tail"}
		if c, ok := newCandidate(stripItemCode(name), price, line, src); ok {
			out = append(out, c)
		}
	}
	return out
}

var (
	spatialToken = regexp.MustCompile(`[$]?\b(\d{1,3}(?:,\d{3})+\.\d{2}|\d+\.\d{2})\b`)
	itemCode     = regexp.MustCompile(`^\d{4,13}\s+`)
)

func stripItemCode(name string) string {
	return itemCode.ReplaceAllString(strings.TrimSpace(name), "")
}

// Spatial scans every raw price token on each line regardless of store
// patterns, positioning candidates by the line's bounding box
type Spatial struct{}

func (Spatial) Method() receipt.Method { return receipt.MethodSpatial }

func (s Spatial) Extract(text *recognition.Text, storeID string) []receipt.ExtractedPrice {
	var out []receipt.ExtractedPrice
	for _, line := range text.Lines() {
		if IsNonProductLine(line.Text) {
			continue
		}
		matches := spatialToken.FindAllStringSubmatch(line.Text, -1)
		if len(matches) == 0 {
			continue
		}
		name := stripItemCode(spatialToken.ReplaceAllString(line.Text, " "))
		name = strings.NewReplacer("@", " ").Replace(name)
		for _, m := range matches {
			src := candidateSource{method: s.Method(), storeID: storeID, patternID: "spatial"}
			if c, ok := newCandidate(name, m[1], line, src); ok {
				out = append(out, c)
			}
		}
	}
	return out
}
