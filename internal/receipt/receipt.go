package receipt

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/zombor/pricescan/internal/recognition"
)

// Money is an amount in currency minor units (cents)
type Money int64

// UpperBound is the exclusive ceiling for any extracted price
const UpperBound Money = 100_000_000

// ParseMoney parses "1,200.00", "450.00", "$3.99" or "12,50" into minor units
func ParseMoney(s string) (Money, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "$£€J")
	if s == "" {
		return 0, false
	}

	// A trailing ",dd" is a decimal comma; other commas group thousands.
	if i := strings.LastIndex(s, ","); i >= 0 && i == len(s)-3 && !strings.Contains(s, ".") {
		s = s[:i] + "." + s[i+1:]
	}
	s = strings.ReplaceAll(s, ",", "")

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return Money(math.Round(f * 100)), true
}

// Float64 returns the amount in major units
func (m Money) Float64() float64 {
	return float64(m) / 100
}

func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign, v = "-", -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// MarshalJSON writes the amount as a two-decimal JSON number
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON reads a JSON number in major units
func (m *Money) UnmarshalJSON(data []byte) error {
	v, ok := ParseMoney(strings.Trim(string(data), `"`))
	if !ok {
		return fmt.Errorf("invalid money value %q", string(data))
	}
	*m = v
	return nil
}

// Method names the strategy that produced a candidate
type Method string

const (
	MethodStorePattern   Method = "store_pattern"
	MethodGenericPattern Method = "generic_pattern"
	MethodLineTail       Method = "line_tail"
	MethodSpatial        Method = "spatial"
)

// Methods lists every strategy in precedence order
var Methods = []Method{MethodStorePattern, MethodGenericPattern, MethodLineTail, MethodSpatial}

// Category is an item category tag
type Category string

const (
	CategoryGroceries    Category = "Groceries"
	CategoryProduce      Category = "Produce"
	CategoryMeat         Category = "Meat & Seafood"
	CategoryDairy        Category = "Dairy"
	CategoryBakery       Category = "Bakery"
	CategoryBeverages    Category = "Beverages"
	CategorySnacks       Category = "Snacks"
	CategoryHousehold    Category = "Household"
	CategoryPersonalCare Category = "Personal Care"
	CategoryPharmacy     Category = "Pharmacy"
	CategoryBaby         Category = "Baby"
	CategoryElectronics  Category = "Electronics"
	CategoryOther        Category = "Other"
)

// Unit is a pricing unit tag
type Unit string

const (
	UnitEach   Unit = "each"
	UnitPerLb  Unit = "per lb"
	UnitPerKg  Unit = "per kg"
	UnitPerOz  Unit = "per oz"
	UnitPerG   Unit = "per g"
	UnitPerL   Unit = "per L"
	UnitPerMl  Unit = "per ml"
	UnitPerGal Unit = "per gal"
	UnitPack   Unit = "per pack"
	UnitDozen  Unit = "per dozen"
)

// ExtractedPrice is one priced line item. Values are never modified in place;
// transformations return a new copy.
type ExtractedPrice struct {
	ItemName   string           `json:"item_name"`
	Price      Money            `json:"price"`
	SourceLine string           `json:"source_line"`
	Confidence float64          `json:"confidence"`
	Position   recognition.Rect `json:"position"`
	Category   Category         `json:"category"`
	Unit       Unit             `json:"unit"`
	Method     Method           `json:"method"`
	StoreID    string           `json:"store_id,omitempty"`
	PatternID  string           `json:"pattern_id,omitempty"`
}

// Metadata describes how a result was produced
type Metadata struct {
	SessionID      string         `json:"session_id"`
	Tier           string         `json:"tier"`
	Attempts       int            `json:"attempts"`
	ProcessingTime time.Duration  `json:"processing_time"`
	SectionCount   int            `json:"section_count"`
	ImageWidth     int            `json:"image_width"`
	ImageHeight    int            `json:"image_height"`
	CandidateCount int            `json:"candidate_count"`
	RejectedCount  int            `json:"rejected_count"`
	StrategyCounts map[Method]int `json:"strategy_counts,omitempty"`
}

// OCRResult is the terminal output of one pipeline run
type OCRResult struct {
	Text        string           `json:"text"`
	Prices      []ExtractedPrice `json:"prices"`
	Confidence  float64          `json:"confidence"`
	Enhancement string           `json:"enhancement"`
	StoreID     string           `json:"store_id"`
	Metadata    Metadata         `json:"metadata"`
}

// Clone returns a deep copy so cached results are never shared mutably
func (r *OCRResult) Clone() *OCRResult {
	if r == nil {
		return nil
	}
	out := *r
	if r.Prices != nil {
		out.Prices = append([]ExtractedPrice(nil), r.Prices...)
	}
	if r.Metadata.StrategyCounts != nil {
		out.Metadata.StrategyCounts = make(map[Method]int, len(r.Metadata.StrategyCounts))
		for k, v := range r.Metadata.StrategyCounts {
			out.Metadata.StrategyCounts[k] = v
		}
	}
	return &out
}
