package stores

import (
	"regexp"
	"strconv"
)

// Side is where prices sit on a receipt line
type Side string

const (
	SideRight Side = "right"
	SideLeft  Side = "left"
)

// PricePattern is one compiled price-line rule. The expression must define
// the named groups "name" and "price".
type PricePattern struct {
	ID     string
	Regexp *regexp.Regexp
}

// Profile is the detection and price-pattern bundle for one retailer format.
// Profiles are immutable once the registry is built.
type Profile struct {
	ID             string
	Name           string
	Identifiers    []*regexp.Regexp
	PricePatterns  []PricePattern
	HasItemCodes   bool
	PriceColumn    Side
	UsesSeparators bool
	TypicalLines   int
}

// Match applies the profile's price patterns in order and returns the first hit
func (p *Profile) Match(line string) (name, price, patternID string, ok bool) {
	for _, pp := range p.PricePatterns {
		if n, pr, hit := MatchPattern(pp.Regexp, line); hit {
			return n, pr, pp.ID, true
		}
	}
	return "", "", "", false
}

// MatchPattern extracts the name and price groups of re from line
func MatchPattern(re *regexp.Regexp, line string) (name, price string, ok bool) {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return "", "", false
	}
	for i, group := range re.SubexpNames() {
		switch group {
		case "name":
			name = m[i]
		case "price":
			price = m[i]
		}
	}
	if price == "" {
		return "", "", false
	}
	return name, price, true
}

type profileSpec struct {
	id             string
	name           string
	identifiers    []string
	patterns       []string
	hasItemCodes   bool
	priceColumn    Side
	usesSeparators bool
	typicalLines   int
}

func (s profileSpec) compile() Profile {
	p := Profile{
		ID:             s.id,
		Name:           s.name,
		HasItemCodes:   s.hasItemCodes,
		PriceColumn:    s.priceColumn,
		UsesSeparators: s.usesSeparators,
		TypicalLines:   s.typicalLines,
	}
	for _, id := range s.identifiers {
		p.Identifiers = append(p.Identifiers, regexp.MustCompile(id))
	}
	for i, expr := range s.patterns {
		p.PricePatterns = append(p.PricePatterns, PricePattern{
			ID:     patternID(s.id, i),
			Regexp: regexp.MustCompile(expr),
		})
	}
	return p
}

func patternID(storeID string, i int) string {
	return storeID + "#" + strconv.Itoa(i)
}

// priceToken matches a money amount with exactly two decimals
const priceToken = `(?P<price>\d{1,3}(?:,\d{3})*\.\d{2}|\d+\.\d{2})`

// profileSpecs is the built-in registry in precedence order
var profileSpecs = []profileSpec{
	{
		id:          "pricesmart",
		name:        "PriceSmart",
		identifiers: []string{`price\s*smart`, `pricesmart\.com`, `membership\s*#`},
		patterns: []string{
			`(?i)^(?:\d{4,8}\s+)?(?P<name>[a-z][a-z0-9 .,&'/%-]*?)\s{2,}` + priceToken + `\s*[a-z*]?$`,
			`(?i)^(?:\d{4,8}\s+)?(?P<name>[a-z][a-z0-9 .,&'/%-]*?)\s+` + priceToken + `\s+[a-z]$`,
		},
		hasItemCodes: true,
		priceColumn:  SideRight,
		typicalLines: 30,
	},
	{
		id:          "hilo",
		name:        "Hi-Lo Food Stores",
		identifiers: []string{`hi[\s-]*lo\b`, `hilo\s*food`},
		patterns: []string{
			`(?i)^(?P<name>[a-z][a-z0-9 .&'/%-]*?)\s+\$?` + priceToken + `\s*(?:g|gct|t|\*)?$`,
		},
		priceColumn:  SideRight,
		typicalLines: 25,
	},
	{
		id:          "megamart",
		name:        "MegaMart",
		identifiers: []string{`mega\s*mart`},
		patterns: []string{
			`(?i)^(?:\d{6,13}\s+)?(?P<name>[a-z][a-z0-9 .&'/%-]*?)\s*[-.]{2,}\s*` + priceToken + `$`,
			`(?i)^(?:\d{6,13}\s+)?(?P<name>[a-z][a-z0-9 .&'/%-]*?)\s{2,}` + priceToken + `$`,
		},
		hasItemCodes:   true,
		priceColumn:    SideRight,
		usesSeparators: true,
		typicalLines:   35,
	},
	{
		id:          "progressive",
		name:        "Progressive Grocers",
		identifiers: []string{`progressive\s*(?:grocers|foods)`, `shoppers\s*fair`},
		patterns: []string{
			`(?i)^(?P<name>[a-z][a-z0-9 .&'/%-]*?)\s+` + priceToken + `\s*(?:[a-z])?$`,
		},
		priceColumn:  SideRight,
		typicalLines: 25,
	},
	{
		id:          "sovereign",
		name:        "Sovereign Supermarket",
		identifiers: []string{`sovereign\s*(?:super\s*market|supermarket)?`},
		patterns: []string{
			`(?i)^(?P<name>[a-z][a-z0-9 .&'/%-]*?)\s*\|\s*` + priceToken + `$`,
			`(?i)^(?P<name>[a-z][a-z0-9 .&'/%-]*?)\s{2,}` + priceToken + `$`,
		},
		priceColumn:    SideRight,
		usesSeparators: true,
		typicalLines:   20,
	},
	{
		id:          "loshusan",
		name:        "Loshusan Supermarket",
		identifiers: []string{`loshusan`},
		patterns: []string{
			`(?i)^(?P<name>[a-z][a-z0-9 .&'/%-]*?)\s+\d+\s*@\s*\d+\.\d{2}\s+` + priceToken + `$`,
			`(?i)^(?P<name>[a-z][a-z0-9 .&'/%-]*?)\s+` + priceToken + `$`,
		},
		priceColumn:  SideRight,
		typicalLines: 20,
	},
	{
		id:          "fontana",
		name:        "Fontana Pharmacy",
		identifiers: []string{`fontana`},
		patterns: []string{
			`(?i)^\$?` + priceToken + `\s+(?P<name>[a-z][a-z0-9 .&'/%-]+)$`,
			`(?i)^(?P<name>[a-z][a-z0-9 .&'/%-]*?)\s+` + priceToken + `$`,
		},
		priceColumn:  SideLeft,
		typicalLines: 15,
	},
}
