package extraction

import (
	"regexp"
	"strings"
)

var (
	nonProductKeywords = regexp.MustCompile(`(?i)\b(sub\s*-?\s*total|total|tax|gct|vat|change|cash|tendered|visa|mastercard|amex|debit|credit|card|balance|amount\s+due|cashier|clerk|register|terminal|trans(?:action)?|invoice|receipt|thank|welcome|savings|discount|you\s+saved|points|member(?:ship)?|tel|phone|approval|auth(?:orization)?|rounding)\b`)
	datePattern        = regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b`)
	timePattern        = regexp.MustCompile(`(?i)\b\d{1,2}:\d{2}(?::\d{2})?\s*(?:am|pm)?\b`)
	pureNumeric        = regexp.MustCompile(`^[\d\s.,:/$#*-]+$`)
	hasLetter          = regexp.MustCompile(`[A-Za-z]`)
)

// IsNonProductLine reports whether a receipt line can never be a priced item:
// totals, tax, payment, cashier, date/time, pure numbers or fragments under
// three characters
func IsNonProductLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if len(trimmed) < 3 {
		return true
	}
	if pureNumeric.MatchString(trimmed) {
		return true
	}
	if nonProductKeywords.MatchString(trimmed) {
		return true
	}
	if datePattern.MatchString(trimmed) || timePattern.MatchString(trimmed) {
		return true
	}
	return false
}

// cleanName trims separators and currency marks left around a captured name
func cleanName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimRight(name, " .:-|$*")
	name = strings.TrimLeft(name, " .:-|*")
	return strings.Join(strings.Fields(name), " ")
}
