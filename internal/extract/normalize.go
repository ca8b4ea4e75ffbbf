package extract

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"joboffers/internal/offer"
)

// Technology level labels as shown on offer pages.
var techLevels = map[string]int{
	"nice to have": 1,
	"junior":       2,
	"regular":      3,
	"advanced":     4,
	"master":       5,
}

const (
	// space also covers the no-break spaces used as thousands separators.
	space = `[\s\x{00A0}\x{202F}]`

	amountPattern   = `(\d(?:[\d\s\x{00A0}\x{202F}]*\d)?)`
	salaryPattern   = `^` + amountPattern + space + `*-` + space + `*` + amountPattern + space + `*(\pL+)`
	contractPattern = `-` + space + `*([\pL\pN_]+)$`
)

var (
	salaryRe   = regexp.MustCompile(salaryPattern)
	contractRe = regexp.MustCompile(contractPattern)
	controlRe  = regexp.MustCompile(`[\x00-\x1F\x7F]`)
)

// foldCase lowercases s with Unicode rules (Ł -> ł, İ -> i̇).
func foldCase(s string) string {
	return cases.Lower(language.Und).String(s)
}

// cleanText trims surrounding whitespace, including no-break spaces.
func cleanText(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
}

// parseSalaryText parses "10 000 - 15 000 PLN" into bounds and a lowercase
// currency.
func parseSalaryText(field, text string) (from, to offer.Amount, currency string, err error) {
	m := salaryRe.FindStringSubmatch(text)
	if m == nil {
		return 0, 0, "", &FormatError{Field: field, Text: text, Pattern: "<number>-<number><currency>"}
	}
	lo, err := parseAmount(m[1])
	if err != nil {
		return 0, 0, "", &FormatError{Field: field, Text: text, Err: err}
	}
	hi, err := parseAmount(m[2])
	if err != nil {
		return 0, 0, "", &FormatError{Field: field, Text: text, Err: err}
	}
	return lo, hi, foldCase(m[3]), nil
}

// parseContract extracts the lowercase contract type from "... - B2B".
func parseContract(field, text string) (string, error) {
	m := contractRe.FindStringSubmatch(cleanText(text))
	if m == nil {
		return "", &FormatError{Field: field, Text: text, Pattern: "...-<word>"}
	}
	return foldCase(m[1]), nil
}

// parseAmount strips thousands separators and converts to a number.
func parseAmount(s string) (offer.Amount, error) {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	v, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return 0, err
	}
	return offer.Amount(v), nil
}

// techLevel maps a level label to 1..5, or 0 when unrecognized.
func techLevel(label string) int {
	return techLevels[foldCase(cleanText(label))]
}

// stripControl removes ASCII control characters that break JSON-LD decoding.
func stripControl(s string) string {
	return controlRe.ReplaceAllString(s, "")
}

// normalizeField applies the per-field canonical form to plucked text.
func normalizeField(field, text string) (string, error) {
	switch field {
	case "location", "category", "experience", "employment", "operating_mode":
		return foldCase(text), nil
	case "date_add":
		ts, err := offer.CanonicalTimestamp(text)
		if err != nil {
			return "", &FormatError{Field: field, Text: text, Err: err}
		}
		return ts, nil
	default:
		return text, nil
	}
}

// optional returns nil for blank input, otherwise the trimmed text.
func optional(s string) *string {
	s = cleanText(s)
	if s == "" {
		return nil
	}
	return &s
}

// optionalFolded is optional plus case folding.
func optionalFolded(s string) *string {
	p := optional(s)
	if p == nil {
		return nil
	}
	v := foldCase(*p)
	return &v
}
