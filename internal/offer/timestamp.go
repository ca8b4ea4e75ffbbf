package offer

import (
	"fmt"
	"strings"
	"time"
)

// layouts accepted by ParseTimestamp, tried in order.
var layouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp parses a stored or incoming date_add value. Values carrying a
// zone offset are converted to UTC; values without one are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp %q", s)
}

// FormatTimestamp renders t in the canonical "YYYY-MM-DD HH:MM:SS[.ffffff]"
// form. The fraction is printed only when non-zero at microsecond precision.
func FormatTimestamp(t time.Time) string {
	t = t.UTC()
	if t.Nanosecond()/1000 == 0 {
		return t.Format("2006-01-02 15:04:05")
	}
	return t.Format("2006-01-02 15:04:05.000000")
}

// CanonicalTimestamp normalizes raw timestamp text: 'T' becomes a space, a
// trailing 'Z' is dropped, offsets are folded into UTC.
func CanonicalTimestamp(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("empty timestamp")
	}
	s = strings.TrimSuffix(strings.TrimSuffix(s, "Z"), "z")
	if len(s) > 10 && (s[10] == 'T' || s[10] == 't') {
		s = s[:10] + " " + s[11:]
	}
	t, err := ParseTimestamp(s)
	if err != nil {
		return "", err
	}
	return FormatTimestamp(t), nil
}

// Newer reports whether incoming should replace existing under the freshness
// rule: a missing incoming date never wins, a missing existing date always
// loses, otherwise the strictly later instant wins.
//
// An existing value that cannot be parsed counts as missing. An incoming
// value that cannot be parsed counts as missing.
func Newer(existing, incoming *string) bool {
	if incoming == nil {
		return false
	}
	in, err := ParseTimestamp(*incoming)
	if err != nil {
		return false
	}
	if existing == nil {
		return true
	}
	ex, err := ParseTimestamp(*existing)
	if err != nil {
		return true
	}
	return in.After(ex)
}
