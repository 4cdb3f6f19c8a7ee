package transform

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultNonValues are the markers replace_non_values treats as missing,
// compared case-insensitively after trimming. Blank strings and dash-only
// placeholders are always markers.
var DefaultNonValues = []string{"unknown", "error", "n/a", "n-a", "na", "null", "none", "nil"}

// Normalize converts text to lowercase snake_case: accents are stripped,
// surrounding space trimmed, and runs of whitespace, '-' and '_' collapse to
// a single '_'.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	// Decompose, remove nonspacing marks, recompose.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if stripped, _, err := transform.String(t, s); err == nil {
		s = stripped
	}

	var b strings.Builder
	pending := false
	for _, r := range s {
		if unicode.IsSpace(r) || r == '-' || r == '_' {
			pending = true
			continue
		}
		if pending && b.Len() > 0 {
			b.WriteByte('_')
		}
		pending = false
		b.WriteRune(r)
	}
	return b.String()
}

// TitleCase upper-cases the first letter of every word.
func TitleCase(s string) string {
	return cases.Title(language.Und).String(s)
}

// NonValueSet builds a lookup set for marker matching. A nil or empty list
// selects DefaultNonValues.
func NonValueSet(custom []string) map[string]struct{} {
	list := custom
	if len(list) == 0 {
		list = DefaultNonValues
	}
	set := make(map[string]struct{}, len(list))
	for _, v := range list {
		set[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	return set
}

// IsNonValue reports whether s is a missing-value marker under set.
func IsNonValue(s string, set map[string]struct{}) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" || isDashes(v) {
		return true
	}
	_, ok := set[v]
	return ok
}

func isDashes(s string) bool {
	for _, r := range s {
		if r != '-' && r != '–' && r != '—' {
			return false
		}
	}
	return s != ""
}

// datetimeLayouts are tried in order by ParseDatetime.
var datetimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02.01.2006",
	"2 Jan 2006",
	"02-Jan-2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"20060102",
}

// ParseDatetime parses s with the first matching layout.
func ParseDatetime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range datetimeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
