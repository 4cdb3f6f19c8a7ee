package suggest

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"data-cleaning-service/internal/models"
	"data-cleaning-service/internal/table"
	"data-cleaning-service/internal/transform"
)

const (
	numericThreshold  = 0.5
	datetimeThreshold = transform.DatetimeThreshold
)

var (
	idLikeName   = regexp.MustCompile(`^(id|key|code)$|_(id|key|code)$|^id_`)
	dateLikeName = regexp.MustCompile(`date|time|_at$|_on$`)
	dateVerbs    = map[string]bool{
		"created": true, "updated": true, "modified": true, "deleted": true,
		"published": true, "timestamp": true, "birthday": true, "dob": true,
		"expires": true, "expiry": true, "started": true, "ended": true,
		"opened": true, "closed": true,
	}
)

// RuleBased is the deterministic strategy. Suggestions are emitted in a fixed
// precedence: column names, non-value markers, case, numeric casts, datetime
// casts, duplicates, then null handling.
type RuleBased struct{}

func NewRuleBased() *RuleBased { return &RuleBased{} }

// columnFacts is what the rules know about one column.
type columnFacts struct {
	name     string // post-rename
	kind     table.Kind
	nulls    int
	markers  int
	values   []string // string columns: non-null, non-marker values
	numeric  []float64
	castType bool
	castTime bool
}

func (r *RuleBased) Suggest(_ context.Context, prof models.ProfilingResult, t *table.Table) ([]models.Suggestion, error) {
	if t == nil {
		return fromProfile(prof), nil
	}

	var out []models.Suggestion
	facts := collect(t)

	// 1. names
	if renamed(t.Names(), facts) {
		out = append(out, suggestion(transform.OpStandardizeColumnNames, nil))
	}

	// 2. markers
	for _, f := range facts {
		if f.markers > 0 {
			out = append(out, suggestion(transform.OpReplaceNonValues, f.name))
		}
	}

	// Cast candidates are decided before case so datetime columns can be excluded.
	// Numeric candidates still get case standardization for their letter values.
	for _, f := range facts {
		if f.kind != table.KindString || len(f.values) == 0 {
			continue
		}
		f.castType = share(f.values, isNumber) > numericThreshold
		if !f.castType && isDateName(f.name) {
			f.castTime = share(f.values, isDatetime) >= datetimeThreshold
		}
	}

	// 3. case
	for _, f := range facts {
		if f.kind == table.KindString && !f.castTime && !idLikeName.MatchString(f.name) && needsCase(f.values) {
			out = append(out, suggestion(transform.OpStandardizeCase, f.name))
		}
	}

	// 4. numeric
	for _, f := range facts {
		if f.castType {
			out = append(out, suggestion(transform.OpAutoCastType, f.name))
		}
	}

	// 5. datetime
	for _, f := range facts {
		if f.castTime {
			out = append(out, suggestion(transform.OpAutoCastDatetime, f.name))
		}
	}

	// 6. duplicates
	for _, dup := range t.DuplicateRows(nil) {
		if dup {
			out = append(out, suggestion(transform.OpRemoveDuplicates, nil))
			break
		}
	}

	// 7. nulls present before marker replacement
	for _, f := range facts {
		if f.nulls == 0 || f.castType || f.castTime {
			continue
		}
		out = append(out, nullHandling(f))
	}
	return out, nil
}

func collect(t *table.Table) []*columnFacts {
	names := transform.NormalizeNames(t.Names())
	markers := transform.NonValueSet(nil)
	facts := make([]*columnFacts, len(t.Columns))
	for i, col := range t.Columns {
		f := &columnFacts{name: names[i], kind: col.Kind, nulls: col.NullCount()}
		for _, v := range col.Values {
			switch x := v.(type) {
			case string:
				if transform.IsNonValue(x, markers) {
					f.markers++
				} else {
					f.values = append(f.values, x)
				}
			case int64:
				f.numeric = append(f.numeric, float64(x))
			case float64:
				f.numeric = append(f.numeric, x)
			}
		}
		facts[i] = f
	}
	return facts
}

func renamed(original []string, facts []*columnFacts) bool {
	for i, f := range facts {
		if f.name != original[i] {
			return true
		}
	}
	return false
}

func fromProfile(prof models.ProfilingResult) []models.Suggestion {
	original := make([]string, 0, len(prof.ColumnTypes))
	for name := range prof.ColumnTypes {
		original = append(original, name)
	}
	sort.Strings(original)

	// Column order is not recorded in profiling, so the suffix a colliding
	// name gets on rename cannot be known here. Such columns are left alone.
	bases := make(map[string]string, len(original))
	uses := make(map[string]int, len(original))
	rename := false
	for _, name := range original {
		base := transform.Normalize(name)
		if base == "" {
			base = "column"
		}
		bases[name] = base
		uses[base]++
		if base != name {
			rename = true
		}
	}

	var out []models.Suggestion
	if rename {
		out = append(out, suggestion(transform.OpStandardizeColumnNames, nil))
	}
	for _, name := range original {
		base := bases[name]
		if prof.NullCounts[name] == 0 || uses[base] > 1 {
			continue
		}
		kind, _ := transform.ParseKind(prof.ColumnTypes[name])
		out = append(out, nullHandling(&columnFacts{name: base, kind: kind}))
	}
	return out
}

func nullHandling(f *columnFacts) models.Suggestion {
	if !f.kind.Numeric() {
		return suggestion(transform.OpDropNullRows, f.name)
	}
	s := suggestion(transform.OpFillNulls, f.name)
	m := median(f.numeric)
	if f.kind == table.KindInt {
		s.Params["value"] = int64(math.Round(m))
	} else {
		s.Params["value"] = m
	}
	return s
}

func suggestion(op string, column any) models.Suggestion {
	params := map[string]any{}
	if column != nil {
		params["column"] = column
	}
	return models.Suggestion{Operation: op, Params: params}
}

// needsCase reports whether a column mixes casing styles: some value is not
// already title case and more than one distinct value contains letters.
func needsCase(values []string) bool {
	differs := false
	distinct := map[string]struct{}{}
	for _, v := range values {
		if !differs && transform.TitleCase(v) != v {
			differs = true
		}
		if strings.IndexFunc(v, unicode.IsLetter) >= 0 {
			distinct[v] = struct{}{}
		}
	}
	return differs && len(distinct) > 1
}

func isDateName(name string) bool {
	return dateLikeName.MatchString(name) || dateVerbs[name]
}

func isNumber(s string) bool {
	_, ok := table.ParseNumber(s)
	return ok
}

func isDatetime(s string) bool {
	_, ok := transform.ParseDatetime(s)
	return ok
}

func share(values []string, match func(string) bool) float64 {
	if len(values) == 0 {
		return 0
	}
	n := 0
	for _, v := range values {
		if match(v) {
			n++
		}
	}
	return float64(n) / float64(len(values))
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}
