package transform

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"data-cleaning-service/internal/table"
)

// DatetimeThreshold is the share of non-null cells that must parse before
// auto_cast_datetime converts a column.
const DatetimeThreshold = 0.8

func dropNullRows(t *table.Table, p Params, log *slog.Logger) (*table.Table, error) {
	name, err := p.Column()
	if err != nil {
		return nil, err
	}
	col, ok := t.Column(name)
	if !ok {
		log.Debug("column not present", "column", name)
		return t, nil
	}
	t.FilterRows(func(row int) bool { return col.Values[row] != nil })
	return t, nil
}

func fillNulls(t *table.Table, p Params, log *slog.Logger) (*table.Table, error) {
	name, err := p.Column()
	if err != nil {
		return nil, err
	}
	value, ok := p["value"]
	if !ok || value == nil {
		return nil, fmt.Errorf("missing %q parameter", "value")
	}
	col, ok := t.Column(name)
	if !ok {
		log.Debug("column not present", "column", name)
		return t, nil
	}

	if col.Kind == table.KindInt {
		if f, isFloat := value.(float64); isFloat && f != math.Trunc(f) {
			widenToFloat(col)
		}
	}
	fill, ok := coerce(value, col.Kind)
	if !ok {
		log.Warn("fill value does not match column type; converting column to text",
			"column", name, "kind", col.Kind.String())
		stringify(col)
		fill = literal(value)
	}
	for i, v := range col.Values {
		if v == nil {
			col.Values[i] = fill
		}
	}
	return t, nil
}

func castType(t *table.Table, p Params, log *slog.Logger) (*table.Table, error) {
	name, err := p.Column()
	if err != nil {
		return nil, err
	}
	dtype, ok := p.String("dtype")
	if !ok || dtype == "" {
		return nil, fmt.Errorf("missing %q parameter", "dtype")
	}
	col, ok := t.Column(name)
	if !ok {
		log.Debug("column not present", "column", name)
		return t, nil
	}
	target, ok := ParseKind(dtype)
	if !ok {
		log.Warn("unknown target type; column unchanged", "column", name, "dtype", dtype)
		return t, nil
	}

	out := make([]any, len(col.Values))
	for i, v := range col.Values {
		if v == nil {
			continue
		}
		cv, ok := convert(v, target)
		if !ok {
			log.Warn("cast failed; column unchanged",
				"column", name, "dtype", target.String(), "value", table.FormatValue(v))
			return t, nil
		}
		out[i] = cv
	}
	col.Values = out
	col.Kind = target
	return t, nil
}

func dropColumn(t *table.Table, p Params, log *slog.Logger) (*table.Table, error) {
	name, err := p.Column()
	if err != nil {
		return nil, err
	}
	if !t.DropColumn(name) {
		log.Debug("column not present", "column", name)
	}
	return t, nil
}

func standardizeCase(t *table.Table, p Params, log *slog.Logger) (*table.Table, error) {
	name, err := p.Column()
	if err != nil {
		return nil, err
	}
	col, ok := t.Column(name)
	if !ok || col.Kind != table.KindString {
		log.Debug("no text column to standardize", "column", name)
		return t, nil
	}
	for i, v := range col.Values {
		if s, ok := v.(string); ok {
			col.Values[i] = Normalize(s)
		}
	}
	return t, nil
}

func standardizeColumnNames(t *table.Table, _ Params, _ *slog.Logger) (*table.Table, error) {
	for i, name := range NormalizeNames(t.Names()) {
		t.Columns[i].Name = name
	}
	return t, nil
}

// NormalizeNames normalizes column names, naming empty results "column" and
// suffixing collisions with _2, _3, ...
func NormalizeNames(names []string) []string {
	out := make([]string, len(names))
	used := make(map[string]bool, len(names))
	for i, raw := range names {
		base := Normalize(raw)
		if base == "" {
			base = "column"
		}
		name := base
		for n := 2; used[name]; n++ {
			name = base + "_" + strconv.Itoa(n)
		}
		used[name] = true
		out[i] = name
	}
	return out
}

func replaceNonValues(t *table.Table, p Params, log *slog.Logger) (*table.Table, error) {
	name, err := p.Column()
	if err != nil {
		return nil, err
	}
	col, ok := t.Column(name)
	if !ok || col.Kind != table.KindString {
		log.Debug("no text column to scan for markers", "column", name)
		return t, nil
	}
	set := NonValueSet(p.Strings("non_values"))
	for i, v := range col.Values {
		if s, ok := v.(string); ok && IsNonValue(s, set) {
			col.Values[i] = nil
		}
	}
	return t, nil
}

func autoCastType(t *table.Table, p Params, log *slog.Logger) (*table.Table, error) {
	name, err := p.Column()
	if err != nil {
		return nil, err
	}
	col, ok := t.Column(name)
	if !ok || col.Kind != table.KindString {
		log.Debug("no text column to cast", "column", name)
		return t, nil
	}

	nums := make([]any, len(col.Values))
	whole := true
	seen := 0
	for i, v := range col.Values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		f, ok := table.ParseNumber(s)
		if !ok {
			log.Debug("column is not fully numeric", "column", name, "value", s)
			return t, nil
		}
		seen++
		if !isWhole(f) {
			whole = false
		}
		nums[i] = f
	}
	if seen == 0 {
		return t, nil
	}

	col.Kind = table.KindFloat
	if whole {
		col.Kind = table.KindInt
		for i, v := range nums {
			if f, ok := v.(float64); ok {
				nums[i] = int64(f)
			}
		}
	}
	col.Values = nums
	return t, nil
}

func autoCastDatetime(t *table.Table, p Params, log *slog.Logger) (*table.Table, error) {
	name, err := p.Column()
	if err != nil {
		return nil, err
	}
	col, ok := t.Column(name)
	if !ok || col.Kind != table.KindString {
		log.Debug("no text column to cast", "column", name)
		return t, nil
	}

	parsed := make([]any, len(col.Values))
	total, hits := 0, 0
	for i, v := range col.Values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		total++
		if ts, ok := ParseDatetime(s); ok {
			parsed[i] = ts
			hits++
		}
	}
	if total == 0 {
		return t, nil
	}
	rate := float64(hits) / float64(total)
	if rate < DatetimeThreshold {
		log.Debug("too few datetime values", "column", name, "rate", rate)
		return t, nil
	}
	if hits < total {
		log.Warn("unparseable datetime values set to null", "column", name, "count", total-hits)
	}
	col.Values = parsed
	col.Kind = table.KindDatetime
	return t, nil
}

func removeDuplicates(t *table.Table, p Params, log *slog.Logger) (*table.Table, error) {
	var subset []*table.Column
	if names := p.Strings("columns"); len(names) > 0 {
		for _, name := range names {
			if col, ok := t.Column(name); ok {
				subset = append(subset, col)
			}
		}
		if len(subset) == 0 {
			log.Debug("no duplicate key columns present", "columns", names)
			return t, nil
		}
	}
	dup := t.DuplicateRows(subset)
	t.FilterRows(func(row int) bool { return !dup[row] })
	return t, nil
}

// ParseKind maps a dtype name or common alias to a column kind.
func ParseKind(dtype string) (table.Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(dtype)) {
	case "string", "str", "object", "text":
		return table.KindString, true
	case "int", "int64", "int32", "integer":
		return table.KindInt, true
	case "float", "float64", "float32", "double", "number":
		return table.KindFloat, true
	case "bool", "boolean":
		return table.KindBool, true
	case "datetime", "datetime64", "datetime64[ns]", "date", "timestamp":
		return table.KindDatetime, true
	default:
		return 0, false
	}
}

// isWhole reports whether f is integral and fits int64. float64(MaxInt64)
// rounds up to 2^63, so the upper bound is exclusive.
func isWhole(f float64) bool {
	return f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64
}

// convert turns a non-null cell into the target kind.
func convert(v any, to table.Kind) (any, bool) {
	switch to {
	case table.KindString:
		return table.FormatValue(v), true
	case table.KindInt:
		switch x := v.(type) {
		case int64:
			return x, true
		case float64:
			if isWhole(x) {
				return int64(x), true
			}
		case bool:
			if x {
				return int64(1), true
			}
			return int64(0), true
		case string:
			if f, ok := table.ParseNumber(x); ok && isWhole(f) {
				return int64(f), true
			}
		}
	case table.KindFloat:
		switch x := v.(type) {
		case int64:
			return float64(x), true
		case float64:
			return x, true
		case bool:
			if x {
				return 1.0, true
			}
			return 0.0, true
		case string:
			return table.ParseNumber(x)
		}
	case table.KindBool:
		switch x := v.(type) {
		case bool:
			return x, true
		case int64:
			if x == 0 || x == 1 {
				return x == 1, true
			}
		case float64:
			if x == 0 || x == 1 {
				return x == 1, true
			}
		case string:
			switch strings.ToLower(strings.TrimSpace(x)) {
			case "true", "yes", "1":
				return true, true
			case "false", "no", "0":
				return false, true
			}
		}
	case table.KindDatetime:
		switch x := v.(type) {
		case time.Time:
			return x, true
		case string:
			return ParseDatetime(x)
		}
	}
	return nil, false
}

// coerce converts a fill value to the column kind.
// Text is only parsed for datetime columns; numeric columns need numbers.
func coerce(value any, kind table.Kind) (any, bool) {
	if n, ok := value.(int); ok {
		value = int64(n)
	}
	switch kind {
	case table.KindString:
		switch value.(type) {
		case string, bool, float64, int64:
			return literal(value), true
		}
	case table.KindInt, table.KindFloat:
		switch value.(type) {
		case float64, int64:
			return convert(value, kind)
		}
	case table.KindBool:
		if b, ok := value.(bool); ok {
			return b, true
		}
	case table.KindDatetime:
		switch value.(type) {
		case string, time.Time:
			return convert(value, kind)
		}
	}
	return nil, false
}

// literal renders a fill value as text, without the float suffix for whole numbers.
func literal(value any) string {
	switch x := value.(type) {
	case float64:
		if isWhole(x) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	default:
		return table.FormatValue(value)
	}
}

func widenToFloat(col *table.Column) {
	for i, v := range col.Values {
		if n, ok := v.(int64); ok {
			col.Values[i] = float64(n)
		}
	}
	col.Kind = table.KindFloat
}

func stringify(col *table.Column) {
	for i, v := range col.Values {
		if v != nil {
			col.Values[i] = table.FormatValue(v)
		}
	}
	col.Kind = table.KindString
}
