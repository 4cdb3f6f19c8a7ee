package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"data-cleaning-service/internal/models"
)

const (
	dateLayout     = "2006-01-02"
	datetimeLayout = "2006-01-02 15:04:05"
)

// Decode parses CSV bytes into a Table. The first record is the header.
// Empty cells become nulls and each column's kind is inferred from its
// non-null cells; a column without any values is float64.
func Decode(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 0

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: missing header row", models.ErrDataUnreadable)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrDataUnreadable, err)
	}
	header = dedupeHeader(stripUTF8BOM(header))

	raw := make([][]string, len(header))
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrDataUnreadable, err)
		}
		for i, field := range rec {
			raw[i] = append(raw[i], field)
		}
	}

	cols := make([]*Column, len(header))
	for i, name := range header {
		cols[i] = buildColumn(name, raw[i])
	}
	return New(cols...), nil
}

// Encode writes the table as CSV with a header row. Nulls are empty cells.
func Encode(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Names()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	dateOnly := make([]bool, len(t.Columns))
	for i, c := range t.Columns {
		dateOnly[i] = c.Kind == KindDatetime && c.IsMidnight()
	}
	rec := make([]string, len(t.Columns))
	for row := 0; row < t.Len(); row++ {
		for i, c := range t.Columns {
			rec[i] = formatCell(c.Values[row], dateOnly[i])
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row %d: %w", row, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// FormatValue renders a cell the way Encode does, with nil as "".
func FormatValue(v any) string {
	return formatCell(v, false)
}

func formatCell(v any, dateOnly bool) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		s := strconv.FormatFloat(t, 'f', -1, 64)
		if !strings.ContainsAny(s, ".eEnN") {
			s += ".0"
		}
		return s
	case bool:
		if t {
			return "True"
		}
		return "False"
	case time.Time:
		if dateOnly {
			return t.Format(dateLayout)
		}
		return t.Format(datetimeLayout)
	default:
		return fmt.Sprint(t)
	}
}

// ParseNumber parses a finite decimal number, ignoring surrounding spaces.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func parseInt(s string) (int64, bool) {
	i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return i, err == nil
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true, true
	case "false":
		return false, true
	default:
		return false, false
	}
}

func buildColumn(name string, raw []string) *Column {
	col := &Column{Name: name, Kind: inferKind(raw), Values: make([]any, len(raw))}
	for i, s := range raw {
		if s == "" {
			continue
		}
		switch col.Kind {
		case KindInt:
			col.Values[i], _ = parseInt(s)
		case KindFloat:
			col.Values[i], _ = ParseNumber(s)
		case KindBool:
			col.Values[i], _ = parseBool(s)
		default:
			col.Values[i] = s
		}
	}
	return col
}

func inferKind(raw []string) Kind {
	allInt, allFloat, allBool := true, true, true
	seen := false
	for _, s := range raw {
		if s == "" {
			continue
		}
		seen = true
		if allInt {
			_, allInt = parseInt(s)
		}
		if allFloat {
			_, allFloat = ParseNumber(s)
		}
		if allBool {
			_, allBool = parseBool(s)
		}
		if !allInt && !allFloat && !allBool {
			return KindString
		}
	}
	switch {
	case !seen:
		return KindFloat
	case allInt:
		return KindInt
	case allFloat:
		return KindFloat
	case allBool:
		return KindBool
	default:
		return KindString
	}
}

// stripUTF8BOM removes a UTF-8 BOM from the first header field if present.
func stripUTF8BOM(headers []string) []string {
	if len(headers) > 0 {
		headers[0] = strings.TrimPrefix(headers[0], "\uFEFF")
	}
	return headers
}

// dedupeHeader suffixes repeated header names with .1, .2, ...
func dedupeHeader(headers []string) []string {
	used := make(map[string]bool, len(headers))
	out := make([]string, len(headers))
	for i, h := range headers {
		name := h
		for n := 1; used[name]; n++ {
			name = fmt.Sprintf("%s.%d", h, n)
		}
		used[name] = true
		out[i] = name
	}
	return out
}
