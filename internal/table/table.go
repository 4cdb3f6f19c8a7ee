// Package table holds the in-memory columnar dataset the cleaning pipeline
// operates on. Cells are nil (null), string, int64, float64, bool or time.Time,
// matching the column kind.
package table

import (
	"time"
)

// Kind is the declared type of a column.
type Kind uint8

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindDatetime
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int64"
	case KindFloat:
		return "float64"
	case KindBool:
		return "bool"
	case KindDatetime:
		return "datetime"
	default:
		return "string"
	}
}

// Numeric reports whether the kind holds numbers.
func (k Kind) Numeric() bool {
	return k == KindInt || k == KindFloat
}

// Column is a named, typed vector of cells.
type Column struct {
	Name   string
	Kind   Kind
	Values []any
}

// NullCount returns the number of missing cells.
func (c *Column) NullCount() int {
	n := 0
	for _, v := range c.Values {
		if v == nil {
			n++
		}
	}
	return n
}

// NonNullStrings returns the non-null cells of a string column.
func (c *Column) NonNullStrings() []string {
	out := make([]string, 0, len(c.Values))
	for _, v := range c.Values {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (c *Column) Clone() *Column {
	vals := make([]any, len(c.Values))
	copy(vals, c.Values)
	return &Column{Name: c.Name, Kind: c.Kind, Values: vals}
}

// Table is an ordered set of equally long columns.
type Table struct {
	Columns []*Column
}

func New(cols ...*Column) *Table {
	return &Table{Columns: cols}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if len(t.Columns) == 0 {
		return 0
	}
	return len(t.Columns[0].Values)
}

// Column looks a column up by name.
func (t *Table) Column(name string) (*Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

func (t *Table) Names() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Clone deep-copies the column vectors. Cell values are immutable and shared.
func (t *Table) Clone() *Table {
	cols := make([]*Column, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = c.Clone()
	}
	return &Table{Columns: cols}
}

// DropColumn removes the named column and reports whether it existed.
func (t *Table) DropColumn(name string) bool {
	for i, c := range t.Columns {
		if c.Name == name {
			t.Columns = append(t.Columns[:i], t.Columns[i+1:]...)
			return true
		}
	}
	return false
}

// FilterRows keeps the rows for which keep returns true, preserving order.
func (t *Table) FilterRows(keep func(row int) bool) {
	n := t.Len()
	kept := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if keep(i) {
			kept = append(kept, i)
		}
	}
	if len(kept) == n {
		return
	}
	for _, c := range t.Columns {
		vals := make([]any, len(kept))
		for j, i := range kept {
			vals[j] = c.Values[i]
		}
		c.Values = vals
	}
}

// IsMidnight reports whether every non-null datetime cell has no time component.
func (c *Column) IsMidnight() bool {
	for _, v := range c.Values {
		ts, ok := v.(time.Time)
		if !ok {
			continue
		}
		if ts.Hour() != 0 || ts.Minute() != 0 || ts.Second() != 0 || ts.Nanosecond() != 0 {
			return false
		}
	}
	return true
}
