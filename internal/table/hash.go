package table

import (
	"github.com/zeebo/xxh3"
)

// RowHash hashes the rendered cells of a row, restricted to cols when given.
// Nulls and empty strings hash differently.
func (t *Table) RowHash(row int, cols []*Column) uint64 {
	if cols == nil {
		cols = t.Columns
	}
	h := xxh3.New()
	for _, c := range cols {
		v := c.Values[row]
		if v == nil {
			_, _ = h.Write([]byte{0})
		} else {
			_, _ = h.Write([]byte{1})
			_, _ = h.WriteString(FormatValue(v))
		}
		_, _ = h.Write([]byte{0x1f})
	}
	return h.Sum64()
}

// RowsEqual compares two rows cell by cell over cols (all columns when nil).
func (t *Table) RowsEqual(a, b int, cols []*Column) bool {
	if cols == nil {
		cols = t.Columns
	}
	for _, c := range cols {
		va, vb := c.Values[a], c.Values[b]
		if (va == nil) != (vb == nil) {
			return false
		}
		if va != nil && FormatValue(va) != FormatValue(vb) {
			return false
		}
	}
	return true
}

// DuplicateRows marks every row that repeats an earlier row over cols.
// The first occurrence is never marked.
func (t *Table) DuplicateRows(cols []*Column) []bool {
	n := t.Len()
	dup := make([]bool, n)
	buckets := make(map[uint64][]int, n)
	for i := 0; i < n; i++ {
		h := t.RowHash(i, cols)
		for _, j := range buckets[h] {
			if t.RowsEqual(i, j, cols) {
				dup[i] = true
				break
			}
		}
		if !dup[i] {
			buckets[h] = append(buckets[h], i)
		}
	}
	return dup
}
