package transform

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"data-cleaning-service/internal/table"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func decode(t *testing.T, csv string) *table.Table {
	t.Helper()
	tbl, err := table.Decode(strings.NewReader(csv))
	require.NoError(t, err)
	return tbl
}

func run(t *testing.T, name string, tbl *table.Table, p Params) *table.Table {
	t.Helper()
	op, ok := NewRegistry().Lookup(name)
	require.True(t, ok, name)
	out, err := op(tbl, p, quiet)
	require.NoError(t, err)
	return out
}

func column(t *testing.T, tbl *table.Table, name string) *table.Column {
	t.Helper()
	col, ok := tbl.Column(name)
	require.True(t, ok, "column %q", name)
	return col
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"In-store":       "in_store",
		"TakeAway":       "takeaway",
		"New York  ":     "new_york",
		"Transaction ID": "transaction_id",
		"Total-Spent":    "total_spent",
		"  Café  Olé ":   "cafe_ole",
		"a - b__c":       "a_b_c",
		"_leading_":      "leading",
		"":               "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), in)
	}
}

func TestRegistryNames(t *testing.T) {
	names := NewRegistry().Names()
	assert.Contains(t, names, OpAutoCastDatetime)
	assert.Contains(t, names, OpRemoveDuplicates)
	assert.Len(t, names, 10)
	_, ok := NewRegistry().Lookup("explode")
	assert.False(t, ok)
}

func TestMissingColumnParamFails(t *testing.T) {
	op, _ := NewRegistry().Lookup(OpDropNullRows)
	_, err := op(table.New(), Params{}, quiet)
	assert.Error(t, err)
}

func TestAbsentColumnIsNoop(t *testing.T) {
	tbl := decode(t, "a\n1\n")
	for _, name := range []string{OpDropNullRows, OpStandardizeCase, OpReplaceNonValues, OpAutoCastType, OpAutoCastDatetime, OpDropColumn} {
		out := run(t, name, tbl, Params{"column": "missing"})
		assert.Equal(t, []string{"a"}, out.Names(), name)
	}
}

func TestDropNullRows(t *testing.T) {
	tbl := decode(t, "a,b\n1,x\n,y\n3,\n")
	out := run(t, OpDropNullRows, tbl, Params{"column": "a"})
	assert.Equal(t, []any{int64(1), int64(3)}, column(t, out, "a").Values)
	assert.Equal(t, []any{"x", nil}, column(t, out, "b").Values)
}

func TestFillNulls(t *testing.T) {
	tbl := decode(t, "qty,price,name\n1,2.5,a\n,,\n")
	run(t, OpFillNulls, tbl, Params{"column": "qty", "value": 0.0})
	run(t, OpFillNulls, tbl, Params{"column": "price", "value": 1.25})
	run(t, OpFillNulls, tbl, Params{"column": "name", "value": "unknown"})

	assert.Equal(t, []any{int64(1), int64(0)}, column(t, tbl, "qty").Values)
	assert.Equal(t, []any{2.5, 1.25}, column(t, tbl, "price").Values)
	assert.Equal(t, []any{"a", "unknown"}, column(t, tbl, "name").Values)
}

func TestFillNulls_MismatchedValueConvertsToText(t *testing.T) {
	tbl := table.New(&table.Column{Name: "qty", Kind: table.KindInt, Values: []any{int64(1), nil}})
	run(t, OpFillNulls, tbl, Params{"column": "qty", "value": "n/a"})
	col := column(t, tbl, "qty")
	assert.Equal(t, table.KindString, col.Kind)
	assert.Equal(t, []any{"1", "n/a"}, col.Values)
}

func TestFillNulls_FractionWidensInt(t *testing.T) {
	tbl := table.New(&table.Column{Name: "qty", Kind: table.KindInt, Values: []any{int64(1), nil}})
	run(t, OpFillNulls, tbl, Params{"column": "qty", "value": 1.5})
	col := column(t, tbl, "qty")
	assert.Equal(t, table.KindFloat, col.Kind)
	assert.Equal(t, []any{1.0, 1.5}, col.Values)
}

func TestCastType(t *testing.T) {
	tbl := decode(t, "a,b\n1,x\n2,y\n")
	run(t, OpCastType, tbl, Params{"column": "a", "dtype": "float"})
	assert.Equal(t, table.KindFloat, column(t, tbl, "a").Kind)
	assert.Equal(t, []any{1.0, 2.0}, column(t, tbl, "a").Values)

	// Unconvertible values leave the column untouched.
	run(t, OpCastType, tbl, Params{"column": "b", "dtype": "int"})
	assert.Equal(t, table.KindString, column(t, tbl, "b").Kind)

	run(t, OpCastType, tbl, Params{"column": "a", "dtype": "str"})
	assert.Equal(t, []any{"1.0", "2.0"}, column(t, tbl, "a").Values)
}

func TestStandardizeCase(t *testing.T) {
	tbl := decode(t, "location,n\nIn-store,1\nTakeAway,2\nNew York  ,3\n,4\n")
	run(t, OpStandardizeCase, tbl, Params{"column": "location"})
	assert.Equal(t, []any{"in_store", "takeaway", "new_york", nil}, column(t, tbl, "location").Values)

	run(t, OpStandardizeCase, tbl, Params{"column": "n"})
	assert.Equal(t, table.KindInt, column(t, tbl, "n").Kind)
}

func TestStandardizeColumnNames(t *testing.T) {
	tbl := decode(t, "Transaction ID,Total-Spent,total spent,  \n1,2,3,4\n")
	run(t, OpStandardizeColumnNames, tbl, nil)
	assert.Equal(t, []string{"transaction_id", "total_spent", "total_spent_2", "column"}, tbl.Names())
}

func TestReplaceNonValues(t *testing.T) {
	tbl := decode(t, "item\nCoffee\nUNKNOWN\nerror\n --- \n N/A\nTea\n")
	run(t, OpReplaceNonValues, tbl, Params{"column": "item"})
	assert.Equal(t, []any{"Coffee", nil, nil, nil, nil, "Tea"}, column(t, tbl, "item").Values)

	tbl = decode(t, "item\nCoffee\nmissing\nunknown\n")
	run(t, OpReplaceNonValues, tbl, Params{"column": "item", "non_values": []any{"MISSING"}})
	assert.Equal(t, []any{"Coffee", nil, "unknown"}, column(t, tbl, "item").Values)
}

func TestAutoCastType(t *testing.T) {
	tbl := table.New(
		&table.Column{Name: "ints", Kind: table.KindString, Values: []any{"1", "2", "4.0"}},
		&table.Column{Name: "floats", Kind: table.KindString, Values: []any{"1.5", nil, "2"}},
		&table.Column{Name: "mixed", Kind: table.KindString, Values: []any{"1", "two"}},
	)
	tbl.Columns[2].Values = append(tbl.Columns[2].Values, nil)

	run(t, OpAutoCastType, tbl, Params{"column": "ints"})
	run(t, OpAutoCastType, tbl, Params{"column": "floats"})
	run(t, OpAutoCastType, tbl, Params{"column": "mixed"})

	assert.Equal(t, table.KindInt, column(t, tbl, "ints").Kind)
	assert.Equal(t, []any{int64(1), int64(2), int64(4)}, column(t, tbl, "ints").Values)
	assert.Equal(t, table.KindFloat, column(t, tbl, "floats").Kind)
	assert.Equal(t, []any{1.5, nil, 2.0}, column(t, tbl, "floats").Values)
	assert.Equal(t, table.KindString, column(t, tbl, "mixed").Kind)
}

func TestAutoCastType_BeyondInt64StaysFloat(t *testing.T) {
	tbl := table.New(&table.Column{Name: "big", Kind: table.KindString, Values: []any{"9223372036854775808", "1"}})
	run(t, OpAutoCastType, tbl, Params{"column": "big"})

	col := column(t, tbl, "big")
	assert.Equal(t, table.KindFloat, col.Kind)
	assert.Equal(t, []any{9223372036854775808.0, 1.0}, col.Values)

	assert.False(t, isWhole(9223372036854775808.0))
	assert.True(t, isWhole(-9223372036854775808.0))
	assert.True(t, isWhole(1<<62))
}

func TestAutoCastDatetime(t *testing.T) {
	tbl := decode(t, "d\n2023-09-08\n2023-09-09\n2023-09-10\n2023-09-11\nsoon\n")
	run(t, OpAutoCastDatetime, tbl, Params{"column": "d"})
	col := column(t, tbl, "d")
	require.Equal(t, table.KindDatetime, col.Kind)
	assert.Equal(t, time.Date(2023, 9, 8, 0, 0, 0, 0, time.UTC), col.Values[0])
	assert.Nil(t, col.Values[4])

	tbl = decode(t, "d\n2023-09-08\nlater\nsoon\n")
	run(t, OpAutoCastDatetime, tbl, Params{"column": "d"})
	assert.Equal(t, table.KindString, column(t, tbl, "d").Kind)
}

func TestRemoveDuplicates(t *testing.T) {
	tbl := decode(t, "a,b\n1,x\n1,x\n1,y\n")
	out := run(t, OpRemoveDuplicates, tbl.Clone(), nil)
	assert.Equal(t, 2, out.Len())

	out = run(t, OpRemoveDuplicates, tbl.Clone(), Params{"columns": []string{"a"}})
	assert.Equal(t, 1, out.Len())
}

func TestParseKind(t *testing.T) {
	for _, alias := range []string{"int", "Int64", "integer"} {
		k, ok := ParseKind(alias)
		assert.True(t, ok)
		assert.Equal(t, table.KindInt, k)
	}
	_, ok := ParseKind("complex128")
	assert.False(t, ok)
}

func TestTitleCase(t *testing.T) {
	assert.Equal(t, "New York", TitleCase("new york"))
}
