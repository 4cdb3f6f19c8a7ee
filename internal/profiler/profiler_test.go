package profiler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"data-cleaning-service/internal/models"
)

func TestProfileCSV(t *testing.T) {
	res, tbl, err := ProfileCSV(strings.NewReader("id,name,score,notes\n1,Ann,2.5,\n2,,3.5,\n3,Cy,,\n"))
	require.NoError(t, err)
	require.NotNil(t, tbl)

	assert.Equal(t, 3, res.RowCount)
	assert.Equal(t, 4, res.ColumnCount)
	assert.Equal(t, map[string]string{
		"id":    "int64",
		"name":  "string",
		"score": "float64",
		"notes": "float64",
	}, res.ColumnTypes)
	assert.Equal(t, map[string]int{"id": 0, "name": 1, "score": 1, "notes": 3}, res.NullCounts)
}

func TestProfileCSV_Unreadable(t *testing.T) {
	_, _, err := ProfileCSV(strings.NewReader("a,b\n1\n"))
	assert.ErrorIs(t, err, models.ErrDataUnreadable)
}
