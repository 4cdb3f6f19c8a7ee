package blob

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"data-cleaning-service/internal/models"
)

func TestLocal_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	l := NewLocal(dir)

	require.NoError(t, l.Put(ctx, "uploads/a.csv", []byte("x,y\n"), "text/csv"))
	body, err := l.Get(ctx, "uploads/a.csv")
	require.NoError(t, err)
	assert.Equal(t, "x,y\n", string(body))
	assert.FileExists(t, filepath.Join(dir, "uploads", "a.csv"))

	require.NoError(t, l.Delete(ctx, "uploads/a.csv"))
	require.NoError(t, l.Delete(ctx, "uploads/a.csv"), "deleting twice is fine")
	_, err = l.Get(ctx, "uploads/a.csv")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestLocal_KeysStayInsideBase(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	l := NewLocal(filepath.Join(dir, "base"))

	require.NoError(t, l.Put(ctx, "../../escape.txt", []byte("x"), ""))
	assert.FileExists(t, filepath.Join(dir, "base", "escape.txt"))
	assert.NoFileExists(t, filepath.Join(dir, "escape.txt"))

	assert.Error(t, l.Put(ctx, "", []byte("x"), ""))
}

func TestLocal_Sweep(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	l := NewLocal(dir)

	require.NoError(t, l.Put(ctx, "reports/old.md", []byte("old"), ""))
	require.NoError(t, l.Put(ctx, "reports/new.md", []byte("new"), ""))
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "reports", "old.md"), past, past))

	n, err := l.Sweep(ctx, "reports", time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, filepath.Join(dir, "reports", "old.md"))
	assert.FileExists(t, filepath.Join(dir, "reports", "new.md"))

	n, err = l.Sweep(ctx, "missing", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
