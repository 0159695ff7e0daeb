package fsutil

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isSummary(base string) bool { return strings.HasPrefix(base, "features_summary") }

func TestMemoryFileSystem(t *testing.T) {
	t.Parallel()
	m := NewMemoryFileSystem()

	w, err := m.Create("/results/20210406/features_summary_tierpsy.csv")
	require.NoError(t, err)
	_, err = io.WriteString(w, "file_id,speed_50th\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, m.WriteFile("/results/20210406/filenames_summary_tierpsy.csv", []byte("file_id\n"), 0o644))
	require.NoError(t, m.WriteFile("/results/20210407/features_summary_tierpsy.csv", []byte("x"), 0o644))

	assert.True(t, m.Exists("/results"))
	assert.True(t, m.Exists("/results/20210406"))
	assert.False(t, m.Exists("/elsewhere"))

	data, err := m.ReadFile("/results/20210406/features_summary_tierpsy.csv")
	require.NoError(t, err)
	assert.Equal(t, "file_id,speed_50th\n", string(data))

	found, err := m.FindFiles("/results", isSummary)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/results/20210406/features_summary_tierpsy.csv",
		"/results/20210407/features_summary_tierpsy.csv",
	}, found)

	_, err = m.FindFiles("/missing", isSummary)
	assert.ErrorIs(t, err, os.ErrNotExist)

	f, err := m.Open("/results/20210407/features_summary_tierpsy.csv")
	require.NoError(t, err)
	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Size())
	require.NoError(t, f.Close())

	_, err = m.Open("/nope")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOSFileSystemFindFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	var fsys OSFileSystem

	require.NoError(t, fsys.MkdirAll(filepath.Join(dir, "b"), 0o755))
	require.NoError(t, fsys.WriteFile(filepath.Join(dir, "b", "features_summary_1.csv"), []byte("x"), 0o644))
	require.NoError(t, fsys.WriteFile(filepath.Join(dir, "a_features_summary.csv"), []byte("x"), 0o644))
	require.NoError(t, fsys.WriteFile(filepath.Join(dir, "features_summary_0.csv"), []byte("x"), 0o644))

	found, err := fsys.FindFiles(dir, isSummary)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "b", "features_summary_1.csv"),
		filepath.Join(dir, "features_summary_0.csv"),
	}, found)
	assert.True(t, fsys.Exists(found[0]))
}
