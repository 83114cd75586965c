package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "map.json")

	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))
	require.NoError(t, WriteFileAtomic(path, []byte("new"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestStageDir(t *testing.T) {
	dir := t.TempDir()

	t.Run("Commit moves every file", func(t *testing.T) {
		stage, err := NewStageDir(dir)
		require.NoError(t, err)
		defer stage.Discard()

		require.NoError(t, stage.WriteFile("a.json", []byte("a"), 0o644))
		require.NoError(t, stage.WriteFile("b.json", []byte("b"), 0o644))

		_, err = os.Stat(filepath.Join(dir, "a.json"))
		assert.True(t, os.IsNotExist(err), "nothing visible before commit")

		require.NoError(t, stage.Commit())
		assert.FileExists(t, filepath.Join(dir, "a.json"))
		assert.FileExists(t, filepath.Join(dir, "b.json"))
	})

	t.Run("Discard leaves target untouched", func(t *testing.T) {
		stage, err := NewStageDir(dir)
		require.NoError(t, err)
		require.NoError(t, stage.WriteFile("c.json", []byte("c"), 0o644))
		require.NoError(t, stage.Discard())

		_, err = os.Stat(filepath.Join(dir, "c.json"))
		assert.True(t, os.IsNotExist(err))
	})
}
