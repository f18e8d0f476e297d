package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareOutputDir_Writable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")

	got, err := PrepareOutputDir(context.Background(), dir, filepath.Join(t.TempDir(), "fallback"))
	require.NoError(t, err)

	assert.Equal(t, dir, got)
	assert.DirExists(t, dir)
	assert.NoFileExists(t, filepath.Join(dir, probeFile), "probe file is removed")
}

func TestPrepareOutputDir_Fallback(t *testing.T) {
	base := t.TempDir()

	// A regular file where a directory is expected makes MkdirAll fail.
	blocker := filepath.Join(base, "blocked")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	fallback := filepath.Join(base, "fallback")

	got, err := PrepareOutputDir(context.Background(), filepath.Join(blocker, "out"), fallback)
	require.NoError(t, err)

	assert.Equal(t, fallback, got)
	assert.DirExists(t, fallback)
}

func TestPrepareOutputDir_BothFail(t *testing.T) {
	base := t.TempDir()

	blocker := filepath.Join(base, "blocked")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := PrepareOutputDir(context.Background(), filepath.Join(blocker, "a"), filepath.Join(blocker, "b"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no writable output directory")
}
