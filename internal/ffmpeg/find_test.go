package ffmpeg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executableTemp(t *testing.T, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), mode))
	return path
}

func TestFindBinary(t *testing.T) {
	t.Run("env var wins over PATH", func(t *testing.T) {
		path := executableTemp(t, 0o755)
		t.Setenv("TEST_BINARY_PATH", path)

		got, err := FindBinary("ls", "TEST_BINARY_PATH")
		require.NoError(t, err)
		assert.Equal(t, path, got)
	})

	t.Run("finds binary on PATH", func(t *testing.T) {
		got, err := FindBinary("ls", "")
		require.NoError(t, err)
		assert.Contains(t, got, "ls")
	})

	t.Run("not found", func(t *testing.T) {
		got, err := FindBinary("definitely-nonexistent-binary-12345", "")
		assert.Error(t, err)
		assert.Empty(t, got)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("skips non-executable env path", func(t *testing.T) {
		path := executableTemp(t, 0o644)
		t.Setenv("TEST_BINARY_PATH", path)

		got, err := FindBinary("ls", "TEST_BINARY_PATH")
		require.NoError(t, err)
		assert.NotEqual(t, path, got)
	})

	t.Run("skips directory env path", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("TEST_BINARY_PATH", dir)

		got, err := FindBinary("ls", "TEST_BINARY_PATH")
		require.NoError(t, err)
		assert.NotEqual(t, dir, got)
	})
}
