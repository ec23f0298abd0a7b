package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "app.log")
	logger, err := New(Options{File: path, MaxSizeMB: 1, MaxBackups: 1})
	require.NoError(t, err)

	logger.Printf("Controller: state %s", "Scanning")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Controller: state Scanning")
}

func TestLogger_Rotate(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(Options{File: filepath.Join(dir, "app.log"), MaxBackups: 2})
	require.NoError(t, err)
	defer logger.Close()

	logger.Printf("first")
	require.NoError(t, logger.Rotate())
	logger.Printf("second")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestNew_WithoutFile(t *testing.T) {
	logger, err := New(Options{})
	require.NoError(t, err)
	logger.Printf("discarded")
	assert.NoError(t, logger.Rotate())
	assert.NoError(t, logger.Close())
}

func TestNew_BadDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err := New(Options{File: filepath.Join(file, "app.log")})
	assert.ErrorContains(t, err, "failed to create log directory")
}
