package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDisabled(t *testing.T) {
	l, c, err := New(Options{})
	require.NoError(t, err)
	assert.False(t, l.Enabled(t.Context(), slog.LevelError))
	assert.NoError(t, c.Close())
}

func TestNewStderr(t *testing.T) {
	var buf bytes.Buffer
	l, _, err := New(Options{Enabled: true, Level: slog.LevelWarn, Stderr: &buf})
	require.NoError(t, err)

	l.Info("hidden")
	l.Warn("shown", "node", 3)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "node=3")
}

func TestNewFile(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "binsleuth-2000-01-01.log")
	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(stale, nil, 0o644))
	require.NoError(t, os.WriteFile(other, nil, 0o644))

	l, c, err := New(Options{Enabled: true, LogDir: dir})
	require.NoError(t, err)
	l.Info("hello", "run", "r1")
	require.NoError(t, c.Close())

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "old log removed")
	_, err = os.Stat(other)
	assert.NoError(t, err, "unrelated file kept")

	data, err := os.ReadFile(filepath.Join(dir, "binsleuth-"+time.Now().Format("2006-01-02")+".log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"run":"r1"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelError, ParseLevel("ERROR"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("loud"))
}
