package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/binsleuth/forest"
	"github.com/joshuapare/binsleuth/pkg/types"
)

const sample = `
tool: /opt/pin/pin
tracer: /opt/binsleuth/tracer.so
loader: /opt/binsleuth/loader
watchdog: 250ms
process_timeout: 30s
max_confirm: 3
fuzz_count: 10
concurrency: 8
cache_dir: cache
metrics_addr: localhost:9090
trees:
  - descriptors: trees/0.desc.yaml
    probes: /abs/0.probes
log:
  enabled: true
  level: debug
`

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "binsleuth.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/opt/pin/pin", cfg.Tool)
	assert.Equal(t, 250*time.Millisecond, cfg.Watchdog)
	assert.Equal(t, 30*time.Second, cfg.ProcessTimeout)
	assert.Equal(t, 3, cfg.MaxConfirm)
	require.NotNil(t, cfg.FuzzCount)
	assert.Equal(t, 10, *cfg.FuzzCount)
	assert.Equal(t, 8, cfg.Concurrency)
	require.Len(t, cfg.Trees, 1)
	assert.Equal(t, filepath.Join(dir, "trees/0.desc.yaml"), cfg.Trees[0].Descriptors)
	assert.Equal(t, "/abs/0.probes", cfg.Trees[0].Probes)
	assert.Equal(t, filepath.Join(dir, "cache"), cfg.CacheDir)

	ic := cfg.Identify()
	assert.Equal(t, "/opt/binsleuth/loader", ic.Session.LoaderPath)
	assert.Equal(t, 250*time.Millisecond, ic.Session.Watchdog)
	assert.Equal(t, 3, ic.MaxConfirm)
	assert.Equal(t, 30*time.Second, ic.ProcessTimeout)

	lo := cfg.Logging()
	assert.True(t, lo.Enabled)
	assert.Equal(t, "DEBUG", lo.Level.String())
}

func TestParseEmptyUsesDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, forest.DefaultWatchdog, cfg.Watchdog)
	assert.Equal(t, forest.DefaultMaxConfirm, cfg.MaxConfirm)
	assert.Equal(t, forest.DefaultWatchdog+time.Second, cfg.Identify().ProcessTimeout)
}

func TestRuntimeFollowsWatchdog(t *testing.T) {
	cfg, err := Parse([]byte("watchdog: 5s\n"))
	require.NoError(t, err)
	assert.Equal(t, 6*time.Second, cfg.Runtime())
	assert.Equal(t, 6*time.Second, cfg.Identify().ProcessTimeout)

	cfg.Watchdog = 0
	assert.Equal(t, forest.DefaultWatchdog+time.Second, cfg.Runtime())

	cfg, err = Parse([]byte("watchdog: 5s\nprocess_timeout: 2s\n"))
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Identify().ProcessTimeout)
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown key", "toool: /x\n"},
		{"negative watchdog", "watchdog: -1s\n"},
		{"zero concurrency", "concurrency: 0\n"},
		{"huge max confirm", "max_confirm: 1000\n"},
		{"negative fuzz count", "fuzz_count: -2\n"},
		{"tree without probes", "trees:\n  - descriptors: a.yaml\n"},
		{"bad level", "log:\n  level: chatty\n"},
		{"bad metrics addr", "metrics_addr: nope\n"},
		{"not yaml", "tool: [unterminated\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrConfig)
		})
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, types.ErrNotFound)
}
