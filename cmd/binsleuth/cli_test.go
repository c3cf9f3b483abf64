package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/binsleuth/internal/testutil"
	"github.com/joshuapare/binsleuth/iovec"
	"github.com/joshuapare/binsleuth/pkg/types"
	"github.com/joshuapare/binsleuth/store"
)

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "binsleuth dev")
}

func TestForestCommand(t *testing.T) {
	d := newDemo(t)

	out, err := run(t, "forest", "--tree", d.tree, "--leaves")
	require.NoError(t, err)
	assert.Contains(t, out, "Trees: 1")
	assert.Contains(t, out, "Nodes: 3")
	assert.Contains(t, out, "Leaves: 2")
	assert.Contains(t, out, "memcpy@0x2000")
	assert.Contains(t, out, "strlen@0x1000")

	out, err = run(t, "forest", "--tree", d.tree, "--json")
	require.NoError(t, err)
	var rep struct {
		Nodes     int
		Functions int
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, 3, rep.Nodes)
	assert.Equal(t, 2, rep.Functions)
}

func TestForestCommandErrors(t *testing.T) {
	_, err := run(t, "forest")
	assert.ErrorIs(t, err, types.ErrConfig, "no trees")

	_, err = run(t, "forest", "--tree", "only-one-path")
	assert.ErrorIs(t, err, types.ErrConfig)

	_, err = run(t, "forest", "--tree", "a.yaml,"+filepath.Join(t.TempDir(), "b"))
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestForestFromConfigFile(t *testing.T) {
	d := newDemo(t)
	cfgPath := filepath.Join(d.dir, "binsleuth.yaml")
	doc := "trees:\n  - descriptors: t0.yaml\n    probes: t0.probes\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(doc), 0o644))

	out, err := run(t, "forest", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Trees: 1")
}

func TestIovecCommand(t *testing.T) {
	d := newDemo(t)
	path := filepath.Join(d.dir, "contexts.bin")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, iovec.WriteAll(f, []*iovec.Context{d.p1, d.p2}))
	require.NoError(t, f.Close())

	out, err := run(t, "iovec", path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], d.p1.Hexdigest()))
	assert.True(t, strings.HasPrefix(lines[1], d.p2.Hexdigest()))

	out, err = run(t, "iovec", "--probes", d.probePath, "--json")
	require.NoError(t, err)
	var sums []contextSummary
	require.NoError(t, json.Unmarshal([]byte(out), &sums))
	require.Len(t, sums, 2)
	assert.ElementsMatch(t, []string{d.p1.Hexdigest(), d.p2.Hexdigest()},
		[]string{sums[0].Hash, sums[1].Hash})
}

func TestIovecCommandTruncated(t *testing.T) {
	d := newDemo(t)
	b, err := d.p1.MarshalBinary()
	require.NoError(t, err)
	path := filepath.Join(d.dir, "short.bin")
	require.NoError(t, os.WriteFile(path, b[:len(b)-1], 0o644))

	_, err = run(t, "iovec", path)
	assert.ErrorIs(t, err, types.ErrTruncated)
}

func TestSymbolsCommand(t *testing.T) {
	bin := testutil.BuildFixture(t)

	_, err := run(t, "symbols", "--match", `^main\.`)
	assert.Error(t, err, "binary argument is required")

	out, err := run(t, "symbols", "--match", `^main\.binsleuth`, bin)
	require.NoError(t, err)
	assert.Contains(t, out, testutil.FixtureFunction)
	assert.NotContains(t, out, "runtime.main")
}

func TestResolveFunction(t *testing.T) {
	bin := testutil.BuildFixture(t)
	desc, err := resolveFunction(bin, testutil.FixtureFunction)
	require.NoError(t, err)
	assert.Equal(t, testutil.FixtureFunction, desc.Name)
	assert.Equal(t, bin, desc.Binary)
	assert.NotZero(t, desc.Location)

	byAddr, err := resolveFunction(bin, fmt.Sprintf("%#x", desc.Location))
	require.NoError(t, err)
	assert.Equal(t, desc, byAddr)

	unnamed, err := resolveFunction(bin, "0x1")
	require.NoError(t, err)
	assert.False(t, unnamed.Named())
	assert.Equal(t, uint64(1), unnamed.Location)

	_, err = resolveFunction(bin, "no_such_function_here")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = resolveFunction(bin, "0xzz")
	assert.ErrorIs(t, err, types.ErrConfig)
}

func TestIdentifyCommand(t *testing.T) {
	d := newDemo(t)
	bin := testutil.BuildFixture(t)
	fakeTracer(t, d.p1)

	out, err := run(t, "identify",
		"--tree", d.tree,
		"--tool", testutil.TracerExecutable(t),
		"--tracer", "/opt/binsleuth/tracer.so",
		"--watchdog", "2s",
		"--timeout", "20s",
		"--json",
		bin, testutil.FixtureFunction)
	require.NoError(t, err)

	var res identification
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Known)
	assert.Equal(t, testutil.FixtureFunction, res.Function.Name)
	require.Len(t, res.Classes, 1)
	assert.Equal(t, d.memcpy, res.Classes[0].Desc)
}

func TestIdentifyCommandNeedsTracer(t *testing.T) {
	d := newDemo(t)
	bin := testutil.BuildFixture(t)

	_, err := run(t, "identify", "--tree", d.tree, bin, testutil.FixtureFunction)
	assert.ErrorIs(t, err, types.ErrConfig)
}

func batchArgs(t *testing.T, d *demo, bin, cache string) []string {
	t.Helper()
	return []string{"batch",
		"--tree", d.tree,
		"--tool", testutil.TracerExecutable(t),
		"--tracer", "/opt/binsleuth/tracer.so",
		"--watchdog", "2s",
		"--timeout", "20s",
		"--cache-dir", cache,
		"--concurrency", "2",
		"--match", `^main\.(main|binsleuthFixture)$`,
		"--json",
		bin,
	}
}

func TestBatchCommandCaches(t *testing.T) {
	d := newDemo(t)
	bin := testutil.BuildFixture(t)
	fakeTracer(t, d.p2)
	cache := filepath.Join(d.dir, "cache")
	args := batchArgs(t, d, bin, cache)

	out, err := run(t, args...)
	require.NoError(t, err)
	var first []identification
	require.NoError(t, json.Unmarshal([]byte(out), &first))
	require.Len(t, first, 2)
	for _, r := range first {
		assert.Empty(t, r.Error)
		assert.False(t, r.Cached)
		require.Len(t, r.Classes, 1, r.Function.Name)
		assert.Equal(t, d.strlen, r.Classes[0].Desc)
	}

	// A silent tracer would fail every identification, so only the cache
	// can answer the second run.
	t.Setenv(testutil.EnvTracerMode, string(testutil.TracerSilent))
	out, err = run(t, args...)
	require.NoError(t, err)
	var second []identification
	require.NoError(t, json.Unmarshal([]byte(out), &second))
	require.Len(t, second, len(first))
	for i, r := range second {
		assert.True(t, r.Cached)
		assert.Equal(t, first[i].Node, r.Node)
		assert.Equal(t, first[i].Classes, r.Classes)
	}
}

func TestBatchCommandSeparatesTracers(t *testing.T) {
	d := newDemo(t)
	bin := testutil.BuildFixture(t)
	fakeTracer(t, d.p2)
	cwdLog := filepath.Join(d.dir, "cwd.log")
	t.Setenv(testutil.EnvWorkDirLog, cwdLog)
	cache := filepath.Join(d.dir, "cache")

	_, err := run(t, batchArgs(t, d, bin, cache)...)
	require.NoError(t, err)

	data, err := os.ReadFile(cwdLog)
	require.NoError(t, err)
	dirs := strings.Fields(string(data))
	require.Len(t, dirs, 2, "one tracer per function")
	assert.NotEqual(t, dirs[0], dirs[1])
	wd, err := os.Getwd()
	require.NoError(t, err)
	for _, dir := range dirs {
		assert.NotEqual(t, wd, dir)
		assert.NoDirExists(t, dir, "work directories are removed afterwards")
	}

	db, err := store.Open(store.Config{Path: cache})
	require.NoError(t, err)
	defer db.Close()
	forestID, err := store.Fingerprint(d.descPath, d.probePath)
	require.NoError(t, err)
	cached, err := db.List(forestID)
	require.NoError(t, err)
	require.Len(t, cached, 2)
	runs := map[string]bool{}
	for _, r := range cached {
		require.NotEmpty(t, r.RunID)
		runs[r.RunID] = true
		assert.Contains(t, dirs, filepath.Join(filepath.Dir(dirs[0]), r.RunID))
	}
	assert.Len(t, runs, 2)
}
