package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/binsleuth/artifact"
	"github.com/joshuapare/binsleuth/internal/testutil"
	"github.com/joshuapare/binsleuth/iovec"
	"github.com/joshuapare/binsleuth/pkg/types"
)

func TestMain(m *testing.M) {
	testutil.RunIfHelper()
	os.Exit(m.Run())
}

// captureOutput captures stdout while running a function
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	origStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	done := make(chan []byte)
	go func() {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r)
		done <- buf.Bytes()
	}()

	fnErr := fn()

	w.Close()
	os.Stdout = origStdout
	return string(<-done), fnErr
}

// run executes the CLI with args against a fresh command tree.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return captureOutput(t, func() error {
		root := newRootCmd()
		root.SetArgs(args)
		return root.ExecuteContext(context.Background())
	})
}

// demo is a one-tree forest on disk separating memcpy from strlen: probe
// p1 is accepted only by memcpy and p2 only by strlen.
type demo struct {
	dir       string
	tree      string // --tree value
	p1, p2    *iovec.Context
	memcpy    types.FunctionDescriptor
	strlen    types.FunctionDescriptor
	descPath  string
	probePath string
}

func newDemo(t *testing.T) *demo {
	t.Helper()
	d := &demo{
		dir:    t.TempDir(),
		p1:     testutil.ProbeContext(t, 11),
		p2:     testutil.ProbeContext(t, 22),
		memcpy: types.FunctionDescriptor{Name: "memcpy", Location: 0x2000, Binary: "/usr/lib/libdemo.so"},
		strlen: types.FunctionDescriptor{Name: "strlen", Location: 0x1000, Binary: "/usr/lib/libdemo.so"},
	}
	d.descPath = filepath.Join(d.dir, "t0.yaml")
	d.probePath = filepath.Join(d.dir, "t0.probes")
	desc := artifact.DescriptorMap{
		d.p1.Hash(): {{Desc: d.memcpy, Coverage: 0.9}},
		d.p2.Hash(): {{Desc: d.strlen, Coverage: 0.8}},
	}
	require.NoError(t, artifact.WriteDescriptorMap(d.descPath, desc))
	require.NoError(t, artifact.WriteProbeMap(d.probePath, artifact.NewProbeMap(d.p1, d.p2)))
	d.tree = d.descPath + "," + d.probePath
	return d
}

// fakeTracer makes tracer processes spawned by this test act like pin
// running a function that accepts the given contexts.
func fakeTracer(t *testing.T, accepted ...*iovec.Context) {
	t.Helper()
	hashes := make([]uint64, len(accepted))
	for i, c := range accepted {
		hashes[i] = c.Hash()
	}
	for _, kv := range testutil.TracerEnv(testutil.TracerNormal, hashes...) {
		k, v, _ := strings.Cut(kv, "=")
		t.Setenv(k, v)
	}
}
