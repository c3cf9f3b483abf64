package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/binsleuth/pkg/types"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var memcpy = types.FunctionDescriptor{Name: "memcpy", Location: 0x401000, Binary: "/lib/libc.so.6"}

func TestPutGet(t *testing.T) {
	s := openMemory(t)

	_, ok, err := s.Get("f1", memcpy)
	require.NoError(t, err)
	assert.False(t, ok)

	want := Result{
		Function:     memcpy,
		Node:         7,
		Classes:      []types.DescriptorEntry{{Desc: memcpy, Coverage: 0.75}},
		RunID:        "run-1",
		IdentifiedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.Put("f1", want))

	got, ok, err := s.Get("f1", memcpy)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	_, ok, err = s.Get("f2", memcpy)
	require.NoError(t, err)
	assert.False(t, ok, "results are scoped to a forest")
}

func TestListAndPurge(t *testing.T) {
	s := openMemory(t)
	for i := range 3 {
		d := memcpy
		d.Location += uint64(i)
		require.NoError(t, s.Put("f1", Result{Function: d, Node: i}))
	}
	require.NoError(t, s.Put("f2", Result{Function: memcpy, Node: -1}))

	rs, err := s.List("f1")
	require.NoError(t, err)
	assert.Len(t, rs, 3)

	require.NoError(t, s.Purge("f1"))
	rs, err = s.List("f1")
	require.NoError(t, err)
	assert.Empty(t, rs)

	rs, err = s.List("f2")
	require.NoError(t, err)
	assert.Len(t, rs, 1)
}

func TestPersistentReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	s, err := Open(Config{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	require.NoError(t, s.Put("f", Result{Function: memcpy, Node: 4}))
	require.NoError(t, s.Close())

	s, err = Open(Config{Path: dir})
	require.NoError(t, err)
	defer s.Close()
	r, ok, err := s.Get("f", memcpy)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4, r.Node)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.ErrorIs(t, err, types.ErrConfig)
}

func TestFingerprint(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(a, []byte("desc"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("probes"), 0o644))

	f1, err := Fingerprint(a, b)
	require.NoError(t, err)
	f2, err := Fingerprint(a, b)
	require.NoError(t, err)
	assert.Equal(t, f1, f2)
	assert.Len(t, f1, 24)

	f3, err := Fingerprint(b, a)
	require.NoError(t, err)
	assert.NotEqual(t, f1, f3)

	_, err = Fingerprint(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
