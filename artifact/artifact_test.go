package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/binsleuth/iovec"
	"github.com/joshuapare/binsleuth/pkg/types"
)

func probe(t *testing.T, seed uint64, syscalls ...uint64) *iovec.Context {
	t.Helper()
	ctx, err := iovec.NewContext([iovec.RegisterCount]uint64{seed, seed + 1}, 0, nil, syscalls)
	require.NoError(t, err)
	return ctx
}

var (
	memcpy = types.FunctionDescriptor{Name: "memcpy", Location: 0x401000, Binary: "/lib/libc.so.6"}
	strcpy = types.FunctionDescriptor{Name: "strcpy", Location: 0x402000, Binary: "/lib/libc.so.6"}
)

func TestDescriptorMapRoundTrip(t *testing.T) {
	m := DescriptorMap{
		0xffffffffffffffff: {{Desc: memcpy, Coverage: 0.5}},
		0x1:                {{Desc: memcpy, Coverage: 0.5}, {Desc: strcpy, Coverage: 0.25}},
	}
	path := filepath.Join(t.TempDir(), "desc.yaml")
	require.NoError(t, WriteDescriptorMap(path, m))

	back, err := LoadDescriptorMap(path)
	require.NoError(t, err)
	assert.Equal(t, m, back)
	assert.Equal(t, []uint64{0x1, 0xffffffffffffffff}, back.Hashes())
	assert.True(t, back.Accepts(0x1, strcpy))
	assert.False(t, back.Accepts(0xffffffffffffffff, strcpy))
}

func TestDescriptorMapMissing(t *testing.T) {
	_, err := LoadDescriptorMap(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestParseDescriptorMapErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad version", "version: 2\nprobes: []\n"},
		{"bad hash", "version: 1\nprobes:\n  - hash: zz\n"},
		{"duplicate", "version: 1\nprobes:\n  - hash: \"01\"\n  - hash: \"1\"\n"},
		{"not yaml", "version: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDescriptorMap([]byte(tt.yaml))
			assert.ErrorIs(t, err, types.ErrFormat)
		})
	}
}

func TestProbeMapRoundTrip(t *testing.T) {
	a, b := probe(t, 1), probe(t, 2, 60, 1)
	m := NewProbeMap(a, b, a)
	require.Len(t, m, 2)

	path := filepath.Join(t.TempDir(), "probes.bin")
	require.NoError(t, WriteProbeMap(path, m))

	back, err := LoadProbeMap(path)
	require.NoError(t, err)
	require.Len(t, back, 2)
	assert.True(t, iovec.StrictEqual(a, back[a.Hash()]))
	assert.True(t, iovec.StrictEqual(b, back[b.Hash()]))
	assert.Equal(t, m.Hashes(), back.Hashes())
}

func TestProbeMapMissing(t *testing.T) {
	_, err := LoadProbeMap(filepath.Join(t.TempDir(), "missing.bin"))
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestParseProbeMapErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "probes.bin")
	require.NoError(t, WriteProbeMap(path, NewProbeMap(probe(t, 1))))
	good, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = ParseProbeMap(good[:len(good)-1])
	assert.Error(t, err, "truncated context")

	_, err = ParseProbeMap(append(append([]byte(nil), good...), 0))
	assert.ErrorIs(t, err, types.ErrFormat, "trailing bytes")

	bad := append([]byte(nil), good...)
	bad[0] = 'X'
	_, err = ParseProbeMap(bad)
	assert.ErrorIs(t, err, types.ErrFormat, "signature")

	bad = append([]byte(nil), good...)
	bad[8] = 0xff
	_, err = ParseProbeMap(bad)
	assert.ErrorIs(t, err, types.ErrFormat, "count larger than body")
}
