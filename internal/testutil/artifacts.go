package testutil

import (
	"path/filepath"
	"testing"

	"github.com/joshuapare/binsleuth/artifact"
	"github.com/joshuapare/binsleuth/iovec"
)

// ProbeContext returns a small context whose content, and so hash, is
// determined by seed. Distinct seeds give distinct hashes.
//
// Example:
//
//	p1, p2 := testutil.ProbeContext(t, 1), testutil.ProbeContext(t, 2)
func ProbeContext(t testing.TB, seed uint64) *iovec.Context {
	t.Helper()
	ctx, err := iovec.NewContext([iovec.RegisterCount]uint64{seed, seed * 3}, byte(seed), nil, []uint64{seed})
	if err != nil {
		t.Fatalf("build probe context: %v", err)
	}
	return ctx
}

// WriteTree writes the two training artifacts of one tree into a fresh
// temporary directory and returns their paths.
//
// Example:
//
//	descPath, probePath := testutil.WriteTree(t, desc, probes)
//	err := f.AddTree(descPath, probePath)
func WriteTree(t testing.TB, desc artifact.DescriptorMap, probes artifact.ProbeMap) (string, string) {
	t.Helper()
	dir := t.TempDir()
	descPath := filepath.Join(dir, "desc.yaml")
	probePath := filepath.Join(dir, "probes.bin")
	if err := artifact.WriteDescriptorMap(descPath, desc); err != nil {
		t.Fatalf("write descriptor map: %v", err)
	}
	if err := artifact.WriteProbeMap(probePath, probes); err != nil {
		t.Fatalf("write probe map: %v", err)
	}
	return descPath, probePath
}
