package artifact

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"

	"github.com/joshuapare/binsleuth/internal/format"
	"github.com/joshuapare/binsleuth/internal/mmfile"
	"github.com/joshuapare/binsleuth/iovec"
	"github.com/joshuapare/binsleuth/pkg/types"
)

// ProbeMap maps a behavior hash to the reference context used to test it.
type ProbeMap map[uint64]*iovec.Context

// NewProbeMap keys ctxs by their content hash. Contexts with equal hashes
// collapse to the first one seen.
func NewProbeMap(ctxs ...*iovec.Context) ProbeMap {
	m := make(ProbeMap, len(ctxs))
	for _, c := range ctxs {
		h := c.Hash()
		if _, ok := m[h]; !ok {
			m[h] = c
		}
	}
	return m
}

// Hashes returns the keys in ascending order.
func (m ProbeMap) Hashes() []uint64 {
	out := make([]uint64, 0, len(m))
	for h := range m {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}

// LoadProbeMap maps the file at path and decodes every context in it. A
// missing file fails with an error matching types.ErrNotFound.
func LoadProbeMap(path string) (ProbeMap, error) {
	mapping, err := mmfile.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, types.Errorf(types.ErrKindNotFound, "probe map %s: %w", path, err)
		}
		return nil, fmt.Errorf("probe map %s: %w", path, err)
	}
	defer mapping.Close()

	m, err := ParseProbeMap(mapping.Bytes())
	if err != nil {
		return nil, fmt.Errorf("probe map %s: %w", path, err)
	}
	return m, nil
}

// ParseProbeMap decodes a probe map from b. The result does not alias b.
func ParseProbeMap(b []byte) (ProbeMap, error) {
	h, err := format.DecodeProbeMapHeader(b)
	if err != nil {
		return nil, types.Errorf(types.ErrKindFormat, "header: %w", err)
	}
	body := b[format.ProbeMapHeaderSize:]
	if h.Count > uint64(len(body)/format.ContextFixedSize) {
		return nil, types.Errorf(types.ErrKindFormat, "count %d cannot fit in %d bytes", h.Count, len(body))
	}
	m := make(ProbeMap, h.Count)
	off := 0
	for i := uint64(0); i < h.Count; i++ {
		ctx, n, err := iovec.DecodeBytes(body[off:])
		if err != nil {
			return nil, fmt.Errorf("context %d at offset %d: %w", i, format.ProbeMapHeaderSize+off, err)
		}
		off += n
		if _, ok := m[ctx.Hash()]; !ok {
			m[ctx.Hash()] = ctx
		}
	}
	if off != len(body) {
		return nil, types.Errorf(types.ErrKindFormat, "%d trailing bytes after %d contexts", len(body)-off, h.Count)
	}
	return m, nil
}

// WriteProbeMap writes the contexts of m to path in ascending hash order.
func WriteProbeMap(path string, m ProbeMap) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if _, err := w.Write(format.AppendProbeMapHeader(nil, uint64(len(m)))); err != nil {
		f.Close()
		return err
	}
	for _, h := range m.Hashes() {
		if err := m[h].Encode(w); err != nil {
			f.Close()
			return fmt.Errorf("probe %016x: %w", h, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
