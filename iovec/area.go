package iovec

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/joshuapare/binsleuth/internal/buf"
	"github.com/joshuapare/binsleuth/internal/format"
	"github.com/joshuapare/binsleuth/pkg/types"
)

// AllocatedArea is one memory region captured with a context. Offsets whose
// pointer-map flag is set hold a pointer to a nested area; nested areas are
// stored in ascending offset order.
type AllocatedArea struct {
	data     []byte
	pointers []bool
	subareas []*AllocatedArea
}

// NewAllocatedArea builds an area from its data bytes, its pointer map and
// one nested area per set pointer-map flag.
func NewAllocatedArea(data []byte, pointerMap []bool, subareas []*AllocatedArea) (*AllocatedArea, error) {
	if len(pointerMap) != len(data) {
		return nil, types.Errorf(types.ErrKindFormat, "area: pointer map has %d entries for %d bytes", len(pointerMap), len(data))
	}
	if len(data) > format.MaxAreaSize {
		return nil, types.Errorf(types.ErrKindFormat, "area: size %d: %w", len(data), format.ErrTooLarge)
	}
	want := 0
	for _, p := range pointerMap {
		if p {
			want++
		}
	}
	if want != len(subareas) {
		return nil, types.Errorf(types.ErrKindFormat, "area: %d pointer flags but %d nested areas", want, len(subareas))
	}
	return &AllocatedArea{
		data:     bytes.Clone(data),
		pointers: slices.Clone(pointerMap),
		subareas: slices.Clone(subareas),
	}, nil
}

// Size is the number of data bytes in the area.
func (a *AllocatedArea) Size() int { return len(a.data) }

// Data returns a copy of the area's bytes.
func (a *AllocatedArea) Data() []byte { return bytes.Clone(a.data) }

// PointerMap returns a copy of the pointer map.
func (a *AllocatedArea) PointerMap() []bool { return slices.Clone(a.pointers) }

// Subareas returns the nested areas in offset order.
func (a *AllocatedArea) Subareas() []*AllocatedArea { return slices.Clone(a.subareas) }

// SizeInBytes is the exact encoded length of the area, nested areas included.
func (a *AllocatedArea) SizeInBytes() int {
	n := format.AreaSizeFieldSize + 2*len(a.data)
	for _, sub := range a.subareas {
		n += sub.SizeInBytes()
	}
	return n
}

// Hash folds the size, pointer map, data and nested area hashes.
func (a *AllocatedArea) Hash() uint64 {
	h := combine(hashSeed, uint64(len(a.data)))
	for i, p := range a.pointers {
		v := uint64(a.data[i])
		if p {
			v |= 1 << 8
		}
		h = combine(h, v)
	}
	for _, sub := range a.subareas {
		h = combine(h, sub.Hash())
	}
	return h
}

func (a *AllocatedArea) appendBinary(b []byte) []byte {
	b = buf.AppendU64LE(b, uint64(len(a.data)))
	for _, p := range a.pointers {
		if p {
			b = append(b, 1)
		} else {
			b = append(b, 0)
		}
	}
	b = append(b, a.data...)
	for _, sub := range a.subareas {
		b = sub.appendBinary(b)
	}
	return b
}

func strictEqualArea(a, b *AllocatedArea) bool {
	if !bytes.Equal(a.data, b.data) || !slices.Equal(a.pointers, b.pointers) || len(a.subareas) != len(b.subareas) {
		return false
	}
	for i := range a.subareas {
		if !strictEqualArea(a.subareas[i], b.subareas[i]) {
			return false
		}
	}
	return true
}

func decodeArea(src source, depth int) (*AllocatedArea, error) {
	if depth > format.MaxAreaDepth {
		return nil, types.Errorf(types.ErrKindFormat, "area: nesting deeper than %d", format.MaxAreaDepth)
	}
	size, err := src.u64("area size")
	if err != nil {
		return nil, err
	}
	if size > format.MaxAreaSize {
		return nil, types.Errorf(types.ErrKindFormat, "area: size %d: %w", size, format.ErrTooLarge)
	}
	n := int(size)

	flags, err := src.take(n, "area pointer map")
	if err != nil {
		return nil, err
	}
	a := &AllocatedArea{pointers: make([]bool, n)}
	nested := 0
	for i, f := range flags {
		switch f {
		case 0:
		case 1:
			a.pointers[i] = true
			nested++
		default:
			return nil, types.Errorf(types.ErrKindFormat, "area: pointer map byte %d is 0x%x", i, f)
		}
	}

	data, err := src.take(n, "area data")
	if err != nil {
		return nil, err
	}
	a.data = bytes.Clone(data)

	for i := 0; i < nested; i++ {
		sub, err := decodeArea(src, depth+1)
		if err != nil {
			return nil, fmt.Errorf("nested area %d: %w", i, err)
		}
		a.subareas = append(a.subareas, sub)
	}
	return a, nil
}
