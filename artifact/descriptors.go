package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/joshuapare/binsleuth/pkg/types"
)

const (
	// DescriptorMapVersion is the only descriptor-map version understood.
	DescriptorMapVersion = 1

	// MaxDescriptorMapSize caps the YAML file read into memory.
	MaxDescriptorMapSize = 256 << 20
)

// DescriptorMap maps a behavior hash to the functions that accepted it.
type DescriptorMap map[uint64][]types.DescriptorEntry

// Hashes returns the behavior hashes in ascending order.
func (m DescriptorMap) Hashes() []uint64 {
	out := make([]uint64, 0, len(m))
	for h := range m {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}

// Accepts reports whether desc accepted the probe with hash h.
func (m DescriptorMap) Accepts(h uint64, desc types.FunctionDescriptor) bool {
	for _, e := range m[h] {
		if e.Desc == desc {
			return true
		}
	}
	return false
}

type descriptorFile struct {
	Version int              `yaml:"version"`
	Probes  []descriptorYAML `yaml:"probes"`
}

type descriptorYAML struct {
	Hash       string                  `yaml:"hash"`
	AcceptedBy []types.DescriptorEntry `yaml:"accepted_by"`
}

// LoadDescriptorMap reads a descriptor map. A missing file fails with an
// error matching types.ErrNotFound.
func LoadDescriptorMap(path string) (DescriptorMap, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, types.Errorf(types.ErrKindNotFound, "descriptor map %s: %w", path, err)
		}
		return nil, fmt.Errorf("descriptor map %s: %w", path, err)
	}
	if info.Size() > MaxDescriptorMapSize {
		return nil, types.Errorf(types.ErrKindFormat, "descriptor map %s: %d bytes exceeds %d", path, info.Size(), MaxDescriptorMapSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("descriptor map %s: %w", path, err)
	}
	m, err := ParseDescriptorMap(data)
	if err != nil {
		return nil, fmt.Errorf("descriptor map %s: %w", path, err)
	}
	return m, nil
}

// ParseDescriptorMap decodes descriptor-map YAML.
func ParseDescriptorMap(data []byte) (DescriptorMap, error) {
	var f descriptorFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, types.Errorf(types.ErrKindFormat, "parse yaml: %w", err)
	}
	if f.Version != DescriptorMapVersion {
		return nil, types.Errorf(types.ErrKindFormat, "unsupported version %d", f.Version)
	}
	m := make(DescriptorMap, len(f.Probes))
	for i, p := range f.Probes {
		h, err := strconv.ParseUint(p.Hash, 16, 64)
		if err != nil {
			return nil, types.Errorf(types.ErrKindFormat, "probe %d: hash %q: %w", i, p.Hash, err)
		}
		if _, dup := m[h]; dup {
			return nil, types.Errorf(types.ErrKindFormat, "probe %d: duplicate hash %016x", i, h)
		}
		m[h] = p.AcceptedBy
	}
	return m, nil
}

// MarshalDescriptorMap encodes m as YAML with hashes in ascending order.
func MarshalDescriptorMap(m DescriptorMap) ([]byte, error) {
	f := descriptorFile{Version: DescriptorMapVersion}
	for _, h := range m.Hashes() {
		f.Probes = append(f.Probes, descriptorYAML{
			Hash:       fmt.Sprintf("%016x", h),
			AcceptedBy: m[h],
		})
	}
	return yaml.Marshal(&f)
}

// WriteDescriptorMap writes m to path.
func WriteDescriptorMap(path string, m DescriptorMap) error {
	data, err := MarshalDescriptorMap(m)
	if err != nil {
		return fmt.Errorf("marshal descriptor map: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
