// Package mmfile maps training artifacts into memory read-only. Probe maps
// can hold many thousands of contexts, so they are decoded straight out of
// the mapping instead of being copied into the heap first.
package mmfile

import "sync"

// Mapping is a read-only view of a file. Close releases it; Close is safe
// to call more than once.
type Mapping struct {
	data    []byte
	once    sync.Once
	release func() error
	err     error
}

// Bytes returns the mapped contents. The slice is invalid after Close.
func (m *Mapping) Bytes() []byte { return m.data }

// Len returns the mapped length.
func (m *Mapping) Len() int { return len(m.data) }

// Close unmaps the file.
func (m *Mapping) Close() error {
	m.once.Do(func() {
		if m.release != nil {
			m.err = m.release()
		}
		m.data = nil
	})
	return m.err
}
