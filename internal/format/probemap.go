package format

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/joshuapare/binsleuth/internal/buf"
)

// ProbeMapHeader is the fixed prefix of a probe-map artifact.
type ProbeMapHeader struct {
	Version uint32
	Count   uint64
}

// DecodeProbeMapHeader validates the signature and version and returns the header.
func DecodeProbeMapHeader(b []byte) (ProbeMapHeader, error) {
	if len(b) < ProbeMapHeaderSize {
		return ProbeMapHeader{}, fmt.Errorf("probe map header: %w", ErrTruncated)
	}
	if !bytes.Equal(b[:4], ProbeMapSignature) {
		return ProbeMapHeader{}, fmt.Errorf("probe map header %q: %w", b[:4], ErrSignatureMismatch)
	}
	h := ProbeMapHeader{
		Version: binary.LittleEndian.Uint32(b[4:]),
		Count:   buf.U64LE(b[8:]),
	}
	if h.Version != ProbeMapVersion {
		return ProbeMapHeader{}, fmt.Errorf("probe map version %d: %w", h.Version, ErrUnsupported)
	}
	return h, nil
}

// AppendProbeMapHeader appends a header announcing count contexts.
func AppendProbeMapHeader(b []byte, count uint64) []byte {
	b = append(b, ProbeMapSignature...)
	b = binary.LittleEndian.AppendUint32(b, ProbeMapVersion)
	return buf.AppendU64LE(b, count)
}
