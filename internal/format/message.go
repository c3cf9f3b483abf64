package format

import (
	"encoding/binary"
	"fmt"

	"github.com/joshuapare/binsleuth/internal/buf"
)

// MessageHeader is the fixed prefix of every tracer message.
type MessageHeader struct {
	Type   int32
	Length uint64
}

// AppendMessage appends a framed message to b.
func AppendMessage(b []byte, typ int32, payload []byte) []byte {
	b = buf.AppendI32LE(b, typ)
	b = buf.AppendU64LE(b, uint64(len(payload)))
	return append(b, payload...)
}

// DecodeMessageHeader decodes a header from the first MessageHeaderSize bytes of b.
func DecodeMessageHeader(b []byte) (MessageHeader, error) {
	if len(b) < MessageHeaderSize {
		return MessageHeader{}, fmt.Errorf("message header: %w", ErrTruncated)
	}
	h := MessageHeader{
		Type:   buf.I32LE(b),
		Length: binary.LittleEndian.Uint64(b[4:]),
	}
	if h.Length > MaxMessagePayload {
		return MessageHeader{}, fmt.Errorf("message payload %d: %w", h.Length, ErrTooLarge)
	}
	return h, nil
}
