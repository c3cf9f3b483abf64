// Package format houses the byte-level layouts binsleuth shares with the
// tracer: the captured execution context, the command/message framing, and
// the probe-map artifact header. Everything here is little-endian and sized
// for x86-64 (size_t is 8 bytes).
package format

const (
	// RegisterCount is the number of register slots captured per context.
	// Layout of one context:
	//
	//	Offset  Size  Description
	//	0x00    8*7   register values (argument registers, then return)
	//	0x38    1     return value byte
	//	0x39    ...   one AllocatedArea per magic register slot (last slot excluded)
	//	...     8     syscall count (size_t)
	//	...     8*n   syscall numbers
	RegisterCount = 7

	// RegisterSize is the width of one register slot.
	RegisterSize = 8

	// ReturnValueSize is the width of the return-value field.
	ReturnValueSize = 1

	// SyscallCountSize is the width of the syscall count (native size_t).
	SyscallCountSize = 8

	// SyscallSize is the width of one recorded syscall number.
	SyscallSize = 8

	// ContextFixedSize is the size of a context with no areas and no syscalls.
	ContextFixedSize = RegisterCount*RegisterSize + ReturnValueSize + SyscallCountSize

	// AllocatedAreaMagic marks a register slot (or an 8-byte word inside an
	// area) that refers to an allocated area instead of a scalar.
	AllocatedAreaMagic uint64 = 0xA110CA3D

	// AreaSizeFieldSize is the width of the size field opening an area record.
	// Layout of one area:
	//
	//	Offset  Size  Description
	//	0x00    8     size n
	//	0x08    n     pointer map (1 = a nested area pointer starts here)
	//	0x08+n  n     data bytes
	//	0x08+2n ...   nested areas, ascending pointer-map offset
	AreaSizeFieldSize = 8

	// MaxAreaSize caps a single area; the tracer allocates far less.
	MaxAreaSize = 1 << 24

	// MaxAreaDepth caps nesting so a hostile stream cannot recurse forever.
	MaxAreaDepth = 64
)

const (
	// MessageHeaderSize is the size of a tracer message header.
	//
	//	Offset  Size  Description
	//	0x00    4     message type (int32)
	//	0x04    8     payload length (size_t)
	//	0x0C    n     payload
	MessageHeaderSize = 12

	// MaxMessagePayload caps a single payload read from the tracer.
	MaxMessagePayload = 64 << 20
)

var (
	// ProbeMapSignature opens every probe-map artifact.
	ProbeMapSignature = []byte{'B', 'S', 'P', 'M'}
)

const (
	// ProbeMapHeaderSize is the size of the probe-map header.
	//
	//	Offset  Size  Description
	//	0x00    4     'B' 'S' 'P' 'M'
	//	0x04    4     version (uint32)
	//	0x08    8     context count
	//	0x10    ...   contexts, back to back
	ProbeMapHeaderSize = 16

	// ProbeMapVersion is the only version this package reads and writes.
	ProbeMapVersion = 1
)
