package iovec

import (
	"fmt"
	"slices"
	"strings"

	"github.com/joshuapare/binsleuth/internal/format"
	"github.com/joshuapare/binsleuth/pkg/types"
)

// RegisterCount is the number of register slots in a context.
const RegisterCount = format.RegisterCount

// AllocatedAreaMagic marks a register slot that points at an allocated area.
const AllocatedAreaMagic = format.AllocatedAreaMagic

// RegisterNames lists the slots in wire order. The final slot is the return
// register and never carries an area.
var RegisterNames = [RegisterCount]string{"rdi", "rsi", "rdx", "rcx", "r8", "r9", "rax"}

// Context is an immutable captured execution context.
type Context struct {
	registers   [RegisterCount]uint64
	returnValue byte
	areas       []*AllocatedArea
	syscalls    []uint64
}

// NewContext builds a context. areas must hold exactly one entry per
// non-final register equal to AllocatedAreaMagic, in slot order, or the
// context could not be encoded and decoded back. syscalls are copied and
// sorted.
func NewContext(registers [RegisterCount]uint64, returnValue byte, areas []*AllocatedArea, syscalls []uint64) (*Context, error) {
	if want := magicSlots(registers); want != len(areas) {
		return nil, types.Errorf(types.ErrKindFormat, "context: %d magic registers but %d areas", want, len(areas))
	}
	sc := slices.Clone(syscalls)
	slices.Sort(sc)
	return &Context{
		registers:   registers,
		returnValue: returnValue,
		areas:       slices.Clone(areas),
		syscalls:    sc,
	}, nil
}

func magicSlots(registers [RegisterCount]uint64) int {
	n := 0
	for i := 0; i < RegisterCount-1; i++ {
		if registers[i] == AllocatedAreaMagic {
			n++
		}
	}
	return n
}

// Registers returns the register values in wire order.
func (c *Context) Registers() [RegisterCount]uint64 { return c.registers }

// ReturnValue returns the recorded return-value byte.
func (c *Context) ReturnValue() byte { return c.returnValue }

// Areas returns the allocated areas in register-slot order.
func (c *Context) Areas() []*AllocatedArea { return slices.Clone(c.areas) }

// Syscalls returns the recorded syscall numbers, ascending.
func (c *Context) Syscalls() []uint64 { return slices.Clone(c.syscalls) }

// SizeInBytes is the exact encoded length of the context.
func (c *Context) SizeInBytes() int {
	n := format.RegisterCount*format.RegisterSize + format.ReturnValueSize
	for _, a := range c.areas {
		n += a.SizeInBytes()
	}
	n += format.SyscallCountSize + format.SyscallSize*len(c.syscalls)
	return n
}

// Hexdigest renders the content hash for logs.
func (c *Context) Hexdigest() string { return fmt.Sprintf("%016x", c.Hash()) }

func (c *Context) String() string {
	var sb strings.Builder
	sb.WriteString("iovec{")
	for i, r := range c.registers {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if r == AllocatedAreaMagic && i < RegisterCount-1 {
			fmt.Fprintf(&sb, "%s=<area>", RegisterNames[i])
			continue
		}
		fmt.Fprintf(&sb, "%s=0x%x", RegisterNames[i], r)
	}
	fmt.Fprintf(&sb, " ret=0x%02x areas=%d syscalls=%v}", c.returnValue, len(c.areas), c.syscalls)
	return sb.String()
}

// Equal reports whether a and b have the same content hash. Two different
// contexts that collide in 64 bits compare equal; probe maps are keyed by
// the same hash, so such a pair could not coexist in one tree anyway.
func Equal(a, b *Context) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Hash() == b.Hash()
}

// StrictEqual compares every field. Use it to detect hash collisions in
// tests; identification itself always goes through Equal.
func StrictEqual(a, b *Context) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.registers != b.registers || a.returnValue != b.returnValue ||
		!slices.Equal(a.syscalls, b.syscalls) || len(a.areas) != len(b.areas) {
		return false
	}
	for i := range a.areas {
		if !strictEqualArea(a.areas[i], b.areas[i]) {
			return false
		}
	}
	return true
}
