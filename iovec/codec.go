package iovec

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/joshuapare/binsleuth/internal/buf"
	"github.com/joshuapare/binsleuth/internal/format"
	"github.com/joshuapare/binsleuth/pkg/types"
)

// source abstracts the two inputs Decode runs over: a stream and an
// in-memory buffer (a mapped probe map).
type source interface {
	take(n int, field string) ([]byte, error)
	u64(field string) (uint64, error)
	u8(field string) (byte, error)
	// fits reports whether n bytes could still be read; streams always say yes.
	fits(count uint64, elemSize int) error
}

func truncated(field string) error {
	return types.Errorf(types.ErrKindTruncated, "iovec: %s: %w", field, format.ErrTruncated)
}

type streamSource struct {
	r       io.Reader
	scratch [8]byte
}

func (s *streamSource) read(p []byte, field string) error {
	if _, err := io.ReadFull(s.r, p); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return truncated(field)
		}
		return fmt.Errorf("iovec: %s: %w", field, err)
	}
	return nil
}

func (s *streamSource) take(n int, field string) ([]byte, error) {
	p := make([]byte, n)
	if err := s.read(p, field); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *streamSource) u64(field string) (uint64, error) {
	if err := s.read(s.scratch[:8], field); err != nil {
		return 0, err
	}
	return buf.U64LE(s.scratch[:8]), nil
}

func (s *streamSource) u8(field string) (byte, error) {
	if err := s.read(s.scratch[:1], field); err != nil {
		return 0, err
	}
	return s.scratch[0], nil
}

func (s *streamSource) fits(uint64, int) error { return nil }

type cursorSource struct{ c *buf.Cursor }

func (s cursorSource) take(n int, field string) ([]byte, error) {
	p, ok := s.c.Take(n)
	if !ok {
		return nil, truncated(field)
	}
	return p, nil
}

func (s cursorSource) u64(field string) (uint64, error) {
	v, ok := s.c.U64()
	if !ok {
		return 0, truncated(field)
	}
	return v, nil
}

func (s cursorSource) u8(field string) (byte, error) {
	v, ok := s.c.U8()
	if !ok {
		return 0, truncated(field)
	}
	return v, nil
}

func (s cursorSource) fits(count uint64, elemSize int) error {
	if _, err := buf.CheckCount(s.c.Remaining(), count, elemSize); err != nil {
		return types.Errorf(types.ErrKindTruncated, "iovec: syscalls: %w", err)
	}
	return nil
}

// Decode reads one context from r. It fails with an error matching
// types.ErrTruncated when r ends inside a required field.
func Decode(r io.Reader) (*Context, error) {
	return decode(&streamSource{r: r})
}

// DecodeBytes decodes one context from the front of b and returns the
// number of bytes consumed. The context does not alias b.
func DecodeBytes(b []byte) (*Context, int, error) {
	c := buf.NewCursor(b)
	ctx, err := decode(cursorSource{c: c})
	if err != nil {
		return nil, 0, err
	}
	return ctx, c.Offset(), nil
}

func decode(src source) (*Context, error) {
	ctx := &Context{}
	for i := range ctx.registers {
		v, err := src.u64("register " + RegisterNames[i])
		if err != nil {
			return nil, err
		}
		ctx.registers[i] = v
	}
	ret, err := src.u8("return value")
	if err != nil {
		return nil, err
	}
	ctx.returnValue = ret

	for i := 0; i < RegisterCount-1; i++ {
		if ctx.registers[i] != AllocatedAreaMagic {
			continue
		}
		area, err := decodeArea(src, 0)
		if err != nil {
			return nil, fmt.Errorf("area for %s: %w", RegisterNames[i], err)
		}
		ctx.areas = append(ctx.areas, area)
	}

	count, err := src.u64("syscall count")
	if err != nil {
		return nil, err
	}
	if err := src.fits(count, format.SyscallSize); err != nil {
		return nil, err
	}
	ctx.syscalls = make([]uint64, 0, min(count, 1024))
	for i := uint64(0); i < count; i++ {
		v, err := src.u64("syscall")
		if err != nil {
			return nil, err
		}
		ctx.syscalls = append(ctx.syscalls, v)
	}
	slices.Sort(ctx.syscalls)
	return ctx, nil
}

// AppendBinary appends the encoded context to b.
func (c *Context) AppendBinary(b []byte) ([]byte, error) {
	for _, r := range c.registers {
		b = buf.AppendU64LE(b, r)
	}
	b = append(b, c.returnValue)
	for _, a := range c.areas {
		b = a.appendBinary(b)
	}
	b = buf.AppendU64LE(b, uint64(len(c.syscalls)))
	for _, s := range c.syscalls {
		b = buf.AppendU64LE(b, s)
	}
	return b, nil
}

// MarshalBinary encodes the context.
func (c *Context) MarshalBinary() ([]byte, error) {
	return c.AppendBinary(make([]byte, 0, c.SizeInBytes()))
}

// Encode writes the encoded context to w.
func (c *Context) Encode(w io.Writer) error {
	b, err := c.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("iovec: write: %w", err)
	}
	return nil
}
