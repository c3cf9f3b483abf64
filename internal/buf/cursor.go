package buf

// Cursor walks a byte slice front to back. Reads never panic: a read past
// the end reports ok = false and leaves the cursor where it was.
type Cursor struct {
	b   []byte
	off int
}

// NewCursor returns a cursor positioned at the start of b.
func NewCursor(b []byte) *Cursor { return &Cursor{b: b} }

// Offset is the number of bytes consumed so far.
func (c *Cursor) Offset() int { return c.off }

// Remaining is the number of unread bytes.
func (c *Cursor) Remaining() int { return len(c.b) - c.off }

// Take returns the next n bytes. The result aliases the underlying buffer.
func (c *Cursor) Take(n int) ([]byte, bool) {
	s, ok := Slice(c.b, c.off, n)
	if !ok {
		return nil, false
	}
	c.off += n
	return s, true
}

// U8 reads one byte.
func (c *Cursor) U8() (byte, bool) {
	s, ok := c.Take(1)
	if !ok {
		return 0, false
	}
	return s[0], true
}

// U64 reads a little-endian uint64.
func (c *Cursor) U64() (uint64, bool) {
	s, ok := c.Take(8)
	if !ok {
		return 0, false
	}
	return U64LE(s), true
}
