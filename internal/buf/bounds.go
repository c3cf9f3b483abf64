package buf

import (
	"fmt"
	"math"
)

// AddOverflowSafe adds a and b, returning ok = false when the result would overflow int.
func AddOverflowSafe(a, b int) (int, bool) {
	switch {
	case b > 0 && a > math.MaxInt-b:
		return 0, false
	case b < 0 && a < math.MinInt-b:
		return 0, false
	default:
		return a + b, true
	}
}

// CheckCount validates that count records of elemSize bytes fit in the
// remaining bytes of a buffer. count comes straight off the wire as a
// native-width unsigned integer, so it is checked before any conversion.
//
//	n, err := buf.CheckCount(c.Remaining(), count, 8)
//	if err != nil {
//	    return fmt.Errorf("syscalls: %w", err)
//	}
func CheckCount(remaining int, count uint64, elemSize int) (int, error) {
	if remaining < 0 {
		return 0, fmt.Errorf("negative remaining: %d", remaining)
	}
	if elemSize <= 0 {
		return 0, fmt.Errorf("non-positive element size: %d", elemSize)
	}
	if count > uint64(math.MaxInt/elemSize) {
		return 0, fmt.Errorf("overflow: count=%d * elemSize=%d", count, elemSize)
	}
	total := int(count) * elemSize
	if total > remaining {
		return 0, fmt.Errorf("bounds: need=%d > remaining=%d", total, remaining)
	}
	return total, nil
}

// Slice returns the sub-slice [off:off+n] if it fits within len(b).
func Slice(b []byte, off, n int) ([]byte, bool) {
	if off < 0 || n < 0 || off > len(b) {
		return nil, false
	}
	end, ok := AddOverflowSafe(off, n)
	if !ok || end > len(b) {
		return nil, false
	}
	return b[off:end], true
}
