package format

import "errors"

var (
	// ErrSignatureMismatch indicates a structure had an unexpected magic.
	ErrSignatureMismatch = errors.New("format: signature mismatch")
	// ErrTruncated indicates the buffer lacked the bytes required for a structure.
	ErrTruncated = errors.New("format: truncated buffer")
	// ErrUnsupported indicates a version or feature this package does not read.
	ErrUnsupported = errors.New("format: unsupported feature")
	// ErrTooLarge indicates a declared length exceeds its cap.
	ErrTooLarge = errors.New("format: declared length too large")
)
