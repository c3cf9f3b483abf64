package iovec

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// ReadAll decodes back-to-back contexts until r is exhausted. This is the
// layout of the tracer's -contexts input and -ctx-out output files. A
// stream that ends inside a record fails with types.ErrTruncated.
func ReadAll(r io.Reader) ([]*Context, error) {
	br := bufio.NewReader(r)
	var out []*Context
	for {
		if _, err := br.Peek(1); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, fmt.Errorf("iovec: read: %w", err)
		}
		ctx, err := Decode(br)
		if err != nil {
			return nil, fmt.Errorf("context %d: %w", len(out), err)
		}
		out = append(out, ctx)
	}
}

// WriteAll encodes ctxs back to back.
func WriteAll(w io.Writer, ctxs []*Context) error {
	bw := bufio.NewWriter(w)
	for i, c := range ctxs {
		if err := c.Encode(bw); err != nil {
			return fmt.Errorf("context %d: %w", i, err)
		}
	}
	return bw.Flush()
}
