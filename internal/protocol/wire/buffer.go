package wire

import (
	"errors"

	"wabridge/internal/domain"
)

// Buffer accumulates bytes read from a stream and splits them into nodes.
// It is not safe for concurrent use.
type Buffer struct {
	buf []byte
}

// Write appends stream bytes. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// Len returns the number of buffered bytes not yet decoded.
func (b *Buffer) Len() int { return len(b.buf) }

// Next decodes the next node. It returns an error wrapping ErrTruncated when
// more bytes are needed. A malformed frame is dropped from the buffer and its
// DecodeError returned; calling Next again continues with the following
// frame.
func (b *Buffer) Next() (Node, error) {
	n, used, err := Decode(b.buf)
	if err != nil {
		var de domain.DecodeError
		if errors.As(err, &de) && de.Frame > 0 {
			b.discard(de.Frame)
		}
		return Node{}, err
	}
	b.discard(used)
	return n, nil
}

func (b *Buffer) discard(n int) {
	rest := copy(b.buf, b.buf[n:])
	b.buf = b.buf[:rest]
}

// Reset drops all buffered bytes.
func (b *Buffer) Reset() { b.buf = b.buf[:0] }
