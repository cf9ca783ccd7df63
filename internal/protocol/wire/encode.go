package wire

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/klauspost/compress/zstd"
)

const (
	// HeaderLen is the size of the frame header.
	HeaderLen = 4

	// MaxBodyLen is the largest body a frame header can describe.
	MaxBodyLen = 1<<24 - 1

	// MaxDepth bounds node nesting.
	MaxDepth = 64

	// FlagCompressed marks a zstd compressed body.
	FlagCompressed byte = 0x02

	maxShortLen = math.MaxUint8
	maxCount    = math.MaxUint16
)

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

// zstdCodecs lazily builds a shared encoder/decoder pair. Both are safe for
// concurrent EncodeAll/DecodeAll calls.
func zstdCodecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil)
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil,
			zstd.WithDecoderMaxMemory(4*MaxBodyLen))
	})
	return zstdEnc, zstdDec, zstdErr
}

// EncodeOptions tunes frame encoding.
type EncodeOptions struct {
	// CompressAbove compresses bodies longer than this many bytes. Zero
	// disables compression.
	CompressAbove int
}

// Encode returns the framed encoding of n without compression.
func Encode(n Node) ([]byte, error) {
	return EncodeOptions{}.Encode(n)
}

// Encode returns the framed encoding of n.
func (opts EncodeOptions) Encode(n Node) ([]byte, error) {
	body := make([]byte, 0, 64)
	body, err := appendNode(body, n, 0)
	if err != nil {
		return nil, err
	}

	var flags byte
	if opts.CompressAbove > 0 && len(body) > opts.CompressAbove {
		enc, _, err := zstdCodecs()
		if err != nil {
			return nil, err
		}
		compressed := enc.EncodeAll(body, nil)
		if len(compressed) < len(body) {
			body = compressed
			flags |= FlagCompressed
		}
	}
	if len(body) > MaxBodyLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}

	out := make([]byte, HeaderLen, HeaderLen+len(body))
	out[0] = flags
	out[1] = byte(len(body) >> 16)
	out[2] = byte(len(body) >> 8)
	out[3] = byte(len(body))
	return append(out, body...), nil
}

func appendNode(b []byte, n Node, depth int) ([]byte, error) {
	if depth >= MaxDepth {
		return nil, ErrTooDeep
	}
	if n.tag == "" {
		return nil, ErrEmptyTag
	}
	if len(n.tag) > maxShortLen {
		return nil, fmt.Errorf("%w: tag %d bytes", ErrTooLong, len(n.tag))
	}
	b = append(b, byte(len(n.tag)))
	b = append(b, n.tag...)

	if len(n.attrs) > maxCount {
		return nil, fmt.Errorf("%w: %d attributes", ErrTooLong, len(n.attrs))
	}
	b = binary.BigEndian.AppendUint16(b, uint16(len(n.attrs)))
	for _, k := range n.Keys() {
		var err error
		if b, err = appendAttr(b, k, n.attrs[k]); err != nil {
			return nil, err
		}
	}

	b = append(b, byte(n.kind))
	switch n.kind {
	case contentNone:
	case contentChildren:
		if len(n.children) > maxCount {
			return nil, fmt.Errorf("%w: %d children", ErrTooLong, len(n.children))
		}
		b = binary.BigEndian.AppendUint16(b, uint16(len(n.children)))
		for _, c := range n.children {
			var err error
			if b, err = appendNode(b, c, depth+1); err != nil {
				return nil, err
			}
		}
	case contentBinary:
		var err error
		if b, err = appendBytes(b, n.content); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: content kind %d", ErrMalformed, n.kind)
	}
	return b, nil
}

func appendAttr(b []byte, key string, v Value) ([]byte, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty attribute key", ErrMalformed)
	}
	if len(key) > maxShortLen {
		return nil, fmt.Errorf("%w: attribute key %d bytes", ErrTooLong, len(key))
	}
	if !v.kind.valid() {
		return nil, fmt.Errorf("%w: attribute %q", ErrUnknownKind, key)
	}
	b = append(b, byte(len(key)))
	b = append(b, key...)
	b = append(b, byte(v.kind))
	switch v.kind {
	case KindText:
		return appendBytes(b, []byte(v.text))
	case KindBinary:
		return appendBytes(b, v.bin)
	default:
		return binary.BigEndian.AppendUint64(b, uint64(v.num)), nil
	}
}

func appendBytes(b, v []byte) ([]byte, error) {
	if len(v) > MaxBodyLen {
		return nil, fmt.Errorf("%w: %d byte value", ErrFrameTooLarge, len(v))
	}
	b = binary.BigEndian.AppendUint32(b, uint32(len(v)))
	return append(b, v...), nil
}
