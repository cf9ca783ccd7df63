package wire

import (
	"encoding/binary"
	"fmt"

	"wabridge/internal/domain"
)

// Decode reads one framed node from the start of b and returns it with the
// number of bytes it occupied. When b does not yet hold a whole frame it
// returns a DecodeError wrapping ErrTruncated and consumes nothing. A
// complete but malformed frame also consumes nothing; the DecodeError then
// carries the frame length so stream readers can skip it.
func Decode(b []byte) (Node, int, error) {
	if len(b) < HeaderLen {
		return Node{}, 0, domain.DecodeError{Offset: len(b), Err: ErrTruncated}
	}
	flags := b[0]
	bodyLen := int(b[1])<<16 | int(b[2])<<8 | int(b[3])
	total := HeaderLen + bodyLen
	if len(b) < total {
		return Node{}, 0, domain.DecodeError{Offset: len(b), Err: ErrTruncated}
	}
	fail := func(off int, err error) (Node, int, error) {
		return Node{}, 0, domain.DecodeError{Offset: off, Frame: total, Err: err}
	}
	if flags&^FlagCompressed != 0 {
		return fail(0, fmt.Errorf("%w: 0x%02x", ErrUnknownFlags, flags))
	}

	body := b[HeaderLen:total]
	if flags&FlagCompressed != 0 {
		_, dec, err := zstdCodecs()
		if err != nil {
			return fail(HeaderLen, err)
		}
		body, err = dec.DecodeAll(body, nil)
		if err != nil {
			return fail(HeaderLen, fmt.Errorf("%w: %v", ErrBadCompression, err))
		}
	}

	d := decoder{buf: body}
	n, err := d.node(0)
	if err != nil {
		return fail(HeaderLen+d.off, err)
	}
	if d.off != len(body) {
		return fail(HeaderLen+d.off, fmt.Errorf("%w: %d trailing bytes",
			ErrMalformed, len(body)-d.off))
	}
	return n, total, nil
}

// decoder walks a complete body. Running out of bytes inside a body means
// the body is malformed, never truncated.
type decoder struct {
	buf []byte
	off int
}

func (d *decoder) take(n int, what string) ([]byte, error) {
	if n < 0 || len(d.buf)-d.off < n {
		return nil, fmt.Errorf("%w: short %s", ErrMalformed, what)
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *decoder) u8(what string) (byte, error) {
	b, err := d.take(1, what)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *decoder) u16(what string) (int, error) {
	b, err := d.take(2, what)
	if err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint16(b)), nil
}

func (d *decoder) shortString(what string) (string, error) {
	l, err := d.u8(what + " length")
	if err != nil {
		return "", err
	}
	b, err := d.take(int(l), what)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *decoder) longBytes(what string) ([]byte, error) {
	lb, err := d.take(4, what+" length")
	if err != nil {
		return nil, err
	}
	l := binary.BigEndian.Uint32(lb)
	if uint64(l) > uint64(len(d.buf)-d.off) {
		return nil, fmt.Errorf("%w: short %s", ErrMalformed, what)
	}
	b, _ := d.take(int(l), what)
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (d *decoder) node(depth int) (Node, error) {
	if depth >= MaxDepth {
		return Node{}, ErrTooDeep
	}
	tag, err := d.shortString("tag")
	if err != nil {
		return Node{}, err
	}
	if tag == "" {
		return Node{}, ErrEmptyTag
	}
	n := Node{tag: tag}

	count, err := d.u16("attribute count")
	if err != nil {
		return Node{}, err
	}
	if count > 0 {
		n.attrs = make(map[string]Value, count)
	}
	for i := 0; i < count; i++ {
		key, v, err := d.attr()
		if err != nil {
			return Node{}, err
		}
		if _, dup := n.attrs[key]; dup {
			return Node{}, fmt.Errorf("%w: %q", ErrDuplicateAttr, key)
		}
		n.attrs[key] = v
	}

	kind, err := d.u8("content kind")
	if err != nil {
		return Node{}, err
	}
	switch contentKind(kind) {
	case contentNone:
	case contentChildren:
		count, err := d.u16("child count")
		if err != nil {
			return Node{}, err
		}
		n.kind = contentChildren
		n.children = make([]Node, 0, count)
		for i := 0; i < count; i++ {
			c, err := d.node(depth + 1)
			if err != nil {
				return Node{}, err
			}
			n.children = append(n.children, c)
		}
	case contentBinary:
		n.kind = contentBinary
		if n.content, err = d.longBytes("content"); err != nil {
			return Node{}, err
		}
	default:
		return Node{}, fmt.Errorf("%w: content kind %d", ErrMalformed, kind)
	}
	return n, nil
}

func (d *decoder) attr() (string, Value, error) {
	key, err := d.shortString("attribute key")
	if err != nil {
		return "", Value{}, err
	}
	if key == "" {
		return "", Value{}, fmt.Errorf("%w: empty attribute key", ErrMalformed)
	}
	k, err := d.u8("attribute kind")
	if err != nil {
		return "", Value{}, err
	}
	switch Kind(k) {
	case KindText:
		b, err := d.longBytes("attribute value")
		if err != nil {
			return "", Value{}, err
		}
		return key, Value{kind: KindText, text: string(b)}, nil
	case KindBinary:
		b, err := d.longBytes("attribute value")
		if err != nil {
			return "", Value{}, err
		}
		return key, Value{kind: KindBinary, bin: b}, nil
	case KindInt:
		b, err := d.take(8, "attribute value")
		if err != nil {
			return "", Value{}, err
		}
		return key, Value{kind: KindInt, num: int64(binary.BigEndian.Uint64(b))}, nil
	default:
		return "", Value{}, fmt.Errorf("%w: %d for %q", ErrUnknownKind, k, key)
	}
}
