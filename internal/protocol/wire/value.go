package wire

import (
	"bytes"
	"encoding/base64"
	"strconv"
)

// Kind is the type of an attribute value. The set is closed.
type Kind uint8

const (
	KindText   Kind = 1
	KindBinary Kind = 2
	KindInt    Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBinary:
		return "binary"
	case KindInt:
		return "int"
	default:
		return "invalid"
	}
}

func (k Kind) valid() bool { return k >= KindText && k <= KindInt }

// Value is an attribute value. The zero Value has no kind and cannot be
// encoded.
type Value struct {
	kind Kind
	text string
	bin  []byte
	num  int64
}

// Text returns a text value.
func Text(s string) Value { return Value{kind: KindText, text: s} }

// Binary returns a binary value holding a copy of b.
func Binary(b []byte) Value {
	return Value{kind: KindBinary, bin: append([]byte{}, b...)}
}

// Int returns an integer value.
func Int(n int64) Value { return Value{kind: KindInt, num: n} }

// Kind returns the value kind, or 0 for the zero Value.
func (v Value) Kind() Kind { return v.kind }

// AsText returns the text of a text value.
func (v Value) AsText() (string, bool) { return v.text, v.kind == KindText }

// AsBinary returns a copy of the bytes of a binary value.
func (v Value) AsBinary() ([]byte, bool) {
	if v.kind != KindBinary {
		return nil, false
	}
	return append([]byte{}, v.bin...), true
}

// AsInt returns the integer of an int value.
func (v Value) AsInt() (int64, bool) { return v.num, v.kind == KindInt }

// Equal reports whether both values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindText:
		return v.text == o.text
	case KindBinary:
		return bytes.Equal(v.bin, o.bin)
	case KindInt:
		return v.num == o.num
	default:
		return true
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindText:
		return strconv.Quote(v.text)
	case KindBinary:
		return "b64:" + base64.StdEncoding.EncodeToString(v.bin)
	case KindInt:
		return strconv.FormatInt(v.num, 10)
	default:
		return "<invalid>"
	}
}

// Attrs maps attribute keys to values.
type Attrs map[string]Value
