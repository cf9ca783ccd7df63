package wire

import (
	"bytes"
	"sort"
	"strconv"
	"strings"
)

type contentKind uint8

const (
	contentNone     contentKind = 0
	contentChildren contentKind = 1
	contentBinary   contentKind = 2
)

// Node is an immutable element of the wire tree.
type Node struct {
	tag      string
	attrs    map[string]Value
	kind     contentKind
	children []Node
	content  []byte
}

// New returns a node without content.
func New(tag string, attrs Attrs) Node {
	return Node{tag: tag, attrs: copyAttrs(attrs)}
}

// NewParent returns a node whose content is the given children. A parent
// with zero children is distinct from a node without content.
func NewParent(tag string, attrs Attrs, children ...Node) Node {
	return Node{
		tag:      tag,
		attrs:    copyAttrs(attrs),
		kind:     contentChildren,
		children: append([]Node{}, children...),
	}
}

// NewBinary returns a node whose content is a copy of b.
func NewBinary(tag string, attrs Attrs, b []byte) Node {
	return Node{
		tag:     tag,
		attrs:   copyAttrs(attrs),
		kind:    contentBinary,
		content: append([]byte{}, b...),
	}
}

func copyAttrs(attrs Attrs) map[string]Value {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]Value, len(attrs))
	for k, v := range attrs {
		if v.kind == KindBinary {
			v.bin = append([]byte{}, v.bin...)
		}
		out[k] = v
	}
	return out
}

// Tag returns the node tag.
func (n Node) Tag() string { return n.tag }

// Attr returns the value stored under key.
func (n Node) Attr(key string) (Value, bool) {
	v, ok := n.attrs[key]
	return v, ok
}

// AttrText returns the text attribute under key, or "" when absent or of
// another kind.
func (n Node) AttrText(key string) string {
	s, _ := n.attrs[key].AsText()
	return s
}

// AttrInt returns the integer attribute under key.
func (n Node) AttrInt(key string) (int64, bool) {
	return n.attrs[key].AsInt()
}

// AttrBinary returns a copy of the binary attribute under key, or nil.
func (n Node) AttrBinary(key string) []byte {
	b, _ := n.attrs[key].AsBinary()
	return b
}

// Attrs returns a copy of all attributes.
func (n Node) Attrs() Attrs { return copyAttrs(n.attrs) }

// NumAttrs returns the number of attributes.
func (n Node) NumAttrs() int { return len(n.attrs) }

// Keys returns the attribute keys in wire order.
func (n Node) Keys() []string {
	keys := make([]string, 0, len(n.attrs))
	for k := range n.attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HasChildren reports whether the node content is a child list.
func (n Node) HasChildren() bool { return n.kind == contentChildren }

// HasContent reports whether the node content is a binary payload.
func (n Node) HasContent() bool { return n.kind == contentBinary }

// Children returns the child list.
func (n Node) Children() []Node { return append([]Node(nil), n.children...) }

// Child returns the first child with the given tag.
func (n Node) Child(tag string) (Node, bool) {
	for _, c := range n.children {
		if c.tag == tag {
			return c, true
		}
	}
	return Node{}, false
}

// Content returns a copy of the binary payload.
func (n Node) Content() []byte {
	if n.kind != contentBinary {
		return nil
	}
	return append([]byte{}, n.content...)
}

// Equal reports whether n and o describe the same tree.
func (n Node) Equal(o Node) bool {
	if n.tag != o.tag || n.kind != o.kind || len(n.attrs) != len(o.attrs) {
		return false
	}
	for k, v := range n.attrs {
		ov, ok := o.attrs[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	switch n.kind {
	case contentChildren:
		if len(n.children) != len(o.children) {
			return false
		}
		for i := range n.children {
			if !n.children[i].Equal(o.children[i]) {
				return false
			}
		}
	case contentBinary:
		return bytes.Equal(n.content, o.content)
	}
	return true
}

// String renders the node in a compact XML-like form for logs.
func (n Node) String() string {
	var sb strings.Builder
	n.write(&sb)
	return sb.String()
}

func (n Node) write(sb *strings.Builder) {
	sb.WriteByte('<')
	sb.WriteString(n.tag)
	for _, k := range n.Keys() {
		sb.WriteByte(' ')
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(n.attrs[k].String())
	}
	switch n.kind {
	case contentNone:
		sb.WriteString("/>")
		return
	case contentBinary:
		sb.WriteString(">[")
		sb.WriteString(strconv.Itoa(len(n.content)))
		sb.WriteString(" bytes]")
	case contentChildren:
		sb.WriteByte('>')
		for _, c := range n.children {
			c.write(sb)
		}
	}
	sb.WriteString("</")
	sb.WriteString(n.tag)
	sb.WriteByte('>')
}
