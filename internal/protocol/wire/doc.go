// Package wire encodes and decodes the binary node tree exchanged with the
// relay.
//
// A node has a tag, a set of uniquely keyed scalar attributes (text, binary
// or integer) and either a list of child nodes, an opaque binary payload, or
// nothing. On the socket each top-level node is framed as
//
//	flags:u8 | length:u24 | body
//
// where flags bit 0x02 marks a zstd compressed body. The socket is a byte
// stream, so Decode never consumes a partial frame: it reports ErrTruncated
// and leaves the bytes for a later call. Buffer wraps that loop.
//
// Nodes are immutable. Constructors copy their inputs and accessors return
// copies, so a decoded node can be shared between goroutines.
package wire
