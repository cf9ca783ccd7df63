// Package channel defines the relay dialogue: node tags, the protocol
// version and the sealed envelope carried once a session is authenticated.
package channel

import (
	"errors"
	"fmt"

	"wabridge/internal/domain"
	"wabridge/internal/protocol/ratchet"
	"wabridge/internal/protocol/wire"
)

// Version is the dialogue version announced in hello.
const Version = 1

// Node tags.
const (
	TagHello     = "hello"
	TagInit      = "init"
	TagRef       = "ref"
	TagConn      = "conn"
	TagRestore   = "restore"
	TagChallenge = "challenge"
	TagResponse  = "response"
	TagSuccess   = "success"
	TagFailure   = "failure"
	TagEnc       = "enc"
	TagPing      = "ping"
	TagPong      = "pong"
	TagMessage   = "message"
	TagAck       = "ack"
)

var ErrNotSealed = errors.New("node is not a sealed envelope")

// AssociatedData binds sealed frames to one device address.
func AssociatedData(jid domain.JID) []byte {
	return append([]byte("wabridge/v1|"), jid...)
}

// Seal encrypts inner with sess and wraps it in an enc node. sess is
// advanced only on success.
func Seal(sess *domain.PeerSession, ad []byte, inner wire.Node, opts wire.EncodeOptions) (wire.Node, error) {
	pt, err := opts.Encode(inner)
	if err != nil {
		return wire.Node{}, err
	}
	h, ct, err := ratchet.Seal(sess, ad, pt)
	if err != nil {
		return wire.Node{}, err
	}
	return wire.NewBinary(TagEnc, wire.Attrs{
		"dh": wire.Binary(h.DiffieHellmanPublicKey),
		"pn": wire.Int(int64(h.PreviousChainLength)),
		"n":  wire.Int(int64(h.MessageIndex)),
	}, ct), nil
}

// Open authenticates an enc node and decodes the inner node. sess is
// advanced whenever the frame authenticates. A DecodeError is only returned
// after that point, so callers must keep sess on a DecodeError or the frame
// could be opened twice.
func Open(sess *domain.PeerSession, ad []byte, enc wire.Node) (wire.Node, error) {
	if enc.Tag() != TagEnc || !enc.HasContent() {
		return wire.Node{}, domain.CryptoError{Op: "open", Err: ErrNotSealed}
	}
	h, err := header(enc)
	if err != nil {
		return wire.Node{}, domain.CryptoError{Op: "open", Err: err}
	}
	pt, err := ratchet.Open(sess, ad, h, enc.Content())
	if err != nil {
		return wire.Node{}, err
	}
	inner, used, err := wire.Decode(pt)
	if err != nil {
		return wire.Node{}, err
	}
	if used != len(pt) {
		return wire.Node{}, domain.DecodeError{Offset: used, Frame: len(pt),
			Err: fmt.Errorf("%w: trailing bytes after sealed node", wire.ErrMalformed)}
	}
	return inner, nil
}

func header(n wire.Node) (domain.RatchetHeader, error) {
	pn, ok1 := n.AttrInt("pn")
	idx, ok2 := n.AttrInt("n")
	dh := n.AttrBinary("dh")
	if !ok1 || !ok2 || len(dh) != 32 || pn < 0 || idx < 0 || pn > 1<<32-1 || idx > 1<<32-1 {
		return domain.RatchetHeader{}, ratchet.ErrBadHeader
	}
	return domain.RatchetHeader{
		DiffieHellmanPublicKey: dh,
		PreviousChainLength:    uint32(pn),
		MessageIndex:           uint32(idx),
	}, nil
}
