package channel_test

import (
	"bytes"
	"errors"
	"testing"

	"wabridge/internal/crypto"
	"wabridge/internal/domain"
	"wabridge/internal/protocol/channel"
	"wabridge/internal/protocol/ratchet"
	"wabridge/internal/protocol/wire"
)

func sessions(t *testing.T) (relay, client domain.PeerSession) {
	t.Helper()
	id, _ := crypto.GenerateIdentity()
	rk := bytes.Repeat([]byte{9}, 32)
	relay, err := ratchet.InitAsInitiator(rk, id.XPub)
	if err != nil {
		t.Fatalf("init initiator: %v", err)
	}
	client, err = ratchet.InitAsResponder(rk, id.XPriv, relay.DiffieHellmanPublic)
	if err != nil {
		t.Fatalf("init responder: %v", err)
	}
	return relay, client
}

func TestSealOpen(t *testing.T) {
	relay, client := sessions(t)
	ad := channel.AssociatedData("client-1")
	inner := wire.NewBinary(channel.TagMessage, wire.Attrs{"id": wire.Text("m1")}, []byte("hi"))

	enc, err := channel.Seal(&relay, ad, inner, wire.EncodeOptions{})
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	// The envelope survives the wire.
	b, err := wire.Encode(enc)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	enc, _, err = wire.Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	got, err := channel.Open(&client, ad, enc)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !got.Equal(inner) {
		t.Fatalf("got %s want %s", got, inner)
	}
	if _, err := channel.Open(&client, ad, enc); !errors.Is(err, ratchet.ErrReplay) {
		t.Fatalf("replayed envelope: %v", err)
	}
}

func TestOpen_WrongClientID(t *testing.T) {
	relay, client := sessions(t)
	enc, err := channel.Seal(&relay, channel.AssociatedData("a"), wire.New(channel.TagPing, nil), wire.EncodeOptions{})
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := channel.Open(&client, channel.AssociatedData("b"), enc); !errors.Is(err, domain.CryptoError{}) {
		t.Fatalf("want CryptoError, got %v", err)
	}
}

func TestOpen_RejectsPlainNodes(t *testing.T) {
	_, client := sessions(t)
	for _, n := range []wire.Node{
		wire.New(channel.TagPing, nil),
		wire.NewBinary(channel.TagEnc, wire.Attrs{"n": wire.Int(0)}, []byte("x")),
	} {
		if _, err := channel.Open(&client, nil, n); !errors.Is(err, domain.CryptoError{}) {
			t.Fatalf("%s: want CryptoError, got %v", n, err)
		}
	}
}

func TestOpen_UndecodablePayloadStillConsumesKey(t *testing.T) {
	relay, client := sessions(t)
	ad := channel.AssociatedData("client-1")
	h, ct, err := ratchet.Seal(&relay, ad, []byte{0xff, 0xff})
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	enc := wire.NewBinary(channel.TagEnc, wire.Attrs{
		"dh": wire.Binary(h.DiffieHellmanPublicKey),
		"pn": wire.Int(int64(h.PreviousChainLength)),
		"n":  wire.Int(int64(h.MessageIndex)),
	}, ct)

	if _, err := channel.Open(&client, ad, enc); !errors.Is(err, domain.DecodeError{}) {
		t.Fatalf("want DecodeError, got %v", err)
	}
	if client.ReceiveMessageIndex != 1 {
		t.Fatalf("want receive index 1 after an authenticated frame, got %d", client.ReceiveMessageIndex)
	}
	if _, err := channel.Open(&client, ad, enc); !errors.Is(err, ratchet.ErrReplay) {
		t.Fatalf("reopened undecodable frame: %v", err)
	}
}
