package ratchet_test

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"wabridge/internal/crypto"
	"wabridge/internal/domain"
	"wabridge/internal/protocol/ratchet"
)

type sealed struct {
	h  domain.RatchetHeader
	ct []byte
}

// pair returns an initiator and responder seeded from the same root.
func pair(t *testing.T) (a, b domain.PeerSession) {
	t.Helper()
	rk := bytes.Repeat([]byte{0x42}, 32)
	bPriv, bPub, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	a, err = ratchet.InitAsInitiator(rk, bPub)
	if err != nil {
		t.Fatalf("InitAsInitiator: %v", err)
	}
	b, err = ratchet.InitAsResponder(rk, bPriv, a.DiffieHellmanPublic)
	if err != nil {
		t.Fatalf("InitAsResponder: %v", err)
	}
	return a, b
}

func seal(t *testing.T, st *domain.PeerSession, ad []byte, msg string) sealed {
	t.Helper()
	h, ct, err := ratchet.Seal(st, ad, []byte(msg))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	return sealed{h, ct}
}

func TestRatchet_RoundTripBothDirections(t *testing.T) {
	a, b := pair(t)
	ad := []byte("ad")
	for round := 0; round < 4; round++ {
		for i := 0; i < 3; i++ {
			msg := fmt.Sprintf("a->b %d.%d", round, i)
			m := seal(t, &a, ad, msg)
			pt, err := ratchet.Open(&b, ad, m.h, m.ct)
			if err != nil || string(pt) != msg {
				t.Fatalf("open %q: %q %v", msg, pt, err)
			}
		}
		msg := fmt.Sprintf("b->a %d", round)
		m := seal(t, &b, ad, msg)
		pt, err := ratchet.Open(&a, ad, m.h, m.ct)
		if err != nil || string(pt) != msg {
			t.Fatalf("open %q: %q %v", msg, pt, err)
		}
	}
}

func TestRatchet_TamperLeavesStateUntouched(t *testing.T) {
	a, b := pair(t)
	m := seal(t, &a, nil, "hello")

	before := b.Clone()
	for i := range m.ct {
		bad := append([]byte{}, m.ct...)
		bad[i] ^= 0x01
		if _, err := ratchet.Open(&b, nil, m.h, bad); !errors.Is(err, domain.CryptoError{}) {
			t.Fatalf("flip %d: want CryptoError, got %v", i, err)
		}
	}
	if _, err := ratchet.Open(&b, []byte("other ad"), m.h, m.ct); err == nil {
		t.Fatal("wrong associated data accepted")
	}
	if b.ReceiveMessageIndex != before.ReceiveMessageIndex || !bytes.Equal(b.ReceiveChainKey, before.ReceiveChainKey) {
		t.Fatal("failed open mutated the session")
	}
	if pt, err := ratchet.Open(&b, nil, m.h, m.ct); err != nil || string(pt) != "hello" {
		t.Fatalf("genuine message after tamper: %q %v", pt, err)
	}
}

func TestRatchet_Replay(t *testing.T) {
	a, b := pair(t)
	m := seal(t, &a, nil, "once")
	if _, err := ratchet.Open(&b, nil, m.h, m.ct); err != nil {
		t.Fatalf("first open: %v", err)
	}
	_, err := ratchet.Open(&b, nil, m.h, m.ct)
	if !errors.Is(err, ratchet.ErrReplay) || !errors.Is(err, domain.CryptoError{}) {
		t.Fatalf("want replay CryptoError, got %v", err)
	}
}

func TestRatchet_OutOfOrder(t *testing.T) {
	a, b := pair(t)
	var ms []sealed
	for i := 0; i < 5; i++ {
		ms = append(ms, seal(t, &a, nil, fmt.Sprint(i)))
	}
	for _, i := range []int{3, 0, 4, 2, 1} {
		pt, err := ratchet.Open(&b, nil, ms[i].h, ms[i].ct)
		if err != nil || string(pt) != fmt.Sprint(i) {
			t.Fatalf("open %d: %q %v", i, pt, err)
		}
	}
	if len(b.SkippedKeys) != 0 {
		t.Fatalf("%d skipped keys left", len(b.SkippedKeys))
	}
	if _, err := ratchet.Open(&b, nil, ms[2].h, ms[2].ct); !errors.Is(err, ratchet.ErrReplay) {
		t.Fatalf("skipped key reused: %v", err)
	}
}

func TestRatchet_TooFarAhead(t *testing.T) {
	a, b := pair(t)
	var last sealed
	for i := 0; i <= ratchet.MaxSkip+1; i++ {
		last = seal(t, &a, nil, "x")
	}
	if _, err := ratchet.Open(&b, nil, last.h, last.ct); !errors.Is(err, ratchet.ErrTooFarAhead) {
		t.Fatalf("want ErrTooFarAhead, got %v", err)
	}
}

func TestRatchet_ForwardSecrecy(t *testing.T) {
	a, b := pair(t)
	m1 := seal(t, &a, nil, "first")
	if _, err := ratchet.Open(&b, nil, m1.h, m1.ct); err != nil {
		t.Fatalf("open: %v", err)
	}
	// A snapshot taken after the first message cannot read it again.
	snapshot := b.Clone()
	if _, err := ratchet.Open(&snapshot, nil, m1.h, m1.ct); err == nil {
		t.Fatal("later state opened an earlier message")
	}
}

func TestAdvance_DoesNotMutateInput(t *testing.T) {
	a, _ := pair(t)
	before := a.Clone()
	next, mk, err := ratchet.Advance(a)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if len(mk) != 32 {
		t.Fatalf("message key is %d bytes", len(mk))
	}
	if !bytes.Equal(a.SendChainKey, before.SendChainKey) {
		t.Fatal("Advance mutated its input")
	}
	if bytes.Equal(next.SendChainKey, a.SendChainKey) {
		t.Fatal("Advance did not move the chain")
	}
}
