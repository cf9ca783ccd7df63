package handshake_test

import (
	"bytes"
	"testing"

	"wabridge/internal/crypto"
	"wabridge/internal/protocol/handshake"
	"wabridge/internal/protocol/ratchet"
)

func TestClientAndRelayRoot_Match(t *testing.T) {
	id, err := crypto.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	credPriv, credPub, _ := crypto.GenerateX25519()
	relayPriv, relayPub, _ := crypto.GenerateX25519()
	keys, _ := crypto.NewSessionKeys()

	clientRK, err := handshake.ClientRoot(credPriv, id.XPriv, relayPub, keys)
	if err != nil {
		t.Fatalf("ClientRoot: %v", err)
	}
	relayRK, err := handshake.RelayRoot(relayPriv, credPub, id.XPub, keys)
	if err != nil {
		t.Fatalf("RelayRoot: %v", err)
	}
	if !bytes.Equal(clientRK, relayRK) {
		t.Fatal("root keys differ")
	}

	// A different identity yields a different root.
	other, _ := crypto.GenerateIdentity()
	otherRK, _ := handshake.RelayRoot(relayPriv, credPub, other.XPub, keys)
	if bytes.Equal(otherRK, clientRK) {
		t.Fatal("root key did not bind the identity")
	}
}

func TestRoot_SeedsWorkingRatchet(t *testing.T) {
	id, _ := crypto.GenerateIdentity()
	credPriv, credPub, _ := crypto.GenerateX25519()
	relayPriv, relayPub, _ := crypto.GenerateX25519()
	keys, _ := crypto.NewSessionKeys()

	relayRK, err := handshake.RelayRoot(relayPriv, credPub, id.XPub, keys)
	if err != nil {
		t.Fatalf("RelayRoot: %v", err)
	}
	relaySess, err := ratchet.InitAsInitiator(relayRK, id.XPub)
	if err != nil {
		t.Fatalf("InitAsInitiator: %v", err)
	}
	clientRK, _ := handshake.ClientRoot(credPriv, id.XPriv, relayPub, keys)
	clientSess, err := ratchet.InitAsResponder(clientRK, id.XPriv, relaySess.DiffieHellmanPublic)
	if err != nil {
		t.Fatalf("InitAsResponder: %v", err)
	}

	h, ct, err := ratchet.Seal(&clientSess, nil, []byte("from client"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	pt, err := ratchet.Open(&relaySess, nil, h, ct)
	if err != nil || string(pt) != "from client" {
		t.Fatalf("Open: %q %v", pt, err)
	}
}
