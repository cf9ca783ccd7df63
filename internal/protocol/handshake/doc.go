// Package handshake derives the root key that seeds a paired session's
// double ratchet.
//
// # Overview
//
// Pairing leaves both sides with the same material:
//   - the client's pairing credential (ephemeral X25519)
//   - the client's long-term identity key (X25519)
//   - the relay's ephemeral key, carried in the connection secret
//   - the relay-issued session keys (encKey, macKey)
//
// # Flows
//
// Client:
//  1. Open the connection secret with the credential private key.
//  2. Compute DH(credential, relayEph) and DH(identity, relayEph).
//  3. HKDF over DH1 | DH2 | encKey | macKey to the root key.
//
// Relay:
//  1. Generate an ephemeral key and seal the session keys for the credential.
//  2. Compute the same DH pair from its side.
//  3. HKDF the same transcript to the identical root key.
//
// The relay then acts as ratchet initiator against the client identity and
// the client as responder.
package handshake
