// Package transport owns the relay connection: dialing, protocol version
// negotiation, the pairing or restore handshake, the sealed channel used
// once authenticated, keepalives and reconnecting with backoff.
//
// A Conn runs one logical connection at a time. Each successful
// authentication starts a new epoch; the Handler is told about every state
// change so upper layers can resend unacknowledged traffic.
//
// Once authenticated every node travels inside an enc node whose content is
// the ratchet ciphertext of the encoded inner node. Ratchet state is saved
// before a sealed frame is written and after an inbound frame opens, so a
// crash never reuses a message key.
package transport
