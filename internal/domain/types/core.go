package types

// ClientID identifies this device towards the relay. It is 16 random bytes,
// base64 encoded.
type ClientID string

// String returns the string form of the client id.
func (id ClientID) String() string { return string(id) }

// JID addresses a chat peer or a paired device on the relay.
type JID string

// String returns the string form of the jid.
func (j JID) String() string { return string(j) }

// MessageID uniquely identifies an application message end to end.
type MessageID string

// String returns the string form of the message id.
func (id MessageID) String() string { return string(id) }

// Fingerprint is a short identifier for public keys presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }

// ServerJID keys the ratchet session shared with the relay itself. Chat
// traffic to every peer travels inside it.
const ServerJID JID = "s.relay"
