package domain

import (
	interfaces "wabridge/internal/domain/interfaces"
	types "wabridge/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	ClientID          = types.ClientID
	JID               = types.JID
	MessageID         = types.MessageID
	Fingerprint       = types.Fingerprint
	Identity          = types.Identity
	X25519Public      = types.X25519Public
	X25519Private     = types.X25519Private
	RatchetHeader     = types.RatchetHeader
	PeerSession       = types.PeerSession
	PairingCredential = types.PairingCredential
	PairingState      = types.PairingState
	ConnectionState   = types.ConnectionState
	OutboundEntry     = types.OutboundEntry
	InboundMessage    = types.InboundMessage
	DeliveryStatus    = types.DeliveryStatus
	SessionRecord     = types.SessionRecord
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	SessionStore    = interfaces.SessionStore
	IdentityService = interfaces.IdentityService
)

const (
	StateDisconnected    = types.StateDisconnected
	StateConnecting      = types.StateConnecting
	StateAwaitingPairing = types.StateAwaitingPairing
	StateAuthenticated   = types.StateAuthenticated
	StateClosing         = types.StateClosing

	PairingIdle                 = types.PairingIdle
	PairingGeneratingCredential = types.PairingGeneratingCredential
	PairingAwaitingScan         = types.PairingAwaitingScan
	PairingKeyAgreement         = types.PairingKeyAgreement
	PairingPaired               = types.PairingPaired
	PairingFailed               = types.PairingFailed

	DeliveryAcked  = types.DeliveryAcked
	DeliveryFailed = types.DeliveryFailed

	SessionRecordVersion = types.SessionRecordVersion

	ServerJID = types.ServerJID
)

// X25519PublicFromBytes copies a 32 byte slice into a public key.
func X25519PublicFromBytes(b []byte) (X25519Public, error) {
	return types.X25519PublicFromBytes(b)
}
