package types

import "time"

// PairingCredential is the single-use material embedded in a pairing
// payload. It is never persisted.
type PairingCredential struct {
	Ref           string
	EphemeralPriv X25519Private
	EphemeralPub  X25519Public
	IdentityPub   X25519Public
	IssuedAt      time.Time
	ExpiresAt     time.Time
}

// PairingState is a step of the pairing handshake.
type PairingState int

const (
	PairingIdle PairingState = iota
	PairingGeneratingCredential
	PairingAwaitingScan
	PairingKeyAgreement
	PairingPaired
	PairingFailed
)

func (s PairingState) String() string {
	switch s {
	case PairingIdle:
		return "idle"
	case PairingGeneratingCredential:
		return "generating-credential"
	case PairingAwaitingScan:
		return "awaiting-scan"
	case PairingKeyAgreement:
		return "key-agreement"
	case PairingPaired:
		return "paired"
	case PairingFailed:
		return "failed"
	default:
		return "unknown"
	}
}
