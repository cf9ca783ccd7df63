package types

// Identity holds the long-term X25519 key pair of this device.
type Identity struct {
	XPub  X25519Public  `json:"xpub"`
	XPriv X25519Private `json:"xpriv"`
}

// IsZero reports whether the identity is unset.
func (id Identity) IsZero() bool { return id.XPub.IsZero() }
