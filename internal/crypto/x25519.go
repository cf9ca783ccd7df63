package crypto

import (
	"crypto/rand"
	"encoding/base64"

	"golang.org/x/crypto/curve25519"

	"wabridge/internal/domain"
)

// GenerateX25519 returns a fresh Curve25519 key pair.
// The private key is clamped per RFC 7748.
func GenerateX25519() (priv domain.X25519Private, pub domain.X25519Public, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return
	}
	clamp(&priv)
	pb, err := curve25519.X25519(priv.Slice(), curve25519.Basepoint)
	if err != nil {
		return
	}
	copy(pub[:], pb)
	return
}

// GenerateIdentity creates a new long-term device identity.
func GenerateIdentity() (domain.Identity, error) {
	priv, pub, err := GenerateX25519()
	if err != nil {
		return domain.Identity{}, err
	}
	return domain.Identity{XPub: pub, XPriv: priv}, nil
}

// NewClientID returns 16 random bytes, base64 encoded.
func NewClientID() (domain.ClientID, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return domain.ClientID(base64.StdEncoding.EncodeToString(b[:])), nil
}

// Agree computes the X25519 shared secret. Low-order peer points, which
// would yield an all-zero secret, are rejected.
func Agree(priv domain.X25519Private, pub domain.X25519Public) (out [32]byte, err error) {
	secret, err := curve25519.X25519(priv.Slice(), pub.Slice())
	if err != nil {
		return out, domain.CryptoError{Op: "agree", Err: err}
	}
	copy(out[:], secret)
	return out, nil
}

func clamp(k *domain.X25519Private) {
	kb := k[:]
	kb[0] &= 248
	kb[31] &= 127
	kb[31] |= 64
}
