package handshake

import (
	"wabridge/internal/crypto"
	"wabridge/internal/domain"
)

const (
	rootInfo = "wabridge|root"
	rootLen  = 32
)

// ClientRoot derives the root key on the client side.
func ClientRoot(
	credentialPriv domain.X25519Private,
	identityPriv domain.X25519Private,
	relayEphPub domain.X25519Public,
	keys crypto.SessionKeys,
) ([]byte, error) {
	dh1, err := crypto.Agree(credentialPriv, relayEphPub) // DH(credential, relayEph)
	if err != nil {
		return nil, err
	}
	dh2, err := crypto.Agree(identityPriv, relayEphPub) // DH(identity, relayEph)
	if err != nil {
		return nil, err
	}
	return root(dh1, dh2, keys)
}

// RelayRoot derives the root key on the relay side.
func RelayRoot(
	relayEphPriv domain.X25519Private,
	credentialPub domain.X25519Public,
	identityPub domain.X25519Public,
	keys crypto.SessionKeys,
) ([]byte, error) {
	dh1, err := crypto.Agree(relayEphPriv, credentialPub)
	if err != nil {
		return nil, err
	}
	dh2, err := crypto.Agree(relayEphPriv, identityPub)
	if err != nil {
		return nil, err
	}
	return root(dh1, dh2, keys)
}

func root(dh1, dh2 [32]byte, keys crypto.SessionKeys) ([]byte, error) {
	transcript := make([]byte, 0, 32*2+len(keys.EncKey)+len(keys.MacKey))
	transcript = append(transcript, dh1[:]...)
	transcript = append(transcript, dh2[:]...)
	transcript = append(transcript, keys.EncKey...)
	transcript = append(transcript, keys.MacKey...)

	rk, err := crypto.DeriveKeys(transcript, rootInfo, rootLen)
	crypto.Wipe(transcript, dh1[:], dh2[:])
	if err != nil {
		return nil, domain.CryptoError{Op: "root key", Err: err}
	}
	return rk, nil
}
