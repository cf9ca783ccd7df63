package store

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const sealedFormat = 1

var errWrongPassphrase = errors.New("wrong passphrase or corrupted session record")

// derivations counts scrypt runs.
var derivations atomic.Int64

// kdfParams are the scrypt costs a sealed record was written with.
type kdfParams struct {
	N int `json:"n"`
	R int `json:"r"`
	P int `json:"p"`
}

func defaultKDF() kdfParams { return kdfParams{N: 1 << 15, R: 8, P: 1} }

func (p kdfParams) key(passphrase string, salt []byte) ([]byte, error) {
	derivations.Add(1)
	return scrypt.Key([]byte(passphrase), salt, p.N, p.R, p.P, chacha20poly1305.KeySize)
}

// blob is a passphrase sealed record. The AEAD binds the salt and the
// record checksum so a blob cannot be paired with another envelope's sum.
type blob struct {
	Format int       `json:"format"`
	Salt   []byte    `json:"salt"`
	KDF    kdfParams `json:"kdf"`
	Nonce  []byte    `json:"nonce"`
	Cipher []byte    `json:"cipher"`
}

func blobAD(salt, sum []byte) []byte {
	ad := make([]byte, 0, len(salt)+len(sum))
	return append(append(ad, salt...), sum...)
}

// sealer holds the key derived for one salt. The store keeps it for its
// lifetime so only the first seal or unseal pays for scrypt.
type sealer struct {
	passphrase string
	params     kdfParams
	salt       []byte
	key        []byte
}

// keyFor returns the key for salt and params, deriving it when they differ
// from the cached ones.
func (sl *sealer) keyFor(salt []byte, params kdfParams) ([]byte, error) {
	if sl.key != nil && params == sl.params && bytes.Equal(salt, sl.salt) {
		return sl.key, nil
	}
	key, err := params.key(sl.passphrase, salt)
	if err != nil {
		return nil, err
	}
	sl.salt, sl.params, sl.key = bytes.Clone(salt), params, key
	return key, nil
}

// seal encrypts raw with a random nonce under the cached key. A salt is
// drawn on first use.
func (sl *sealer) seal(raw, sum []byte, params kdfParams) (*blob, error) {
	salt := sl.salt
	if sl.key == nil || params != sl.params {
		salt = make([]byte, 16)
		if _, err := rand.Read(salt); err != nil {
			return nil, err
		}
	}
	key, err := sl.keyFor(salt, params)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return &blob{
		Format: sealedFormat,
		Salt:   bytes.Clone(salt),
		KDF:    params,
		Nonce:  nonce,
		Cipher: aead.Seal(nil, nonce, raw, blobAD(salt, sum)),
	}, nil
}

// unseal opens bl, checking it was sealed alongside sum.
func (sl *sealer) unseal(bl *blob, sum []byte) ([]byte, error) {
	if bl.Format != sealedFormat {
		return nil, fmt.Errorf("unsupported sealed record format %d", bl.Format)
	}
	if len(bl.Nonce) != chacha20poly1305.NonceSize {
		return nil, fmt.Errorf("sealed record nonce has %d bytes", len(bl.Nonce))
	}
	key, err := sl.keyFor(bl.Salt, bl.KDF)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, bl.Nonce, bl.Cipher, blobAD(bl.Salt, sum))
	if err != nil {
		return nil, errWrongPassphrase
	}
	return pt, nil
}
