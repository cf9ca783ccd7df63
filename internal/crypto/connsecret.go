package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"wabridge/internal/domain"
)

const (
	// SessionKeyLen is the size of each relay session key.
	SessionKeyLen = 32

	connSecretContext = "wabridge|conn-secret"
	challengeContext  = "wabridge|restore"

	// relay ephemeral pub | hmac | at least one cipher block
	minConnSecretLen = 32 + sha256.Size + aes.BlockSize
)

var (
	ErrBadMAC     = errors.New("hmac mismatch")
	ErrBadPadding = errors.New("bad padding")
)

// SessionKeys are the symmetric keys the relay issues at pairing time.
type SessionKeys struct {
	EncKey []byte
	MacKey []byte
}

// NewSessionKeys returns random session keys.
func NewSessionKeys() (SessionKeys, error) {
	b := make([]byte, 2*SessionKeyLen)
	if _, err := rand.Read(b); err != nil {
		return SessionKeys{}, err
	}
	return SessionKeys{EncKey: b[:SessionKeyLen], MacKey: b[SessionKeyLen:]}, nil
}

// connKeys expands the pairing shared secret into an AES key, an HMAC key
// and a CBC IV.
func connKeys(shared [32]byte) (aesKey, hmacKey, iv []byte, err error) {
	exp, err := DeriveKeys(shared[:], connSecretContext, 80)
	if err != nil {
		return nil, nil, nil, err
	}
	return exp[:32], exp[32:64], exp[64:80], nil
}

// SealConnSecret builds the secret the relay sends once the pairing payload
// has been scanned:
//
//	relayEphPub(32) | HMAC-SHA256(hmacKey, relayEphPub|ct)(32) | ct
//
// where ct is AES-256-CBC(encKey|macKey) under keys derived from
// X25519(relayEphPriv, credentialPub).
func SealConnSecret(relayEphPriv domain.X25519Private, relayEphPub, credentialPub domain.X25519Public,
	keys SessionKeys) ([]byte, error) {

	shared, err := Agree(relayEphPriv, credentialPub)
	if err != nil {
		return nil, err
	}
	aesKey, hmacKey, iv, err := connKeys(shared)
	Wipe(shared[:])
	if err != nil {
		return nil, err
	}
	defer Wipe(aesKey, hmacKey)

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, err
	}
	plain := pkcs7Pad(append(append([]byte{}, keys.EncKey...), keys.MacKey...), aes.BlockSize)
	ct := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, plain)
	Wipe(plain)

	mac := hmac.New(sha256.New, hmacKey)
	mac.Write(relayEphPub[:])
	mac.Write(ct)

	out := make([]byte, 0, 32+sha256.Size+len(ct))
	out = append(out, relayEphPub[:]...)
	out = mac.Sum(out)
	return append(out, ct...), nil
}

// OpenConnSecret verifies and decrypts a connection secret with the
// pairing credential's private key. It returns the relay's ephemeral public
// key and the session keys. Every failure is a domain.CryptoError.
func OpenConnSecret(credentialPriv domain.X25519Private, secret []byte) (domain.X25519Public, SessionKeys, error) {
	var relayPub domain.X25519Public
	fail := func(err error) (domain.X25519Public, SessionKeys, error) {
		return domain.X25519Public{}, SessionKeys{}, domain.CryptoError{Op: "open conn secret", Err: err}
	}
	if len(secret) < minConnSecretLen {
		return fail(fmt.Errorf("secret too short: %d bytes", len(secret)))
	}
	copy(relayPub[:], secret[:32])
	tag := secret[32 : 32+sha256.Size]
	ct := secret[32+sha256.Size:]
	if len(ct)%aes.BlockSize != 0 {
		return fail(fmt.Errorf("ciphertext is not a whole number of blocks"))
	}

	shared, err := Agree(credentialPriv, relayPub)
	if err != nil {
		return fail(err)
	}
	aesKey, hmacKey, iv, err := connKeys(shared)
	Wipe(shared[:])
	if err != nil {
		return fail(err)
	}
	defer Wipe(aesKey, hmacKey)

	mac := hmac.New(sha256.New, hmacKey)
	mac.Write(relayPub[:])
	mac.Write(ct)
	if !hmac.Equal(mac.Sum(nil), tag) {
		return fail(ErrBadMAC)
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return fail(err)
	}
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)
	plain, err = pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return fail(err)
	}
	if len(plain) != 2*SessionKeyLen {
		return fail(fmt.Errorf("session keys have %d bytes", len(plain)))
	}
	return relayPub, SessionKeys{
		EncKey: bytes.Clone(plain[:SessionKeyLen]),
		MacKey: bytes.Clone(plain[SessionKeyLen:]),
	}, nil
}

// ChallengeResponse answers a restore challenge with the session mac key.
func ChallengeResponse(macKey, nonce []byte) []byte {
	mac := hmac.New(sha256.New, macKey)
	mac.Write([]byte(challengeContext))
	mac.Write(nonce)
	return mac.Sum(nil)
}

// VerifyChallenge checks a restore challenge answer in constant time.
func VerifyChallenge(macKey, nonce, answer []byte) bool {
	return hmac.Equal(ChallengeResponse(macKey, nonce), answer)
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, ErrBadPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, ErrBadPadding
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, ErrBadPadding
		}
	}
	return b[:len(b)-n], nil
}
