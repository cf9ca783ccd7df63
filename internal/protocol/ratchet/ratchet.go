package ratchet

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"wabridge/internal/crypto"
	"wabridge/internal/domain"
)

const (
	aeadKeySize = 32
	nonceSize   = chacha20poly1305.NonceSize

	// MaxSkip bounds how far ahead of the receive counter a message may be,
	// and how many skipped keys a session stores.
	MaxSkip = 1000
)

var (
	ErrReplay             = errors.New("message counter already used")
	ErrTooFarAhead        = errors.New("message counter too far ahead")
	ErrChainUninitialised = errors.New("ratchet chain key is uninitialised")
	ErrBadHeader          = errors.New("malformed ratchet header")
)

// InitAsInitiator seeds the sending chain from root using a fresh ratchet
// key and the peer identity pub.
func InitAsInitiator(root []byte, peerIdentity domain.X25519Public) (domain.PeerSession, error) {
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.PeerSession{}, err
	}
	dh, err := crypto.Agree(priv, peerIdentity)
	if err != nil {
		return domain.PeerSession{}, err
	}
	newRK, sendCK := kdfRK(root, dh[:])
	crypto.Wipe(dh[:])

	return domain.PeerSession{
		PeerIdentity:         peerIdentity,
		RootKey:              newRK,
		DiffieHellmanPrivate: priv,
		DiffieHellmanPublic:  pub,
		// placeholder until the first remote ratchet pub arrives
		PeerDiffieHellmanPublic: peerIdentity,
		SendChainKey:            sendCK,
		SkippedKeys:             make(map[string][]byte),
		CreatedUTC:              time.Now().UTC().Unix(),
	}, nil
}

// InitAsResponder seeds the receiving chain from root using our identity
// priv and the sender's ratchet pub.
func InitAsResponder(root []byte, ourIdentity domain.X25519Private, senderRatchetPub domain.X25519Public) (domain.PeerSession, error) {
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.PeerSession{}, err
	}
	dh, err := crypto.Agree(ourIdentity, senderRatchetPub)
	if err != nil {
		return domain.PeerSession{}, err
	}
	newRK, recvCK := kdfRK(root, dh[:])
	crypto.Wipe(dh[:])

	return domain.PeerSession{
		RootKey:                 newRK,
		DiffieHellmanPrivate:    priv,
		DiffieHellmanPublic:     pub,
		PeerDiffieHellmanPublic: senderRatchetPub,
		ReceiveChainKey:         recvCK,
		SkippedKeys:             make(map[string][]byte),
		CreatedUTC:              time.Now().UTC().Unix(),
	}, nil
}

// Advance returns the session with its sending chain moved one step forward
// and the message key for the current send index. The input is not
// modified. On the first send after responding it performs a DH ratchet
// step.
func Advance(st domain.PeerSession) (domain.PeerSession, []byte, error) {
	next := st.Clone()
	if len(next.SendChainKey) == 0 {
		next.PreviousChainLength = next.SendMessageIndex
		next.SendMessageIndex = 0

		priv, pub, err := crypto.GenerateX25519()
		if err != nil {
			return st, nil, err
		}
		dh, err := crypto.Agree(priv, next.PeerDiffieHellmanPublic)
		if err != nil {
			return st, nil, err
		}
		rk, sendCK := kdfRK(next.RootKey, dh[:])
		crypto.Wipe(dh[:])

		next.RootKey = rk
		next.DiffieHellmanPrivate, next.DiffieHellmanPublic = priv, pub
		next.SendChainKey = sendCK
	}
	nextCK, mk := kdfCK(next.SendChainKey)
	next.SendChainKey = nextCK
	return next, mk, nil
}

// Seal encrypts plaintext for the peer, authenticating ad and the header.
func Seal(st *domain.PeerSession, ad, plaintext []byte) (domain.RatchetHeader, []byte, error) {
	next, mk, err := Advance(*st)
	if err != nil {
		return domain.RatchetHeader{}, nil, domain.CryptoError{Op: "seal", Err: err}
	}
	h := domain.RatchetHeader{
		DiffieHellmanPublicKey: next.DiffieHellmanPublic.Slice(),
		PreviousChainLength:    next.PreviousChainLength,
		MessageIndex:           next.SendMessageIndex,
	}
	ct, err := seal(mk, h, ad, plaintext)
	crypto.Wipe(mk)
	if err != nil {
		return domain.RatchetHeader{}, nil, domain.CryptoError{Op: "seal", Err: err}
	}
	next.SendMessageIndex++
	*st = next
	return h, ct, nil
}

// Open authenticates and decrypts a message. st is updated only when the
// message opens; every failure is a domain.CryptoError.
func Open(st *domain.PeerSession, ad []byte, header domain.RatchetHeader, ciphertext []byte) ([]byte, error) {
	if len(header.DiffieHellmanPublicKey) != 32 {
		return nil, domain.CryptoError{Op: "open", Err: ErrBadHeader}
	}
	work := st.Clone()
	pt, err := open(&work, ad, header, ciphertext)
	if err != nil {
		return nil, domain.CryptoError{Op: "open", Err: err}
	}
	*st = work
	return pt, nil
}

func open(st *domain.PeerSession, ad []byte, header domain.RatchetHeader, ciphertext []byte) ([]byte, error) {
	n := header.MessageIndex

	keyID := skippedKeyID(header.DiffieHellmanPublicKey, n)
	if mk, ok := st.SkippedKeys[keyID]; ok {
		pt, err := openWith(mk, header, ad, ciphertext)
		if err != nil {
			return nil, err
		}
		delete(st.SkippedKeys, keyID)
		crypto.Wipe(mk)
		return pt, nil
	}

	if equal32(st.PeerDiffieHellmanPublic[:], header.DiffieHellmanPublicKey) && len(st.ReceiveChainKey) > 0 {
		if n < st.ReceiveMessageIndex {
			return nil, fmt.Errorf("%w: %d < %d", ErrReplay, n, st.ReceiveMessageIndex)
		}
	} else {
		// New DH pub: close the current receiving chain, then step.
		if len(st.ReceiveChainKey) > 0 {
			if err := skipUntil(st, header.PreviousChainLength); err != nil {
				return nil, err
			}
		}
		if err := dhStep(st, header.DiffieHellmanPublicKey); err != nil {
			return nil, err
		}
	}

	if err := skipUntil(st, n); err != nil {
		return nil, err
	}
	nextCK, mk := kdfCK(st.ReceiveChainKey)
	st.ReceiveChainKey = nextCK
	pt, err := openWith(mk, header, ad, ciphertext)
	crypto.Wipe(mk)
	if err != nil {
		return nil, err
	}
	st.ReceiveMessageIndex = n + 1
	return pt, nil
}

func dhStep(st *domain.PeerSession, peerPub []byte) error {
	newPeer, err := domain.X25519PublicFromBytes(peerPub)
	if err != nil {
		return err
	}
	dh, err := crypto.Agree(st.DiffieHellmanPrivate, newPeer)
	if err != nil {
		return err
	}
	rk2, recvCK := kdfRK(st.RootKey, dh[:])
	crypto.Wipe(dh[:])

	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return err
	}
	dh2, err := crypto.Agree(priv, newPeer)
	if err != nil {
		return err
	}
	rk3, sendCK := kdfRK(rk2, dh2[:])
	crypto.Wipe(dh2[:])

	st.PreviousChainLength = st.SendMessageIndex
	st.SendMessageIndex, st.ReceiveMessageIndex = 0, 0
	st.RootKey = rk3
	st.DiffieHellmanPrivate, st.DiffieHellmanPublic = priv, pub
	st.PeerDiffieHellmanPublic = newPeer
	st.SendChainKey, st.ReceiveChainKey = sendCK, recvCK
	return nil
}

// --- helpers ---

func seal(mk []byte, header domain.RatchetHeader, ad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(mk[:aeadKeySize])
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce(header), plaintext, associated(ad, header)), nil
}

func openWith(mk []byte, header domain.RatchetHeader, ad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(mk[:aeadKeySize])
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce(header), ciphertext, associated(ad, header))
}

func nonce(h domain.RatchetHeader) []byte {
	out := make([]byte, nonceSize)
	binary.BigEndian.PutUint32(out[nonceSize-4:], h.MessageIndex)
	return out
}

func associated(ad []byte, h domain.RatchetHeader) []byte {
	out := make([]byte, 0, len(ad)+len(h.DiffieHellmanPublicKey)+8)
	out = append(out, ad...)
	out = append(out, h.DiffieHellmanPublicKey...)
	out = binary.BigEndian.AppendUint32(out, h.PreviousChainLength)
	return binary.BigEndian.AppendUint32(out, h.MessageIndex)
}

// HKDF-based KDFs with labels.
func kdfRK(rk, dh []byte) (newRK, ck []byte) {
	r := hkdf.New(sha256.New, dh, rk, []byte("DR|rk"))
	newRK = make([]byte, 32)
	ck = make([]byte, 32)
	_, _ = io.ReadFull(r, newRK)
	_, _ = io.ReadFull(r, ck)
	return
}

func kdfCK(ck []byte) (nextCK, mk []byte) {
	r := hkdf.New(sha256.New, ck, nil, []byte("DR|ck"))
	nextCK = make([]byte, 32)
	mk = make([]byte, 32)
	_, _ = io.ReadFull(r, nextCK)
	_, _ = io.ReadFull(r, mk)
	return
}

// skippedKeyID names a skipped message key. It must stay valid UTF-8 so
// the id survives the JSON session record.
func skippedKeyID(peer []byte, n uint32) string {
	return hex.EncodeToString(peer) + ":" + strconv.FormatUint(uint64(n), 10)
}

// skipUntil derives and stores receive keys up to (not including) until.
func skipUntil(st *domain.PeerSession, until uint32) error {
	if until <= st.ReceiveMessageIndex {
		return nil
	}
	if len(st.ReceiveChainKey) == 0 {
		return ErrChainUninitialised
	}
	if until-st.ReceiveMessageIndex > MaxSkip {
		return fmt.Errorf("%w: %d skipped", ErrTooFarAhead, until-st.ReceiveMessageIndex)
	}
	if st.SkippedKeys == nil {
		st.SkippedKeys = make(map[string][]byte)
	}
	for st.ReceiveMessageIndex < until {
		nextCK, mk := kdfCK(st.ReceiveChainKey)
		st.ReceiveChainKey = nextCK
		if len(st.SkippedKeys) >= MaxSkip {
			for k := range st.SkippedKeys {
				delete(st.SkippedKeys, k)
				break
			}
		}
		st.SkippedKeys[skippedKeyID(st.PeerDiffieHellmanPublic[:], st.ReceiveMessageIndex)] = mk
		st.ReceiveMessageIndex++
	}
	return nil
}

func equal32(a, b []byte) bool {
	if len(a) != 32 || len(b) != 32 {
		return false
	}
	var v byte
	for i := 0; i < 32; i++ {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
