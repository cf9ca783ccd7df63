package relay

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"wabridge/internal/crypto"
	"wabridge/internal/domain"
	"wabridge/internal/protocol/channel"
	"wabridge/internal/protocol/handshake"
	"wabridge/internal/protocol/ratchet"
	"wabridge/internal/protocol/wire"
	"wabridge/internal/services/pairing"
)

func newJID() (domain.JID, error) {
	var b [5]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return domain.JID(hex.EncodeToString(b[:]) + "@relay"), nil
}

// Scan plays the phone: it completes pairing for the device that showed
// payload and registers it at jid (generated when empty).
func (s *Server) Scan(payload string, jid domain.JID) (domain.JID, error) {
	ref, credPub, identityPub, err := pairing.DecodePayload(payload)
	if err != nil {
		return "", err
	}

	s.pairMtx.Lock()
	defer s.pairMtx.Unlock()

	if jid == "" {
		if jid, err = newJID(); err != nil {
			return "", err
		}
	}
	if _, taken := s.byJID.Load(jid); taken {
		return "", fmt.Errorf("%w: %s", ErrJIDTaken, jid)
	}
	p, ok := s.refs.LoadAndDelete(ref)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownRef, ref)
	}

	ephPriv, ephPub, err := crypto.GenerateX25519()
	if err != nil {
		return "", err
	}
	defer crypto.Wipe(ephPriv[:])
	keys, err := crypto.NewSessionKeys()
	if err != nil {
		return "", err
	}
	secret, err := crypto.SealConnSecret(ephPriv, ephPub, credPub, keys)
	if err != nil {
		return "", err
	}
	root, err := handshake.RelayRoot(ephPriv, credPub, identityPub, keys)
	if err != nil {
		return "", err
	}
	sess, err := ratchet.InitAsInitiator(root, identityPub)
	crypto.Wipe(root)
	if err != nil {
		return "", err
	}
	sess.Peer = jid

	dev := &device{
		log:         s.log,
		jid:         jid,
		identity:    identityPub,
		serverToken: randomToken(24),
		clientToken: randomToken(24),
		macKey:      keys.MacKey,
		pairedAt:    time.Now(),
		ad:          channel.AssociatedData(jid),
		window:      s.cfg.DedupWindow,
		sess:        sess,
		seen:        orderedmap.New[domain.MessageID, struct{}](),
	}
	s.devices.Store(dev.serverToken, dev)
	s.byJID.Store(jid, dev)

	p.result <- pairResult{dev: dev, node: wire.New(channel.TagConn, wire.Attrs{
		"secret":       wire.Binary(secret),
		"ratchet":      wire.Binary(sess.DiffieHellmanPublic[:]),
		"server_token": wire.Text(dev.serverToken),
		"client_token": wire.Text(dev.clientToken),
		"jid":          wire.Text(string(jid)),
	})}
	s.log.Infof("Paired %s via ref %s", jid, ref)
	return jid, nil
}
