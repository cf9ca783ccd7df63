package pairing

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/decred/slog"

	"wabridge/internal/crypto"
	"wabridge/internal/domain"
	"wabridge/internal/metrics"
	"wabridge/internal/protocol/handshake"
	"wabridge/internal/protocol/ratchet"
	"wabridge/internal/store"
)

// DefaultScanTimeout bounds the wait for the phone to scan a payload.
const DefaultScanTimeout = 60 * time.Second

// ErrPairingClosed is returned when the confirmation source goes away
// before a scan arrives.
var ErrPairingClosed = errors.New("pairing confirmation channel closed")

// Confirmation is what the relay sends once the payload has been scanned.
type Confirmation struct {
	Secret      []byte
	Ratchet     []byte
	ServerToken string
	ClientToken string
	JID         domain.JID
}

// Config tunes a Manager.
type Config struct {
	ScanTimeout time.Duration
	Log         slog.Logger
	Stats       *metrics.Stats
}

// Observer is told about every state change. payload is set only while
// awaiting a scan.
type Observer func(state domain.PairingState, payload string)

// Manager drives the pairing state machine.
type Manager struct {
	store domain.SessionStore
	cfg   Config
	log   slog.Logger

	mu       sync.Mutex
	state    domain.PairingState
	payload  string
	lastErr  error
	observer Observer
}

// New returns a manager in the Idle state.
func New(s domain.SessionStore, cfg Config) *Manager {
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = DefaultScanTimeout
	}
	log := cfg.Log
	if log == nil {
		log = slog.Disabled
	}
	return &Manager{store: s, cfg: cfg, log: log}
}

// SetObserver installs fn as the state observer.
func (m *Manager) SetObserver(fn Observer) {
	m.mu.Lock()
	m.observer = fn
	m.mu.Unlock()
}

// State returns the current pairing state.
func (m *Manager) State() domain.PairingState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Payload returns the payload to display while awaiting a scan.
func (m *Manager) Payload() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.payload, m.state == domain.PairingAwaitingScan
}

// Err returns the error that moved the manager to Failed.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Reset returns the manager to Idle.
func (m *Manager) Reset() { m.setState(domain.PairingIdle, "", nil) }

func (m *Manager) setState(st domain.PairingState, payload string, err error) {
	m.mu.Lock()
	m.state, m.payload, m.lastErr = st, payload, err
	obs := m.observer
	m.mu.Unlock()
	if obs != nil {
		obs(st, payload)
	}
}

func (m *Manager) fail(err error) error {
	m.log.Warnf("Pairing failed: %v", err)
	m.setState(domain.PairingFailed, "", err)
	switch {
	case errors.Is(err, domain.TimeoutError{}):
		m.cfg.Stats.PairingResult("timeout")
	case errors.Is(err, domain.AuthFailure{}):
		m.cfg.Stats.PairingResult("rejected")
	default:
		m.cfg.Stats.PairingResult("error")
	}
	return err
}

// EncodePayload renders the text a phone scans.
func EncodePayload(ref string, ephemeralPub, identityPub domain.X25519Public) string {
	return strings.Join([]string{
		ref,
		base64.StdEncoding.EncodeToString(ephemeralPub[:]),
		base64.StdEncoding.EncodeToString(identityPub[:]),
	}, ",")
}

// DecodePayload parses a scanned payload.
func DecodePayload(payload string) (ref string, ephemeralPub, identityPub domain.X25519Public, err error) {
	parts := strings.Split(payload, ",")
	if len(parts) != 3 || parts[0] == "" {
		return "", ephemeralPub, identityPub, fmt.Errorf("malformed pairing payload")
	}
	eph, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", ephemeralPub, identityPub, fmt.Errorf("pairing payload ephemeral key: %w", err)
	}
	id, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", ephemeralPub, identityPub, fmt.Errorf("pairing payload identity key: %w", err)
	}
	if ephemeralPub, err = domain.X25519PublicFromBytes(eph); err != nil {
		return "", ephemeralPub, identityPub, err
	}
	if identityPub, err = domain.X25519PublicFromBytes(id); err != nil {
		return "", ephemeralPub, identityPub, err
	}
	return parts[0], ephemeralPub, identityPub, nil
}

// loadOrInit returns the stored record, creating the identity when the
// store is empty. Any other load failure is returned untouched.
func (m *Manager) loadOrInit() (domain.SessionRecord, error) {
	rec, err := m.store.Load()
	if err == nil {
		if rec.Identity.IsZero() {
			return rec, domain.FatalSessionError{Err: errors.New("record has no identity")}
		}
		return rec, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return rec, err
	}

	id, err := crypto.GenerateIdentity()
	if err != nil {
		return rec, err
	}
	clientID, err := crypto.NewClientID()
	if err != nil {
		return rec, err
	}
	m.log.Infof("Created device identity %s", crypto.Fingerprint(id.XPub))
	return domain.SessionRecord{
		Version:  domain.SessionRecordVersion,
		Identity: id,
		ClientID: clientID,
		Sessions: make(map[domain.JID]domain.PeerSession),
	}, nil
}

// Pair runs one pairing attempt with the relay reference ref. It returns
// the saved record once key agreement succeeds.
func (m *Manager) Pair(ctx context.Context, ref string, confirmations <-chan Confirmation) (domain.SessionRecord, error) {
	m.setState(domain.PairingGeneratingCredential, "", nil)

	rec, err := m.loadOrInit()
	if err != nil {
		return domain.SessionRecord{}, m.fail(err)
	}

	ephPriv, ephPub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.SessionRecord{}, m.fail(err)
	}
	now := time.Now()
	cred := domain.PairingCredential{
		Ref:           ref,
		EphemeralPriv: ephPriv,
		EphemeralPub:  ephPub,
		IdentityPub:   rec.Identity.XPub,
		IssuedAt:      now,
		ExpiresAt:     now.Add(m.cfg.ScanTimeout),
	}
	defer crypto.Wipe(cred.EphemeralPriv[:])

	payload := EncodePayload(ref, cred.EphemeralPub, cred.IdentityPub)
	m.log.Debugf("Awaiting scan of ref %s until %s", ref, cred.ExpiresAt.Format(time.RFC3339))
	m.setState(domain.PairingAwaitingScan, payload, nil)

	timer := time.NewTimer(m.cfg.ScanTimeout)
	defer timer.Stop()

	var conf Confirmation
	select {
	case <-ctx.Done():
		return domain.SessionRecord{}, m.fail(ctx.Err())
	case <-timer.C:
		return domain.SessionRecord{}, m.fail(domain.TimeoutError{Op: "pairing scan", After: m.cfg.ScanTimeout})
	case c, ok := <-confirmations:
		if !ok {
			return domain.SessionRecord{}, m.fail(domain.ConnectionLost{Err: ErrPairingClosed})
		}
		conf = c
	}

	m.setState(domain.PairingKeyAgreement, "", nil)
	rec, err = m.agree(rec, cred, conf)
	if err != nil {
		return domain.SessionRecord{}, m.fail(err)
	}
	if err := m.store.Save(rec); err != nil {
		return domain.SessionRecord{}, m.fail(err)
	}
	m.log.Infof("Paired as %s", rec.JID)
	m.cfg.Stats.PairingResult("paired")
	m.setState(domain.PairingPaired, "", nil)
	return rec, nil
}

// agree verifies the connection secret and seeds the relay session. It
// returns an AuthFailure for anything the relay got wrong.
func (m *Manager) agree(rec domain.SessionRecord, cred domain.PairingCredential, conf Confirmation) (domain.SessionRecord, error) {
	authFail := func(reason string, err error) (domain.SessionRecord, error) {
		return domain.SessionRecord{}, domain.AuthFailure{Reason: reason, Err: err}
	}
	if conf.ServerToken == "" || conf.ClientToken == "" || conf.JID == "" {
		return authFail("incomplete confirmation", nil)
	}
	relayRatchet, err := domain.X25519PublicFromBytes(conf.Ratchet)
	if err != nil {
		return authFail("relay ratchet key", err)
	}
	relayEph, keys, err := crypto.OpenConnSecret(cred.EphemeralPriv, conf.Secret)
	if err != nil {
		return authFail("connection secret", err)
	}
	root, err := handshake.ClientRoot(cred.EphemeralPriv, rec.Identity.XPriv, relayEph, keys)
	if err != nil {
		return authFail("root key", err)
	}
	sess, err := ratchet.InitAsResponder(root, rec.Identity.XPriv, relayRatchet)
	crypto.Wipe(root)
	if err != nil {
		return authFail("ratchet init", err)
	}
	sess.Peer = domain.ServerJID

	rec.JID = conf.JID
	rec.ServerToken = conf.ServerToken
	rec.ClientToken = conf.ClientToken
	rec.EncKey = keys.EncKey
	rec.MacKey = keys.MacKey
	rec.Sessions = map[domain.JID]domain.PeerSession{domain.ServerJID: sess}
	rec.PairedUTC = time.Now().UTC().Unix()
	return rec, nil
}
