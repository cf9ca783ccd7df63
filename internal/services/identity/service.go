package identity

import (
	"errors"
	"fmt"
	"unicode"

	"wabridge/internal/crypto"
	"wabridge/internal/domain"
	"wabridge/internal/store"
)

const (
	// minPassphraseLength defines the minimum number of characters required for a passphrase.
	minPassphraseLength = 12
)

var (
	// ErrWeakPassphrase is returned when the passphrase fails the strength policy.
	ErrWeakPassphrase = fmt.Errorf(
		"passphrase is too weak (must be at least %d characters and include upper, lower, "+
			"number, and symbol)",
		minPassphraseLength,
	)

	// ErrIdentityExists is returned by GenerateIdentity when the store already
	// holds an identity.
	ErrIdentityExists = errors.New("identity already exists; clear the session first")
)

// Service manages identity key creation and access using a backing store.
type Service struct {
	store domain.SessionStore
}

// New returns an identity service backed by the given store.
func New(s domain.SessionStore) *Service { return &Service{store: s} }

// GenerateIdentity creates a new identity, saves it in an unpaired record,
// and returns the identity plus a short fingerprint of its public key.
func (s *Service) GenerateIdentity() (domain.Identity, domain.Fingerprint, error) {
	_, err := s.store.Load()
	switch {
	case err == nil:
		return domain.Identity{}, "", ErrIdentityExists
	case !errors.Is(err, store.ErrNotFound):
		return domain.Identity{}, "", err
	}

	id, err := crypto.GenerateIdentity()
	if err != nil {
		return domain.Identity{}, "", err
	}
	clientID, err := crypto.NewClientID()
	if err != nil {
		return domain.Identity{}, "", err
	}
	rec := domain.SessionRecord{
		Version:  domain.SessionRecordVersion,
		Identity: id,
		ClientID: clientID,
		Sessions: make(map[domain.JID]domain.PeerSession),
	}
	if err := s.store.Save(rec); err != nil {
		return domain.Identity{}, "", err
	}
	return id, crypto.Fingerprint(id.XPub), nil
}

// LoadIdentity returns the stored identity.
func (s *Service) LoadIdentity() (domain.Identity, error) {
	rec, err := s.store.Load()
	if err != nil {
		return domain.Identity{}, err
	}
	if rec.Identity.IsZero() {
		return domain.Identity{}, domain.FatalSessionError{Err: errors.New("record has no identity")}
	}
	return rec.Identity, nil
}

// FingerprintIdentity returns a short fingerprint of the local public key.
func (s *Service) FingerprintIdentity() (domain.Fingerprint, error) {
	id, err := s.LoadIdentity()
	if err != nil {
		return "", err
	}
	return crypto.Fingerprint(id.XPub), nil
}

// CheckPassphrase enforces the strength policy for record sealing.
func CheckPassphrase(passphrase string) error {
	if !isSecurePassphrase(passphrase) {
		return ErrWeakPassphrase
	}
	return nil
}

// isSecurePassphrase enforces a basic strength policy.
func isSecurePassphrase(passphrase string) bool {
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	if len(passphrase) < minPassphraseLength {
		return false
	}
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSymbol
}

// Compile-time assertion that Service implements domain.IdentityService.
var _ domain.IdentityService = (*Service)(nil)
