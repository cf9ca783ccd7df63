package interfaces

import domaintypes "wabridge/internal/domain/types"

// IdentityService creates and inspects the long-term device identity.
type IdentityService interface {
	// GenerateIdentity performs the explicit first-run initialization. It
	// fails if an identity already exists.
	GenerateIdentity() (domaintypes.Identity, domaintypes.Fingerprint, error)
	LoadIdentity() (domaintypes.Identity, error)
	FingerprintIdentity() (domaintypes.Fingerprint, error)
}
