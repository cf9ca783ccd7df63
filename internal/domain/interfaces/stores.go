package interfaces

import domaintypes "wabridge/internal/domain/types"

// SessionStore persists the single session record of this device.
//
// Load returns an error matching store.ErrNotFound when nothing has been
// saved, and a FatalSessionError when the record exists but cannot be used.
type SessionStore interface {
	Load() (domaintypes.SessionRecord, error)
	Save(rec domaintypes.SessionRecord) error
	Clear() error
}
