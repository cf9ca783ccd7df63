package transport

import "errors"

var (
	// ErrNotAuthenticated is returned by Send outside the Authenticated state.
	ErrNotAuthenticated = errors.New("connection is not authenticated")

	ErrVersionMismatch = errors.New("relay speaks another dialogue version")
	errUnexpectedNode  = errors.New("unexpected node")
	errRunning         = errors.New("connection is already running")
)
