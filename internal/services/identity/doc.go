// Package identity manages creation and loading of the local device
// identity.
//
// An identity is created only on explicit request: the init command, or the
// first pairing attempt against an empty store. A store that holds an
// unreadable record is never answered with a fresh identity.
package identity
