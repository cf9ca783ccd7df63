// Package ratchet implements a forward-only double ratchet over
// domain.PeerSession.
//
// The state keeps a root key and two message chains (send and receive).
// Each message advances a KDF chain so that keys are forward secure. When a
// party changes its DH ratchet public key, both sides derive new chain keys
// from a new root derived via DH.
//
// Open never mutates the caller's session unless the message authenticates,
// so a forged or replayed frame leaves the state untouched.
//
// Concurrency: a PeerSession is NOT safe for concurrent use. Callers must
// serialise access per peer.
package ratchet
