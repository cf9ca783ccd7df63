// Package client is the engine facade: it owns the session store, the
// pairing manager, the relay connection and the dispatcher, and exposes
// commands, a status snapshot and an ordered event stream.
//
// A Client is started once, may connect and disconnect any number of times
// and is stopped once. Every exit path closes the socket and cancels
// pending work before Stop returns.
package client
