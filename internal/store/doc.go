// Package store provides file-based persistence for the device's session
// record.
//
// A FileStore owns one directory. It holds an exclusive lock file for as
// long as it is open, so a second process pointed at the same directory
// waits (or gives up when its context ends) instead of racing on the
// record. The record is written as a JSON envelope carrying a BLAKE3
// checksum, optionally sealed with a passphrase-derived key, and replaced
// atomically: temp file, fsync, rename, directory fsync.
//
// Load distinguishes "nothing saved" (ErrNotFound) from "saved but
// unusable" (domain.FatalSessionError). Callers must never answer the
// second by generating a fresh identity.
package store
