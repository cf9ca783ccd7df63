// Package pairing links this device to a phone by showing a pairing
// payload and completing key agreement once the relay confirms the scan.
//
// Every call to Pair issues a fresh single-use credential. A credential is
// never reused across attempts, and nothing is persisted unless the
// connection secret verifies.
package pairing
