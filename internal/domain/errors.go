package domain

import (
	"fmt"
	"time"
)

// DecodeError is returned when bytes cannot be decoded into a node. Frame is
// the full length of the offending frame when it is known (so a stream reader
// can drop it), or zero when more bytes are needed.
type DecodeError struct {
	Offset int
	Frame  int
	Err    error
}

func (err DecodeError) Error() string {
	return fmt.Sprintf("decode error at offset %d: %v", err.Offset, err.Err)
}

func (err DecodeError) Unwrap() error {
	return err.Err
}

func (err DecodeError) Is(target error) bool {
	_, ok := target.(DecodeError)
	return ok
}

// CryptoError is returned when authentication fails or a ratchet counter does
// not match. The affected frame is dropped; the session survives.
type CryptoError struct {
	Op  string
	Err error
}

func (err CryptoError) Error() string {
	if err.Op == "" {
		return fmt.Sprintf("crypto error: %v", err.Err)
	}
	return fmt.Sprintf("crypto error during %s: %v", err.Op, err.Err)
}

func (err CryptoError) Unwrap() error {
	return err.Err
}

func (err CryptoError) Is(target error) bool {
	_, ok := target.(CryptoError)
	return ok
}

// AuthFailure is returned when the relay rejects pairing or session restore.
type AuthFailure struct {
	Reason string
	Err    error
}

func (err AuthFailure) Error() string {
	if err.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", err.Reason, err.Err)
	}
	return fmt.Sprintf("authentication failed: %s", err.Reason)
}

func (err AuthFailure) Unwrap() error {
	return err.Err
}

func (err AuthFailure) Is(target error) bool {
	_, ok := target.(AuthFailure)
	return ok
}

// ConnectionLost is returned when the socket closes or stops responding.
type ConnectionLost struct {
	Err error
}

func (err ConnectionLost) Error() string {
	return fmt.Sprintf("connection lost: %v", err.Err)
}

func (err ConnectionLost) Unwrap() error {
	return err.Err
}

func (err ConnectionLost) Is(target error) bool {
	_, ok := target.(ConnectionLost)
	return ok
}

// TimeoutError is returned when a bounded wait (pairing scan, keepalive)
// elapses.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (err TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", err.Op, err.After)
}

func (err TimeoutError) Is(target error) bool {
	_, ok := target.(TimeoutError)
	return ok
}

// FatalSessionError requires operator action (usually clearing the session):
// the persisted record is unusable or the reconnect ceiling was hit.
type FatalSessionError struct {
	Err error
}

func (err FatalSessionError) Error() string {
	return fmt.Sprintf("fatal session error: %v", err.Err)
}

func (err FatalSessionError) Unwrap() error {
	return err.Err
}

func (err FatalSessionError) Is(target error) bool {
	_, ok := target.(FatalSessionError)
	return ok
}
