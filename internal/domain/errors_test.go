package domain_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"wabridge/internal/domain"
)

func TestErrors_IsAndUnwrap(t *testing.T) {
	inner := errors.New("boom")
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"decode", domain.DecodeError{Err: inner}, domain.DecodeError{}},
		{"crypto", domain.CryptoError{Op: "open", Err: inner}, domain.CryptoError{}},
		{"auth", domain.AuthFailure{Reason: "rejected", Err: inner}, domain.AuthFailure{}},
		{"lost", domain.ConnectionLost{Err: inner}, domain.ConnectionLost{}},
		{"fatal", domain.FatalSessionError{Err: inner}, domain.FatalSessionError{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := fmt.Errorf("ctx: %w", tc.err)
			if !errors.Is(wrapped, tc.target) {
				t.Fatalf("errors.Is(%v, %T) = false", wrapped, tc.target)
			}
			if !errors.Is(wrapped, inner) {
				t.Fatalf("inner error not reachable from %v", wrapped)
			}
		})
	}
}

func TestErrors_DistinctKinds(t *testing.T) {
	err := fmt.Errorf("x: %w", domain.TimeoutError{Op: "pairing scan", After: time.Second})
	if !errors.Is(err, domain.TimeoutError{}) {
		t.Fatal("want TimeoutError")
	}
	if errors.Is(err, domain.AuthFailure{}) {
		t.Fatal("TimeoutError must not match AuthFailure")
	}
	fatal := domain.FatalSessionError{Err: domain.ConnectionLost{Err: errors.New("eof")}}
	if !errors.Is(fatal, domain.ConnectionLost{}) {
		t.Fatal("fatal error should expose the wrapped ConnectionLost")
	}
}
