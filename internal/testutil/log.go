// Package testutil holds helpers shared by package tests.
package testutil

import (
	"sync"
	"testing"

	"github.com/decred/slog"
)

// testLogBackend forwards log lines to t.Log until the test ends.
type testLogBackend struct {
	mtx  sync.Mutex
	tb   testing.TB
	done bool
}

func (tlb *testLogBackend) Write(b []byte) (int, error) {
	tlb.mtx.Lock()
	if !tlb.done && len(b) > 0 {
		tlb.tb.Log(string(b[:len(b)-1]))
	}
	tlb.mtx.Unlock()
	return len(b), nil
}

// TestLoggerSys returns an slog.Logger that logs by issuing t.Log calls.
func TestLoggerSys(t testing.TB, sys string) slog.Logger {
	tlb := &testLogBackend{tb: t}
	t.Cleanup(func() {
		tlb.mtx.Lock()
		tlb.done = true
		tlb.mtx.Unlock()
	})
	logg := slog.NewBackend(tlb).Logger(sys)
	logg.SetLevel(slog.LevelTrace)
	return logg
}
