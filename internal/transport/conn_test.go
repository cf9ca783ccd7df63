package transport_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"wabridge/internal/domain"
	"wabridge/internal/logging"
	"wabridge/internal/protocol/channel"
	"wabridge/internal/protocol/wire"
	"wabridge/internal/store"
	"wabridge/internal/testutil"
	"wabridge/internal/transport"
)

type recorder struct {
	mu     sync.Mutex
	states []domain.ConnectionState
	nodes  []wire.Node
	errs   []error
}

func (r *recorder) StateChanged(st domain.ConnectionState, _ uint64) {
	r.mu.Lock()
	r.states = append(r.states, st)
	r.mu.Unlock()
}

func (r *recorder) HandleNode(n wire.Node) {
	r.mu.Lock()
	r.nodes = append(r.nodes, n)
	r.mu.Unlock()
}

func (r *recorder) Error(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recorder) seen() []domain.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ConnectionState(nil), r.states...)
}

type failingDialer struct {
	mu    sync.Mutex
	calls int
}

func (d *failingDialer) Dial(context.Context, string) (transport.Socket, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	return nil, errors.New("connection refused")
}

// scriptSocket replays canned relay frames and records what is written.
type scriptSocket struct {
	mu      sync.Mutex
	replies [][]byte
	written []wire.Node
	closed  chan struct{}
	once    sync.Once
}

func newScriptSocket(t *testing.T, replies ...wire.Node) *scriptSocket {
	s := &scriptSocket{closed: make(chan struct{})}
	for _, n := range replies {
		b, err := wire.Encode(n)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		s.replies = append(s.replies, b)
	}
	return s
}

func (s *scriptSocket) ReadMessage() ([]byte, error) {
	s.mu.Lock()
	if len(s.replies) > 0 {
		b := s.replies[0]
		s.replies = s.replies[1:]
		s.mu.Unlock()
		return b, nil
	}
	s.mu.Unlock()
	<-s.closed
	return nil, errors.New("closed")
}

func (s *scriptSocket) WriteMessage(b []byte) error {
	n, _, err := wire.Decode(b)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.written = append(s.written, n)
	s.mu.Unlock()
	return nil
}

func (s *scriptSocket) SetReadDeadline(time.Time) error  { return nil }
func (s *scriptSocket) SetWriteDeadline(time.Time) error { return nil }

func (s *scriptSocket) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type socketDialer struct{ sock transport.Socket }

func (d socketDialer) Dial(context.Context, string) (transport.Socket, error) {
	return d.sock, nil
}

func openStore(t *testing.T) *store.FileStore {
	t.Helper()
	st, err := store.Open(context.Background(), t.TempDir(), store.Options{})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func fastBackoff(retries int) transport.Backoff {
	return transport.Backoff{
		Initial:    time.Millisecond,
		Max:        5 * time.Millisecond,
		Multiplier: 2,
		MaxRetries: retries,
	}
}

func TestRun_GivesUpAfterMaxRetries(t *testing.T) {
	d := &failingDialer{}
	rec := &recorder{}
	c := transport.New(transport.Config{
		URL:     "ws://relay.invalid",
		Dialer:  d,
		Backoff: fastBackoff(3),
		Log:     testutil.TestLoggerSys(t, logging.SubsysTransport),
	}, openStore(t), nil, rec)

	err := c.Run(context.Background())
	if !errors.Is(err, domain.FatalSessionError{}) || !errors.Is(err, domain.ConnectionLost{}) {
		t.Fatalf("want fatal connection loss, got %v", err)
	}
	if d.calls != 4 {
		t.Fatalf("dialed %d times, want 4", d.calls)
	}
	if st := c.State(); st != domain.StateDisconnected {
		t.Fatalf("final state %s", st)
	}
}

func TestRun_CancelDuringBackoffReturnsNil(t *testing.T) {
	b := fastBackoff(100)
	b.Initial, b.Max = time.Hour, time.Hour
	rec := &recorder{}
	c := transport.New(transport.Config{
		URL:     "ws://relay.invalid",
		Dialer:  &failingDialer{},
		Backoff: b,
	}, openStore(t), nil, rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for c.State() != domain.StateDisconnected || len(rec.seen()) < 2 {
		select {
		case <-deadline:
			t.Fatal("never reached backoff wait")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	states := rec.seen()
	if states[len(states)-1] != domain.StateDisconnected {
		t.Fatalf("last state %s", states[len(states)-1])
	}
	if states[len(states)-2] != domain.StateClosing {
		t.Fatalf("want Closing before Disconnected, got %v", states)
	}
}

func TestRun_CorruptRecordIsFatal(t *testing.T) {
	st := openStore(t)
	if err := os.WriteFile(filepath.Join(st.Dir(), "session.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	d := &failingDialer{}
	c := transport.New(transport.Config{Dialer: d, Backoff: fastBackoff(3)}, st, nil, &recorder{})

	if err := c.Run(context.Background()); !errors.Is(err, domain.FatalSessionError{}) {
		t.Fatalf("want FatalSessionError, got %v", err)
	}
	if d.calls != 0 {
		t.Fatal("dialed with an unusable record")
	}
}

func TestRun_VersionMismatchIsAuthFailure(t *testing.T) {
	sock := newScriptSocket(t, wire.New(channel.TagHello, wire.Attrs{"v": wire.Int(channel.Version + 1)}))
	c := transport.New(transport.Config{
		Dialer:  socketDialer{sock},
		Backoff: fastBackoff(3),
	}, openStore(t), nil, &recorder{})

	err := c.Run(context.Background())
	if !errors.Is(err, domain.AuthFailure{}) || !errors.Is(err, transport.ErrVersionMismatch) {
		t.Fatalf("want version AuthFailure, got %v", err)
	}
	if len(sock.written) != 1 || sock.written[0].Tag() != channel.TagHello {
		t.Fatalf("unexpected frames written: %v", sock.written)
	}
	if got := sock.written[0].AttrText("browser"); got == "" {
		t.Fatal("hello carries no browser name")
	}
}

func TestRun_NoRecordWithoutPairingIsFatal(t *testing.T) {
	sock := newScriptSocket(t, wire.New(channel.TagHello, wire.Attrs{"v": wire.Int(channel.Version)}))
	c := transport.New(transport.Config{
		Dialer:  socketDialer{sock},
		Backoff: fastBackoff(3),
	}, openStore(t), nil, &recorder{})

	if err := c.Run(context.Background()); !errors.Is(err, domain.FatalSessionError{}) {
		t.Fatalf("want FatalSessionError, got %v", err)
	}
}

func TestSend_NotAuthenticated(t *testing.T) {
	c := transport.New(transport.Config{}, openStore(t), nil, &recorder{})
	if err := c.Send(wire.New("message", nil)); !errors.Is(err, transport.ErrNotAuthenticated) {
		t.Fatalf("want ErrNotAuthenticated, got %v", err)
	}
}
