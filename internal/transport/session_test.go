package transport_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"wabridge/internal/crypto"
	"wabridge/internal/domain"
	"wabridge/internal/protocol/channel"
	"wabridge/internal/protocol/ratchet"
	"wabridge/internal/protocol/wire"
	"wabridge/internal/store"
	"wabridge/internal/transport"
)

const testJID domain.JID = "15550001@s.relay"

// relaySocket answers a session restore, then stays silent. Reads honour
// the read deadline the way a websocket does.
type relaySocket struct {
	mu       sync.Mutex
	replies  [][]byte
	written  []wire.Node
	deadline time.Time
	closed   chan struct{}
	once     sync.Once
}

func newRelaySocket(t *testing.T) *relaySocket {
	t.Helper()
	s := &relaySocket{closed: make(chan struct{})}
	for _, n := range []wire.Node{
		wire.New(channel.TagHello, wire.Attrs{"v": wire.Int(channel.Version)}),
		wire.New(channel.TagChallenge, wire.Attrs{"nonce": wire.Binary([]byte("nonce"))}),
		wire.New(channel.TagSuccess, wire.Attrs{"jid": wire.Text(string(testJID))}),
	} {
		b, err := wire.Encode(n)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		s.replies = append(s.replies, b)
	}
	return s
}

func (s *relaySocket) ReadMessage() ([]byte, error) {
	s.mu.Lock()
	if len(s.replies) > 0 {
		b := s.replies[0]
		s.replies = s.replies[1:]
		s.mu.Unlock()
		return b, nil
	}
	deadline := s.deadline
	s.mu.Unlock()

	var expired <-chan time.Time
	if !deadline.IsZero() {
		t := time.NewTimer(time.Until(deadline))
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-expired:
		return nil, os.ErrDeadlineExceeded
	case <-s.closed:
		return nil, errors.New("closed")
	}
}

func (s *relaySocket) WriteMessage(b []byte) error {
	n, _, err := wire.Decode(b)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.written = append(s.written, n)
	s.mu.Unlock()
	return nil
}

func (s *relaySocket) SetReadDeadline(t time.Time) error {
	s.mu.Lock()
	s.deadline = t
	s.mu.Unlock()
	return nil
}

func (s *relaySocket) SetWriteDeadline(time.Time) error { return nil }

func (s *relaySocket) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *relaySocket) sealed() []wire.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []wire.Node
	for _, n := range s.written {
		if n.Tag() == channel.TagEnc {
			out = append(out, n)
		}
	}
	return out
}

// relayDialer hands out a fresh relaySocket per dial.
type relayDialer struct {
	t     *testing.T
	mu    sync.Mutex
	socks []*relaySocket
}

func (d *relayDialer) Dial(context.Context, string) (transport.Socket, error) {
	s := newRelaySocket(d.t)
	d.mu.Lock()
	d.socks = append(d.socks, s)
	d.mu.Unlock()
	return s, nil
}

func (d *relayDialer) first() *relaySocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.socks) == 0 {
		return nil
	}
	return d.socks[0]
}

func (r *recorder) recovered() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// pairedStore saves a restorable record and returns the relay's side of
// its ratchet.
func pairedStore(t *testing.T) (*store.FileStore, domain.PeerSession) {
	t.Helper()
	rk := bytes.Repeat([]byte{7}, 32)
	relayPriv, relayPub, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	client, err := ratchet.InitAsInitiator(rk, relayPub)
	if err != nil {
		t.Fatalf("InitAsInitiator: %v", err)
	}
	relay, err := ratchet.InitAsResponder(rk, relayPriv, client.DiffieHellmanPublic)
	if err != nil {
		t.Fatalf("InitAsResponder: %v", err)
	}

	st := openStore(t)
	err = st.Save(domain.SessionRecord{
		ClientID:    "client",
		JID:         testJID,
		ServerToken: "srv",
		ClientToken: "cli",
		MacKey:      []byte{4},
		Sessions:    map[domain.JID]domain.PeerSession{domain.ServerJID: client},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	return st, relay
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestRun_SilentRelayTimesOutAndReconnects(t *testing.T) {
	st, _ := pairedStore(t)
	d := &relayDialer{t: t}
	rec := &recorder{}
	c := transport.New(transport.Config{
		Dialer:            d,
		Backoff:           fastBackoff(100),
		ReadTimeout:       30 * time.Millisecond,
		KeepaliveInterval: time.Hour,
	}, st, nil, rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitUntil(t, "second authentication", func() bool { return c.Epoch() >= 2 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	errs := rec.recovered()
	if len(errs) == 0 {
		t.Fatal("no recovered error reported")
	}
	var timeout domain.TimeoutError
	if !errors.Is(errs[0], domain.ConnectionLost{}) || !errors.As(errs[0], &timeout) {
		t.Fatalf("want TimeoutError inside ConnectionLost, got %v", errs[0])
	}
	if timeout.After != 30*time.Millisecond {
		t.Fatalf("timeout after %s", timeout.After)
	}
	if errors.Is(errs[0], domain.FatalSessionError{}) {
		t.Fatalf("read timeout reported as fatal: %v", errs[0])
	}
}

func TestRun_KeepaliveSendsSealedPings(t *testing.T) {
	st, relay := pairedStore(t)
	d := &relayDialer{t: t}
	c := transport.New(transport.Config{
		Dialer:            d,
		Backoff:           fastBackoff(100),
		ReadTimeout:       time.Hour,
		KeepaliveInterval: 5 * time.Millisecond,
	}, st, nil, &recorder{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitUntil(t, "three pings", func() bool {
		s := d.first()
		return s != nil && len(s.sealed()) >= 3
	})
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	ad := channel.AssociatedData(testJID)
	for i, enc := range d.first().sealed()[:3] {
		inner, err := channel.Open(&relay, ad, enc)
		if err != nil {
			t.Fatalf("open ping %d: %v", i, err)
		}
		if inner.Tag() != channel.TagPing {
			t.Fatalf("frame %d is %s, want ping", i, inner.Tag())
		}
		if got, want := inner.AttrText("id"), strconv.Itoa(i+1); got != want {
			t.Fatalf("ping %d id %q, want %q", i, got, want)
		}
	}
	if c.Epoch() != 1 {
		t.Fatalf("reconnected during keepalive: epoch %d", c.Epoch())
	}
}
