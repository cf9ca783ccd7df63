package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/decred/slog"
	"golang.org/x/sync/errgroup"

	"wabridge/internal/crypto"
	"wabridge/internal/domain"
	"wabridge/internal/metrics"
	"wabridge/internal/protocol/channel"
	"wabridge/internal/protocol/wire"
)

// session is one socket to the relay, from dial until it closes.
type session struct {
	sock  Socket
	cfg   *Config
	log   slog.Logger
	stats *metrics.Stats
	store SessionStore

	// Only one goroutine reads at a time.
	buf wire.Buffer

	// mu serialises ratchet mutations and socket writes.
	mu   sync.Mutex
	ad   []byte
	peer domain.PeerSession

	pings     atomic.Uint64
	closeReq  chan error
	closeOnce sync.Once
}

func newSession(sock Socket, cfg *Config, st SessionStore) *session {
	return &session{
		sock:     sock,
		cfg:      cfg,
		log:      cfg.Log,
		stats:    cfg.Stats,
		store:    st,
		closeReq: make(chan error, 1),
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		if err := s.sock.Close(); err != nil {
			s.log.Tracef("Socket close: %v", err)
		}
	})
}

// requestClose ends serve with err.
func (s *session) requestClose(err error) {
	select {
	case s.closeReq <- err:
	default:
	}
}

// readNode returns the next complete node. A zero timeout waits forever.
// Malformed frames are dropped.
func (s *session) readNode(timeout time.Duration) (wire.Node, error) {
	for {
		n, err := s.buf.Next()
		if err == nil {
			s.stats.FrameRead()
			return n, nil
		}
		if !errors.Is(err, wire.ErrTruncated) {
			s.log.Warnf("Dropping malformed frame: %v", err)
			s.stats.DecodeError()
			continue
		}

		var deadline time.Time
		if timeout > 0 {
			deadline = time.Now().Add(timeout)
		}
		if err := s.sock.SetReadDeadline(deadline); err != nil {
			return wire.Node{}, domain.ConnectionLost{Err: err}
		}
		b, err := s.sock.ReadMessage()
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				err = domain.TimeoutError{Op: "read", After: timeout}
			}
			return wire.Node{}, domain.ConnectionLost{Err: err}
		}
		s.buf.Write(b)
	}
}

// expect reads the next node and checks its tag. A failure node is turned
// into an AuthFailure.
func (s *session) expect(tag string) (wire.Node, error) {
	n, err := s.readNode(s.cfg.HandshakeTimeout)
	if err != nil {
		return n, err
	}
	switch n.Tag() {
	case tag:
		return n, nil
	case channel.TagFailure:
		return n, domain.AuthFailure{Reason: n.AttrText("reason")}
	default:
		return n, domain.ConnectionLost{Err: fmt.Errorf("%w: got %s, want %s", errUnexpectedNode, n.Tag(), tag)}
	}
}

// writePlain writes a node outside the sealed channel. Callers hold mu or
// run before the session is shared.
func (s *session) writePlain(n wire.Node) error {
	b, err := wire.Encode(n)
	if err != nil {
		return err
	}
	if err := s.sock.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return domain.ConnectionLost{Err: err}
	}
	if err := s.sock.WriteMessage(b); err != nil {
		return domain.ConnectionLost{Err: err}
	}
	s.stats.FrameWritten()
	return nil
}

// hello negotiates the dialogue version.
func (s *session) hello() error {
	err := s.writePlain(wire.New(channel.TagHello, wire.Attrs{
		"v":         wire.Int(channel.Version),
		"client":    wire.Text(s.cfg.ClientName),
		"browser":   wire.Text(s.cfg.Browser),
		"browser_v": wire.Text(s.cfg.BrowserVersion),
	}))
	if err != nil {
		return err
	}
	n, err := s.expect(channel.TagHello)
	if err != nil {
		return err
	}
	if v, _ := n.AttrInt("v"); v != channel.Version {
		return domain.AuthFailure{Reason: "version", Err: fmt.Errorf("%w: %d", ErrVersionMismatch, v)}
	}
	return nil
}

// restore proves possession of the stored session keys.
func (s *session) restore(rec domain.SessionRecord) (domain.JID, error) {
	err := s.writePlain(wire.New(channel.TagRestore, wire.Attrs{
		"client":       wire.Text(string(rec.ClientID)),
		"server_token": wire.Text(rec.ServerToken),
		"client_token": wire.Text(rec.ClientToken),
	}))
	if err != nil {
		return "", err
	}
	ch, err := s.expect(channel.TagChallenge)
	if err != nil {
		return "", err
	}
	nonce := ch.AttrBinary("nonce")
	if len(nonce) == 0 {
		return "", domain.AuthFailure{Reason: "empty challenge"}
	}
	err = s.writePlain(wire.New(channel.TagResponse, wire.Attrs{
		"mac": wire.Binary(crypto.ChallengeResponse(rec.MacKey, nonce)),
	}))
	if err != nil {
		return "", err
	}
	ok, err := s.expect(channel.TagSuccess)
	if err != nil {
		return "", err
	}
	return domain.JID(ok.AttrText("jid")), nil
}

// bind installs the ratchet state used by the sealed channel.
func (s *session) bind(rec domain.SessionRecord) {
	s.mu.Lock()
	s.ad = channel.AssociatedData(rec.JID)
	s.peer = rec.Sessions[domain.ServerJID].Clone()
	s.mu.Unlock()
}

// sendSealed seals n, persists the advanced ratchet, then writes it.
func (s *session) sendSealed(n wire.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.peer.Clone()
	enc, err := channel.Seal(&work, s.ad, n, wire.EncodeOptions{CompressAbove: s.cfg.CompressAbove})
	if err != nil {
		return err
	}
	if err := s.store.SaveSession(domain.ServerJID, work); err != nil {
		return domain.FatalSessionError{Err: fmt.Errorf("persist ratchet: %w", err)}
	}
	s.peer = work
	if s.log.Level() <= slog.LevelTrace {
		s.log.Tracef("Sending %s", n)
	}
	return s.writePlain(enc)
}

// open authenticates an enc node and persists the advanced ratchet, also
// when the authenticated payload fails to decode.
func (s *session) open(enc wire.Node) (wire.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.peer.Clone()
	inner, err := channel.Open(&work, s.ad, enc)
	if err != nil {
		if s.log.Level() <= slog.LevelTrace {
			s.log.Tracef("Failed to open %s: %s", enc, spew.Sdump(enc.Attrs()))
		}
		if !errors.Is(err, domain.DecodeError{}) {
			return wire.Node{}, err
		}
	}
	if err := s.store.SaveSession(domain.ServerJID, work); err != nil {
		return wire.Node{}, domain.FatalSessionError{Err: fmt.Errorf("persist ratchet: %w", err)}
	}
	s.peer = work
	return inner, err
}

// serve runs the authenticated loops until one fails or ctx ends.
func (s *session) serve(ctx context.Context, h Handler) error {
	g, gctx := errgroup.WithContext(ctx)

	// Closing the socket unblocks a pending read.
	g.Go(func() error {
		<-gctx.Done()
		s.close()
		return nil
	})

	g.Go(func() error {
		err := s.recvLoop(gctx, h)
		if err != nil && gctx.Err() == nil {
			s.log.Debugf("recvLoop errored: %v", err)
			return err
		}
		s.log.Tracef("recvLoop ending with err: %v", err)
		return nil
	})

	g.Go(func() error {
		err := s.keepaliveLoop(gctx)
		if err != nil && gctx.Err() == nil {
			s.log.Debugf("keepaliveLoop errored: %v", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		select {
		case err := <-s.closeReq:
			return err
		case <-gctx.Done():
			return nil
		}
	})

	err := g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		err = domain.ConnectionLost{Err: errors.New("session ended")}
	}
	return err
}

func (s *session) recvLoop(ctx context.Context, h Handler) error {
	for {
		n, err := s.readNode(s.cfg.ReadTimeout)
		if err != nil {
			return err
		}
		switch n.Tag() {
		case channel.TagEnc:
		case channel.TagFailure:
			return domain.AuthFailure{Reason: n.AttrText("reason")}
		default:
			s.log.Debugf("Dropping unsealed %s while authenticated", n.Tag())
			continue
		}

		inner, err := s.open(n)
		switch {
		case errors.Is(err, domain.FatalSessionError{}):
			return err
		case err != nil:
			s.log.Warnf("Dropping frame: %v", err)
			if errors.Is(err, domain.CryptoError{}) {
				s.stats.DecryptFailure()
			} else {
				s.stats.DecodeError()
			}
			h.Error(err)
			continue
		}

		switch inner.Tag() {
		case channel.TagPing:
			pong := wire.New(channel.TagPong, wire.Attrs{"id": wire.Text(inner.AttrText("id"))})
			if err := s.sendSealed(pong); err != nil {
				return err
			}
		case channel.TagPong:
			s.log.Tracef("Pong %s", inner.AttrText("id"))
		default:
			h.HandleNode(inner)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (s *session) keepaliveLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			id := strconv.FormatUint(s.pings.Add(1), 10)
			if err := s.sendSealed(wire.New(channel.TagPing, wire.Attrs{"id": wire.Text(id)})); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
