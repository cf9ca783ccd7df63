package transport

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/decred/slog"

	"wabridge/internal/domain"
	"wabridge/internal/protocol/channel"
	"wabridge/internal/protocol/wire"
	"wabridge/internal/services/pairing"
	"wabridge/internal/store"
)

// SessionStore is the persistence a Conn needs.
type SessionStore interface {
	domain.SessionStore
	SaveSession(peer domain.JID, sess domain.PeerSession) error
}

// Handler receives connection events. Calls are made from the connection's
// goroutines and must not block for long.
type Handler interface {
	// StateChanged reports every state transition. epoch counts
	// authentications and is current for Authenticated.
	StateChanged(state domain.ConnectionState, epoch uint64)

	// HandleNode receives each opened application node.
	HandleNode(n wire.Node)

	// Error reports errors the connection recovered from.
	Error(err error)
}

// Conn is a reconnecting, authenticated connection to the relay.
type Conn struct {
	cfg     Config
	store   SessionStore
	pairing *pairing.Manager
	h       Handler
	log     slog.Logger

	// notifyMu keeps handler notifications in transition order.
	notifyMu sync.Mutex

	mu      sync.Mutex
	state   domain.ConnectionState
	closing bool
	running bool
	epoch   uint64
	jid     domain.JID
	sess    *session
}

// New returns a disconnected Conn.
func New(cfg Config, st SessionStore, pm *pairing.Manager, h Handler) *Conn {
	cfg.setDefaults()
	return &Conn{
		cfg:     cfg,
		store:   st,
		pairing: pm,
		h:       h,
		log:     cfg.Log,
	}
}

// State returns the current connection state.
func (c *Conn) State() domain.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Epoch returns the number of authentications so far.
func (c *Conn) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// JID returns the address the relay assigned at the last authentication.
func (c *Conn) JID() domain.JID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jid
}

// setState records st and notifies the handler. Once closing, only the
// final Disconnected transition is reported.
func (c *Conn) setState(st domain.ConnectionState) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if c.state == st || !c.running || (c.closing && st != domain.StateDisconnected && st != domain.StateClosing) {
		c.mu.Unlock()
		return
	}
	if st == domain.StateClosing {
		c.closing = true
	}
	c.state = st
	epoch := c.epoch
	c.mu.Unlock()

	c.log.Debugf("State %s", st)
	c.cfg.Stats.ConnState(int(st))
	c.h.StateChanged(st, epoch)
}

// Send seals n on the current authenticated session.
func (c *Conn) Send(n wire.Node) error {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return ErrNotAuthenticated
	}
	err := s.sendSealed(n)
	if err != nil {
		s.requestClose(err)
	}
	return err
}

// Run connects and keeps the connection up until ctx is canceled or a
// fatal error occurs. Cancelling ctx is a graceful disconnect and returns
// nil. AuthFailure, TimeoutError (pairing scan) and FatalSessionError end
// the run; connection loss is retried with backoff.
func (c *Conn) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errRunning
	}
	c.running, c.closing = true, false
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { c.setState(domain.StateClosing) })
	defer func() {
		stop()
		if ctx.Err() != nil {
			c.setState(domain.StateClosing)
		}
		c.setState(domain.StateDisconnected)
		c.mu.Lock()
		c.running, c.closing = false, false
		c.mu.Unlock()
	}()

	var failures int
	var prevDelay time.Duration
	for {
		authed, err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if authed {
			failures, prevDelay = 0, 0
		}
		if isTerminal(err) {
			c.log.Errorf("Connection ended: %v", err)
			return err
		}

		failures++
		if failures > c.cfg.Backoff.MaxRetries {
			fatal := domain.FatalSessionError{Err: domain.ConnectionLost{Err: err}}
			c.log.Errorf("Giving up after %d attempts: %v", failures, err)
			return fatal
		}
		c.h.Error(err)

		delay := c.cfg.Backoff.Delay(failures-1, prevDelay, rand.Float64())
		prevDelay = delay
		c.log.Infof("Connection attempt failed (%v); retrying in %s", err, delay)
		c.setState(domain.StateDisconnected)
		c.cfg.Stats.Reconnect()

		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil
		}
	}
}

func isTerminal(err error) bool {
	return errors.Is(err, domain.FatalSessionError{}) ||
		errors.Is(err, domain.AuthFailure{}) ||
		(errors.Is(err, domain.TimeoutError{}) && !errors.Is(err, domain.ConnectionLost{}))
}

// runOnce performs one connection: dial, handshake, then serve until the
// socket fails. authed reports whether the session authenticated.
func (c *Conn) runOnce(ctx context.Context) (authed bool, err error) {
	c.setState(domain.StateConnecting)

	rec, loadErr := c.store.Load()
	if loadErr != nil && !errors.Is(loadErr, store.ErrNotFound) {
		if !errors.Is(loadErr, domain.FatalSessionError{}) {
			loadErr = domain.FatalSessionError{Err: loadErr}
		}
		return false, loadErr
	}

	sock, err := c.cfg.Dialer.Dial(ctx, c.cfg.URL)
	if err != nil {
		return false, domain.ConnectionLost{Err: err}
	}
	s := newSession(sock, &c.cfg, c.store)
	defer s.close()
	stop := context.AfterFunc(ctx, s.close)
	defer stop()

	if err := s.hello(); err != nil {
		return false, err
	}

	var jid domain.JID
	if loadErr != nil || !rec.Paired() {
		if rec, err = c.pair(ctx, s); err != nil {
			return false, err
		}
		jid = rec.JID
	} else {
		c.log.Debugf("Restoring session for %s", rec.JID)
		if jid, err = s.restore(rec); err != nil {
			return false, err
		}
	}
	s.bind(rec)

	c.mu.Lock()
	c.epoch++
	c.jid = jid
	c.sess = s
	c.mu.Unlock()
	c.log.Infof("Authenticated as %s", jid)
	c.setState(domain.StateAuthenticated)

	err = s.serve(ctx, c.h)

	c.mu.Lock()
	c.sess = nil
	c.mu.Unlock()
	return true, err
}

// pair requests a reference, then lets the pairing manager wait for the
// relay's confirmation while this goroutine's reader feeds it.
func (c *Conn) pair(ctx context.Context, s *session) (domain.SessionRecord, error) {
	if c.pairing == nil {
		return domain.SessionRecord{}, domain.FatalSessionError{Err: errors.New("no session and pairing disabled")}
	}
	if err := s.writePlain(wire.New(channel.TagInit, nil)); err != nil {
		return domain.SessionRecord{}, err
	}
	ref, err := s.expect(channel.TagRef)
	if err != nil {
		return domain.SessionRecord{}, err
	}
	c.setState(domain.StateAwaitingPairing)

	pctx, cancel := context.WithCancel(ctx)
	defer cancel()
	confirms := make(chan pairing.Confirmation, 1)
	readErr := make(chan error, 1)
	go func() {
		for {
			n, err := s.readNode(0)
			if err != nil {
				readErr <- err
				cancel()
				return
			}
			switch n.Tag() {
			case channel.TagConn:
				confirms <- pairing.Confirmation{
					Secret:      n.AttrBinary("secret"),
					Ratchet:     n.AttrBinary("ratchet"),
					ServerToken: n.AttrText("server_token"),
					ClientToken: n.AttrText("client_token"),
					JID:         domain.JID(n.AttrText("jid")),
				}
				return
			case channel.TagFailure:
				readErr <- domain.AuthFailure{Reason: n.AttrText("reason")}
				cancel()
				return
			default:
				c.log.Debugf("Ignoring %s while awaiting pairing", n.Tag())
			}
		}
	}()

	rec, err := c.pairing.Pair(pctx, ref.AttrText("ref"), confirms)
	if err != nil && ctx.Err() == nil {
		select {
		case rerr := <-readErr:
			err = rerr
		default:
		}
	}
	if errors.Is(err, domain.AuthFailure{}) {
		c.pairing.Reset()
	}
	return rec, err
}
