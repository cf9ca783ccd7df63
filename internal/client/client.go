package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"

	"wabridge/internal/domain"
	"wabridge/internal/logging"
	"wabridge/internal/metrics"
	"wabridge/internal/protocol/wire"
	"wabridge/internal/services/dispatch"
	"wabridge/internal/services/pairing"
	"wabridge/internal/transport"
)

// RecentLimit bounds the recent messages kept for Status.
const RecentLimit = 100

var (
	ErrNotStarted       = errors.New("client is not started")
	ErrAlreadyStarted   = errors.New("client is already started")
	ErrAlreadyConnected = errors.New("client is already connected")
)

// Store is the persistence a Client needs.
type Store interface {
	transport.SessionStore
}

// Config tunes a Client.
type Config struct {
	Transport   transport.Config
	Dispatch    dispatch.Config
	ScanTimeout time.Duration
	Stats       *metrics.Stats
}

// Option customises a Client.
type Option func(*Client)

// WithLoggers sets the logger for each subsystem from fn.
func WithLoggers(fn func(subsys string) slog.Logger) Option {
	return func(c *Client) { c.logFor = fn }
}

// SendResult tells whether SendMessage queued the message. The delivery
// outcome arrives later as a DeliveryEvent.
type SendResult struct {
	Accepted bool
	Entry    domain.OutboundEntry
	Err      error
}

// Status is a read-only projection of the client.
type Status struct {
	State          domain.ConnectionState
	JID            domain.JID
	PairingPayload *string
	RecentMessages []domain.InboundMessage
	MessageCount   uint64
	Pending        int
}

// Client is the engine facade.
type Client struct {
	store   Store
	logFor  func(string) slog.Logger
	log     slog.Logger
	stats   *metrics.Stats
	bus     *bus
	pairing *pairing.Manager
	conn    *transport.Conn
	disp    *dispatch.Dispatcher

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	runCancel context.CancelFunc
	runDone   chan struct{}
	payload   string
	recent    []domain.InboundMessage
	count     uint64
}

// New builds a client around st. Nothing runs until Start.
func New(cfg Config, st Store, opts ...Option) *Client {
	c := &Client{
		store:  st,
		stats:  cfg.Stats,
		bus:    newBus(),
		logFor: func(string) slog.Logger { return slog.Disabled },
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.logFor(logging.SubsysClient)

	h := hooks{c}
	c.pairing = pairing.New(st, pairing.Config{
		ScanTimeout: cfg.ScanTimeout,
		Log:         c.logFor(logging.SubsysPairing),
		Stats:       cfg.Stats,
	})
	c.pairing.SetObserver(h.pairingChanged)

	tcfg := cfg.Transport
	tcfg.Log = c.logFor(logging.SubsysTransport)
	tcfg.Stats = cfg.Stats
	c.conn = transport.New(tcfg, st, c.pairing, h)

	dcfg := cfg.Dispatch
	dcfg.Log = c.logFor(logging.SubsysDispatch)
	dcfg.Stats = cfg.Stats
	c.disp = dispatch.New(dcfg, c.conn, h)
	return c
}

// Start launches the background workers. ctx bounds the client's life.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx != nil {
		return ErrAlreadyStarted
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.disp.Run(c.ctx)
	}()
	c.log.Debugf("Client started")
	return nil
}

// Stop disconnects, stops the workers and closes every subscription.
func (c *Client) Stop() {
	c.Disconnect()
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	c.bus.closeAll()
	c.log.Debugf("Client stopped")
}

// Connect starts connecting in the background. State changes and any
// fatal outcome are published as events.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil || c.ctx.Err() != nil {
		return ErrNotStarted
	}
	if c.runDone != nil {
		return ErrAlreadyConnected
	}
	runCtx, cancel := context.WithCancel(c.ctx)
	done := make(chan struct{})
	c.runCancel, c.runDone = cancel, done

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(done)
		err := c.conn.Run(runCtx)
		c.mu.Lock()
		if c.runDone == done {
			c.runCancel, c.runDone = nil, nil
		}
		c.mu.Unlock()
		cancel()
		if err != nil {
			c.log.Errorf("Connection ended: %v", err)
			c.bus.publish(ErrorEvent{Err: err, Fatal: true})
		}
	}()
	return nil
}

// Disconnect closes the connection and waits for it to finish. It is a
// no-op when not connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel, done := c.runCancel, c.runDone
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Wait blocks until the current connection run ends or ctx is done.
func (c *Client) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.runDone
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ClearSession disconnects and removes all persisted key material. The
// next Connect always pairs.
func (c *Client) ClearSession() error {
	c.Disconnect()
	if err := c.store.Clear(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	c.disp.Reset()
	c.pairing.Reset()
	c.mu.Lock()
	c.payload = ""
	c.mu.Unlock()
	c.log.Infof("Session cleared")
	return nil
}

// SendMessage queues text for dest.
func (c *Client) SendMessage(dest domain.JID, text string) SendResult {
	e, err := c.disp.Enqueue(dest, text)
	if err != nil {
		return SendResult{Err: err}
	}
	return SendResult{Accepted: true, Entry: e}
}

// Status returns a snapshot of the client.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		State:        c.conn.State(),
		JID:          c.conn.JID(),
		MessageCount: c.count,
		Pending:      len(c.disp.Pending()),
	}
	if c.payload != "" {
		p := c.payload
		st.PairingPayload = &p
	}
	st.RecentMessages = make([]domain.InboundMessage, len(c.recent))
	for i, m := range c.recent {
		st.RecentMessages[len(c.recent)-1-i] = m
	}
	return st
}

// Subscribe returns a subscription receiving every later event. buffer is
// the capacity of its channel.
func (c *Client) Subscribe(buffer int) *Subscription {
	return c.bus.subscribe(buffer)
}

// hooks adapts the client to the callbacks of its components.
type hooks struct{ c *Client }

func (h hooks) StateChanged(st domain.ConnectionState, epoch uint64) {
	c := h.c
	c.disp.SetAuthenticated(st == domain.StateAuthenticated, epoch)
	if st != domain.StateAwaitingPairing {
		c.mu.Lock()
		c.payload = ""
		c.mu.Unlock()
	}
	c.bus.publish(StateEvent{State: st, Epoch: epoch})
}

func (h hooks) HandleNode(n wire.Node) {
	if err := h.c.disp.HandleNode(n); err != nil {
		h.c.log.Warnf("Handling %s: %v", n.Tag(), err)
		h.c.bus.publish(ErrorEvent{Err: err})
	}
}

func (h hooks) Error(err error) {
	h.c.bus.publish(ErrorEvent{Err: err})
}

func (h hooks) Message(msg domain.InboundMessage) {
	c := h.c
	c.mu.Lock()
	c.count++
	c.recent = append(c.recent, msg)
	if len(c.recent) > RecentLimit {
		c.recent = append(c.recent[:0:0], c.recent[len(c.recent)-RecentLimit:]...)
	}
	c.mu.Unlock()
	c.bus.publish(MessageEvent{Message: msg})
}

func (h hooks) Delivery(e domain.OutboundEntry, st domain.DeliveryStatus, err error) {
	h.c.bus.publish(DeliveryEvent{Entry: e, Status: st, Err: err})
}

func (h hooks) pairingChanged(st domain.PairingState, payload string) {
	c := h.c
	c.mu.Lock()
	c.payload = payload
	c.mu.Unlock()
	if st == domain.PairingAwaitingScan && payload != "" {
		c.bus.publish(PairingPayloadEvent{Payload: payload})
	}
}
