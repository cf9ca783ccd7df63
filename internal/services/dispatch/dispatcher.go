package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/puzpuzpuz/xsync/v3"

	"wabridge/internal/domain"
	"wabridge/internal/protocol/channel"
	"wabridge/internal/protocol/wire"
)

// Sender hands sealed nodes to the relay connection.
type Sender interface {
	Send(n wire.Node) error
}

// Events receives what the dispatcher produces. Calls for one peer are
// made in order and must not block.
type Events interface {
	Message(msg domain.InboundMessage)
	Delivery(entry domain.OutboundEntry, status domain.DeliveryStatus, err error)
}

// Dispatcher routes application traffic over the relay connection.
type Dispatcher struct {
	cfg    Config
	log    slog.Logger
	sender Sender
	events Events

	peers *xsync.MapOf[domain.JID, *peerState]

	mu      sync.Mutex
	queue   []*outEntry
	byID    map[domain.MessageID]*outEntry
	seq     uint64
	destSeq map[domain.JID]uint64
	epoch   uint64
	authed  bool
	kick    chan struct{}
}

// New returns a dispatcher that sends through sender. Run must be called
// for outbound traffic to flow.
func New(cfg Config, sender Sender, events Events) *Dispatcher {
	cfg.setDefaults()
	return &Dispatcher{
		cfg:     cfg,
		log:     cfg.Log,
		sender:  sender,
		events:  events,
		peers:   xsync.NewMapOf[domain.JID, *peerState](),
		byID:    make(map[domain.MessageID]*outEntry),
		destSeq: make(map[domain.JID]uint64),
		kick:    make(chan struct{}, 1),
	}
}

// HandleNode processes one opened node from the relay. Unknown tags are
// ignored.
func (d *Dispatcher) HandleNode(n wire.Node) error {
	switch n.Tag() {
	case channel.TagMessage:
		return d.handleMessage(n)
	case channel.TagAck:
		d.handleAck(domain.MessageID(n.AttrText("id")))
		return nil
	default:
		d.log.Debugf("Ignoring %s node", n.Tag())
		return nil
	}
}

// SetAuthenticated records a connection state change. A new epoch makes
// every unacknowledged entry due again.
func (d *Dispatcher) SetAuthenticated(authed bool, epoch uint64) {
	d.mu.Lock()
	d.authed = authed
	if authed && epoch != d.epoch {
		d.epoch = epoch
	}
	d.mu.Unlock()
	if authed {
		d.signal()
	}
}

func (d *Dispatcher) signal() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// tickInterval is how often timeouts are checked.
func (d *Dispatcher) tickInterval() time.Duration {
	iv := min(d.cfg.GapTimeout, d.cfg.AckTimeout) / 4
	return max(iv, 10*time.Millisecond)
}

// Run sends queued entries and enforces the gap and ack timeouts until ctx
// is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.tickInterval())
	defer ticker.Stop()
	for {
		select {
		case <-d.kick:
		case <-ticker.C:
			now := d.cfg.Now()
			d.expireGaps(now)
			d.expireAcks(now)
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := d.flush(); err != nil && !errors.Is(err, context.Canceled) {
			d.log.Debugf("Flush stopped: %v", err)
		}
	}
}

// Reset forgets all peer state and fails every queued entry.
func (d *Dispatcher) Reset() {
	d.peers.Clear()

	d.mu.Lock()
	dropped := d.queue
	d.queue = nil
	d.byID = make(map[domain.MessageID]*outEntry)
	d.destSeq = make(map[domain.JID]uint64)
	d.mu.Unlock()

	d.cfg.Stats.OutboxDepth(0)
	for _, e := range dropped {
		d.cfg.Stats.Delivery(domain.DeliveryFailed.String())
		d.events.Delivery(e.OutboundEntry, domain.DeliveryFailed, ErrDiscarded)
	}
}
