package dispatch

import (
	"fmt"
	"sort"
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"wabridge/internal/domain"
	"wabridge/internal/protocol/channel"
	"wabridge/internal/protocol/wire"
)

type buffered struct {
	msg     domain.InboundMessage
	arrived time.Time
}

// peerState is the inbound state of one sender. mu also serialises
// delivery so a peer's events leave in order.
type peerState struct {
	mu sync.Mutex

	// seen holds recent ids, oldest first.
	seen *orderedmap.OrderedMap[domain.MessageID, struct{}]

	started  bool
	expected uint64
	pending  map[uint64]buffered
}

func newPeerState() *peerState {
	return &peerState{
		seen:    orderedmap.New[domain.MessageID, struct{}](),
		pending: make(map[uint64]buffered),
	}
}

// remember records id and reports whether it was new.
func (ps *peerState) remember(id domain.MessageID, window int) bool {
	if _, dup := ps.seen.Get(id); dup {
		return false
	}
	ps.seen.Set(id, struct{}{})
	for ps.seen.Len() > window {
		ps.seen.Delete(ps.seen.Oldest().Key)
	}
	return true
}

// parseMessage reads an inbound message node.
func parseMessage(n wire.Node) (domain.InboundMessage, error) {
	id := n.AttrText("id")
	from := n.AttrText("from")
	if id == "" || from == "" {
		return domain.InboundMessage{}, domain.DecodeError{
			Err: fmt.Errorf("%w: message without id or from", wire.ErrMalformed),
		}
	}
	msg := domain.InboundMessage{
		ID:   domain.MessageID(id),
		From: domain.JID(from),
		Text: string(n.Content()),
	}
	if seq, ok := n.AttrInt("seq"); ok && seq > 0 {
		msg.Seq = uint64(seq)
	}
	if ts, ok := n.AttrInt("t"); ok && ts > 0 {
		msg.Timestamp = time.Unix(ts, 0).UTC()
	}
	return msg, nil
}

// handleMessage dedups, orders and delivers one inbound message, then
// acknowledges it.
func (d *Dispatcher) handleMessage(n wire.Node) error {
	msg, err := parseMessage(n)
	if err != nil {
		return err
	}

	ps, _ := d.peers.LoadOrCompute(msg.From, newPeerState)
	ps.mu.Lock()
	if ps.remember(msg.ID, d.cfg.DedupWindow) {
		d.order(ps, msg)
	} else {
		d.log.Debugf("Dropping duplicate %s from %s", msg.ID, msg.From)
		d.cfg.Stats.MessageDuplicate()
	}
	ps.mu.Unlock()

	return d.sendAck(msg)
}

func (d *Dispatcher) sendAck(msg domain.InboundMessage) error {
	ack := wire.New(channel.TagAck, wire.Attrs{
		"id": wire.Text(string(msg.ID)),
		"to": wire.Text(string(msg.From)),
	})
	if err := d.sender.Send(ack); err != nil {
		return fmt.Errorf("ack %s: %w", msg.ID, err)
	}
	return nil
}

// order delivers msg now or buffers it until the gap before it fills.
// Callers hold ps.mu.
func (d *Dispatcher) order(ps *peerState, msg domain.InboundMessage) {
	if msg.Seq == 0 {
		d.deliver(msg)
		return
	}
	if !ps.started {
		ps.started = true
		ps.expected = msg.Seq
	}

	switch {
	case msg.Seq < ps.expected:
		d.log.Debugf("Late message %s seq %d from %s (expected %d)",
			msg.ID, msg.Seq, msg.From, ps.expected)
		d.deliver(msg)

	case msg.Seq == ps.expected:
		d.deliver(msg)
		ps.expected++
		d.drain(ps)

	default:
		if _, clash := ps.pending[msg.Seq]; clash {
			d.deliver(msg)
			return
		}
		ps.pending[msg.Seq] = buffered{msg: msg, arrived: d.cfg.Now()}
		if len(ps.pending) > d.cfg.ReorderWindow {
			d.skipGap(ps)
		}
	}
}

// drain delivers buffered messages that are now in sequence.
func (d *Dispatcher) drain(ps *peerState) {
	for {
		b, ok := ps.pending[ps.expected]
		if !ok {
			return
		}
		delete(ps.pending, ps.expected)
		d.deliver(b.msg)
		ps.expected++
	}
}

// skipGap declares the messages before the lowest buffered seq missing.
func (d *Dispatcher) skipGap(ps *peerState) {
	if len(ps.pending) == 0 {
		return
	}
	seqs := make([]uint64, 0, len(ps.pending))
	for s := range ps.pending {
		seqs = append(seqs, s)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	d.log.Warnf("Giving up on seq %d..%d from %s", ps.expected, seqs[0]-1,
		ps.pending[seqs[0]].msg.From)
	ps.expected = seqs[0]
	d.drain(ps)
}

// expireGaps skips gaps whose oldest buffered message waited longer than
// GapTimeout.
func (d *Dispatcher) expireGaps(now time.Time) {
	d.peers.Range(func(_ domain.JID, ps *peerState) bool {
		ps.mu.Lock()
		for len(ps.pending) > 0 && now.Sub(ps.oldestArrival()) >= d.cfg.GapTimeout {
			d.skipGap(ps)
		}
		ps.mu.Unlock()
		return true
	})
}

func (ps *peerState) oldestArrival() time.Time {
	var oldest time.Time
	for _, b := range ps.pending {
		if oldest.IsZero() || b.arrived.Before(oldest) {
			oldest = b.arrived
		}
	}
	return oldest
}

func (d *Dispatcher) deliver(msg domain.InboundMessage) {
	d.cfg.Stats.MessageReceived()
	d.events.Message(msg)
}
