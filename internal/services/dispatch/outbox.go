package dispatch

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"wabridge/internal/domain"
	"wabridge/internal/protocol/channel"
	"wabridge/internal/protocol/wire"
)

// outEntry is a queued entry plus its send bookkeeping.
type outEntry struct {
	domain.OutboundEntry

	// sentEpoch is the connection epoch of the last send; zero means due.
	sentEpoch uint64
	sentAt    time.Time
}

func newMessageID() (domain.MessageID, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return domain.MessageID("WB" + strings.ToUpper(hex.EncodeToString(b[:]))), nil
}

// Enqueue queues text for dest and returns the entry. The outcome is
// reported later through Events.Delivery.
func (d *Dispatcher) Enqueue(dest domain.JID, text string) (domain.OutboundEntry, error) {
	if dest == "" {
		return domain.OutboundEntry{}, ErrEmptyDestination
	}
	id, err := newMessageID()
	if err != nil {
		return domain.OutboundEntry{}, err
	}

	d.mu.Lock()
	if len(d.queue) >= d.cfg.MaxQueue {
		d.mu.Unlock()
		return domain.OutboundEntry{}, ErrQueueFull
	}
	d.seq++
	d.destSeq[dest]++
	e := &outEntry{OutboundEntry: domain.OutboundEntry{
		Seq:         d.seq,
		DestSeq:     d.destSeq[dest],
		ID:          id,
		Destination: dest,
		Text:        text,
		QueuedAt:    d.cfg.Now(),
	}}
	d.queue = append(d.queue, e)
	d.byID[id] = e
	depth := len(d.queue)
	d.mu.Unlock()

	d.log.Debugf("Queued %s seq %d for %s", id, e.Seq, dest)
	d.cfg.Stats.OutboxDepth(depth)
	d.signal()
	return e.OutboundEntry, nil
}

// Pending returns the unacknowledged entries in seq order.
func (d *Dispatcher) Pending() []domain.OutboundEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.OutboundEntry, len(d.queue))
	for i, e := range d.queue {
		out[i] = e.OutboundEntry
	}
	return out
}

// nextDue returns the first entry that has not been sent in the current
// epoch. Entries past the retry ceiling are removed and returned in failed.
func (d *Dispatcher) nextDue() (e *outEntry, epoch uint64, failed []*outEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.authed {
		return nil, 0, nil
	}
	for i := 0; i < len(d.queue); {
		cand := d.queue[i]
		if cand.sentEpoch == d.epoch {
			i++
			continue
		}
		if cand.Attempts >= d.cfg.RetryCeiling {
			d.removeLocked(i)
			failed = append(failed, cand)
			continue
		}
		cand.Attempts++
		cand.sentEpoch = d.epoch
		cand.sentAt = d.cfg.Now()
		return cand, d.epoch, failed
	}
	return nil, 0, failed
}

func (d *Dispatcher) removeLocked(i int) {
	delete(d.byID, d.queue[i].ID)
	d.queue = append(d.queue[:i], d.queue[i+1:]...)
}

// flush sends due entries in seq order until none are left or a send
// fails.
func (d *Dispatcher) flush() error {
	for {
		e, epoch, failed := d.nextDue()
		for _, f := range failed {
			d.fail(f)
		}
		if e == nil {
			return nil
		}

		n := wire.NewBinary(channel.TagMessage, wire.Attrs{
			"id":  wire.Text(string(e.ID)),
			"to":  wire.Text(string(e.Destination)),
			"seq": wire.Int(int64(e.DestSeq)),
			"t":   wire.Int(e.QueuedAt.Unix()),
		}, []byte(e.Text))
		if err := d.sender.Send(n); err != nil {
			d.mu.Lock()
			if e.sentEpoch == epoch {
				e.sentEpoch = 0
				e.Attempts--
			}
			d.mu.Unlock()
			return err
		}
		d.log.Tracef("Sent %s (attempt %d, epoch %d)", e.ID, e.Attempts, epoch)
		d.cfg.Stats.MessageSent()
	}
}

// expireAcks makes entries that were not acked within AckTimeout due again.
func (d *Dispatcher) expireAcks(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.queue {
		if e.sentEpoch != 0 && now.Sub(e.sentAt) >= d.cfg.AckTimeout {
			d.log.Debugf("No ack for %s after %s", e.ID, d.cfg.AckTimeout)
			e.sentEpoch = 0
		}
	}
}

func (d *Dispatcher) handleAck(id domain.MessageID) {
	d.mu.Lock()
	e, ok := d.byID[id]
	if ok {
		for i, q := range d.queue {
			if q == e {
				d.removeLocked(i)
				break
			}
		}
	}
	depth := len(d.queue)
	d.mu.Unlock()

	if !ok {
		d.log.Debugf("Ack for unknown message %s", id)
		return
	}
	d.log.Debugf("Message %s acked", id)
	d.cfg.Stats.OutboxDepth(depth)
	d.cfg.Stats.Delivery(domain.DeliveryAcked.String())
	d.events.Delivery(e.OutboundEntry, domain.DeliveryAcked, nil)
}

func (d *Dispatcher) fail(e *outEntry) {
	d.log.Warnf("Giving up on %s to %s after %d attempts", e.ID, e.Destination, e.Attempts)
	d.mu.Lock()
	depth := len(d.queue)
	d.mu.Unlock()
	d.cfg.Stats.OutboxDepth(depth)
	d.cfg.Stats.Delivery(domain.DeliveryFailed.String())
	d.events.Delivery(e.OutboundEntry, domain.DeliveryFailed, ErrRetryCeiling)
}
