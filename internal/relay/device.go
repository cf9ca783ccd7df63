package relay

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"wabridge/internal/domain"
	"wabridge/internal/protocol/channel"
	"wabridge/internal/protocol/wire"
)

var errOffline = errors.New("device offline")

// queued is a message waiting for its recipient's ack.
type queued struct {
	id   domain.MessageID
	from domain.JID
	seq  uint64
	t    int64
	text string
}

func (q queued) node() wire.Node {
	attrs := wire.Attrs{
		"id":   wire.Text(string(q.id)),
		"from": wire.Text(string(q.from)),
		"t":    wire.Int(q.t),
	}
	if q.seq > 0 {
		attrs["seq"] = wire.Int(int64(q.seq))
	}
	return wire.NewBinary(channel.TagMessage, attrs, []byte(q.text))
}

// device is a paired client as the relay sees it.
type device struct {
	log         slog.Logger
	jid         domain.JID
	identity    domain.X25519Public
	serverToken string
	clientToken string
	macKey      []byte
	pairedAt    time.Time
	ad          []byte
	window      int

	// mu guards the ratchet, the socket binding, the queue and the
	// dedup window. Sealed writes happen under it so frames leave in
	// ratchet order.
	mu    sync.Mutex
	sess  domain.PeerSession
	conn  *conn
	queue []queued
	seen  *orderedmap.OrderedMap[domain.MessageID, struct{}]
}

func (d *device) info() DeviceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DeviceInfo{
		JID:    d.jid,
		Online: d.conn != nil,
		Queued: len(d.queue),
		Since:  d.pairedAt,
	}
}

// sendLocked seals inner for the device and writes it.
func (d *device) sendLocked(inner wire.Node) error {
	if d.conn == nil {
		return errOffline
	}
	work := d.sess.Clone()
	enc, err := channel.Seal(&work, d.ad, inner, wire.EncodeOptions{CompressAbove: 1024})
	if err != nil {
		return err
	}
	d.sess = work
	return d.conn.write(enc)
}

func (d *device) send(inner wire.Node) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sendLocked(inner)
}

func (d *device) open(enc wire.Node) (wire.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	work := d.sess.Clone()
	inner, err := channel.Open(&work, d.ad, enc)
	if err != nil && !errors.Is(err, domain.DecodeError{}) {
		return wire.Node{}, err
	}
	d.sess = work
	return inner, err
}

// attach makes c the device's socket and redelivers its queue.
func (d *device) attach(c *conn) {
	d.mu.Lock()
	old := d.conn
	d.conn = c
	for _, q := range d.queue {
		if err := d.sendLocked(q.node()); err != nil {
			d.log.Debugf("Redelivery to %s stopped: %v", d.jid, err)
			break
		}
	}
	n := len(d.queue)
	d.mu.Unlock()

	if old != nil && old != c {
		old.close()
	}
	d.log.Infof("Device %s online (%d queued)", d.jid, n)
}

func (d *device) detach(c *conn) {
	d.mu.Lock()
	if d.conn == c {
		d.conn = nil
	}
	d.mu.Unlock()
	d.log.Debugf("Device %s offline", d.jid)
}

// kick closes the device's socket and reports whether it was online.
func (d *device) kick() bool {
	d.mu.Lock()
	c := d.conn
	d.mu.Unlock()
	if c == nil {
		return false
	}
	c.close()
	return true
}

// enqueue keeps q until acked and sends it if the device is online.
func (d *device) enqueue(q queued) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, q)
	if d.conn == nil {
		return
	}
	if err := d.sendLocked(q.node()); err != nil {
		d.log.Debugf("Delivery to %s deferred: %v", d.jid, err)
	}
}

func (d *device) acked(id domain.MessageID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, q := range d.queue {
		if q.id == id {
			d.queue = append(d.queue[:i], d.queue[i+1:]...)
			return
		}
	}
}

// firstSeen records a message id sent by the device and reports whether
// it is new.
func (d *device) firstSeen(id domain.MessageID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.seen.Get(id); dup {
		return false
	}
	d.seen.Set(id, struct{}{})
	for d.seen.Len() > d.window {
		d.seen.Delete(d.seen.Oldest().Key)
	}
	return true
}

// route accepts a message from the sender device, acks it and queues it
// for the recipient.
func (s *Server) route(from *device, msg wire.Node) error {
	id := domain.MessageID(msg.AttrText("id"))
	to := domain.JID(msg.AttrText("to"))
	if id == "" || to == "" {
		s.log.Debugf("Dropping message without id or to from %s", from.jid)
		return nil
	}

	if from.firstSeen(id) {
		dst, ok := s.byJID.Load(to)
		if ok {
			var seq uint64
			if v, ok := msg.AttrInt("seq"); ok && v > 0 {
				seq = uint64(v)
			}
			t, _ := msg.AttrInt("t")
			dst.enqueue(queued{id: id, from: from.jid, seq: seq, t: t, text: string(msg.Content())})
			s.log.Debugf("Routed %s %s -> %s", id, from.jid, to)
		} else {
			s.log.Infof("Dropping %s to unknown %s", id, to)
		}
	} else {
		s.log.Debugf("Duplicate %s from %s", id, from.jid)
	}

	if err := from.send(wire.New(channel.TagAck, wire.Attrs{"id": wire.Text(string(id))})); err != nil {
		return fmt.Errorf("ack %s: %w", id, err)
	}
	return nil
}
