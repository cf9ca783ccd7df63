package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wabridge/internal/domain"
	"wabridge/internal/logging"
	"wabridge/internal/protocol/channel"
	"wabridge/internal/protocol/wire"
	"wabridge/internal/services/dispatch"
	"wabridge/internal/testutil"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []wire.Node
	err  error
}

func (s *fakeSender) Send(n wire.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, n)
	return nil
}

func (s *fakeSender) byTag(tag string) []wire.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []wire.Node
	for _, n := range s.sent {
		if n.Tag() == tag {
			out = append(out, n)
		}
	}
	return out
}

type delivery struct {
	entry  domain.OutboundEntry
	status domain.DeliveryStatus
	err    error
}

type fakeEvents struct {
	msgs       chan domain.InboundMessage
	deliveries chan delivery
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{
		msgs:       make(chan domain.InboundMessage, 128),
		deliveries: make(chan delivery, 128),
	}
}

func (e *fakeEvents) Message(msg domain.InboundMessage) { e.msgs <- msg }

func (e *fakeEvents) Delivery(entry domain.OutboundEntry, st domain.DeliveryStatus, err error) {
	e.deliveries <- delivery{entry, st, err}
}

func (e *fakeEvents) drainIDs() []string {
	var ids []string
	for {
		select {
		case m := <-e.msgs:
			ids = append(ids, string(m.ID))
		default:
			return ids
		}
	}
}

func (e *fakeEvents) nextDelivery(t *testing.T) delivery {
	t.Helper()
	select {
	case d := <-e.deliveries:
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("no delivery event")
		return delivery{}
	}
}

func msgNode(id, from string, seq int64) wire.Node {
	return wire.NewBinary(channel.TagMessage, wire.Attrs{
		"id":   wire.Text(id),
		"from": wire.Text(from),
		"seq":  wire.Int(seq),
		"t":    wire.Int(1700000000),
	}, []byte("text "+id))
}

func newDispatcher(t *testing.T, cfg dispatch.Config) (*dispatch.Dispatcher, *fakeSender, *fakeEvents) {
	t.Helper()
	cfg.Log = testutil.TestLoggerSys(t, logging.SubsysDispatch)
	s := &fakeSender{}
	ev := newFakeEvents()
	return dispatch.New(cfg, s, ev), s, ev
}

func runDispatcher(t *testing.T, d *dispatch.Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func equalIDs(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestInbound_DuplicateAckedNotRedelivered(t *testing.T) {
	d, s, ev := newDispatcher(t, dispatch.Config{})
	for i := 0; i < 3; i++ {
		if err := d.HandleNode(msgNode("A", "alice", 1)); err != nil {
			t.Fatalf("HandleNode: %v", err)
		}
	}
	if ids := ev.drainIDs(); !equalIDs(ids, "A") {
		t.Fatalf("delivered %v", ids)
	}
	acks := s.byTag(channel.TagAck)
	if len(acks) != 3 {
		t.Fatalf("got %d acks, want 3", len(acks))
	}
	if acks[0].AttrText("id") != "A" || acks[0].AttrText("to") != "alice" {
		t.Fatalf("bad ack %s", acks[0])
	}
}

func TestInbound_DedupWindowEvictsOldest(t *testing.T) {
	d, _, ev := newDispatcher(t, dispatch.Config{DedupWindow: 2})
	for i, id := range []string{"a", "b", "c", "a"} {
		d.HandleNode(wire.NewBinary(channel.TagMessage, wire.Attrs{
			"id": wire.Text(id), "from": wire.Text("alice"),
		}, []byte{byte(i)}))
	}
	if ids := ev.drainIDs(); !equalIDs(ids, "a", "b", "c", "a") {
		t.Fatalf("delivered %v", ids)
	}
}

func TestInbound_ReordersPerPeer(t *testing.T) {
	d, _, ev := newDispatcher(t, dispatch.Config{})
	d.HandleNode(msgNode("m1", "alice", 1))
	d.HandleNode(msgNode("m3", "alice", 3))
	d.HandleNode(msgNode("b1", "bob", 7))
	d.HandleNode(msgNode("m4", "alice", 4))
	if ids := ev.drainIDs(); !equalIDs(ids, "m1", "b1") {
		t.Fatalf("delivered before gap filled: %v", ids)
	}
	d.HandleNode(msgNode("m2", "alice", 2))
	if ids := ev.drainIDs(); !equalIDs(ids, "m2", "m3", "m4") {
		t.Fatalf("delivered %v", ids)
	}
}

func TestInbound_ReorderWindowOverflowSkipsGap(t *testing.T) {
	d, _, ev := newDispatcher(t, dispatch.Config{ReorderWindow: 2})
	d.HandleNode(msgNode("m1", "alice", 1))
	d.HandleNode(msgNode("m4", "alice", 4))
	d.HandleNode(msgNode("m5", "alice", 5))
	if ids := ev.drainIDs(); !equalIDs(ids, "m1") {
		t.Fatalf("delivered %v", ids)
	}
	d.HandleNode(msgNode("m6", "alice", 6))
	if ids := ev.drainIDs(); !equalIDs(ids, "m4", "m5", "m6") {
		t.Fatalf("delivered %v", ids)
	}

	// A straggler from the skipped gap is delivered at once.
	d.HandleNode(msgNode("m2", "alice", 2))
	if ids := ev.drainIDs(); !equalIDs(ids, "m2") {
		t.Fatalf("late arrival: %v", ids)
	}
}

func TestInbound_GapTimeout(t *testing.T) {
	d, _, ev := newDispatcher(t, dispatch.Config{GapTimeout: 40 * time.Millisecond})
	runDispatcher(t, d)

	d.HandleNode(msgNode("m1", "alice", 1))
	d.HandleNode(msgNode("m3", "alice", 3))
	got := []string{(<-ev.msgs).ID.String()}
	select {
	case m := <-ev.msgs:
		got = append(got, m.ID.String())
	case <-time.After(5 * time.Second):
		t.Fatal("gap never timed out")
	}
	if !equalIDs(got, "m1", "m3") {
		t.Fatalf("delivered %v", got)
	}
}

func TestInbound_MalformedIsDecodeError(t *testing.T) {
	d, s, _ := newDispatcher(t, dispatch.Config{})
	err := d.HandleNode(wire.New(channel.TagMessage, wire.Attrs{"id": wire.Text("x")}))
	if !errors.Is(err, domain.DecodeError{}) {
		t.Fatalf("want DecodeError, got %v", err)
	}
	if len(s.byTag(channel.TagAck)) != 0 {
		t.Fatal("acked a malformed message")
	}
}

func TestOutbound_SendAckOrder(t *testing.T) {
	d, s, ev := newDispatcher(t, dispatch.Config{})
	runDispatcher(t, d)

	e1, err := d.Enqueue("bob", "one")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	e2, _ := d.Enqueue("carol", "two")
	e3, _ := d.Enqueue("bob", "three")
	if e1.Seq >= e2.Seq || e2.Seq >= e3.Seq {
		t.Fatalf("seq not monotonic: %d %d %d", e1.Seq, e2.Seq, e3.Seq)
	}
	if e1.DestSeq != 1 || e2.DestSeq != 1 || e3.DestSeq != 2 {
		t.Fatalf("dest seq: %d %d %d", e1.DestSeq, e2.DestSeq, e3.DestSeq)
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(s.byTag(channel.TagMessage)); n != 0 {
		t.Fatalf("sent %d messages before authentication", n)
	}

	d.SetAuthenticated(true, 1)
	waitFor(t, func() bool { return len(s.byTag(channel.TagMessage)) == 3 })
	sent := s.byTag(channel.TagMessage)
	for i, e := range []domain.OutboundEntry{e1, e2, e3} {
		if sent[i].AttrText("id") != string(e.ID) {
			t.Fatalf("send %d is %s, want %s", i, sent[i].AttrText("id"), e.ID)
		}
	}

	d.HandleNode(wire.New(channel.TagAck, wire.Attrs{"id": wire.Text(string(e2.ID))}))
	got := ev.nextDelivery(t)
	if got.status != domain.DeliveryAcked || got.entry.ID != e2.ID {
		t.Fatalf("delivery %+v", got)
	}
	if p := d.Pending(); len(p) != 2 || p[0].ID != e1.ID || p[1].ID != e3.ID {
		t.Fatalf("pending %v", p)
	}
}

func TestOutbound_ResendOnNewEpoch(t *testing.T) {
	d, s, _ := newDispatcher(t, dispatch.Config{})
	runDispatcher(t, d)
	d.SetAuthenticated(true, 1)

	e1, _ := d.Enqueue("bob", "one")
	e2, _ := d.Enqueue("bob", "two")
	waitFor(t, func() bool { return len(s.byTag(channel.TagMessage)) == 2 })
	d.HandleNode(wire.New(channel.TagAck, wire.Attrs{"id": wire.Text(string(e1.ID))}))

	d.SetAuthenticated(false, 1)
	d.SetAuthenticated(true, 2)
	waitFor(t, func() bool { return len(s.byTag(channel.TagMessage)) == 3 })
	sent := s.byTag(channel.TagMessage)
	if sent[2].AttrText("id") != string(e2.ID) {
		t.Fatalf("resent %s, want first unacked %s", sent[2].AttrText("id"), e2.ID)
	}
	if p := d.Pending(); len(p) != 1 || p[0].Attempts != 2 {
		t.Fatalf("pending %+v", p)
	}
}

func TestOutbound_RetryCeiling(t *testing.T) {
	d, s, ev := newDispatcher(t, dispatch.Config{
		AckTimeout:   20 * time.Millisecond,
		RetryCeiling: 3,
	})
	runDispatcher(t, d)
	d.SetAuthenticated(true, 1)

	e, _ := d.Enqueue("bob", "hello?")
	got := ev.nextDelivery(t)
	if got.status != domain.DeliveryFailed || got.entry.ID != e.ID || !errors.Is(got.err, dispatch.ErrRetryCeiling) {
		t.Fatalf("delivery %+v", got)
	}
	if n := len(s.byTag(channel.TagMessage)); n != 3 {
		t.Fatalf("sent %d times, want 3", n)
	}
	if len(d.Pending()) != 0 {
		t.Fatal("failed entry still pending")
	}
}

func TestOutbound_SendFailureRetriesLater(t *testing.T) {
	d, s, _ := newDispatcher(t, dispatch.Config{})
	runDispatcher(t, d)
	s.mu.Lock()
	s.err = errors.New("socket gone")
	s.mu.Unlock()

	d.SetAuthenticated(true, 1)
	d.Enqueue("bob", "one")
	time.Sleep(20 * time.Millisecond)

	s.mu.Lock()
	s.err = nil
	s.mu.Unlock()
	d.SetAuthenticated(true, 2)
	waitFor(t, func() bool { return len(s.byTag(channel.TagMessage)) == 1 })
}

func TestOutbound_QueueFull(t *testing.T) {
	d, _, _ := newDispatcher(t, dispatch.Config{MaxQueue: 2})
	d.Enqueue("bob", "1")
	d.Enqueue("bob", "2")
	if _, err := d.Enqueue("bob", "3"); !errors.Is(err, dispatch.ErrQueueFull) {
		t.Fatalf("want ErrQueueFull, got %v", err)
	}
	if _, err := d.Enqueue("", "x"); !errors.Is(err, dispatch.ErrEmptyDestination) {
		t.Fatalf("want ErrEmptyDestination, got %v", err)
	}
}

func TestReset_FailsQueuedAndForgetsPeers(t *testing.T) {
	d, _, ev := newDispatcher(t, dispatch.Config{})
	d.HandleNode(msgNode("A", "alice", 1))
	e, _ := d.Enqueue("bob", "x")

	d.Reset()
	got := ev.nextDelivery(t)
	if got.entry.ID != e.ID || !errors.Is(got.err, dispatch.ErrDiscarded) {
		t.Fatalf("delivery %+v", got)
	}
	ev.drainIDs()
	d.HandleNode(msgNode("A", "alice", 1))
	if ids := ev.drainIDs(); !equalIDs(ids, "A") {
		t.Fatalf("after reset delivered %v", ids)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}
