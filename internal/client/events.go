package client

import (
	"sync"

	"wabridge/internal/domain"
)

// Event is one of MessageEvent, PairingPayloadEvent, StateEvent,
// DeliveryEvent or ErrorEvent.
type Event interface {
	event()
}

// MessageEvent carries a new inbound message.
type MessageEvent struct {
	Message domain.InboundMessage
}

// PairingPayloadEvent carries a payload to render for scanning.
type PairingPayloadEvent struct {
	Payload string
}

// StateEvent reports a connection state change.
type StateEvent struct {
	State domain.ConnectionState
	Epoch uint64
}

// DeliveryEvent reports the final outcome of a sent message.
type DeliveryEvent struct {
	Entry  domain.OutboundEntry
	Status domain.DeliveryStatus
	Err    error
}

// ErrorEvent reports an error. Fatal errors ended the connection and need
// operator action or a new Connect.
type ErrorEvent struct {
	Err   error
	Fatal bool
}

func (MessageEvent) event()        {}
func (PairingPayloadEvent) event() {}
func (StateEvent) event()          {}
func (DeliveryEvent) event()       {}
func (ErrorEvent) event()          {}

// Subscription receives every event published after it was created, in
// publication order. Its queue is unbounded so publishers never block.
type Subscription struct {
	bus *bus
	out chan Event

	mu     sync.Mutex
	queue  []Event
	wake   chan struct{}
	closed bool
	done   chan struct{}
}

// Events returns the delivery channel. It is closed after Close.
func (s *Subscription) Events() <-chan Event { return s.out }

// Close stops delivery and closes the Events channel.
func (s *Subscription) Close() {
	s.bus.remove(s)
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	s.mu.Unlock()
}

func (s *Subscription) push(e Event) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, e)
	}
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		queue := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, e := range queue {
			select {
			case s.out <- e:
			case <-s.done:
				return
			}
		}
		if len(queue) > 0 {
			continue
		}
		select {
		case <-s.wake:
		case <-s.done:
			return
		}
	}
}

// bus fans events out to subscriptions.
type bus struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func newBus() *bus {
	return &bus{subs: make(map[*Subscription]struct{})}
}

func (b *bus) subscribe(buffer int) *Subscription {
	if buffer < 0 {
		buffer = 0
	}
	s := &Subscription{
		bus:  b,
		out:  make(chan Event, buffer),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	go s.pump()
	return s
}

func (b *bus) remove(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

// publish is serialised by mu so every subscriber sees the same order.
func (b *bus) publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		s.push(e)
	}
}

func (b *bus) closeAll() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[*Subscription]struct{})
	b.mu.Unlock()
	for s := range subs {
		s.Close()
	}
}
