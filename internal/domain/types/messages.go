package types

import "time"

// OutboundEntry is an application message waiting for relay acknowledgement.
type OutboundEntry struct {
	Seq         uint64    `json:"seq"`
	DestSeq     uint64    `json:"dest_seq"`
	ID          MessageID `json:"id"`
	Destination JID       `json:"to"`
	Text        string    `json:"text"`
	Attempts    int       `json:"attempts"`
	QueuedAt    time.Time `json:"queued_at"`
}

// InboundMessage is a decrypted, deduplicated application message.
type InboundMessage struct {
	ID        MessageID `json:"id"`
	From      JID       `json:"from"`
	Seq       uint64    `json:"seq"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// DeliveryStatus is the final outcome of an OutboundEntry.
type DeliveryStatus int

const (
	DeliveryAcked DeliveryStatus = iota + 1
	DeliveryFailed
)

func (s DeliveryStatus) String() string {
	switch s {
	case DeliveryAcked:
		return "acked"
	case DeliveryFailed:
		return "failed"
	default:
		return "unknown"
	}
}
