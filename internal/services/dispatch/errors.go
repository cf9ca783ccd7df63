package dispatch

import "errors"

var (
	// ErrQueueFull is returned by Enqueue when MaxQueue entries are pending.
	ErrQueueFull = errors.New("outbound queue is full")

	ErrEmptyDestination = errors.New("empty destination")

	// ErrRetryCeiling is reported for entries that were never acked.
	ErrRetryCeiling = errors.New("retry ceiling reached without ack")

	// ErrDiscarded is reported for entries dropped by Reset.
	ErrDiscarded = errors.New("entry discarded with the session")
)
