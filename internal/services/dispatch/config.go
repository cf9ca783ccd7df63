package dispatch

import (
	"time"

	"github.com/decred/slog"

	"wabridge/internal/metrics"
)

const (
	DefaultDedupWindow   = 512
	DefaultReorderWindow = 32
	DefaultGapTimeout    = 5 * time.Second
	DefaultAckTimeout    = 15 * time.Second
	DefaultRetryCeiling  = 5
	DefaultMaxQueue      = 1024
)

// Config tunes a Dispatcher.
type Config struct {
	// DedupWindow is how many recent message ids are remembered per peer.
	DedupWindow int

	// ReorderWindow is how many out of order messages are buffered per
	// peer before a gap is declared missing.
	ReorderWindow int

	// GapTimeout is how long the oldest buffered message waits for a gap
	// to fill.
	GapTimeout time.Duration

	AckTimeout   time.Duration
	RetryCeiling int
	MaxQueue     int

	Log   slog.Logger
	Stats *metrics.Stats

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func (cfg *Config) setDefaults() {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = DefaultDedupWindow
	}
	if cfg.ReorderWindow <= 0 {
		cfg.ReorderWindow = DefaultReorderWindow
	}
	if cfg.GapTimeout <= 0 {
		cfg.GapTimeout = DefaultGapTimeout
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}
	if cfg.RetryCeiling <= 0 {
		cfg.RetryCeiling = DefaultRetryCeiling
	}
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = DefaultMaxQueue
	}
	if cfg.Log == nil {
		cfg.Log = slog.Disabled
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
}
