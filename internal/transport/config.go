package transport

import (
	"time"

	"github.com/decred/slog"

	"wabridge/internal/metrics"
)

const (
	DefaultKeepaliveInterval = 20 * time.Second
	DefaultReadTimeout       = 45 * time.Second
	DefaultHandshakeTimeout  = 20 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultClientName        = "wabridge"
)

// Config tunes a Conn.
type Config struct {
	// URL of the relay websocket endpoint.
	URL string

	ClientName     string
	Browser        string
	BrowserVersion string

	KeepaliveInterval time.Duration
	ReadTimeout       time.Duration
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	Backoff           Backoff

	// CompressAbove compresses sealed payloads larger than this many bytes.
	CompressAbove int

	Dialer Dialer
	Log    slog.Logger
	Stats  *metrics.Stats
}

func (cfg *Config) setDefaults() {
	if cfg.ClientName == "" {
		cfg.ClientName = DefaultClientName
	}
	if cfg.Browser == "" {
		cfg.Browser = "Chrome"
	}
	if cfg.BrowserVersion == "" {
		cfg.BrowserVersion = "120"
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = WebsocketDialer{HandshakeTimeout: cfg.HandshakeTimeout}
	}
	if cfg.Log == nil {
		cfg.Log = slog.Disabled
	}
}
