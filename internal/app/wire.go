package app

import (
	"context"
	"fmt"
	"io"

	"wabridge/internal/client"
	"wabridge/internal/logging"
	"wabridge/internal/metrics"
	"wabridge/internal/services/dispatch"
	"wabridge/internal/services/identity"
	"wabridge/internal/store"
	"wabridge/internal/transport"
)

// ClientConfig maps cfg onto the engine's options.
func ClientConfig(cfg Config, stats *metrics.Stats) client.Config {
	return client.Config{
		Transport: transport.Config{
			URL:               cfg.Relay,
			ClientName:        transport.DefaultClientName,
			Browser:           cfg.Browser,
			KeepaliveInterval: cfg.Keepalive,
			ReadTimeout:       cfg.ReadTimeout,
			CompressAbove:     cfg.CompressAbove,
			Backoff: transport.Backoff{
				Initial:    cfg.Backoff.Initial,
				Max:        cfg.Backoff.Max,
				Multiplier: cfg.Backoff.Multiplier,
				Jitter:     cfg.Backoff.Jitter,
				MaxRetries: cfg.Backoff.Retries,
			},
		},
		Dispatch: dispatch.Config{
			DedupWindow:   cfg.Dispatch.DedupWindow,
			ReorderWindow: cfg.Dispatch.ReorderWindow,
			GapTimeout:    cfg.Dispatch.GapTimeout,
			AckTimeout:    cfg.Dispatch.AckTimeout,
			RetryCeiling:  cfg.Dispatch.RetryCeiling,
			MaxQueue:      cfg.Dispatch.MaxQueue,
		},
		ScanTimeout: cfg.ScanTimeout,
		Stats:       stats,
	}
}

// NewWire builds the dependency graph from cfg. Logs go to stdout (may be
// nil) and the configured log file. The returned App owns the store lock
// until Close.
func NewWire(ctx context.Context, cfg Config, stdout io.Writer) (*App, error) {
	logs, err := logging.NewBackend(cfg.LogFile, cfg.DebugLevel, stdout)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Home, store.Options{
		Passphrase: cfg.Passphrase,
		Log:        logs.Logger(logging.SubsysStore),
	})
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("open session store: %w", err)
	}

	stats := metrics.New()
	c := client.New(ClientConfig(cfg, stats), st, client.WithLoggers(logs.Logger))

	return &App{
		Config: cfg,
		Logs:   logs,
		Log:    logs.Logger(logging.SubsysClient),
		Store:  st,
		IDs:    identity.New(st),
		Stats:  stats,
		Client: c,
	}, nil
}
