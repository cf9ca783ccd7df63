package app

import (
	"context"
	"errors"
	"net/http"

	"github.com/decred/slog"

	"wabridge/internal/client"
	"wabridge/internal/domain"
	"wabridge/internal/logging"
	"wabridge/internal/metrics"
	"wabridge/internal/store"
)

// App is the wired engine one CLI invocation works with.
type App struct {
	Config Config
	Logs   *logging.Backend
	Log    slog.Logger
	Store  *store.FileStore
	IDs    domain.IdentityService
	Stats  *metrics.Stats
	Client *client.Client
}

// ServeMetrics exposes the metrics on MetricsAddr until ctx ends. It is a
// no-op when no address is configured.
func (a *App) ServeMetrics(ctx context.Context) error {
	if a.Config.MetricsAddr == "" {
		return nil
	}
	a.Log.Infof("Serving metrics on %s", a.Config.MetricsAddr)
	err := a.Stats.Serve(ctx, a.Config.MetricsAddr)
	if errors.Is(err, http.ErrServerClosed) || ctx.Err() != nil {
		return nil
	}
	return err
}

// Close stops the client and releases the store and log file.
func (a *App) Close() error {
	if a.Client != nil {
		a.Client.Stop()
	}
	var err error
	if a.Store != nil {
		err = a.Store.Close()
	}
	if a.Logs != nil {
		err = errors.Join(err, a.Logs.Close())
	}
	return err
}
