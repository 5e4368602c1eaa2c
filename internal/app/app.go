// Package app wires the server together: runtime keys, the pebble
// store, presence registry, dispatch engine, optional media and event
// integrations, the HTTP surface and the retention scheduler.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"chatrelay/pkg/banner"
	"chatrelay/pkg/config"
	"chatrelay/pkg/dispatch"
	"chatrelay/pkg/events"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/media"
	"chatrelay/pkg/presence"
	"chatrelay/pkg/session"
	"chatrelay/pkg/store"
	"chatrelay/pkg/telemetry"

	"chatrelay/internal/retention"
	"chatrelay/pkg/api"
)

// App encapsulates the server components and lifecycle.
type App struct {
	cfg     *config.Config
	version string

	registry *presence.Registry
	engine   *dispatch.Engine
	events   events.Publisher

	srv             *http.Server
	stopRetention   context.CancelFunc
	shutdownTimeout time.Duration
}

// New initializes everything that does not need a running context:
// runtime keys, the store, the engine and its integrations, and the
// HTTP server (not yet listening). Call Run to start serving.
func New(cfg *config.Config, version string) (*App, error) {
	if len(cfg.Security.SigningKeys) == 0 {
		return nil, fmt.Errorf("no signing keys configured; refusing to start with an unverifiable credential set")
	}

	config.SetRuntime(cfg.Runtime())

	if err := store.Open(cfg.Server.DBPath); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", cfg.Server.DBPath, err)
	}

	a := &App{cfg: cfg, version: version, registry: presence.NewRegistry(), shutdownTimeout: 10 * time.Second}

	var obj media.ObjectStore
	if cfg.Media.BaseURL != "" {
		timeout := time.Duration(cfg.Media.TimeoutMs) * time.Millisecond
		obj = media.NewClient(cfg.Media.BaseURL, cfg.Media.APIKey, timeout)
		logger.Info("media_store_configured", "base_url", cfg.Media.BaseURL)
	}

	if cfg.Events.URL != "" {
		pub, err := events.NewAMQP(cfg.Events.URL, cfg.Events.Exchange)
		if err != nil {
			return nil, fmt.Errorf("failed to connect event broker: %w", err)
		}
		a.events = pub
		logger.Info("event_mirror_configured", "exchange", cfg.Events.Exchange)
	}

	a.engine = dispatch.New(a.registry, obj, a.events)

	ws := session.Handler(a.engine, a.registry, session.Options{
		OutboundBuffer: cfg.Session.OutboundBuffer,
		SendRPS:        cfg.Session.SendRPS,
		SendBurst:      cfg.Session.SendBurst,
		PingInterval:   time.Duration(cfg.Session.PingSeconds) * time.Second,
		ReadLimit:      cfg.Session.ReadLimitBytes,
	})
	a.srv = &http.Server{Addr: cfg.Addr(), Handler: api.Router(cfg, ws)}

	return a, nil
}

// Run starts the retention scheduler and the HTTP server, then blocks
// until ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	banner.Print(a.cfg, a.version)

	stop, err := retention.Start(ctx, a.cfg.Retention)
	if err != nil {
		return err
	}
	a.stopRetention = stop

	stopSampler := telemetry.StartPebbleSampler(ctx, store.Metrics, 15*time.Second, 0)
	defer stopSampler()

	errCh := make(chan error, 1)
	go func() {
		cert := a.cfg.Server.TLS.CertFile
		key := a.cfg.Server.TLS.KeyFile
		if cert != "" && key != "" {
			errCh <- a.srv.ListenAndServeTLS(cert, key)
		} else {
			errCh <- a.srv.ListenAndServe()
		}
	}()
	logger.Info("server_listening", "addr", a.cfg.Addr())

	select {
	case <-ctx.Done():
		return a.shutdown()
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

// shutdown drains in dependency order: stop accepting HTTP, stop the
// retention scheduler, flush the event mirror, close the store last.
func (a *App) shutdown() error {
	logger.Info("server_stopping")
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()
	if err := a.srv.Shutdown(ctx); err != nil {
		logger.Warn("http_shutdown_failed", "error", err)
	}
	if a.stopRetention != nil {
		a.stopRetention()
	}
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			logger.Warn("event_mirror_close_failed", "error", err)
		}
	}
	if err := store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	logger.Info("server_stopped")
	return nil
}
