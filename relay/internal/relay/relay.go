// Package relay is the orchestrator that ties the relay components together.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/token-beam/token-beam/pkg/protocol"
	"github.com/token-beam/token-beam/relay/internal/api"
	"github.com/token-beam/token-beam/relay/internal/auth"
	"github.com/token-beam/token-beam/relay/internal/config"
	"github.com/token-beam/token-beam/relay/internal/metrics"
	"github.com/token-beam/token-beam/relay/internal/router"
	"github.com/token-beam/token-beam/relay/internal/session"
	"github.com/token-beam/token-beam/relay/internal/store"
)

const purgeInterval = time.Hour

// Relay is the relay process.
type Relay struct {
	cfg      *config.Config
	store    store.Store
	registry *session.Registry
	router   *router.Router
	metrics  *metrics.Metrics
	api      *api.Server
	logger   *slog.Logger

	ready chan struct{}
	addr  net.Addr
}

// New creates a relay from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Relay, error) {
	db, err := store.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	var authProvider auth.Provider
	if cfg.Admin.Enabled() {
		authProvider, err = auth.NewProvider(cfg.Admin)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init admin auth: %w", err)
		}
	}

	r := &Relay{
		cfg:    cfg,
		store:  db,
		logger: logger.With("component", "relay"),
		ready:  make(chan struct{}),
	}

	r.registry = session.NewRegistry(session.Options{
		TokenBytes: cfg.Session.TokenBytes,
		Logger:     logger,
		OnClose: func(info session.Info, reason string) {
			r.router.SessionClosed(info, reason)
		},
	})
	if cfg.Metrics.Enabled {
		r.metrics = metrics.New(r.registry)
	}
	r.router = router.New(r.registry, logger, router.Options{
		MaxMessageBytes:   cfg.Session.MaxMessageBytes,
		MessagesPerSecond: cfg.RateLimit.MessagesPerSecond,
		MessageBurst:      cfg.RateLimit.MessageBurst,
		BlockedOrigins:    cfg.Security.BlockedOrigins,
		Store:             db,
		Metrics:           r.metrics,
	})
	r.api = api.NewServer(r.registry, r.router, db, authProvider, r.metrics, cfg, logger)

	if cfg.Server.TLSCert == "" {
		r.logger.Warn("TLS not configured, clients should connect through a TLS-terminating proxy in production")
	}
	if n := len(cfg.Security.BlockedOrigins); n > 0 {
		r.logger.Info("origin blocklist active", "entries", n)
	}
	return r, nil
}

// Ready is closed once the listener is bound.
func (r *Relay) Ready() <-chan struct{} { return r.ready }

// Addr returns the bound listener address. It is nil before Ready fires.
func (r *Relay) Addr() net.Addr { return r.addr }

// Run serves until ctx is cancelled, then drains connections and closes the
// store. It returns ctx.Err() after a clean shutdown.
func (r *Relay) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", r.cfg.Server.Addr)
	if err != nil {
		_ = r.store.Close()
		return fmt.Errorf("listen %s: %w", r.cfg.Server.Addr, err)
	}
	r.addr = ln.Addr()
	close(r.ready)

	srv := &http.Server{
		Handler:           r.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	r.registry.StartIdleSweeper(gctx, r.cfg.Session.SweepInterval.Duration, r.cfg.Session.IdleTimeout.Duration)
	r.api.StartBackgroundTasks(gctx)

	g.Go(func() error {
		r.logger.Info("relay listening", "addr", r.addr.String())
		var err error
		if r.cfg.Server.TLSCert != "" && r.cfg.Server.TLSKey != "" {
			err = srv.ServeTLS(ln, r.cfg.Server.TLSCert, r.cfg.Server.TLSKey)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	if retention := r.cfg.Storage.AuditRetention.Duration; retention > 0 {
		g.Go(func() error {
			r.runRetentionPurger(gctx, retention)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		r.shutdown(srv)
		return nil
	})

	err = g.Wait()
	r.logger.Info("closing store")
	_ = r.store.Close()
	if err != nil {
		return err
	}
	r.logger.Info("shutdown complete")
	return ctx.Err()
}

func (r *Relay) shutdown(srv *http.Server) {
	r.logger.Info("shutting down relay gracefully", "sessions", r.registry.Count())

	// Hijacked sockets are not tracked by http.Server, so close them first.
	r.router.Shutdown(protocol.ErrTextServerShuttingDown)

	grace := r.cfg.Server.ShutdownGrace.Duration
	if grace <= 0 {
		grace = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		r.logger.Warn("graceful shutdown failed, forcing close", "error", err)
		_ = srv.Close()
	} else {
		r.logger.Info("http server stopped gracefully")
	}
}

func (r *Relay) runRetentionPurger(ctx context.Context, retention time.Duration) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.purgeAudit(ctx, retention)
		}
	}
}

func (r *Relay) purgeAudit(ctx context.Context, retention time.Duration) {
	cutoff := time.Now().Add(-retention)
	if n, err := r.store.PurgeOldEvents(ctx, cutoff); err != nil {
		r.logger.Warn("retention purge: audit events failed", "error", err)
	} else if n > 0 {
		r.logger.Info("retention purge: deleted old audit events", "count", n)
	}
}
