// Package app wires the coachhub server runtime: config, logging, storage, HTTP routes and the realtime gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"coachhub/cmd/identity"
	"coachhub/cmd/internal/api"
	"coachhub/cmd/internal/messaging"
	"coachhub/cmd/internal/realtime"
	"coachhub/cmd/security/token"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App is the coachhub server runtime: it owns the storage lifecycle and HTTP wiring.
type App struct {
	cfg Config
	log Logger

	store  *messaging.Store
	core   *messaging.Core
	dbPool *pgxpool.Pool

	registry *prometheus.Registry
	ws       *realtime.WSGateway
	api      *api.Handler
	verifier *token.Verifier
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if cfg.DatabaseURL != "" {
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.dbPool = pool
		log.Info("db.enabled", "schema", cfg.DBSchema)
	} else {
		log.Info("db.disabled")
	}

	if err := a.wire(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	backend, err := a.newBackend(ctx)
	if err != nil {
		return err
	}

	feed, err := a.newFeed()
	if err != nil {
		_ = backend.Close()
		return err
	}

	store, err := messaging.NewStore(backend, feed,
		messaging.WithLogger(a.log),
		messaging.WithMetrics(messaging.NewMetrics(a.registry)),
	)
	if err != nil {
		_ = feed.Close()
		_ = backend.Close()
		return err
	}
	a.store = store

	roster, err := a.newRoster(ctx)
	if err != nil {
		return err
	}

	core, err := messaging.NewCore(store, roster, messaging.Options{
		SearchDebounce: a.cfg.SearchDebounce,
		MatchWindow:    a.cfg.MatchWindow,
	})
	if err != nil {
		return err
	}
	a.core = core

	verifier, err := a.newVerifier()
	if err != nil {
		return err
	}
	a.verifier = verifier

	ws, err := realtime.NewWSGateway(a.log, core, verifier, a.cfg.WS)
	if err != nil {
		return err
	}
	a.ws = ws

	h, err := api.NewHandler(a.log, core, verifier, api.Config{
		RateLimit:  a.cfg.APIRateLimit,
		RateWindow: a.cfg.APIRateWindow,
	})
	if err != nil {
		return err
	}
	a.api = h
	return nil
}

func (a *App) newBackend(ctx context.Context) (messaging.Backend, error) {
	switch a.cfg.Store {
	case "", StoreMemory:
		a.log.Info("store.memory")
		return messaging.NewMemoryBackend(), nil
	case StorePebble:
		a.log.Info("store.pebble", "dir", a.cfg.PebbleDir)
		return messaging.OpenPebbleBackend(a.cfg.PebbleDir)
	case StorePostgres:
		if a.dbPool == nil {
			return nil, errors.New("store postgres requires COACHHUB_DATABASE_URL")
		}
		b, err := messaging.NewPostgresBackend(a.dbPool, messaging.WithSchema(a.cfg.DBSchema))
		if err != nil {
			return nil, err
		}
		if err := b.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		a.log.Info("store.postgres", "schema", a.cfg.DBSchema)
		return b, nil
	default:
		return nil, fmt.Errorf("unknown store %q", a.cfg.Store)
	}
}

func (a *App) newFeed() (messaging.ChangeFeed, error) {
	switch a.cfg.Feed {
	case "", FeedLocal:
		return messaging.NewLocalFeed(a.log), nil
	case FeedNATS:
		if a.cfg.NATSURL == "" {
			return nil, errors.New("feed nats requires COACHHUB_NATS_URL")
		}
		return messaging.ConnectNATSFeed(messaging.NATSFeedConfig{
			URL:           a.cfg.NATSURL,
			SubjectPrefix: a.cfg.NATSSubjectPrefix,
			Name:          "coachhub",
		}, a.log)
	default:
		return nil, fmt.Errorf("unknown feed %q", a.cfg.Feed)
	}
}

func (a *App) newRoster(ctx context.Context) (identity.Roster, error) {
	if a.dbPool != nil {
		r, err := identity.NewPostgresRoster(a.dbPool, identity.WithRosterSchema(a.cfg.DBSchema))
		if err != nil {
			return nil, err
		}
		if err := r.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return r, nil
	}
	if a.cfg.RosterFile != "" {
		r, err := identity.LoadStaticRoster(a.cfg.RosterFile)
		if err != nil {
			return nil, fmt.Errorf("load roster: %w", err)
		}
		a.log.Info("roster.static", "file", a.cfg.RosterFile)
		return r, nil
	}
	a.log.Warn("roster.empty")
	return identity.NewStaticRoster(), nil
}

func (a *App) newVerifier() (*token.Verifier, error) {
	key := []byte(a.cfg.JWTKey)
	if len(key) == 0 {
		var err error
		key, err = token.KeyFromEnv(0)
		if err != nil {
			return nil, fmt.Errorf("jwt key: %w", err)
		}
	}
	return token.NewVerifier(key)
}

// Handler returns the fully wired HTTP handler.
func (a *App) Handler() http.Handler {
	return newRouter(routeDeps{
		log:       a.log,
		cfg:       a.cfg,
		dbPool:    a.dbPool,
		dbEnabled: a.dbPool != nil,
		metrics:   a.registry,
		ws:        a.ws.HandleWS,
		api:       a.api.Routes(),
	})
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "store", a.cfg.Store, "feed", a.cfg.Feed, "db_enabled", a.dbPool != nil)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		a.close()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
	}
	a.close()

	a.log.Info("server.stopped")
	return err
}

// Close releases storage resources. Safe to call when Run was never started.
func (a *App) Close() { a.close() }

func (a *App) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Error("store.close.fail", "err", err)
		}
		a.store = nil
	}
	if a.dbPool != nil {
		a.dbPool.Close()
		a.dbPool = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
