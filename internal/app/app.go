// Package app wires the store, hub and transport into a runnable server.
package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"

	"github.com/rs/zerolog"

	"github.com/tg11/boundless/internal/access"
	"github.com/tg11/boundless/internal/auth"
	"github.com/tg11/boundless/internal/config"
	"github.com/tg11/boundless/internal/core"
	"github.com/tg11/boundless/internal/metrics"
	"github.com/tg11/boundless/internal/store/sqlite"
	transporthttp "github.com/tg11/boundless/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	cfg    *config.Config
	server *stdhttp.Server
	hub    *core.Hub
	store  *sqlite.SQLiteStore
	auth   *auth.Service
	log    *zerolog.Logger
}

// JWTConfig derives the token settings from cfg.
func JWTConfig(cfg *config.Config) *auth.JWTConfig {
	return &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	}
}

// OpenStore opens the configured database and brings its schema up to date.
func OpenStore(cfg *config.Config) (*sqlite.SQLiteStore, error) {
	st, err := sqlite.NewWithSetup(cfg.DatabasePath, sqlite.Migrate)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	return st, nil
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	m := metrics.New()
	policy := access.NewPolicy(st, m)
	hub := core.NewHub(st, st, policy, core.Options{
		QueueSize:    cfg.SendQueueSize,
		MaxBodyChars: cfg.MaxBodyChars,
		HistoryLimit: cfg.HistoryLimit,
		Metrics:      m,
		Logger:       logger,
	})
	authService := auth.NewService(st, JWTConfig(cfg))

	server := transporthttp.NewServer(transporthttp.Deps{
		Hub:     hub,
		Auth:    authService,
		Metrics: m,
	}, cfg, logger)

	return &App{
		cfg:    cfg,
		server: server,
		hub:    hub,
		store:  st,
		auth:   authService,
		log:    logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go a.hub.Run(hubCtx)

	serverErr := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", a.cfg.Addr).Msg("listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		stopHub()
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()

		// Hijacked websocket connections are not tracked by Shutdown; closing
		// the sessions first lets their handlers return.
		stopHub()
		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
