package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"taskboard/internal/config"
	"taskboard/internal/engine"
	"taskboard/internal/logging"
	"taskboard/internal/ratelimit"
	"taskboard/internal/seed"
	"taskboard/internal/server"
)

const shutdownTimeout = 5 * time.Second

// Runtime is one board wired to its HTTP surface and background workers.
type Runtime struct {
	Config   *config.Config
	Engine   *engine.Engine
	Handler  http.Handler
	Webhooks *server.WebhookDispatcher
	logger   zerolog.Logger
}

// Build loads the seed named by cfg (resolved against dir) or the embedded default,
// and wires the engine, rate limiter, HTTP handler and webhook dispatcher.
// The dispatcher stops when ctx is cancelled.
func Build(ctx context.Context, dir string, cfg *config.Config, logger zerolog.Logger) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	ds, err := loadSeed(dir, cfg.Seed.Path)
	if err != nil {
		return nil, err
	}
	e := engine.New(ds, logger)

	var limiter ratelimit.Limiter = ratelimit.Unlimited{}
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.NewTokenBucket(cfg.RateLimit.Burst, cfg.Refill())
	}
	handler, err := server.New(server.Config{
		Engine:       e,
		BasePath:     cfg.Server.BasePath,
		Limiter:      limiter,
		AllowReset:   cfg.Server.AllowReset,
		Heartbeat:    cfg.Heartbeat(),
		StreamBuffer: cfg.Server.Stream.Buffer,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	return &Runtime{
		Config:   cfg,
		Engine:   e,
		Handler:  handler,
		Webhooks: server.StartWebhookDispatcher(ctx, e, cfg.Webhooks, logger),
		logger:   logger,
	}, nil
}

func loadSeed(dir, path string) (seed.Dataset, error) {
	now := time.Now().UTC()
	if path == "" {
		return seed.Default(now)
	}
	if !filepath.IsAbs(path) && dir != "" {
		path = filepath.Join(dir, path)
	}
	ds, err := seed.FromFile(path, now)
	if err != nil {
		return seed.Dataset{}, fmt.Errorf("load seed %s: %w", path, err)
	}
	return ds, nil
}

// Serve runs the HTTP server on ln until ctx is cancelled, then shuts down gracefully.
// Request contexts derive from ctx so open streams end with it.
func (rt *Runtime) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           rt.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		rt.logger.Warn().Err(err).Msg("graceful shutdown timed out")
		srv.Close()
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Apply takes the settings from a reloaded config that can change without a restart.
func (rt *Runtime) Apply(cfg *config.Config) {
	if err := logging.SetLevel(cfg.Log.Level); err != nil {
		rt.logger.Warn().Err(err).Msg("ignoring log level from reloaded config")
		return
	}
	rt.logger.Info().Str("level", cfg.Log.Level).Msg("config reloaded")
}

// WatchConfig applies changes to the config file at path until ctx is cancelled.
func (rt *Runtime) WatchConfig(ctx context.Context, path string) error {
	return config.Watch(ctx, path, rt.Apply, func(err error) {
		rt.logger.Warn().Err(err).Str("path", path).Msg("config reload failed")
	})
}
