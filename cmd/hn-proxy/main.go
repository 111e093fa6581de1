package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/hn-best-stories/internal/config"
	"github.com/Sternrassler/hn-best-stories/pkg/cache"
	"github.com/Sternrassler/hn-best-stories/pkg/client"
	"github.com/Sternrassler/hn-best-stories/pkg/logging"
	"github.com/Sternrassler/hn-best-stories/pkg/ratelimit"
	"github.com/Sternrassler/hn-best-stories/pkg/stories"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

func run() error {
	cfg, err := config.Load(config.DefaultEnvFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup(cfg.Logging())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := connectRedis(ctx, cfg.Redis, logger)
	if rdb != nil {
		defer rdb.Close()
	}

	app, err := newApp(cfg, rdb, logger)
	if err != nil {
		return err
	}
	defer app.close()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.HTTPAddr).
			Str("upstream", cfg.Upstream.BaseURL).
			Str("user_agent", cfg.Upstream.UserAgent).
			Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// app is the wired service.
type app struct {
	handler  http.Handler
	upstream *client.Client
	limiter  *ratelimit.TokenBucket
}

func (a *app) close() {
	a.limiter.Close()
	a.upstream.Close()
}

// newApp wires caches, limiter, client and resolver. A nil rdb selects the
// in-process cache.
func newApp(cfg config.Config, rdb *redis.Client, logger zerolog.Logger) (*app, error) {
	cacheLogger := logger.With().Str("component", "cache").Logger()
	ids, err := cache.New[[]int](rdb, cache.DefaultPrefix, cache.DefaultMemorySize, cacheLogger)
	if err != nil {
		return nil, fmt.Errorf("create id list cache: %w", err)
	}
	items, err := cache.New[client.Item](rdb, cache.DefaultPrefix, cache.DefaultMemorySize, cacheLogger)
	if err != nil {
		return nil, fmt.Errorf("create item cache: %w", err)
	}

	upstream, err := client.New(cfg.Client(), logger)
	if err != nil {
		return nil, fmt.Errorf("create upstream client: %w", err)
	}

	limiter, err := ratelimit.NewTokenBucket(cfg.RateLimit(), logger)
	if err != nil {
		upstream.Close()
		return nil, fmt.Errorf("create rate limiter: %w", err)
	}

	resolver := stories.NewResolver(upstream, limiter, ids, items, cfg.Stories(), logger)

	s := &server{
		resolver:       resolver,
		requestTimeout: cfg.RequestTimeout,
		logger:         logger.With().Str("component", "http").Logger(),
	}
	if rdb != nil {
		s.ready = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	backend := cache.BackendMemory
	if rdb != nil {
		backend = cache.BackendRedis
	}
	logger.Info().
		Str("cache_backend", backend).
		Int("requests_per_second", cfg.Upstream.RequestsPerSecond).
		Int("max_concurrency", cfg.MaxConcurrency).
		Msg("Service wired")

	return &app{handler: newRouter(s), upstream: upstream, limiter: limiter}, nil
}

// connectRedis returns a client when Redis is configured and answers a
// ping within 2 seconds, otherwise nil.
func connectRedis(ctx context.Context, cfg config.Redis, logger zerolog.Logger) *redis.Client {
	if !cfg.Enabled() {
		logger.Info().Msg("REDIS_ADDR not set, using in-process cache")
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Addr).Msg("Redis unreachable, falling back to in-process cache")
		rdb.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Addr).Msg("Connected to Redis")
	return rdb
}
