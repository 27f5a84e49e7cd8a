package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/coldbell/tradelens/backend/internal/apiserver"
	"github.com/coldbell/tradelens/backend/internal/config"
	"github.com/coldbell/tradelens/backend/internal/indexer"
	"github.com/coldbell/tradelens/backend/internal/logging"
	"github.com/coldbell/tradelens/backend/internal/metrics"
	"github.com/coldbell/tradelens/backend/internal/ratelimit"
	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"
)

func main() {
	bootstrapLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.LoadAPIServerConfig()
	if err != nil {
		bootstrapLogger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger, closeLogger, err := logging.New("api-server", cfg.Log)
	if err != nil {
		bootstrapLogger.Error("failed to initialize logger", "err", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := closeLogger(); closeErr != nil {
			bootstrapLogger.Error("failed to close logger", "err", closeErr)
		}
	}()

	if source, sourceErr := config.CurrentConfigSource(); sourceErr == nil {
		logger.Info("configuration loaded", "phase", source.Phase, "path", source.Path, "loaded", source.Loaded)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metrics.NewRegistry()
	m := metrics.New(registry)

	backend, err := indexer.Open(cfg.Sync, indexer.Options{}, m, logger)
	if err != nil {
		logger.Error("failed to initialize sync pipeline", "err", err)
		os.Exit(1)
	}

	limiter, closeLimiter, err := newLimiter(ctx, cfg.RateLimit, logger)
	if err != nil {
		logger.Error("failed to initialize rate limiter", "err", err)
		_ = backend.Close()
		os.Exit(1)
	}
	defer closeLimiter()

	svc, err := apiserver.New(cfg, apiserver.Deps{
		Backend:  backend,
		Limiter:  limiter,
		Metrics:  m,
		Registry: registry,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize api-server service", "err", err)
		_ = backend.Close()
		os.Exit(1)
	}

	if err := svc.Run(ctx); err != nil {
		logger.Error("api-server exited with error", "err", err)
		os.Exit(1)
	}
}

func newLimiter(ctx context.Context, cfg config.RateLimitConfig, logger *slog.Logger) (ratelimit.Limiter, func(), error) {
	policy := ratelimit.Policy{MaxRequests: cfg.MaxRequests, Window: cfg.Window}

	switch cfg.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		logger.Info("rate limiter configured", "backend", "redis", "addr", cfg.RedisAddr,
			"max_requests", policy.MaxRequests, "window", policy.Window)
		return ratelimit.NewRedis(client, policy, cfg.RedisPrefix), func() {
			if err := client.Close(); err != nil {
				logger.Error("failed to close redis client", "err", err)
			}
		}, nil
	default:
		limiter := ratelimit.NewMemory(policy)
		go limiter.RunSweeper(ctx, cfg.SweepInterval, logger)
		logger.Info("rate limiter configured", "backend", "memory",
			"max_requests", policy.MaxRequests, "window", policy.Window)
		return limiter, func() {}, nil
	}
}
