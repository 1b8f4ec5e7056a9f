// The gateway binary runs the edge process: auth guard, distributed
// rate limiting and reverse-proxy dispatch to the backend services.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/avelis/socialmesh/internal/config"
	"github.com/avelis/socialmesh/internal/gateway"
	"github.com/avelis/socialmesh/internal/observability"
	"github.com/avelis/socialmesh/internal/ratelimit"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "gateway.yaml", "path to the gateway configuration file")
	flag.Parse()

	cfg, err := config.LoadGateway(*configPath)
	if err != nil {
		observability.MustLogger(observability.DefaultLogConfig()).
			Fatal("load configuration", observability.Error(err))
	}

	logger := observability.MustLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = redisClient.Close() }()

	// The counter store is the source of truth across gateway
	// instances; the in-process limiter only covers store outages.
	limiter := ratelimit.NewFailoverLimiter(
		ratelimit.NewRedisLimiter(redisClient,
			cfg.RateLimit.Requests, cfg.RateLimit.Window.Duration(),
			ratelimit.WithLogger(logger)),
		ratelimit.NewMemoryLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window.Duration()),
		logger,
	)

	gw, err := gateway.New(cfg,
		gateway.WithLogger(logger),
		gateway.WithLimiter(limiter),
	)
	if err != nil {
		logger.Fatal("build gateway", observability.Error(err))
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("gateway listening", observability.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("serve", observability.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", observability.Error(err))
	}
}
