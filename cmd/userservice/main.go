// The userservice binary runs the identity backend: registration,
// login, refresh-token rotation and logout.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/avelis/socialmesh/internal/auth"
	"github.com/avelis/socialmesh/internal/config"
	"github.com/avelis/socialmesh/internal/observability"
	"github.com/avelis/socialmesh/internal/ratelimit"
	"github.com/avelis/socialmesh/internal/usersvc"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "userservice.yaml", "path to the user service configuration file")
	flag.Parse()

	cfg, err := config.LoadUserService(*configPath)
	if err != nil {
		observability.MustLogger(observability.DefaultLogConfig()).
			Fatal("load configuration", observability.Error(err))
	}

	logger := observability.MustLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	store, err := usersvc.OpenStore(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("open store", observability.Error(err))
	}
	defer func() { _ = store.Close() }()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = redisClient.Close() }()

	burstLimiter := ratelimit.NewFailoverLimiter(
		ratelimit.NewRedisLimiter(redisClient,
			cfg.BurstLimit.Requests, cfg.BurstLimit.Window.Duration(),
			ratelimit.WithPrefix("ratelimit:identity:"),
			ratelimit.WithLogger(logger)),
		nil, logger,
	)
	registerLimiter := ratelimit.NewFailoverLimiter(
		ratelimit.NewRedisLimiter(redisClient,
			cfg.RegisterLimit.Requests, cfg.RegisterLimit.Window.Duration(),
			ratelimit.WithPrefix("ratelimit:register:"),
			ratelimit.WithLogger(logger)),
		nil, logger,
	)

	svc := usersvc.NewService(store,
		auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.AccessTTL.Duration()),
		usersvc.WithLogger(logger),
		usersvc.WithRefreshTTL(cfg.Auth.RefreshTTL.Duration()),
		usersvc.WithRegisterLimiter(registerLimiter),
	)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), ratelimit.Middleware(burstLimiter, nil))
	svc.Register(engine)

	runServer(cfg.ListenAddr, engine, logger)
}

func runServer(addr string, handler http.Handler, logger observability.Logger) {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("user service listening", observability.String("addr", addr))
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
