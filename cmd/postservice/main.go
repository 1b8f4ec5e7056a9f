// The postservice binary runs the posts backend: SQLite storage, the
// Redis cache-aside layer and post.created/post.deleted publications.
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

	"github.com/avelis/socialmesh/internal/cache"
	"github.com/avelis/socialmesh/internal/config"
	"github.com/avelis/socialmesh/internal/events"
	"github.com/avelis/socialmesh/internal/observability"
	"github.com/avelis/socialmesh/internal/postsvc"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "postservice.yaml", "path to the post service configuration file")
	flag.Parse()

	cfg, err := config.LoadPostService(*configPath)
	if err != nil {
		observability.MustLogger(observability.DefaultLogConfig()).
			Fatal("load configuration", observability.Error(err))
	}

	logger := observability.MustLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	store, err := postsvc.OpenStore(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("open store", observability.Error(err))
	}
	defer func() { _ = store.Close() }()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	postCache := cache.NewRedis(redisClient, cache.WithLogger(logger))
	defer func() { _ = postCache.Close() }()

	// A broker that cannot be reached at boot is fatal; a broker that
	// dies later only costs events.
	broker, err := events.DialAMQP(cfg.Broker.URL, events.WithBrokerLogger(logger))
	if err != nil {
		logger.Fatal("connect broker", observability.Error(err))
	}
	defer func() { _ = broker.Close() }()

	svc := postsvc.NewService(store, postCache, broker,
		postsvc.WithLogger(logger),
		postsvc.WithTTLs(cfg.PostTTL.Duration(), cfg.ListingTTL.Duration()),
	)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	svc.Register(engine)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("post service listening", observability.String("addr", cfg.ListenAddr))
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
