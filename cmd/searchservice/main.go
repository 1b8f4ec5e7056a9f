// The searchservice binary runs the search backend: the FTS index,
// the query endpoint and the post.created/post.deleted consumers.
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

	"github.com/avelis/socialmesh/internal/config"
	"github.com/avelis/socialmesh/internal/events"
	"github.com/avelis/socialmesh/internal/observability"
	"github.com/avelis/socialmesh/internal/searchsvc"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "searchservice.yaml", "path to the search service configuration file")
	flag.Parse()

	cfg, err := config.LoadSearchService(*configPath)
	if err != nil {
		observability.MustLogger(observability.DefaultLogConfig()).
			Fatal("load configuration", observability.Error(err))
	}

	logger := observability.MustLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	store, err := searchsvc.OpenStore(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("open store", observability.Error(err))
	}
	defer func() { _ = store.Close() }()

	broker, err := events.DialAMQP(cfg.Broker.URL, events.WithBrokerLogger(logger))
	if err != nil {
		logger.Fatal("connect broker", observability.Error(err))
	}
	defer func() { _ = broker.Close() }()

	svc := searchsvc.NewService(store, logger)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	svc.Register(engine)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Events are the only write path into the index.
	go func() {
		if err := svc.RunConsumers(ctx, broker); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("event consumers stopped", observability.Error(err))
		}
	}()

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("search service listening", observability.String("addr", cfg.ListenAddr))
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
