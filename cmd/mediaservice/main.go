// The mediaservice binary runs the media backend: uploads, blob
// serving and the post.deleted cleanup consumer.
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
	"github.com/avelis/socialmesh/internal/mediasvc"
	"github.com/avelis/socialmesh/internal/observability"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "mediaservice.yaml", "path to the media service configuration file")
	flag.Parse()

	cfg, err := config.LoadMediaService(*configPath)
	if err != nil {
		observability.MustLogger(observability.DefaultLogConfig()).
			Fatal("load configuration", observability.Error(err))
	}

	logger := observability.MustLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	store, err := mediasvc.OpenStore(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("open store", observability.Error(err))
	}
	defer func() { _ = store.Close() }()

	blobs, err := mediasvc.NewBlobStore(cfg.BlobDir)
	if err != nil {
		logger.Fatal("open blob store", observability.Error(err))
	}

	broker, err := events.DialAMQP(cfg.Broker.URL, events.WithBrokerLogger(logger))
	if err != nil {
		logger.Fatal("connect broker", observability.Error(err))
	}
	defer func() { _ = broker.Close() }()

	svc := mediasvc.NewService(store, blobs,
		mediasvc.WithLogger(logger),
		mediasvc.WithPublicURL(cfg.PublicURL),
		mediasvc.WithMaxUploadBytes(cfg.MaxUploadMB<<20),
	)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	svc.Register(engine)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The cleanup consumer runs beside the HTTP loop for the life of
	// the process.
	go func() {
		if err := svc.RunConsumer(ctx, broker); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("post.deleted consumer stopped", observability.Error(err))
		}
	}()

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("media service listening", observability.String("addr", cfg.ListenAddr))
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
