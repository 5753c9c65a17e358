package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luminetv/tsproxy/internal/catalog"
	"github.com/luminetv/tsproxy/internal/channel"
	"github.com/luminetv/tsproxy/internal/config"
	"github.com/luminetv/tsproxy/internal/coordinator"
	"github.com/luminetv/tsproxy/internal/events"
	"github.com/luminetv/tsproxy/internal/logger"
	"github.com/luminetv/tsproxy/internal/metrics"
	"github.com/luminetv/tsproxy/internal/proxy"
)

func main() {
	cfg := config.Load()

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))
	log.Info("starting tsproxy", slog.String("worker_id", logger.WorkerID()))

	gin.SetMode(cfg.GinMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := coordinator.NewRedisStore(ctx, coordinator.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Timeout:  cfg.StoreTimeout,
		Retries:  cfg.StoreRetries,
	}, log)
	if err != nil {
		log.Error("failed to connect to coordination store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	bus, err := events.Connect(cfg.NatsURL, log)
	if err != nil {
		log.Error("failed to connect to event bus", slog.String("error", err.Error()))
		os.Exit(1)
	}

	cat, err := catalog.Load(cfg.ChannelsFile)
	if err != nil {
		log.Error("failed to load channel catalog",
			slog.String("file", cfg.ChannelsFile),
			slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("channel catalog loaded",
		slog.String("file", cfg.ChannelsFile),
		slog.Int("channels", cat.Len()))

	m := metrics.New()

	lifecycle := channel.NewLifecycle(cfg, store, bus, cat, m, log)
	if err := lifecycle.Start(); err != nil {
		log.Error("failed to start lifecycle", slog.String("error", err.Error()))
		os.Exit(1)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	router.GET("/healthz", proxy.HealthHandler())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/stream/:channel", proxy.StreamHandler(cfg, lifecycle, m, log))
	router.POST("/change_stream/:channel", proxy.ChangeStreamHandler(lifecycle, log))

	status := router.Group("/status")
	{
		status.GET("/", proxy.StatusAllHandler(lifecycle, log))
		status.GET("/:channel", proxy.StatusOneHandler(lifecycle, log))
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info("proxy listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new clients first; in-flight streams get the timeout
	// to drain before lifecycle teardown cuts them off.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown incomplete", slog.String("error", err.Error()))
	}

	lifecycle.Shutdown(shutdownCtx)
	bus.Close()
	store.Close()

	log.Info("server exited")
}
