package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mr1hm/go-disaster-ingest/internal/api"
	"github.com/mr1hm/go-disaster-ingest/internal/app"
	"github.com/mr1hm/go-disaster-ingest/internal/config"
	"github.com/mr1hm/go-disaster-ingest/internal/ingestion"
	"github.com/mr1hm/go-disaster-ingest/internal/logging"
	"github.com/mr1hm/go-disaster-ingest/internal/observability"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level)

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)

	if cfg.Server.APIToken == "" {
		slog.Warn("INGEST_API_TOKEN is not set, manual ingestion routes will reject every request")
	}

	a, err := app.Build(cfg, observability.NewMetrics(), slog.Default())
	if err != nil {
		logging.Fatalf("Failed to initialize pipeline: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start scheduler
	var mgr *ingestion.Manager
	if cfg.Scheduler.Enabled {
		mgr = ingestion.NewManager(a.Runner, cfg.Scheduler.Interval, slog.Default())
		mgr.Start(ctx)
	}

	// Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Set to false when using wildcard origins
	}))
	router.Use(api.RateLimitMiddleware(cfg.Server.RateLimitRPS))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handler := api.NewHandler(a.Store, a.Cache, a.Runner, cfg.Server.APIToken)
	handler.SetStream(a.Stream)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	cancel()
	if mgr != nil {
		mgr.Stop()
	}
	a.Stream.Close() // ends open event streams so Shutdown can drain

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}
