package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/conticomp/xprotect-export/internal/config"
	"github.com/conticomp/xprotect-export/internal/export"
	"github.com/conticomp/xprotect-export/internal/logger"
	"github.com/conticomp/xprotect-export/internal/milestone"
	"github.com/conticomp/xprotect-export/internal/server"
	"github.com/conticomp/xprotect-export/pkg/version"
)

func main() {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "configs/default.yaml", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.Parse()

	if showVersion {
		fmt.Println(version.GetInfo().String())
		os.Exit(0)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.WithField("version", version.GetInfo().Short()).Info("Starting XProtect export service")
	log.WithField("config_path", configPath).Debug("Configuration loaded")

	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.WithError(err).Fatal("Failed to connect to Redis")
	}
	log.Info("Connected to Redis successfully")

	if err := os.MkdirAll(cfg.Export.Dir, 0o755); err != nil {
		log.WithError(err).Fatal("Failed to create export directory")
	}

	adapted := logger.NewLogrusAdapter(logrus.NewEntry(log))
	ms := milestone.NewClient(cfg.Milestone, adapted)
	registry := export.NewRegistry(redisClient, adapted, cfg.Export.JobTTL)
	encoder := export.NewFFmpegEncoder(cfg.Export, adapted)
	if !encoder.Available() {
		log.Warn("FFmpeg not found, exports will fail until it is installed")
	}
	exporter := export.NewExporter(cfg.Export, cfg.Milestone.ImageServer, ms, registry, encoder, adapted)

	if cfg.Metrics.Enabled {
		go startMetricsServer(cfg.Metrics, adapted)
	}

	srv := server.New(cfg, log, redisClient, ms, exporter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	if err := srv.Start(ctx); err != nil {
		log.WithError(err).Fatal("Server error")
	}

	if err := redisClient.Close(); err != nil {
		log.WithError(err).Error("Failed to close Redis connection")
	}

	log.Info("Service shutdown complete")
}

// startMetricsServer starts the Prometheus metrics server.
func startMetricsServer(cfg config.MetricsConfig, log logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.WithField("addr", addr).Info("Starting metrics server")

	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Error("Metrics server error")
	}
}
