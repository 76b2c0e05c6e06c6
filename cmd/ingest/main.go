// Package main follows the live ledger transaction stream and archives every
// validated mint.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"xrpl-nft-archiver/internal/app"
	"xrpl-nft-archiver/internal/config"
	"xrpl-nft-archiver/internal/ingestion"
	"xrpl-nft-archiver/internal/logging"
	"xrpl-nft-archiver/internal/xrpl"
)

func main() {
	configPath := pflag.StringP("config", "c", os.Getenv("ARCHIVER_CONFIG"), "Path to YAML config")
	envFile := pflag.String("env-file", ".env", "Path to .env file")
	wsEndpoint := pflag.String("ws-endpoint", "", "Ledger WebSocket endpoint (overrides config)")
	workers := pflag.Int("workers", 0, "Concurrent mint workers (overrides config)")
	metricsAddr := pflag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address (empty to disable)")
	pflag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "ingest: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ingest: %v\n", err)
		os.Exit(1)
	}
	if *wsEndpoint != "" {
		cfg.XRPL.WSEndpoint = *wsEndpoint
	}
	if *workers > 0 {
		cfg.Ingest.Workers = *workers
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ingest: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, *metricsAddr, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("ingestion stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, metricsAddr string, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", a.Metrics.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Info("starting metrics server", zap.String("addr", metricsAddr))
			if err := http.ListenAndServe(metricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
	}

	streamCfg := xrpl.DefaultStreamConfig()
	stream, err := xrpl.NewStreamClient(ctx, cfg.XRPL.WSEndpoint, &streamCfg, logger.Named("stream"))
	if err != nil {
		return fmt.Errorf("connect stream: %w", err)
	}
	defer stream.Close()

	runner := ingestion.NewRunner(ingestion.RunnerOptions{
		Stream:    stream,
		Handler:   a.Coordinator,
		Progress:  a.Stores.Progress,
		Metrics:   a.Metrics,
		Workers:   cfg.Ingest.Workers,
		QueueSize: cfg.Ingest.QueueSize,
		Logger:    logger.Named("ingest"),
	})
	logger.Info("following transaction stream",
		zap.String("endpoint", cfg.XRPL.WSEndpoint),
		zap.Int("workers", cfg.Ingest.Workers),
	)
	return runner.Run(ctx)
}
