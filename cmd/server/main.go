// Package main runs the HTTP trigger surface: ledger-event notifications,
// failure-queue notifications and public replay. With --ingest it also
// follows the live transaction stream.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"xrpl-nft-archiver/internal/api"
	"xrpl-nft-archiver/internal/app"
	"xrpl-nft-archiver/internal/config"
	"xrpl-nft-archiver/internal/ingestion"
	"xrpl-nft-archiver/internal/logging"
	"xrpl-nft-archiver/internal/xrpl"
)

func main() {
	configPath := pflag.StringP("config", "c", os.Getenv("ARCHIVER_CONFIG"), "Path to YAML config")
	envFile := pflag.String("env-file", ".env", "Path to .env file")
	httpAddr := pflag.String("http-addr", "", "HTTP listen address (overrides config)")
	ingest := pflag.Bool("ingest", false, "Also follow the live transaction stream")
	pflag.Parse()

	if err := run(*configPath, *envFile, *httpAddr, *ingest); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, envFile, httpAddr string, ingest bool) error {
	if err := config.LoadEnvFile(envFile); err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if httpAddr != "" {
		cfg.Service.HTTPAddr = httpAddr
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var runner *ingestion.Runner
	status := func() any { return nil }
	if ingest {
		streamCfg := xrpl.DefaultStreamConfig()
		stream, err := xrpl.NewStreamClient(ctx, cfg.XRPL.WSEndpoint, &streamCfg, logger.Named("stream"))
		if err != nil {
			return fmt.Errorf("connect stream: %w", err)
		}
		defer stream.Close()

		runner = ingestion.NewRunner(ingestion.RunnerOptions{
			Stream:    stream,
			Handler:   a.Coordinator,
			Progress:  a.Stores.Progress,
			Metrics:   a.Metrics,
			Workers:   cfg.Ingest.Workers,
			QueueSize: cfg.Ingest.QueueSize,
			Logger:    logger.Named("ingest"),
		})
		status = func() any { return map[string]any{"ingestion": runner.Stats()} }
	}

	srv := &http.Server{
		Addr: cfg.Service.HTTPAddr,
		Handler: api.NewServer(a.Coordinator,
			api.WithMetrics(a.Metrics),
			api.WithLogger(logger.Named("api")),
			api.WithStatus(status),
		).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("starting HTTP server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	if runner != nil {
		go func() {
			if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("ingestion: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errCh:
		logger.Error("component failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("http shutdown", zap.Error(serr))
	}
	return err
}
