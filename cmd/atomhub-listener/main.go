// Package main implements the ingest listener: it consumes device status
// and init messages from NATS and writes them to InfluxDB and the view
// store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JevgeniGandsuUT/TallinnATOM/config"
	"github.com/JevgeniGandsuUT/TallinnATOM/ingest"
	"github.com/JevgeniGandsuUT/TallinnATOM/metric"
	"github.com/JevgeniGandsuUT/TallinnATOM/natsclient"
	"github.com/JevgeniGandsuUT/TallinnATOM/store"
	"github.com/JevgeniGandsuUT/TallinnATOM/viewstore"
)

const (
	appName = "atomhub-listener"
	version = "0.1.0"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			fmt.Fprintf(os.Stderr, "PANIC: %v\n%s\n", r, buf[:n])
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("listener failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", os.Getenv("ATOMHUB_CONFIG"), "path to configuration file")
		metricsAddr = flag.String("metrics-addr", "", "optional address for the /metrics endpoint")
		logLevel    = flag.String("log-level", "info", "log level: debug, info, warn, error")
		logFormat   = flag.String("log-format", "json", "log format: json, text")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", appName, version)
		return nil
	}

	logger := setupLogger(*logLevel, *logFormat)
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}

	logger.Info("starting listener",
		"version", version,
		"nats_url", cfg.NATS.URL,
		"status_subject", cfg.NATS.StatusSubject,
		"init_subject", cfg.NATS.InitSubject)

	metrics := metric.New()
	registry := prometheus.NewRegistry()
	if err := metrics.Register(registry); err != nil {
		return err
	}

	influx := store.New(cfg, metrics, logger)
	defer influx.Close()

	views, err := viewstore.New(cfg.TemplatesDir)
	if err != nil {
		return err
	}

	nc, err := natsclient.NewClient(cfg.NATS.URL, metrics, logger,
		natsclient.WithClientName(appName))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := nc.Connect(connectCtx); err != nil {
		return err
	}

	listener := ingest.New(nc, influx, views,
		cfg.NATS.StatusSubject, cfg.NATS.InitSubject, metrics, logger)
	if err := listener.Start(ctx); err != nil {
		return err
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Warn("metrics endpoint stopped", "error", err)
			}
		}()
	}

	logger.Info("listener running")
	<-ctx.Done()

	logger.Info("shutting down")
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	if err := nc.Close(closeCtx); err != nil {
		logger.Warn("NATS close failed", "error", err)
	}
	logger.Info("shutdown complete")
	return nil
}
