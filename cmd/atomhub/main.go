// Package main implements the device state aggregation and streaming
// server: it merges per-series last values from InfluxDB into device
// snapshots and serves them over REST, SSE and WebSocket.
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
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/JevgeniGandsuUT/TallinnATOM/config"
	"github.com/JevgeniGandsuUT/TallinnATOM/gateway"
	"github.com/JevgeniGandsuUT/TallinnATOM/health"
	"github.com/JevgeniGandsuUT/TallinnATOM/history"
	"github.com/JevgeniGandsuUT/TallinnATOM/metric"
	"github.com/JevgeniGandsuUT/TallinnATOM/snapcache"
	"github.com/JevgeniGandsuUT/TallinnATOM/snapshot"
	"github.com/JevgeniGandsuUT/TallinnATOM/store"
	"github.com/JevgeniGandsuUT/TallinnATOM/stream"
	"github.com/JevgeniGandsuUT/TallinnATOM/viewstore"
)

const (
	appName = "atomhub"
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
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", os.Getenv("ATOMHUB_CONFIG"), "path to configuration file")
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

	logger.Info("starting server",
		"version", version,
		"addr", cfg.HTTPAddr,
		"influx_url", cfg.Influx.URL,
		"team", cfg.Team)

	metrics := metric.New()
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := metrics.Register(registry); err != nil {
		return err
	}

	influx := store.New(cfg, metrics, logger)
	defer influx.Close()

	views, err := viewstore.New(cfg.TemplatesDir)
	if err != nil {
		return err
	}

	offlineAfter := cfg.OfflineThreshold.Std()
	fetch := func(ctx context.Context) (snapshot.Set, error) {
		records, err := influx.Latest(ctx)
		if err != nil {
			return nil, err
		}
		return snapshot.Merge(records, time.Now().UTC(), offlineAfter, views), nil
	}

	cache := snapcache.New(fetch, cfg.CacheTTL.Std(), cfg.Influx.QueryTimeout.Std(), metrics, logger)
	hist := history.New(influx, cfg.HistoryChartWindow.Std(), cfg.HistoryEventWindow.Std(), logger)
	broadcaster := stream.New(cache, cfg.StreamInterval.Std(), cfg.StreamRetry.Std(), metrics, logger)

	checks := []health.Check{
		storeCheck(influx),
		cacheCheck(cache),
	}

	gw := gateway.New(gateway.Config{EnableCORS: cfg.EnableCORS},
		cache, broadcaster, hist, views, registry, checks, logger)
	srv := gw.Server(cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	if err := gateway.Shutdown(context.Background(), srv, 10*time.Second); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func storeCheck(influx *store.Client) health.Check {
	return func() health.Status {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if ok, err := influx.Ping(ctx); !ok || err != nil {
			return health.Unhealthy("store", "influx unreachable")
		}
		return health.Healthy("store", "")
	}
}

func cacheCheck(cache *snapcache.Cache) health.Check {
	return func() health.Status {
		info := cache.Info()
		switch {
		case !info.HasData && info.LastError != "":
			return health.Unhealthy("cache", info.LastError)
		case info.LastError != "":
			return health.Degraded("cache", "serving stale data: "+info.LastError)
		default:
			return health.Healthy("cache", "")
		}
	}
}
