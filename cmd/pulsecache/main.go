// Command pulsecache serves the brand-metrics refresh pipeline: a POST
// trigger that refreshes the rolling window of cached snapshots and a GET
// surface that serves them.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pulsecache/pulsecache/internal/cache"
	"github.com/pulsecache/pulsecache/internal/config"
	"github.com/pulsecache/pulsecache/internal/metrics"
	"github.com/pulsecache/pulsecache/internal/pipeline"
	"github.com/pulsecache/pulsecache/internal/source"
	"github.com/pulsecache/pulsecache/internal/window"
	"github.com/pulsecache/pulsecache/pkg/api"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "pulsecache:", err)
		os.Exit(1)
	}
}

func run() error {
	configFile := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	cfg := config.NewDefault()
	if *configFile != "" {
		if err := cfg.LoadFromFile(*configFile); err != nil {
			return err
		}
	}
	cfg.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg.Server.LogLevel)

	roster := cfg.ResolveRoster()
	if len(roster) == 0 {
		return fmt.Errorf("no brands configured: set BRANDS or TOTAL_CONFIG_COUNT with BRAND_TAG_<i>")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := cache.NewBackend(ctx, cache.Options{
		RedisURL:  cfg.Cache.RedisURL,
		RESTURL:   cfg.Cache.RESTURL,
		RESTToken: cfg.Cache.RESTToken,
		Timeout:   cfg.Cache.Timeout,
	}, logger)
	if err != nil {
		return err
	}

	src := source.NewMySQLSource(roster, logger)
	defer src.Close()

	collector := metrics.NewCollector()
	planner := window.NewPlanner(cfg.Window.UTCOffset)

	orch, err := pipeline.New(pipeline.Config{
		Workers:     cfg.Pipeline.Workers,
		WindowSize:  cfg.Window.Size,
		Backfill:    cfg.Window.Backfill,
		TargetDate:  cfg.Window.TargetDate,
		DryRun:      cfg.Pipeline.DryRun,
		TTL:         cfg.Cache.TTL,
		PreserveTTL: cfg.Cache.PreserveTTL,
	}, planner, backend, src, roster, collector, logger)
	if err != nil {
		return err
	}

	brands := make([]string, 0, len(roster))
	for brand := range roster {
		brands = append(brands, brand)
	}

	serverCfg := api.DefaultServerConfig()
	serverCfg.Address = fmt.Sprintf(":%d", cfg.Server.Port)
	serverCfg.TriggerToken = cfg.Server.TriggerToken
	server := api.NewServer(serverCfg, orch, backend, brands, collector.Handler(), logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
