package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"netinfo/internal/config"
	"netinfo/internal/metrics"
	"netinfo/internal/monitor"
	"netinfo/internal/server"
	"netinfo/internal/storage"
)

var version = "dev"

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to configuration file (YAML)")
		addr       = flag.String("addr", ":8080", "address for the web server")
	)
	flag.Parse()

	if err := run(*configPath, *addr); err != nil {
		fmt.Fprintf(os.Stderr, "netinfo: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, addr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	transitions, err := storage.NewTransitionStorage(
		filepath.Join(cfg.DataDirectory, "transitions.json"), cfg.History.MaxEntries)
	if err != nil {
		return fmt.Errorf("initialise transition storage: %w", err)
	}
	probes, err := storage.NewProbeStorage(filepath.Join(cfg.DataDirectory, "probes.json"))
	if err != nil {
		return fmt.Errorf("initialise probe storage: %w", err)
	}

	m := metrics.NewMetrics(version, runtime.Version())
	mon := monitor.New(monitor.Options{
		Config:      cfg,
		Logger:      logger,
		Metrics:     m,
		Transitions: transitions,
		Probes:      probes,
	})
	mon.Start()
	defer mon.Stop()

	srv := server.New(addr, mon, m, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("netinfo started",
		"version", version,
		"config", configPath,
		"observer", mon.ObserverKind(),
		"probe", cfg.Probe.Enabled)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", "error", err)
		}
		return nil
	})
	return g.Wait()
}
