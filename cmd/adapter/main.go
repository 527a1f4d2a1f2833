package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/machinemetrics/shdr-adapter/internal/adapter"
	"github.com/machinemetrics/shdr-adapter/internal/config"
	"github.com/machinemetrics/shdr-adapter/internal/metric"
	"github.com/machinemetrics/shdr-adapter/internal/server"
	"github.com/machinemetrics/shdr-adapter/internal/shdr"
	"github.com/machinemetrics/shdr-adapter/internal/source"
	"github.com/machinemetrics/shdr-adapter/internal/ws"
)

func main() {
	configPath := pflag.StringP("config", "c", "config.yaml", "Path to config file")
	port := pflag.IntP("port", "p", 0, "Override SHDR port")
	heartbeat := pflag.Duration("heartbeat", 0, "Override heartbeat interval (0 keeps the config value)")
	src := pflag.String("source", "", "Override scan source (mock or host)")
	httpOn := pflag.Bool("http", false, "Enable the HTTP mirror")
	pflag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Adapter.Port = *port
	}
	if *heartbeat > 0 {
		cfg.Adapter.Heartbeat = *heartbeat
	}
	if *src != "" {
		cfg.Scan.Source = *src
	}
	if pflag.CommandLine.Changed("http") {
		cfg.HTTP.Enabled = *httpOn
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	if err := run(cfg, logger); err != nil {
		logger.Error("adapter stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	metrics := metric.New()
	a := adapter.New(server.Config{
		Name:         cfg.Adapter.Name,
		Addr:         cfg.Adapter.Addr(),
		Heartbeat:    cfg.Adapter.Heartbeat,
		WriteTimeout: cfg.Adapter.WriteTimeout,
	}, logger, adapter.WithMetrics(metrics))

	var scanner source.Source
	switch cfg.Scan.Source {
	case config.SourceHost:
		logger.Info("scanning host telemetry")
		scanner = source.NewHostSource(source.SystemProbes(), cfg.Scan.CPUWarning, cfg.Scan.MemoryFault)
	default:
		logger.Info("scanning mock machine")
		scanner = source.NewMockSource(cfg.Adapter.Name, time.Now().UnixNano())
	}
	runner := source.NewRunner(a, cfg.Scan.Interval, logger, scanner)
	if err := runner.Register(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return err
	}

	httpErr := make(chan error, 1)
	if cfg.HTTP.Enabled {
		b := ws.NewBroadcaster(func() []byte { return shdr.Join(a.FullDump("")) },
			cfg.HTTP.MaxConnections, logger, metrics)
		defer b.Stop()
		a.AddSink(b)

		srv := ws.NewServer(a, b, cfg.HTTP.AllowedOrigins, logger)
		srv.SetMetricsHandler(cfg.HTTP.MetricsPath, metrics.Handler())
		srv.SetHealthSource(runner)
		go func() { httpErr <- ws.ListenAndServe(ctx, cfg.HTTP.Addr(), srv.Handler(), logger) }()
	}

	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		runner.Run(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case <-a.Done():
		runErr = a.Err()
	case err := <-httpErr:
		if err != nil {
			runErr = fmt.Errorf("http mirror: %w", err)
		}
	}
	stop()
	<-scanDone

	if err := a.Stop(cfg.Adapter.StopTimeout); err != nil {
		logger.Warn("stop", slog.Any("error", err))
	}
	return runErr
}
