package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/collectd-listener/internal/config"
	"github.com/skypro1111/collectd-listener/internal/events"
	"github.com/skypro1111/collectd-listener/internal/forward"
	"github.com/skypro1111/collectd-listener/internal/metrics"
	"github.com/skypro1111/collectd-listener/internal/sender"
	"github.com/skypro1111/collectd-listener/internal/server"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "collectd-listener"
	serviceVersion    = "1.0.0"

	eventBuffer     = 256
	shutdownTimeout = 10 * time.Second
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("network", cfg.Server.Network),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("udp_port", cfg.Server.UDPPort),
		slog.String("multicast_group", cfg.Server.MulticastGroup),
		slog.Int("workers", cfg.Server.Workers),
		slog.Duration("sender_ttl", cfg.Senders.GetTTLDuration()),
		slog.Bool("forward_enabled", cfg.Forward.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)
	logger.Info("Prometheus metrics initialized")

	hub := events.NewHub(eventBuffer, logger, appMetrics)

	senders := sender.NewRegistry(cfg.Senders.GetTTLDuration(), cfg.Senders.GetCleanupIntervalDuration(), logger)
	logger.Info("Sender registry initialized",
		slog.Duration("ttl", cfg.Senders.GetTTLDuration()),
		slog.Duration("cleanup_interval", cfg.Senders.GetCleanupIntervalDuration()),
	)

	// Forwarder runs until the hub closes its subscription on shutdown
	forwardCtx, forwardCancel := context.WithCancel(ctx)
	defer forwardCancel()
	g, gctx := errgroup.WithContext(forwardCtx)

	var forwarder *forward.Client
	if cfg.Forward.Enabled {
		forwarder, err = forward.NewClient(forward.Config{
			Endpoint:      cfg.Forward.Endpoint,
			Timeout:       cfg.Forward.GetTimeoutDuration(),
			MaxRetries:    cfg.Forward.MaxRetries,
			MaxConcurrent: cfg.Forward.MaxConcurrent,
			AlertsOnly:    cfg.Forward.AlertsOnly,
		}, logger, appMetrics)
		if err != nil {
			logger.Error("Failed to create forwarder", slog.String("error", err.Error()))
			os.Exit(1)
		}

		sub := hub.Subscribe()
		g.Go(func() error {
			return forwarder.Run(gctx, sub)
		})
		logger.Info("Forwarder initialized",
			slog.Bool("alerts_only", cfg.Forward.AlertsOnly),
			slog.Int("max_concurrent", cfg.Forward.MaxConcurrent),
		)
	}

	udpServer := server.NewUDPServer(&cfg.Server, logger, appMetrics, senders, hub)
	logger.Info("UDP server initialized")

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, server.Components{
			UDP:       udpServer,
			Senders:   senders,
			Hub:       hub,
			Forwarder: forwarder,
			Metrics:   appMetrics,
			Gatherer:  prometheus.DefaultGatherer,
		})
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	if err := udpServer.Start(); err != nil {
		logger.Error("Failed to start UDP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("udp_address", udpServer.LocalAddr().String()),
	)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-gctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (closes event streams)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Drains the decode queue and publishes the close event
	if err := udpServer.Stop(); err != nil {
		logger.Error("Error stopping UDP server", slog.String("error", err.Error()))
	}

	hub.Close()

	// In-flight forwards get shutdownTimeout to finish
	timer := time.AfterFunc(shutdownTimeout, forwardCancel)
	if err := g.Wait(); err != nil {
		logger.Error("Error stopping forwarder", slog.String("error", err.Error()))
	}
	timer.Stop()

	senders.Stop()

	stats := udpServer.GetStatistics()
	logger.Info("Final server statistics",
		slog.Uint64("datagrams_received", stats.DatagramsReceived),
		slog.Uint64("datagrams_decoded", stats.DatagramsDecoded),
		slog.Uint64("datagrams_dropped", stats.DatagramsDropped),
		slog.Uint64("decode_errors", stats.DecodeErrors),
		slog.Uint64("measurements_decoded", stats.MeasurementsDecoded),
		slog.Uint64("alerts_decoded", stats.AlertsDecoded),
	)
	if forwarder != nil {
		fs := forwarder.GetStats()
		logger.Info("Final forwarder statistics",
			slog.Uint64("total_requests", fs.TotalRequests),
			slog.Uint64("failed_requests", fs.FailedRequests),
			slog.Uint64("total_retries", fs.TotalRetries),
		)
	}

	logger.Info("Service stopped")
}

// initLogger creates the structured logger described by cfg
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Anything else is a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
