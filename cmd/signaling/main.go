package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"bken/signaling/internal/config"
	"bken/signaling/internal/core"
	"bken/signaling/internal/httpapi"
	"bken/signaling/internal/hub"
	"bken/signaling/internal/metrics"
	"bken/signaling/internal/observability"
	"bken/signaling/internal/router"
	"bken/signaling/internal/schedule"
	"bken/signaling/internal/store"
	"bken/signaling/internal/ws"
	"bken/signaling/internal/wt"
)

// Version is injected at build time with -ldflags.
var Version = "0.1.0-dev"

const statsInterval = time.Minute

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if handled, err := RunCLI(flag.Args(), cfg, os.Stdout); handled {
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	logger.Info("starting server", zap.String("version", Version), zap.String("addr", cfg.Server.Addr))

	h := hub.New(cfg.Transport.SendBuffer, logger.Named("hub"))

	var reg *core.Registry
	m := metrics.New(func() core.Stats { return reg.Stats() }, h.Count)
	h.OnDrop(m.MessageDropped)

	observers := []core.Observer{m}
	var journal *store.Store
	if cfg.Journal.Path != "" {
		var err error
		journal, err = store.Open(cfg.Journal.Path, logger.Named("journal"))
		if err != nil {
			return fmt.Errorf("open room journal: %w", err)
		}
		defer func() {
			if closeErr := journal.Close(); closeErr != nil {
				logger.Error("close room journal", zap.Error(closeErr))
			}
		}()
		observers = append(observers, journal)
	}

	reg = core.NewRegistry(core.NewMemStore(), schedule.New(nil), h, cfg.Rooms.Options(), logger.Named("core"), observers...)
	r := router.New(reg, h, m, logger.Named("router"))

	go reg.RunSweeper(ctx, cfg.Rooms.SweepInterval)
	go metrics.RunStatsLog(ctx, reg.Stats, statsInterval, logger.Named("stats"))

	wsHandler := ws.NewHandler(r, h, ws.Options{
		MaxMessageBytes: cfg.Transport.MaxMessageBytes,
		WriteTimeout:    cfg.Transport.WriteTimeout,
		PingInterval:    cfg.Transport.PingInterval,
		PongTimeout:     cfg.Transport.PongTimeout,
		AllowedOrigin:   cfg.Server.CORSOrigin,
	}, logger.Named("ws"))

	apiOpts := httpapi.Options{
		CORSOrigin:      cfg.Server.CORSOrigin,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Journal:         journal,
		WebSocket:       wsHandler,
	}
	if cfg.Metrics.Enabled {
		apiOpts.Metrics = m.Handler()
		apiOpts.MetricsPath = cfg.Metrics.Path
	}
	server := httpapi.New(reg, apiOpts, logger.Named("http"))

	if cfg.WebTransport.Enabled {
		tlsConfig, fingerprint, err := wt.GenerateTLSConfig(cfg.WebTransport.CertValidity, cfg.WebTransport.Hostname)
		if err != nil {
			return fmt.Errorf("generate webtransport certificate: %w", err)
		}
		logger.Info("webtransport certificate generated",
			zap.String("sha256", fingerprint),
			zap.Duration("validity", cfg.WebTransport.CertValidity))

		wtServer := wt.NewServer(r, h, wt.Options{
			Addr:            cfg.WebTransport.Addr,
			TLSConfig:       tlsConfig,
			MaxMessageBytes: cfg.Transport.MaxMessageBytes,
			WriteTimeout:    cfg.Transport.WriteTimeout,
			AllowedOrigin:   cfg.Server.CORSOrigin,
		}, logger.Named("wt"))
		go func() {
			if err := wtServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("webtransport server stopped", zap.Error(err))
			}
		}()
	}

	return server.Run(ctx, cfg.Server.Addr)
}
