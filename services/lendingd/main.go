package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hedge/core/events"
	"hedge/native/common"
	"hedge/native/lending"
	"hedge/native/oracle"
	"hedge/observability"
	"hedge/observability/logging"
	telemetry "hedge/observability/otel"
	"hedge/services/lendingd/config"
	"hedge/services/lendingd/indexer"
	"hedge/services/lendingd/market"
	"hedge/services/lendingd/scanner"
	"hedge/services/lendingd/server"
	"hedge/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/lendingd/config.example.yaml", "path to lendingd config")
	flag.Parse()

	if err := run(cfgPath); err != nil {
		slog.Error("lendingd exited", "error", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser, err := logging.SetupWithFile("lendingd", cfg.Environment, cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telCfg := cfg.Telemetry
	telCfg.ServiceName = "lendingd"
	telCfg.Environment = cfg.Environment
	shutdownTelemetry, err := telemetry.Init(ctx, telCfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	db, err := openStorage(cfg.Storage)
	if err != nil {
		return err
	}
	defer db.Close()

	boot, err := lending.LoadBootstrap(cfg.Bootstrap)
	if err != nil {
		return fmt.Errorf("load bootstrap: %w", err)
	}

	hub := server.NewHub(logger)
	emitter := events.Fanout{
		hub,
		events.EmitterFunc(func(evt events.Event) {
			observability.Events().Record(events.Flatten(evt))
		}),
	}
	var history server.HistoryReader
	if cfg.Indexer.Driver != "" {
		ix, err := indexer.Open(cfg.Indexer.Driver, cfg.Indexer.DSN, logger)
		if err != nil {
			return err
		}
		defer closeQuietly(logger, "indexer", ix)
		emitter = append(emitter, ix)
		history = ix
		logger.Info("indexer ready", "driver", cfg.Indexer.Driver, "dsn", logging.MaskDSN(cfg.Indexer.DSN))
	}

	metrics := observability.Lending()
	svc, created, err := market.Open(db, boot, market.Options{Emitter: emitter, Metrics: metrics})
	if err != nil {
		return fmt.Errorf("open market: %w", err)
	}
	logger.Info("market ready", "market", svc.Engine().Market().String(), "bootstrapped", created)
	logger.Info("auth configured",
		"issuer", cfg.Auth.Issuer,
		"audience", cfg.Auth.Audience,
		logging.MaskField("hmacSecret", cfg.Auth.HMACSecret))

	var feeds lending.FeedSource
	if cfg.Oracle.HermesURL != "" {
		agg := oracle.NewAggregator([]string{"hermes"}, cfg.Oracle.MaxAge)
		agg.Register("hermes", oracle.NewHermesSource(&http.Client{Timeout: 5 * time.Second}, cfg.Oracle.HermesURL))
		feeds = agg
	}
	scan := scanner.New(svc, feeds, scanner.Config{
		Interval:        cfg.Scanner.Interval,
		LeaderboardSize: cfg.Scanner.LeaderboardSize,
	}, logger, metrics)
	go scan.Run(ctx)

	api := server.New(server.Config{
		Market:  svc,
		Cache:   scan,
		History: history,
		Hub:     hub,
		Auth: server.AuthConfig{
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew,
		},
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		Quota: common.Quota{
			MaxRequestsPerMin: cfg.Quota.MaxRequestsPerMin,
			MaxAmountPerEpoch: cfg.Quota.MaxAmountPerEpoch,
			EpochSeconds:      cfg.Quota.EpochSeconds,
		},
		Logger:  logger,
		Metrics: metrics,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("lendingd listening", "listen", cfg.ListenAddress)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", "error", err)
			_ = httpServer.Close()
		}
		return nil
	case err := <-serverErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

func openStorage(cfg config.StorageConfig) (storage.Database, error) {
	switch cfg.Backend {
	case "memory":
		return storage.NewMemDB(), nil
	case "bolt":
		db, err := storage.NewBoltDB(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open bolt store: %w", err)
		}
		return db, nil
	default:
		db, err := storage.NewLevelDB(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open leveldb store: %w", err)
		}
		return db, nil
	}
}

func closeQuietly(logger *slog.Logger, name string, c io.Closer) {
	if err := c.Close(); err != nil {
		logger.Warn("close failed", "component", name, "error", err)
	}
}
