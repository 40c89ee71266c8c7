package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/driftstack/drift-engine/internal/cache"
	"github.com/driftstack/drift-engine/internal/config"
	"github.com/driftstack/drift-engine/internal/detector"
	"github.com/driftstack/drift-engine/internal/dispatch"
	"github.com/driftstack/drift-engine/internal/history"
	"github.com/driftstack/drift-engine/internal/ingest"
	"github.com/driftstack/drift-engine/internal/metrics"
	"github.com/driftstack/drift-engine/internal/monitor"
	"github.com/driftstack/drift-engine/internal/patterns"
	"github.com/driftstack/drift-engine/internal/providers"
	"github.com/driftstack/drift-engine/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting drift-engine", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewRedisProvider(cache.RedisConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
		})
		if err != nil {
			logger.Warn("history cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = provider
			defer provider.Close()
		}
	}

	badgerStore, err := history.NewBadgerStore(history.BadgerOptions{
		Path:     cfg.History.Path,
		InMemory: cfg.History.InMemory,
	}, logger)
	if err != nil {
		logger.Error("failed to open history store", slog.Any("error", err))
		os.Exit(1)
	}
	store := history.NewCachedStore(badgerStore, cacheProvider, cfg.Cache.HistoryTTL, logger)
	defer store.Close()

	providerOpts := make([]providers.Options, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providerOpts = append(providerOpts, providers.Options{
			Name:      p.Name,
			Type:      p.Type,
			Model:     p.Model,
			BaseURL:   p.BaseURL,
			APIKey:    p.APIKey,
			RulesPath: p.RulesPath,
		})
	}
	providerSet, err := providers.BuildAll(providerOpts, logger)
	if err != nil {
		logger.Error("failed to build providers", slog.Any("error", err))
		os.Exit(1)
	}

	governor := dispatch.NewGovernor(cfg.Dispatch.MinDispatchInterval)
	dispatcher := dispatch.NewDispatcher(logger, providerSet, governor, store, dispatch.Settings{
		MaxInFlight:     cfg.Dispatch.MaxInFlight,
		ProviderTimeout: cfg.Dispatch.ProviderTimeout,
	})
	reconciler := dispatch.NewReconciler(logger, dispatcher, store)

	det := detector.New(logger)
	svc, err := monitor.New(logger, det, dispatcher, governor, monitor.RuntimeFromConfig(cfg))
	if err != nil {
		logger.Error("failed to build monitor service", slog.Any("error", err))
		os.Exit(1)
	}

	miner := patterns.NewMiner(logger, store)
	handlers := ingest.NewHandlers(logger, svc, store, miner, reconciler)
	server := ingest.NewServer(cfg.Server, handlers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go reconciler.Run(ctx)

	if configPath != "" {
		go func() {
			if err := config.Watch(ctx, configPath, logger, svc.ApplyConfig); err != nil {
				logger.Warn("config watcher stopped", slog.Any("error", err))
			}
		}()
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("http server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}

	// Cancel outstanding provider calls and record them as dropped.
	dispatcher.Close()

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("drift-engine stopped")
}
