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

	"github.com/homelabops/remedyd/internal/advisor"
	"github.com/homelabops/remedyd/internal/api"
	"github.com/homelabops/remedyd/internal/config"
	"github.com/homelabops/remedyd/internal/detector"
	"github.com/homelabops/remedyd/internal/executor"
	"github.com/homelabops/remedyd/internal/loop"
	"github.com/homelabops/remedyd/internal/metrics"
	"github.com/homelabops/remedyd/internal/models"
	"github.com/homelabops/remedyd/internal/orchestrator"
	"github.com/homelabops/remedyd/internal/policy"
	"github.com/homelabops/remedyd/internal/repo"
	"github.com/homelabops/remedyd/internal/storage"
	"github.com/homelabops/remedyd/internal/utils"
	"github.com/homelabops/remedyd/pkg/cache"
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
	logger.Info("starting remedyd", slog.String("admin_address", cfg.Server.AdminAddress))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout.Std(),
			ReadTimeout:  cfg.Cache.ReadTimeout.Std(),
			WriteTimeout: cfg.Cache.WriteTimeout.Std(),
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable, cooldowns stay local", slog.Any("error", err))
		} else {
			cacheProvider = provider
			defer provider.Close()
		}
	}

	store, err := storage.Open(storage.Config{
		Path:     cfg.Storage.Path,
		InMemory: cfg.Storage.InMemory,
	}, logger)
	if err != nil {
		logger.Error("failed to open storage", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	det := detector.New(logger, store, cfg.Detector.Sensitivity)
	if baselines, err := store.ListBaselines(ctx); err != nil {
		logger.Warn("baseline restore failed", slog.Any("error", err))
	} else {
		det.Restore(baselines)
		logger.Info("baselines restored", slog.Int("count", len(baselines)))
	}

	pack, err := policy.LoadPack(cfg.Policy.Path)
	if err != nil {
		logger.Error("failed to load policy pack", slog.String("path", cfg.Policy.Path), slog.Any("error", err))
		os.Exit(1)
	}
	pol := policy.New(pack, logger)
	if cfg.Policy.Watch {
		go func() {
			if err := policy.Watch(ctx, cfg.Policy.Path, pol, logger); err != nil {
				logger.Warn("policy watcher stopped", slog.Any("error", err))
			}
		}()
	}

	auditSink, err := executor.NewFileAuditSink(cfg.Executor.AuditPath, logger)
	if err != nil {
		logger.Error("failed to open audit log", slog.String("path", cfg.Executor.AuditPath), slog.Any("error", err))
		os.Exit(1)
	}
	defer auditSink.Close()

	exec := executor.New(logger, pol, auditSink, executor.Config{
		DryRun:         cfg.Executor.DryRun,
		MaxPerMinute:   cfg.Executor.MaxExecutionsPerMinute,
		DefaultTimeout: cfg.Executor.DefaultTimeout.Std(),
		WorkDir:        cfg.Executor.WorkDir,
	})

	agent := repo.NewAgentClient(cfg.Agent.BaseURL, cfg.Agent.HealthPath, cfg.Agent.LogsPath, cfg.Agent.Timeout.Std())

	var adv advisor.Service
	if llm, err := advisor.NewOpenAI(cfg.Advisor.Model, cfg.Advisor.BaseURL, cfg.Advisor.Timeout.Std(), logger); err != nil {
		logger.Warn("advisor unavailable, remediation uses fallback plans", slog.Any("error", err))
	} else {
		adv = llm
	}

	cooldowns := orchestrator.NewCooldownStore(cfg.Remediation.CooldownWindow.Std(), cacheProvider, nil)
	for _, service := range cfg.Loop.Services {
		if at, ok, err := store.LastAttempt(ctx, service); err == nil && ok {
			cooldowns.Seed(service, at)
		}
	}

	orch := orchestrator.New(logger, agent, adv, exec, store, cooldowns, orchestrator.Config{
		ActionThreshold: models.Severity(cfg.Remediation.ActionThreshold),
		WaitDuration:    cfg.Remediation.WaitDuration.Std(),
	})

	source := loop.NewAgentFailureSource(agent, det, cfg.Loop.Services, cfg.Detector.WindowHours, logger)
	healLoop := loop.New(logger, source, orch, cfg.Remediation.Workers)
	go healLoop.Run(ctx, cfg.Loop.Interval.Std())

	server, err := api.NewServer(cfg.Server)
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
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
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout.Std())
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("remedyd stopped")
}
