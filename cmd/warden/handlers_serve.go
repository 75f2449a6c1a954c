package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/haasonsaas/warden/internal/auth"
	"github.com/haasonsaas/warden/internal/config"
	"github.com/haasonsaas/warden/internal/gateway"
	"github.com/haasonsaas/warden/internal/observability"
)

// runServe loads the configuration, starts the gateway and blocks until a
// shutdown signal or a server error.
func runServe(ctx context.Context, configPath string, debug, watch bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting warden gateway",
		"version", version,
		"commit", commit,
		"config", configPath,
		"llm_provider", cfg.LLM.DefaultProvider,
		"session_backend", cfg.Sessions.Backend,
		"approvals", cfg.Approval.IsEnabled(),
		"channels", cfg.Channels.Enabled(),
	)

	st, err := buildStack(cfg, logger, stackOptions{Metrics: observability.NewMetrics(), Channels: true})
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	server, err := gateway.New(gateway.Config{
		Server:              cfg.Server,
		Sessions:            cfg.Sessions,
		Maintenance:         cfg.Maintenance,
		Runtime:             st.runtime,
		Lanes:               st.lanes,
		Approvals:           st.approvals,
		Auth:                auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry),
		MemoryLog:           st.memoryLog,
		MemoryRetentionDays: cfg.Memory.RetentionDays,
		Metrics:             st.metrics,
		Logger:              logger,
		OnShutdown:          st.closers,
	})
	if err != nil {
		_ = st.close(context.Background())
		return fmt.Errorf("failed to initialize gateway: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := server.Start(ctx); err != nil {
		_ = st.close(context.Background())
		return err
	}

	if watch && st.approvals != nil {
		watcher := config.NewWatcher(configPath, func(next *config.Config) {
			if err := st.approvals.UpdatePolicy(next.Approval.Policy()); err != nil {
				logger.Warn("approval policy not reloaded", "error", err)
				return
			}
			logger.Info("approval policy reloaded", "trust_mode", next.Approval.TrustMode)
		}, config.WatcherOptions{Logger: logger})
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("config watcher not started", "error", err)
		} else {
			defer watcher.Close()
		}
	}

	<-ctx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	logger.Info("warden gateway stopped")
	return nil
}
