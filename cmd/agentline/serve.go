package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentline/agentline/internal/ask"
	"github.com/agentline/agentline/internal/channels"
	"github.com/agentline/agentline/internal/channels/telegram"
	"github.com/agentline/agentline/internal/channels/whatsapp"
	"github.com/agentline/agentline/internal/config"
	"github.com/agentline/agentline/internal/gateway"
	"github.com/agentline/agentline/internal/store"
)

func buildServeCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the channel gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "agentline.yaml", "Path to configuration file")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	return cmd
}

// runServe loads configuration, wires the components, and blocks until
// a shutdown signal arrives.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := buildLogger(cfg.Logging, debug)
	slog.SetDefault(logger)

	logger.Info("starting agentline gateway",
		"version", version,
		"commit", commit,
		"config", configPath,
		"port", cfg.Server.Port)

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	credStore, err := store.NewSQLiteStore(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}
	defer credStore.Close()

	askClient, err := ask.NewClient(ask.Config{
		BaseURL: cfg.Ask.BaseURL,
		Token:   cfg.Ask.Token,
		Timeout: cfg.Ask.Timeout.Std(),
	})
	if err != nil {
		return fmt.Errorf("create ask client: %w", err)
	}

	telegramDriver := telegram.NewDriver(logger)
	whatsappDriver, err := whatsapp.NewDriver(ctx, cfg.Database.SessionPath, logger)
	if err != nil {
		return fmt.Errorf("create whatsapp driver: %w", err)
	}
	defer whatsappDriver.Close()

	manager, err := channels.NewManager(channels.ManagerConfig{
		PublicBaseURL: cfg.Server.PublicBaseURL,
		DeployTimeout: cfg.Channels.DeployTimeout.Std(),
		AskTimeout:    cfg.Ask.Timeout.Std(),
		Reconnect: channels.SupervisorConfig{
			BaseDelay:   cfg.Channels.Reconnect.BaseDelay.Std(),
			MaxAttempts: cfg.Channels.Reconnect.MaxAttempts,
		},
	}, channels.NewRegistry(), credStore, askClient, telegramDriver, whatsappDriver, logger)
	if err != nil {
		return fmt.Errorf("create connection manager: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Channels.Rehydrate {
		logger.Info("rehydrating persisted deployments")
		if err := manager.Rehydrate(ctx); err != nil {
			logger.Error("rehydration failed", "error", err)
		}
	}

	server := gateway.NewServer(gateway.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, manager, logger)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	server.Stop(shutdownCtx)
	manager.Shutdown(shutdownCtx)

	logger.Info("shutdown complete")
	return nil
}

// buildLogger constructs the process logger from config; debug forces
// the debug level.
func buildLogger(cfg config.LoggingConfig, debug bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
