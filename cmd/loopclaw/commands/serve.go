package commands

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

	"github.com/jholhewres/loopclaw/pkg/loopclaw/agent"
	"github.com/jholhewres/loopclaw/pkg/loopclaw/config"
	"github.com/jholhewres/loopclaw/pkg/loopclaw/gateway"
	"github.com/jholhewres/loopclaw/pkg/loopclaw/loop"
	"github.com/jholhewres/loopclaw/pkg/loopclaw/notify"
	"github.com/jholhewres/loopclaw/pkg/loopclaw/secrets"
	"github.com/jholhewres/loopclaw/pkg/loopclaw/store"
)

// newServeCmd creates the `loopclaw serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the loop daemon and control API",
		Long: `Start LoopClaw as a daemon: loads persisted loop configurations,
forces them all to disabled, and serves the HTTP control API.

Examples:
  loopclaw serve
  loopclaw serve --config ./loopclaw.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Load config ──
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.LoadFromFile(cfgPath)
	if err != nil {
		return err
	}

	// ── Configure logger ──
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logLevel := cfg.LogLevel()
	if verbose {
		logLevel = slog.LevelDebug
	}
	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)

	// ── Open store ──
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	st, err := store.OpenSQLite(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("opening thread store: %w", err)
	}
	defer st.Close()

	// ── Resolve secrets ──
	vault, err := secrets.OpenVault(logger)
	if err != nil {
		logger.Warn("vault unavailable, vault: references will fail", "error", err)
	}
	resolver := secrets.NewResolver(vault, logger)

	// ── Agent executor ──
	exec, err := agent.NewCommandExecutor(cfg.Agent, logger)
	if err != nil {
		return err
	}

	// ── Event bus and notifier ──
	bus := notify.NewBus(logger)
	if cfg.Notify.Token != "" && cfg.Notify.ChannelID != "" {
		discord, err := notify.NewDiscordNotifier(cfg.Notify, logger)
		if err != nil {
			logger.Error("failed to start discord notifier", "error", err)
		} else {
			defer discord.Close()
			bus.AddNotifier(discord)
		}
	}

	// ── Loop manager ──
	manager := loop.NewManager(st, exec, bus, logger,
		loop.WithSecretResolver(resolver))

	// Loops never resume automatically across restarts.
	ctx := context.Background()
	if err := manager.DisableAll(ctx); err != nil {
		return fmt.Errorf("disabling persisted loops: %w", err)
	}

	// ── Gateway ──
	gw := gateway.New(manager, st, cfg.Gateway, logger)
	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("starting gateway: %w", err)
	}

	logger.Info("LoopClaw running. Press Ctrl+C to stop.",
		"address", cfg.Gateway.Address,
		"database", filepath.Clean(cfg.DatabasePath()),
	)

	// ── Wait for shutdown ──
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	done := make(chan struct{})
	go func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = gw.Stop(shutdownCtx)
		manager.Shutdown()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("stopped cleanly")
	case <-time.After(15 * time.Second):
		logger.Warn("shutdown timed out, exiting anyway")
	}
	return nil
}
