// Package main provides the CLI entry point for the beacon trace server.
//
// Beacon is a self-hosted observability backend for AI agent runs: SDKs and
// OTLP senders POST spans, the server aggregates them into traces, and the UI
// follows live runs over a WebSocket.
//
// # Basic Usage
//
// Start the server:
//
//	beacon serve --config beacon.yaml
//
// # Environment Variables
//
//   - OPENAI_API_KEY: OpenAI key for replay and scenario runs
//   - ANTHROPIC_API_KEY: Anthropic key for replay and scenario runs
//   - GOOGLE_API_KEY: Gemini key for replay and scenario runs
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/beacon/internal/config"
	"github.com/haasonsaas/beacon/internal/llm"
	"github.com/haasonsaas/beacon/internal/server"
	"github.com/haasonsaas/beacon/internal/store"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "beacon",
		Short: "Beacon - trace server for AI agent runs",
		Long: `Beacon ingests execution traces from AI agents and serves them to a
local UI: span intake (native and OTLP JSON), live WebSocket updates,
LLM call replay, and scripted demo scenarios.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd())
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var configPath string
	var addr string
	var logLevel string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the beacon server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			return runServe(cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	return cmd
}

func runServe(cfg *config.Config) error {
	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	registry, err := llm.NewRegistry(
		cfg.Providers.OpenAI,
		cfg.Providers.Anthropic,
		cfg.Providers.Google,
	)
	if err != nil {
		return fmt.Errorf("configure providers: %w", err)
	}

	srv := server.New(server.Options{
		Addr:     cfg.Server.Addr,
		Store:    st,
		Registry: registry,
		Logger:   logger,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		return srv.Shutdown(context.Background())
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
