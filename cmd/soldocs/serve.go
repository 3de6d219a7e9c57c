package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/soldocs/soldocs/internal/agent"
	"github.com/soldocs/soldocs/internal/chain"
	"github.com/soldocs/soldocs/internal/config"
	"github.com/soldocs/soldocs/internal/docgen"
	"github.com/soldocs/soldocs/internal/llm"
	"github.com/soldocs/soldocs/internal/notify"
	"github.com/soldocs/soldocs/internal/server"
	"github.com/soldocs/soldocs/internal/store"
	"github.com/soldocs/soldocs/internal/telemetry"
	"github.com/soldocs/soldocs/internal/watcher"
)

// startupProbeTimeout bounds the RPC health check at boot.
const startupProbeTimeout = 30 * time.Second

var logJSON bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent and the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&logJSON, "log-json", false, "emit logs as JSON (overrides LOG_JSON)")
}

func serve(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-json") {
		cfg.LogJSON = logJSON
	}
	log := newLogger(cfg.LogJSON)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := telemetry.Init(ctx, "soldocs", version); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	st, err := store.Open(cfg.DataDir, log)
	if err != nil {
		return err
	}

	chainClient := chain.New(cfg.SolanaRPCURL, log)
	probeCtx, cancel := context.WithTimeout(ctx, startupProbeTimeout)
	coreVersion, err := chainClient.GetVersion(probeCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("startup validation failed: %w", err)
	}
	log.Info("connected to Solana RPC", "url", cfg.SolanaRPCURL, "core", coreVersion)

	if !strings.HasPrefix(cfg.AnthropicAPIKey, "sk-ant-") {
		log.Warn("ANTHROPIC_API_KEY does not look like an Anthropic key (expected sk-ant- prefix)")
	}

	llmClient, err := llm.New(cfg.AnthropicAPIKey, cfg.AnthropicModel, log)
	if err != nil {
		return err
	}
	gen := docgen.New(llmClient, log)
	notifier := notify.New(cfg.WebhookURL, log)

	ag := agent.New(st, chainClient, gen, notifier, agent.Config{
		Concurrency:       cfg.Concurrency,
		DiscoveryInterval: cfg.DiscoveryInterval,
	}, log)

	srv := server.New(fmt.Sprintf(":%d", cfg.APIPort), st, ag, log)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := ag.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(srv.Start)

	if cfg.IDLWatchDir != "" {
		w, err := watcher.New(cfg.IDLWatchDir, st, log)
		if err != nil {
			return err
		}
		g.Go(func() error {
			err := w.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	// Shutdown sequencing: wake the agent, then drain HTTP for up to 5s.
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		ag.Stop()
		return srv.Shutdown(context.Background())
	})

	log.Info("soldocs started",
		"version", version,
		"port", cfg.APIPort,
		"dataDir", cfg.DataDir,
		"concurrency", cfg.Concurrency,
		"interval", cfg.DiscoveryInterval,
	)
	return g.Wait()
}

func newLogger(json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if os.Getenv("SOLDOCS_DEBUG") == "1" {
		opts.Level = slog.LevelDebug
	}
	var h slog.Handler
	if json {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	log := slog.New(h)
	slog.SetDefault(log)
	return log
}
