package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/sanduku/internal/config"
	"github.com/jkaninda/sanduku/internal/gateway/httpapi"
	"github.com/jkaninda/sanduku/internal/gateway/mcpserver"
	"github.com/jkaninda/sanduku/internal/modules"
	"github.com/jkaninda/sanduku/internal/observability"
	"github.com/jkaninda/sanduku/internal/ratelimit"
	"github.com/jkaninda/sanduku/internal/repl"
)

var (
	serveConfigPath string
	serveTransport  string
	servePort       int
	serveWorkdir    string
	serveSandbox    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server (stdio or streamable HTTP)",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `sanduku --config path` and `sanduku serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&serveTransport, "transport", "", "override transport (stdio or http)")
		cmd.Flags().IntVar(&servePort, "port", 0, "override HTTP listen port")
		cmd.Flags().StringVar(&serveWorkdir, "workdir", "", "override working directory")
		cmd.Flags().BoolVar(&serveSandbox, "sandbox", false, "enable sandbox mode")
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// Logs go to stderr: stdout belongs to the stdio MCP transport.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("SANDUKU_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if serveTransport != "" {
		cfg.Transport = serveTransport
	}
	if servePort != 0 {
		cfg.Port = servePort
	}
	if serveWorkdir != "" {
		cfg.WorkingDirectory = serveWorkdir
	}
	if cmd.Flags().Changed("sandbox") {
		cfg.SandboxEnabled = serveSandbox
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.WorkingDirectory == "" {
		cfg.WorkingDirectory, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("resolving working directory: %w", err)
		}
	}

	logger.Info("starting sanduku",
		slog.String("version", version),
		slog.String("transport", cfg.Transport),
		slog.Bool("sandbox", cfg.SandboxEnabled),
		slog.Int("max_sessions", cfg.MaxSessions),
	)

	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return err
	}

	var engineMetrics *repl.Metrics
	if obs != nil && obs.Metrics != nil {
		engineMetrics = repl.NewMetrics(obs.Metrics.Registry)
	}

	registry := modules.DefaultRegistry(modules.Config{
		Root: cfg.WorkingDirectory,
	}, logger)

	engine := repl.NewEngine(repl.Options{
		Timeout:           cfg.Timeout(),
		MaxSessions:       cfg.MaxSessions,
		SessionTTL:        cfg.SessionTTL(),
		MaxOutputBytes:    cfg.MaxOutputBytes,
		MaxHistoryEntries: cfg.MaxLogEntries,
		Sandbox:           cfg.SandboxEnabled,
		WorkingDirectory:  cfg.WorkingDirectory,
	}, registry, logger, engineMetrics)

	if obs != nil && obs.Health != nil {
		obs.Health.AddCheck("sessions", func(context.Context) error {
			st := engine.Status()
			if st.MaxSessions > 0 && st.ActiveSessions >= st.MaxSessions {
				return fmt.Errorf("session capacity exhausted (%d/%d)", st.ActiveSessions, st.MaxSessions)
			}
			return nil
		})
	}

	sweeper, err := repl.NewSweeper(engine, cfg.EvictionInterval(), logger)
	if err != nil {
		return err
	}
	sweeper.Start()
	defer sweeper.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional admin HTTP gateway.
	if cfg.Gateway != nil && cfg.Gateway.Enabled {
		gwCfg := httpapi.Config{
			ListenAddr: cfg.Gateway.ListenAddr,
			EnableDocs: cfg.Gateway.EnableDocs,
			APIKeys:    cfg.Gateway.APIKeys,
		}
		if obs != nil {
			gwCfg.MetricsRegistry = obs.RegistryOrNil()
			gwCfg.HealthChecker = obs.Health
			gwCfg.Metrics = obs.Metrics
			if obs.Tracer != nil {
				gwCfg.Tracer = obs.Tracer.Tracer()
			}
			if cfg.Observability != nil && cfg.Observability.Metrics != nil {
				gwCfg.MetricsPath = cfg.Observability.Metrics.Path
			}
		}
		limiter := ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.Gateway.RequestsPerMinute,
			BurstSize:         cfg.Gateway.BurstSize,
		})
		gw := httpapi.NewGateway(gwCfg, engine, limiter, logger)
		go func() {
			if err := gw.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http gateway exited", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = gw.Stop(shutdownCtx)
		}()
	}

	srv := mcpserver.New(engine, cfg, version, logger)
	serveErr := srv.Serve(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	obs.Shutdown(shutdownCtx)

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	logger.Info("sanduku stopped")
	return nil
}
