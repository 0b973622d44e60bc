package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/timvw/pane-relay/internal/events"
	"github.com/timvw/pane-relay/internal/mux"
	telem "github.com/timvw/pane-relay/internal/otel"
	"github.com/timvw/pane-relay/internal/server"
	"github.com/timvw/pane-relay/internal/stream"
	"github.com/timvw/pane-relay/internal/validate"
)

var flagListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket gateway",
	Long: `Serve the REST API under /api/tmux and /api/settings, and stream pane
output at /api/tmux/ws/<target>.

Configuration is loaded from .pane-relay.yaml or environment variables.
See the README for all configuration options.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagListen, "listen", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration: defaults -> config file -> env vars -> flags.
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if flagListen != "" {
		cfg.Listen = flagListen
	}
	if err := validate.CheckName(cfg.DefaultTarget); err != nil {
		return fmt.Errorf("config: default_target: %w", err)
	}

	logger := newLogger(cfg, os.Stderr)
	if cfg.ConfigFile != "" {
		logger.Info("config loaded", "path", cfg.ConfigFile)
	}

	// Wire build version into OTEL service metadata
	telem.Version = Version

	// Initialize OTEL (no-op if no endpoint configured)
	tel, err := telem.Init(ctx, telem.OTELConfig{
		Endpoint: cfg.OTELEndpoint,
		Headers:  cfg.OTELHeaders,
	})
	if err != nil {
		logger.Warn("otel init failed", "error", err)
	}
	var metrics *telem.Metrics
	if tel != nil {
		metrics = tel.Metrics
		defer tel.Shutdown(context.Background())
	}

	gw := newGateway(cfg, logger)
	gw.Metrics = metrics
	if version, err := mux.Detect(ctx, gw); err != nil {
		logger.Warn("tmux unavailable, requests will fail until it is installed", "error", err)
	} else {
		logger.Info("tmux detected", "version", version, "socket", gw.Socket)
	}

	hub := stream.NewHub(gw, stream.HubConfig{
		Interval: cfg.PollIntervalDuration,
		Backoff:  cfg.CaptureBackoffDuration,
		Logger:   logger,
		Metrics:  metrics,
	})
	defer hub.Close()

	settings := server.NewSettingsStore(cfg.SettingsFile, logger)
	settings.Defaults.SessionName = cfg.DefaultTarget

	if !cfg.HintsDisabled() {
		socketPath := cfg.HintSocket
		if socketPath == "" {
			socketPath = events.DefaultSocketPath()
		}
		collector := events.NewCollector(hub, socketPath, logger, metrics)
		if err := collector.Start(ctx); err != nil {
			logger.Warn("refresh hints disabled", "error", err)
		} else {
			logger.Info("refresh hints listening", "socket", collector.SocketPath())
		}
	}

	srv := server.New(server.Config{
		Addr:              cfg.Listen,
		CORSOrigins:       cfg.CORSOrigins,
		HeartbeatInterval: cfg.HeartbeatIntervalDuration,
		ReceiveTimeout:    cfg.ReceiveTimeoutDuration,
		WriteTimeout:      cfg.WriteTimeoutDuration,
		CommandTimeout:    cfg.CommandTimeoutDuration,
	}, server.Deps{
		Gateway:  gw,
		Hub:      hub,
		Settings: settings,
		Logger:   logger,
		Metrics:  metrics,
	})

	err = srv.Start(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("shutting down")
		return nil
	}
	return err
}
