package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/timvw/pane-relay/internal/config"
	"github.com/timvw/pane-relay/internal/mux"
)

var (
	// Global flags.
	flagConfig   string
	flagSocket   string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "pane-relay",
	Short: "Remote gateway to tmux sessions over HTTP and WebSocket",
	Long: `pane-relay exposes local tmux sessions to remote clients.

The server accepts commands over a REST API and streams pane output to
WebSocket subscribers. One poller runs per watched target no matter how many
clients watch it, and every identifier is validated before tmux is invoked.

The remaining subcommands talk to tmux directly, or to a running server.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: .pane-relay.yaml, then ~/.config/pane-relay/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagSocket, "socket", "", "tmux server socket path (tmux -S)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
}

// loadConfig loads configuration and applies global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if flagSocket != "" {
		cfg.TmuxSocket = flagSocket
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	return cfg, nil
}

// newLogger builds the process logger from cfg, writing to w.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newGateway returns the tmux gateway for cfg. Without an explicit socket
// the server of the enclosing tmux session is used, if any.
func newGateway(cfg *config.Config, logger *slog.Logger) *mux.Tmux {
	socket := cfg.TmuxSocket
	if socket == "" {
		socket = mux.SocketFromEnv()
	}
	return mux.NewTmux(mux.ExecRunner{}, socket, logger)
}

// oneShot loads config and a gateway for a single CLI operation.
func oneShot(cmd *cobra.Command) (context.Context, context.CancelFunc, *config.Config, *mux.Tmux, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	logger := newLogger(cfg, os.Stderr)
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.CommandTimeoutDuration)
	return ctx, cancel, cfg, newGateway(cfg, logger), nil
}

// checkResult turns a non-zero tmux exit into an error.
func checkResult(op string, res mux.Result, err error) error {
	if err != nil {
		return err
	}
	if !res.OK() {
		return &mux.ProcessError{Op: op, Result: res}
	}
	return nil
}
