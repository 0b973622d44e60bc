package cmd

import (
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/timvw/pane-relay/internal/viewer"
)

var (
	flagServer   string
	flagTheme    string
	flagInterval time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch [target]",
	Short: "Follow a pane's output from a running server",
	Long: `Open a terminal viewer on a pane-relay server's stream for target.

The viewer reconnects with backoff when the connection drops and re-sends its
refresh rate on every connect. Keys: q quit, +/- change refresh rate,
i type a command, r reconnect.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		target := cfg.DefaultTarget
		if len(args) == 1 {
			target = args[0]
		}
		server := flagServer
		if server == "" {
			server = cfg.Listen
		}

		// The alternate screen owns the terminal; logs would corrupt it.
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))

		tui := &viewer.TUI{
			Client:    viewer.NewClient(server, logger),
			Target:    target,
			Interval:  flagInterval,
			ThemeName: flagTheme,
		}
		return tui.Run(cmd.Context())
	},
}

func init() {
	watchCmd.Flags().StringVar(&flagServer, "server", "", "server URL or host:port (default: the configured listen address)")
	watchCmd.Flags().StringVar(&flagTheme, "theme", "dark", "Color theme: dark, light")
	watchCmd.Flags().DurationVar(&flagInterval, "interval", 2*time.Second, "requested refresh rate")
	rootCmd.AddCommand(watchCmd)
}
