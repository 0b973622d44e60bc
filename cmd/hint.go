package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/timvw/pane-relay/internal/events"
)

var (
	flagHintSocket string
	flagHintSource string
)

var hintCmd = &cobra.Command{
	Use:   "hint <target>",
	Short: "Ask a running server to refresh a target now",
	Long: `Send a refresh hint to a running server's hint socket. Every streamed
target in the hint's session is captured immediately instead of at its next
poll. Meant for tmux hooks, e.g.:

  set-hook -g pane-exited 'run-shell "pane-relay hint #{session_name}"'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		socketPath := flagHintSocket
		if socketPath == "" && !cfg.HintsDisabled() {
			socketPath = cfg.HintSocket
		}
		if socketPath == "" {
			socketPath = events.DefaultSocketPath()
		}
		if err := events.Send(socketPath, events.Hint{Target: args[0], Source: flagHintSource}); err != nil {
			return fmt.Errorf("hint %q: %w", args[0], err)
		}
		return nil
	},
}

func init() {
	hintCmd.Flags().StringVar(&flagHintSocket, "hint-socket", "", "hint socket path (default: the configured hint_socket)")
	hintCmd.Flags().StringVar(&flagHintSource, "source", "cli", "free-form origin recorded in server logs")
	rootCmd.AddCommand(hintCmd)
}
