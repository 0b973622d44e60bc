package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/timvw/pane-relay/internal/mux"
)

var (
	flagHistory bool
	flagLines   int
)

var captureCmd = &cobra.Command{
	Use:   "capture [target]",
	Short: "Capture the content of a pane",
	Long: `Capture the content of a tmux pane and print it to stdout, escape
sequences included.

The target is session, session:window or session:window.pane
(e.g., "mysession:0.1"). Without a target the configured default_target is
used.

This is pure transport: the content is not interpreted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel, cfg, gw, err := oneShot(cmd)
		if err != nil {
			return err
		}
		defer cancel()

		target := cfg.DefaultTarget
		if len(args) == 1 {
			target = args[0]
		}

		content, err := gw.Capture(ctx, target, mux.CaptureOptions{History: flagHistory, Lines: flagLines})
		if err != nil {
			return fmt.Errorf("failed to capture pane %q: %w", target, err)
		}

		fmt.Fprint(cmd.OutOrStdout(), content)
		return nil
	},
}

func init() {
	captureCmd.Flags().BoolVar(&flagHistory, "history", false, "include scrollback")
	captureCmd.Flags().IntVar(&flagLines, "lines", 0, "limit scrollback to the last N lines (with --history)")
	rootCmd.AddCommand(captureCmd)
}
