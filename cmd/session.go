package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Create or kill tmux sessions",
}

var sessionNewCmd = &cobra.Command{
	Use:   "new <name>",
	Short: "Create a detached session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel, _, gw, err := oneShot(cmd)
		if err != nil {
			return err
		}
		defer cancel()

		res, err := gw.NewSession(ctx, args[0])
		if err := checkResult("new-session", res, err); err != nil {
			return fmt.Errorf("failed to create session %q: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Session %s created\n", args[0])
		return nil
	},
}

var sessionKillCmd = &cobra.Command{
	Use:   "kill <name>",
	Short: "Kill a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel, _, gw, err := oneShot(cmd)
		if err != nil {
			return err
		}
		defer cancel()

		res, err := gw.KillSession(ctx, args[0])
		if err := checkResult("kill-session", res, err); err != nil {
			return fmt.Errorf("failed to kill session %q: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Session %s killed\n", args[0])
		return nil
	},
}

var flagWindowName string

var windowCmd = &cobra.Command{
	Use:   "window",
	Short: "Create or kill tmux windows",
}

var windowNewCmd = &cobra.Command{
	Use:   "new <session>",
	Short: "Create a window in a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel, _, gw, err := oneShot(cmd)
		if err != nil {
			return err
		}
		defer cancel()

		res, err := gw.NewWindow(ctx, args[0], flagWindowName)
		if err := checkResult("new-window", res, err); err != nil {
			return fmt.Errorf("failed to create window in %q: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Window created in session %s\n", args[0])
		return nil
	},
}

var windowKillCmd = &cobra.Command{
	Use:   "kill <session> <index>",
	Short: "Kill a window",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel, _, gw, err := oneShot(cmd)
		if err != nil {
			return err
		}
		defer cancel()

		res, err := gw.KillWindow(ctx, args[0], args[1])
		if err := checkResult("kill-window", res, err); err != nil {
			return fmt.Errorf("failed to kill window %s:%s: %w", args[0], args[1], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Window %s:%s killed\n", args[0], args[1])
		return nil
	},
}

func init() {
	sessionCmd.AddCommand(sessionNewCmd, sessionKillCmd)
	windowNewCmd.Flags().StringVar(&flagWindowName, "name", "", "window name (default: chosen by tmux)")
	windowCmd.AddCommand(windowNewCmd, windowKillCmd)
	rootCmd.AddCommand(sessionCmd, windowCmd)
}
