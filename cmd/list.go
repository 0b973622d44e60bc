package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/timvw/pane-relay/internal/model"
)

var flagSessionsOnly bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, windows and panes",
	Long: `List tmux sessions with their windows and panes as a tree.

Each pane line starts with a target that can be passed to other commands
(capture, send, watch). Use --sessions to print session names only.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel, _, gw, err := oneShot(cmd)
		if err != nil {
			return err
		}
		defer cancel()

		if flagSessionsOnly {
			sessions, err := gw.ListSessions(ctx)
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}
			for _, s := range sessions {
				fmt.Fprintln(cmd.OutOrStdout(), s)
			}
			return nil
		}

		h, err := gw.Hierarchy(ctx)
		if err != nil {
			return fmt.Errorf("failed to list panes: %w", err)
		}
		printHierarchy(cmd.OutOrStdout(), h)
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVar(&flagSessionsOnly, "sessions", false, "print session names only")
	rootCmd.AddCommand(listCmd)
}

func printHierarchy(w io.Writer, h model.Hierarchy) {
	for _, name := range h.SessionNames() {
		fmt.Fprintln(w, name)
		for _, win := range h[name].SortedWindows() {
			fmt.Fprintf(w, "  %s:%d  %s%s\n", name, win.Index, win.Name, marker(win.Active))
			for _, p := range win.SortedPanes() {
				fmt.Fprintf(w, "    %s:%d.%d  %s  %s%s\n", name, win.Index, p.Index, p.Command, p.Size, marker(p.Active))
			}
		}
	}
}

func marker(active bool) string {
	if active {
		return " *"
	}
	return ""
}
