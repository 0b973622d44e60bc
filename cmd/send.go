package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	flagNoEnter bool
	flagKeys    bool
)

var sendCmd = &cobra.Command{
	Use:   "send <target> <text>...",
	Short: "Type text into a pane",
	Long: `Type text into a tmux pane and press Enter.

The text is sent literally unless --keys is given, in which case tmux key
names such as C-c or Escape are interpreted. Use --no-enter to leave the
line unsubmitted.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel, _, gw, err := oneShot(cmd)
		if err != nil {
			return err
		}
		defer cancel()

		target, text := args[0], strings.Join(args[1:], " ")
		res, err := gw.SendKeys(ctx, target, text, !flagKeys)
		if err := checkResult("send-keys", res, err); err != nil {
			return fmt.Errorf("failed to send to %q: %w", target, err)
		}
		if flagNoEnter {
			return nil
		}
		res, err = gw.SendEnter(ctx, target)
		if err := checkResult("send-keys", res, err); err != nil {
			return fmt.Errorf("failed to send Enter to %q: %w", target, err)
		}
		return nil
	},
}

func init() {
	sendCmd.Flags().BoolVar(&flagNoEnter, "no-enter", false, "do not press Enter after the text")
	sendCmd.Flags().BoolVar(&flagKeys, "keys", false, "interpret tmux key names instead of sending literal text")
	rootCmd.AddCommand(sendCmd)
}
