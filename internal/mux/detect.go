package mux

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Detect checks that the tmux binary is installed and returns its version
// string (e.g., "tmux 3.4"). A missing server is not an error: the relay
// starts sessions on demand.
func Detect(ctx context.Context, t *Tmux) (string, error) {
	if _, err := exec.LookPath(t.Binary); err != nil {
		return "", fmt.Errorf("tmux not found in PATH: %w", err)
	}
	res, err := t.Runner.Run(ctx, t.Binary, "-V")
	if err != nil {
		return "", fmt.Errorf("tmux -V: %w", err)
	}
	if !res.OK() {
		return "", resultErr("-V", res)
	}
	return strings.TrimSpace(res.Stdout), nil
}

// SocketFromEnv returns the socket path of the tmux server this process runs
// under, taken from $TMUX ("socket,pid,session"). Empty outside tmux.
func SocketFromEnv() string {
	v := os.Getenv("TMUX")
	if v == "" {
		return ""
	}
	socket, _, _ := strings.Cut(v, ",")
	return socket
}
