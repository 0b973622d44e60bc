package events

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultSocketPath returns the hint socket path under $XDG_RUNTIME_DIR,
// or a per-user directory in the temp dir.
func DefaultSocketPath() string {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir != "" {
		return filepath.Join(runtimeDir, "pane-relay", "hints.sock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("pane-relay-%d", os.Getuid()), "hints.sock")
}
