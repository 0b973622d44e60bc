package mux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Result is the outcome of one tmux invocation. A non-zero ExitCode is a
// normal result, not an error.
type Result struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// OK reports whether the command exited 0.
func (r Result) OK() bool {
	return r.ExitCode == 0
}

// Runner executes a program with an explicit argument vector.
// Implementations must never route the arguments through a shell.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// ExecRunner runs programs with os/exec.
type ExecRunner struct{}

// Run executes name with args and collects stdout, stderr and the exit code.
// An error is returned only if the process could not be started or the
// context ended before it finished.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, err
	}
	return res, nil
}

// ProcessError reports a tmux command that ran but exited non-zero.
type ProcessError struct {
	Op     string
	Result Result
}

func (e *ProcessError) Error() string {
	msg := strings.TrimSpace(e.Result.Stderr)
	if msg == "" {
		msg = "no output"
	}
	return fmt.Sprintf("tmux %s: exit status %d: %s", e.Op, e.Result.ExitCode, msg)
}

// resultErr converts a non-zero result into a *ProcessError.
func resultErr(op string, res Result) error {
	if res.OK() {
		return nil
	}
	return &ProcessError{Op: op, Result: res}
}
