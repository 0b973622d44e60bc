package mux

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/timvw/pane-relay/internal/model"
	telem "github.com/timvw/pane-relay/internal/otel"
	"github.com/timvw/pane-relay/internal/validate"
)

var tracer = otel.Tracer("pane-relay")

// Resize bounds. Values outside are clamped.
const (
	MinCols = 20
	MaxCols = 500
	MinRows = 24
	MaxRows = 200
)

// captureTimeout bounds a shared capture-pane call.
const captureTimeout = 10 * time.Second

// Tmux implements Gateway by running the tmux binary.
type Tmux struct {
	Runner  Runner
	Binary  string
	Socket  string // absolute path passed as -S; empty uses tmux's default
	Logger  *slog.Logger
	Metrics *telem.Metrics // nil-safe

	captures singleflight.Group
}

// NewTmux creates a tmux gateway. A relative socket path is ignored with a
// warning so the default server is used instead.
func NewTmux(runner Runner, socket string, logger *slog.Logger) *Tmux {
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if socket != "" && !filepath.IsAbs(socket) {
		logger.Warn("ignoring relative tmux socket path", "socket", socket)
		socket = ""
	}
	return &Tmux{
		Runner: runner,
		Binary: "tmux",
		Socket: socket,
		Logger: logger,
	}
}

// Args returns the full argument vector for a tmux subcommand, including
// the socket selector.
func (t *Tmux) Args(args ...string) []string {
	if t.Socket == "" {
		return args
	}
	return append([]string{"-S", t.Socket}, args...)
}

// run executes one tmux subcommand. args[0] is the subcommand name.
func (t *Tmux) run(ctx context.Context, args ...string) (Result, error) {
	op := args[0]
	ctx, span := tracer.Start(ctx, "tmux."+op,
		trace.WithAttributes(attribute.StringSlice("tmux.args", args[1:])))
	defer span.End()

	res, err := t.Runner.Run(ctx, t.Binary, t.Args(args...)...)
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.Metrics.RecordTmuxCommand(ctx, op, "error")
		return res, fmt.Errorf("tmux %s: %w", op, err)
	case !res.OK():
		span.SetAttributes(attribute.Int("tmux.exit_code", res.ExitCode))
		t.Metrics.RecordTmuxCommand(ctx, op, "exit_nonzero")
	default:
		t.Metrics.RecordTmuxCommand(ctx, op, "ok")
	}
	return res, nil
}

// SendKeys types keys into target.
func (t *Tmux) SendKeys(ctx context.Context, target, keys string, literal bool) (Result, error) {
	if err := t.check(ctx, validate.CheckTarget(target)); err != nil {
		return Result{}, err
	}
	if err := t.check(ctx, validate.CheckCommand(keys)); err != nil {
		return Result{}, err
	}
	args := []string{"send-keys", "-t", target}
	if literal {
		args = append(args, "-l")
	}
	// "--" stops option parsing so keys starting with '-' are sent as typed.
	args = append(args, "--", keys)
	return t.run(ctx, args...)
}

// SendEnter presses Enter in target.
func (t *Tmux) SendEnter(ctx context.Context, target string) (Result, error) {
	if err := t.check(ctx, validate.CheckTarget(target)); err != nil {
		return Result{}, err
	}
	return t.run(ctx, "send-keys", "-t", target, "Enter")
}

// Capture returns the content of target. Concurrent identical captures
// share one tmux process.
func (t *Tmux) Capture(ctx context.Context, target string, opts CaptureOptions) (string, error) {
	if err := t.check(ctx, validate.CheckTarget(target)); err != nil {
		return "", err
	}
	args := []string{"capture-pane", "-t", target, "-e", "-p"}
	if opts.History {
		if opts.Lines > 0 {
			args = append(args, "-S", "-"+strconv.Itoa(opts.Lines))
		} else {
			args = append(args, "-S", "-")
		}
	}

	// The shared call ignores the cancellation of whichever caller started
	// it; each caller only stops waiting on its own ctx.
	key := strings.Join(args, "\x00")
	ch := t.captures.DoChan(key, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), captureTimeout)
		defer cancel()
		res, err := t.run(runCtx, args...)
		if err != nil {
			return "", err
		}
		if err := resultErr("capture-pane", res); err != nil {
			return "", err
		}
		return res.Stdout, nil
	})
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("tmux capture-pane: %w", ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	}
}

// HasSession reports whether session exists. A missing tmux server counts
// as "no".
func (t *Tmux) HasSession(ctx context.Context, session string) (bool, error) {
	if err := t.check(ctx, validate.CheckName(session)); err != nil {
		return false, err
	}
	res, err := t.run(ctx, "has-session", "-t", exactSession(session))
	if err != nil {
		return false, err
	}
	return res.OK(), nil
}

// exactSession turns off tmux's prefix and pattern matching for a session
// given to -t.
func exactSession(name string) string {
	return "=" + name
}

// ListSessions returns session names. No running server yields an empty list.
func (t *Tmux) ListSessions(ctx context.Context) ([]string, error) {
	res, err := t.run(ctx, "list-sessions", "-F", "#{session_name}")
	if err != nil {
		return nil, err
	}
	if !res.OK() {
		if noServer(res.Stderr) {
			return []string{}, nil
		}
		return nil, resultErr("list-sessions", res)
	}
	return splitLines(res.Stdout), nil
}

const (
	windowFormat = "#{window_index}|#{window_name}|#{window_active}|#{window_panes}"
	paneFormat   = "#{pane_index}|#{pane_active}|#{pane_current_command}|#{pane_width}x#{pane_height}"
)

// ListWindows returns the windows of session.
func (t *Tmux) ListWindows(ctx context.Context, session string) ([]model.Window, error) {
	if err := t.check(ctx, validate.CheckName(session)); err != nil {
		return nil, err
	}
	res, err := t.run(ctx, "list-windows", "-t", exactSession(session), "-F", windowFormat)
	if err != nil {
		return nil, err
	}
	if err := resultErr("list-windows", res); err != nil {
		return nil, err
	}
	var windows []model.Window
	for _, line := range splitLines(res.Stdout) {
		if w, ok := parseWindow(line); ok {
			windows = append(windows, w)
		}
	}
	return windows, nil
}

// ListPanes returns the panes of session:window.
func (t *Tmux) ListPanes(ctx context.Context, session, window string) ([]model.Pane, error) {
	target := session + ":" + window
	if err := t.check(ctx, validate.CheckTarget(target)); err != nil {
		return nil, err
	}
	res, err := t.run(ctx, "list-panes", "-t", target, "-F", paneFormat)
	if err != nil {
		return nil, err
	}
	if err := resultErr("list-panes", res); err != nil {
		return nil, err
	}
	var panes []model.Pane
	for _, line := range splitLines(res.Stdout) {
		if p, ok := parsePane(line); ok {
			panes = append(panes, p)
		}
	}
	return panes, nil
}

// Hierarchy returns all sessions with their windows and panes. Sessions or
// windows that disappear while walking are skipped.
func (t *Tmux) Hierarchy(ctx context.Context) (model.Hierarchy, error) {
	sessions, err := t.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	h := make(model.Hierarchy, len(sessions))
	for _, s := range sessions {
		if !validate.Name(s) {
			// Sessions created outside the relay may carry names we refuse to address.
			t.Logger.Debug("skipping session with unaddressable name", "session", s)
			continue
		}
		windows, err := t.ListWindows(ctx, s)
		if err != nil {
			t.Logger.Debug("list windows failed", "session", s, "error", err)
			continue
		}
		node := model.SessionNode{Name: s, Windows: make(map[string]model.WindowNode, len(windows))}
		for _, w := range windows {
			panes, err := t.ListPanes(ctx, s, strconv.Itoa(w.Index))
			if err != nil {
				t.Logger.Debug("list panes failed", "session", s, "window", w.Index, "error", err)
				panes = nil
			}
			wn := model.WindowNode{Window: w, Panes: make(map[string]model.Pane, len(panes))}
			for _, p := range panes {
				wn.Panes[model.Key(p.Index)] = p
			}
			node.Windows[model.Key(w.Index)] = wn
		}
		h[s] = node
	}
	return h, nil
}

// NewSession creates a detached session.
func (t *Tmux) NewSession(ctx context.Context, name string) (Result, error) {
	if err := t.check(ctx, validate.CheckName(name)); err != nil {
		return Result{}, err
	}
	return t.run(ctx, "new-session", "-d", "-s", name)
}

// KillSession kills a session.
func (t *Tmux) KillSession(ctx context.Context, name string) (Result, error) {
	if err := t.check(ctx, validate.CheckName(name)); err != nil {
		return Result{}, err
	}
	return t.run(ctx, "kill-session", "-t", exactSession(name))
}

// EnsureSession creates name when has-session reports it missing.
func (t *Tmux) EnsureSession(ctx context.Context, name string) (bool, error) {
	ok, err := t.HasSession(ctx, name)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}
	res, err := t.NewSession(ctx, name)
	if err != nil {
		return false, err
	}
	if err := resultErr("new-session", res); err != nil {
		return false, err
	}
	t.Logger.Info("created tmux session", "session", name)
	return true, nil
}

// NewWindow creates a detached window in session.
func (t *Tmux) NewWindow(ctx context.Context, session, name string) (Result, error) {
	if err := t.check(ctx, validate.CheckName(session)); err != nil {
		return Result{}, err
	}
	args := []string{"new-window", "-d", "-t", session + ":"}
	if name != "" {
		if err := t.check(ctx, validate.CheckName(name)); err != nil {
			return Result{}, err
		}
		args = append(args, "-n", name)
	}
	return t.run(ctx, args...)
}

// KillWindow kills session:index.
func (t *Tmux) KillWindow(ctx context.Context, session, index string) (Result, error) {
	if err := t.check(ctx, validate.CheckName(session)); err != nil {
		return Result{}, err
	}
	if err := t.check(ctx, validate.CheckName(index)); err != nil {
		return Result{}, err
	}
	return t.run(ctx, "kill-window", "-t", session+":"+index)
}

// ResizeWindow resizes the window containing target.
func (t *Tmux) ResizeWindow(ctx context.Context, target string, cols, rows int) (Result, error) {
	if err := t.check(ctx, validate.CheckTarget(target)); err != nil {
		return Result{}, err
	}
	cols = clamp(cols, MinCols, MaxCols)
	rows = clamp(rows, MinRows, MaxRows)
	return t.run(ctx, "resize-window", "-t", target,
		"-x", strconv.Itoa(cols), "-y", strconv.Itoa(rows))
}

// check logs and counts a validation failure.
func (t *Tmux) check(ctx context.Context, err error) error {
	if err != nil {
		t.Logger.Warn("rejected tmux request", "error", err)
		t.Metrics.RecordValidationRejection(ctx, "gateway")
	}
	return err
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func noServer(stderr string) bool {
	return strings.Contains(stderr, "no server running") ||
		strings.Contains(stderr, "error connecting to") ||
		strings.Contains(stderr, "No such file or directory")
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(strings.TrimSpace(s), "\n") {
		if line = strings.TrimRight(line, "\r"); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// parseWindow parses "index|name|active|panes". The name may itself
// contain '|', so the fixed fields are taken from both ends.
func parseWindow(line string) (model.Window, bool) {
	parts := strings.Split(line, "|")
	if len(parts) < 4 {
		return model.Window{}, false
	}
	n := len(parts)
	idx, err := strconv.Atoi(parts[0])
	if err != nil {
		return model.Window{}, false
	}
	count, err := strconv.Atoi(parts[n-1])
	if err != nil {
		return model.Window{}, false
	}
	return model.Window{
		Index:     idx,
		Name:      strings.Join(parts[1:n-2], "|"),
		Active:    parts[n-2] == "1",
		PaneCount: count,
	}, true
}

// parsePane parses "index|active|command|WxH".
func parsePane(line string) (model.Pane, bool) {
	parts := strings.Split(line, "|")
	if len(parts) < 4 {
		return model.Pane{}, false
	}
	n := len(parts)
	idx, err := strconv.Atoi(parts[0])
	if err != nil {
		return model.Pane{}, false
	}
	return model.Pane{
		Index:   idx,
		Active:  parts[1] == "1",
		Command: strings.Join(parts[2:n-1], "|"),
		Size:    parts[n-1],
	}, true
}
