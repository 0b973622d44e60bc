package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/timvw/pane-relay/internal/mux"
	"github.com/timvw/pane-relay/internal/stream"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   [][]string
	handler func(args []string) mux.Result
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (mux.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, args)
	h := f.handler
	f.mu.Unlock()
	if h == nil {
		return mux.Result{}, nil
	}
	return h(args), nil
}

func (f *fakeRunner) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c[0])
	}
	return out
}

func (f *fakeRunner) callsFor(op string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]string
	for _, c := range f.calls {
		if c[0] == op {
			out = append(out, c)
		}
	}
	return out
}

type harness struct {
	runner *fakeRunner
	srv    *Server
	hub    *stream.Hub
	http   *httptest.Server
}

func newHarness(t *testing.T, settingsPath string) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runner := &fakeRunner{handler: func(args []string) mux.Result {
		switch args[0] {
		case "capture-pane":
			return mux.Result{Stdout: "hello\n"}
		case "list-sessions":
			return mux.Result{Stdout: "default\nbuild\n"}
		}
		return mux.Result{}
	}}
	gw := mux.NewTmux(runner, "", logger)
	hub := stream.NewHub(gw, stream.HubConfig{Interval: 20 * time.Millisecond, Logger: logger})
	srv := New(Config{
		CORSOrigins:       []string{"http://localhost:3000"},
		HeartbeatInterval: time.Hour,
		ReceiveTimeout:    50 * time.Millisecond,
	}, Deps{
		Gateway:  gw,
		Hub:      hub,
		Settings: NewSettingsStore(settingsPath, logger),
		Logger:   logger,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		hub.Close()
		ts.Close()
	})
	return &harness{runner: runner, srv: srv, hub: hub, http: ts}
}

func (h *harness) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, h.http.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return resp, out
}

func TestSendCommandRejectsInjection(t *testing.T) {
	h := newHarness(t, "")
	resp, body := h.do(t, "POST", "/api/tmux/send-command", `{"command":"ls","target":"a;b"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if !strings.Contains(body["detail"].(string), "invalid target") {
		t.Errorf("detail = %v", body["detail"])
	}
	if ops := h.runner.ops(); len(ops) != 0 {
		t.Fatalf("tmux invoked for invalid target: %v", ops)
	}
}

func TestSendCommandTooLong(t *testing.T) {
	h := newHarness(t, "")
	cmd := strings.Repeat("x", 4097)
	resp, _ := h.do(t, "POST", "/api/tmux/send-command", `{"command":"`+cmd+`","target":"default"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if len(h.runner.ops()) != 0 {
		t.Fatal("tmux invoked for oversized command")
	}
}

func TestSendCommand(t *testing.T) {
	h := newHarness(t, "")
	resp, body := h.do(t, "POST", "/api/tmux/send-command", `{"command":"echo hi; whoami"}`)
	if resp.StatusCode != http.StatusOK || body["success"] != true {
		t.Fatalf("status = %d body = %v", resp.StatusCode, body)
	}
	sends := h.runner.callsFor("send-keys")
	if len(sends) != 1 {
		t.Fatalf("send-keys calls = %v", h.runner.ops())
	}
	got := sends[0]
	if got[2] != "default" || got[len(got)-1] != "echo hi; whoami" {
		t.Errorf("send-keys argv = %q", got)
	}
	if len(h.runner.callsFor("has-session")) != 1 {
		t.Errorf("auto-create did not probe the session: %v", h.runner.ops())
	}
}

func TestSendCommandTmuxFailure(t *testing.T) {
	h := newHarness(t, "")
	h.runner.handler = func(args []string) mux.Result {
		if args[0] == "send-keys" {
			return mux.Result{ExitCode: 1, Stderr: "can't find pane: 9"}
		}
		return mux.Result{}
	}
	resp, body := h.do(t, "POST", "/api/tmux/send-command", `{"command":"ls","target":"default:0.9"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	detail := body["detail"].(string)
	if !strings.Contains(detail, "Failed to send command") || !strings.Contains(detail, "can't find pane") {
		t.Errorf("detail = %q", detail)
	}
}

func TestSendCommandWithoutAutoCreate(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, filepath.Join(dir, "settings.json"))
	resp, _ := h.do(t, "PUT", "/api/settings/", `{"session_name":"work","auto_create_session":false,"capture_history":false}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT settings status = %d", resp.StatusCode)
	}
	h.do(t, "POST", "/api/tmux/send-command", `{"command":"ls"}`)
	if got := h.runner.ops(); len(got) != 1 || got[0] != "send-keys" {
		t.Fatalf("ops = %v, want only send-keys", got)
	}
	if target := h.runner.callsFor("send-keys")[0][2]; target != "work" {
		t.Errorf("default target = %q, want configured session", target)
	}
}

func TestOutput(t *testing.T) {
	h := newHarness(t, "")
	resp, body := h.do(t, "GET", "/api/tmux/output?target=build:0&include_history=true&lines=100", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["content"] != "hello\n" || body["target"] != "build:0" || body["timestamp"] == "" {
		t.Errorf("body = %v", body)
	}
	capture := h.runner.callsFor("capture-pane")[0]
	if strings.Join(capture, " ") != "capture-pane -t build:0 -e -p -S -100" {
		t.Errorf("capture argv = %q", capture)
	}

	h.runner.handler = func(args []string) mux.Result {
		if args[0] == "has-session" {
			return mux.Result{ExitCode: 1}
		}
		return mux.Result{}
	}
	_, body = h.do(t, "GET", "/api/tmux/output?target=gone", "")
	if body["content"] != sessionNotFound {
		t.Errorf("absent session content = %v", body["content"])
	}

	resp, _ = h.do(t, "GET", "/api/tmux/output?target=x&lines=many", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad lines status = %d", resp.StatusCode)
	}
}

func TestSessionsAndStatus(t *testing.T) {
	h := newHarness(t, "")
	_, body := h.do(t, "GET", "/api/tmux/sessions", "")
	data := body["data"].(map[string]any)
	if data["count"].(float64) != 2 {
		t.Errorf("count = %v", data["count"])
	}
	_, body = h.do(t, "GET", "/api/tmux/status", "")
	data = body["data"].(map[string]any)
	if data["active_connections"].(float64) != 0 {
		t.Errorf("active_connections = %v", data["active_connections"])
	}
}

func TestSessionAndWindowLifecycle(t *testing.T) {
	h := newHarness(t, "")
	tests := []struct {
		method, path string
		status       int
		op           string
	}{
		{"POST", "/api/tmux/create-session?session_name=work", 200, "new-session"},
		{"POST", "/api/tmux/create-session?session_name=bad%3Bname", 400, ""},
		{"POST", "/api/tmux/create-window?session_name=work&window_name=logs", 200, "new-window"},
		{"POST", "/api/tmux/create-window?session_name=work&window_name=a:b", 400, ""},
		{"DELETE", "/api/tmux/window/work/1", 200, "kill-window"},
		{"DELETE", "/api/tmux/session/work", 200, "kill-session"},
		{"POST", "/api/tmux/resize?target=work:0&cols=5&rows=1000", 200, "resize-window"},
		{"POST", "/api/tmux/resize?target=work:0&cols=wide&rows=10", 400, ""},
	}
	for _, tt := range tests {
		before := len(h.runner.ops())
		resp, body := h.do(t, tt.method, tt.path, "")
		if resp.StatusCode != tt.status {
			t.Errorf("%s %s: status = %d, want %d (%v)", tt.method, tt.path, resp.StatusCode, tt.status, body)
			continue
		}
		ops := h.runner.ops()[before:]
		if tt.op == "" {
			if len(ops) != 0 {
				t.Errorf("%s %s: rejected request ran %v", tt.method, tt.path, ops)
			}
			continue
		}
		if len(ops) != 1 || ops[0] != tt.op {
			t.Errorf("%s %s: ops = %v, want [%s]", tt.method, tt.path, ops, tt.op)
		}
	}
	resize := h.runner.callsFor("resize-window")[0]
	if strings.Join(resize, " ") != "resize-window -t work:0 -x 20 -y 200" {
		t.Errorf("resize argv = %q", resize)
	}
}

func TestCreateSessionFailure(t *testing.T) {
	h := newHarness(t, "")
	h.runner.handler = func(args []string) mux.Result {
		return mux.Result{ExitCode: 1, Stderr: "duplicate session: work"}
	}
	resp, body := h.do(t, "POST", "/api/tmux/create-session?session_name=work", "")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(body["detail"].(string), "Failed to create session 'work'") {
		t.Errorf("detail = %v", body["detail"])
	}
}

func TestHealthAndHierarchy(t *testing.T) {
	h := newHarness(t, "")
	_, body := h.do(t, "GET", "/health", "")
	if body["status"] != "healthy" {
		t.Errorf("health = %v", body)
	}
	resp, body := h.do(t, "GET", "/api/tmux/hierarchy", "")
	if resp.StatusCode != http.StatusOK || body["success"] != true {
		t.Errorf("hierarchy = %d %v", resp.StatusCode, body)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	h := newHarness(t, path)

	_, body := h.do(t, "GET", "/api/settings/", "")
	if body["session_name"] != "default" || body["auto_create_session"] != true {
		t.Fatalf("defaults = %v", body)
	}
	resp, _ := h.do(t, "PUT", "/api/settings/", `{"session_name":"a b"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid session name status = %d", resp.StatusCode)
	}
	h.do(t, "PUT", "/api/settings/", `{"session_name":"ops","capture_history":false}`)
	_, body = h.do(t, "GET", "/api/settings/", "")
	if body["session_name"] != "ops" || body["capture_history"] != false || body["auto_create_session"] != true {
		t.Errorf("stored = %v", body)
	}

	resp, body = h.do(t, "POST", "/api/settings/test-connection", "")
	if resp.StatusCode != http.StatusOK || body["success"] != true {
		t.Errorf("test-connection = %d %v", resp.StatusCode, body)
	}
}

func TestCORS(t *testing.T) {
	h := newHarness(t, "")
	req, _ := http.NewRequest("OPTIONS", h.http.URL+"/api/tmux/sessions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.Header.Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Errorf("allowed origin header = %q", resp.Header.Get("Access-Control-Allow-Origin"))
	}

	req, _ = http.NewRequest("GET", h.http.URL+"/api/tmux/sessions", nil)
	req.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("foreign origin status = %d", resp.StatusCode)
	}
}

func TestOriginAllowed(t *testing.T) {
	if !originAllowed("http://localhost:3010/", []string{"http://localhost:3010"}) {
		t.Error("trailing slash should not matter")
	}
	if !originAllowed("https://anything", []string{"*"}) {
		t.Error("wildcard should allow")
	}
	if originAllowed("http://localhost:9999", []string{"http://localhost:3000"}) {
		t.Error("unlisted origin allowed")
	}
}

func wsURL(h *harness, target string) string {
	return "ws" + strings.TrimPrefix(h.http.URL, "http") + "/api/tmux/ws/" + target
}

func readFrame(t *testing.T, c *websocket.Conn) stream.ServerFrame {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var f stream.ServerFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode frame %s: %v", data, err)
	}
	return f
}

func TestStreamEndToEnd(t *testing.T) {
	h := newHarness(t, "")
	c, _, err := websocket.DefaultDialer.Dial(wsURL(h, "build:0.1"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	var sawHeartbeat, sawOutput bool
	for i := 0; i < 2; i++ {
		f := readFrame(t, c)
		switch {
		case f.Type == stream.TypeHeartbeat:
			sawHeartbeat = true
		case f.IsOutput():
			sawOutput = true
			if f.Content != "hello\n" || f.Target != "build:0.1" {
				t.Errorf("output frame = %+v", f)
			}
		}
	}
	if !sawHeartbeat || !sawOutput {
		t.Fatalf("heartbeat=%v output=%v", sawHeartbeat, sawOutput)
	}

	if err := c.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if f := readFrame(t, c); f.Type != stream.TypePong {
		t.Fatalf("reply = %+v, want pong", f)
	}

	c.WriteMessage(websocket.TextMessage, []byte(`{"type":"set_refresh_rate","interval":0.5}`))
	deadline := time.Now().Add(2 * time.Second)
	for {
		if d, _ := h.hub.Interval("build:0.1"); d == 500*time.Millisecond {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("refresh rate not applied")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if n := h.hub.Registry().TotalConnections(); n != 1 {
		t.Fatalf("TotalConnections = %d", n)
	}
	c.Close()
	deadline = time.Now().Add(2 * time.Second)
	for h.hub.ActivePollers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("poller still running after client left")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStreamRejectsInvalidTarget(t *testing.T) {
	h := newHarness(t, "")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(h, "a;b"), nil)
	if err == nil {
		t.Fatal("dial succeeded for invalid target")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("response = %v", resp)
	}
	if len(h.runner.ops()) != 0 {
		t.Fatal("tmux invoked for invalid stream target")
	}
}

func TestShutdownEndsStreams(t *testing.T) {
	h := newHarness(t, "")
	c, _, err := websocket.DefaultDialer.Dial(wsURL(h, "default"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	readFrame(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if h.hub.Registry().TotalConnections() != 0 {
		t.Fatal("stream still registered after shutdown")
	}
}
