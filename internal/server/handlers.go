package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/timvw/pane-relay/internal/model"
	"github.com/timvw/pane-relay/internal/mux"
	"github.com/timvw/pane-relay/internal/stream"
	"github.com/timvw/pane-relay/internal/validate"
)

// apiResponse is the envelope of every successful REST reply.
type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// errorResponse is the envelope of every failed REST reply.
type errorResponse struct {
	Detail string `json:"detail"`
}

// commandRequest is the body of POST /api/tmux/send-command.
type commandRequest struct {
	Command string `json:"command"`
	Target  string `json:"target"`
	Literal bool   `json:"literal"`
}

const sessionNotFound = "Session not found"

func (s *Server) rootHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "pane-relay tmux gateway"})
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": model.Timestamp(time.Now()),
	})
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	settings := s.settings.Load()
	if req.Target == "" {
		req.Target = settings.SessionName
	}
	if err := s.reject(r.Context(), validate.CheckTarget(req.Target), validate.CheckCommand(req.Command)); err != nil {
		s.fail(w, r, "sending command", err)
		return
	}

	ctx, cancel := s.commandContext(r)
	defer cancel()
	if settings.AutoCreateSession {
		if _, err := s.gw.EnsureSession(ctx, validate.SessionOf(req.Target)); err != nil {
			s.fail(w, r, "sending command", err)
			return
		}
	}
	res, err := s.gw.SendKeys(ctx, req.Target, req.Command, req.Literal)
	if err := s.check(res, err, "Failed to send command"); err != nil {
		s.fail(w, r, "sending command", err)
		return
	}
	s.hub.Poke(req.Target)
	s.writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "Command sent successfully"})
}

func (s *Server) sendEnterHandler(w http.ResponseWriter, r *http.Request) {
	target := s.targetParam(r)
	if err := s.reject(r.Context(), validate.CheckTarget(target)); err != nil {
		s.fail(w, r, "sending enter", err)
		return
	}
	ctx, cancel := s.commandContext(r)
	defer cancel()
	res, err := s.gw.SendEnter(ctx, target)
	if err := s.check(res, err, "Failed to send enter"); err != nil {
		s.fail(w, r, "sending enter", err)
		return
	}
	s.hub.Poke(target)
	s.writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "Enter sent successfully"})
}

func (s *Server) outputHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target := s.targetParam(r)
	if err := s.reject(r.Context(), validate.CheckTarget(target)); err != nil {
		s.fail(w, r, "getting output", err)
		return
	}
	opts := mux.CaptureOptions{}
	if v := q.Get("include_history"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "include_history must be a boolean")
			return
		}
		opts.History = b
	}
	if v := q.Get("lines"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "lines must be an integer")
			return
		}
		opts.Lines = n
	}

	ctx, cancel := s.commandContext(r)
	defer cancel()
	out := model.Output{Target: target}
	exists, err := s.gw.HasSession(ctx, validate.SessionOf(target))
	if err != nil {
		s.fail(w, r, "getting output", err)
		return
	}
	if !exists {
		out.Content = sessionNotFound
	} else {
		content, err := s.gw.Capture(ctx, target, opts)
		if err != nil {
			s.fail(w, r, "getting output", err)
			return
		}
		out.Content = content
	}
	out.Timestamp = model.Timestamp(time.Now())
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.commandContext(r)
	defer cancel()
	sessions, err := s.gw.ListSessions(ctx)
	if err != nil {
		s.fail(w, r, "getting sessions", err)
		return
	}
	s.writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "Sessions retrieved successfully",
		Data:    map[string]any{"sessions": sessions, "count": len(sessions)},
	})
}

func (s *Server) hierarchyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.commandContext(r)
	defer cancel()
	h, err := s.gw.Hierarchy(ctx)
	if err != nil {
		s.fail(w, r, "getting hierarchy", err)
		return
	}
	s.writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "Hierarchy retrieved successfully", Data: h})
}

func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("session_name")
	if err := s.reject(r.Context(), validate.CheckName(name)); err != nil {
		s.fail(w, r, "creating session", err)
		return
	}
	ctx, cancel := s.commandContext(r)
	defer cancel()
	res, err := s.gw.NewSession(ctx, name)
	if err := s.check(res, err, fmt.Sprintf("Failed to create session '%s'", name)); err != nil {
		s.fail(w, r, "creating session", err)
		return
	}
	s.writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: fmt.Sprintf("Session '%s' created successfully", name)})
}

func (s *Server) deleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.reject(r.Context(), validate.CheckName(name)); err != nil {
		s.fail(w, r, "deleting session", err)
		return
	}
	ctx, cancel := s.commandContext(r)
	defer cancel()
	res, err := s.gw.KillSession(ctx, name)
	if err := s.check(res, err, fmt.Sprintf("Failed to delete session '%s'", name)); err != nil {
		s.fail(w, r, "deleting session", err)
		return
	}
	s.writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: fmt.Sprintf("Session '%s' deleted successfully", name)})
}

func (s *Server) createWindowHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	session, name := q.Get("session_name"), q.Get("window_name")
	errs := []error{validate.CheckName(session)}
	if name != "" {
		errs = append(errs, validate.CheckName(name))
	}
	if err := s.reject(r.Context(), errs...); err != nil {
		s.fail(w, r, "creating window", err)
		return
	}
	ctx, cancel := s.commandContext(r)
	defer cancel()
	res, err := s.gw.NewWindow(ctx, session, name)
	if err := s.check(res, err, fmt.Sprintf("Failed to create window in session '%s'", session)); err != nil {
		s.fail(w, r, "creating window", err)
		return
	}
	msg := fmt.Sprintf("Window created in session '%s'", session)
	if name != "" {
		msg += fmt.Sprintf(" with name '%s'", name)
	}
	s.writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: msg})
}

func (s *Server) deleteWindowHandler(w http.ResponseWriter, r *http.Request) {
	session, index := chi.URLParam(r, "session"), chi.URLParam(r, "index")
	if err := s.reject(r.Context(), validate.CheckName(session), validate.CheckName(index)); err != nil {
		s.fail(w, r, "deleting window", err)
		return
	}
	ctx, cancel := s.commandContext(r)
	defer cancel()
	res, err := s.gw.KillWindow(ctx, session, index)
	if err := s.check(res, err, fmt.Sprintf("Failed to delete window '%s' from session '%s'", index, session)); err != nil {
		s.fail(w, r, "deleting window", err)
		return
	}
	s.writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: fmt.Sprintf("Window '%s' deleted from session '%s'", index, session),
	})
}

func (s *Server) resizeHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target := s.targetParam(r)
	if err := s.reject(r.Context(), validate.CheckTarget(target)); err != nil {
		s.fail(w, r, "resizing window", err)
		return
	}
	cols, errC := strconv.Atoi(q.Get("cols"))
	rows, errR := strconv.Atoi(q.Get("rows"))
	if errC != nil || errR != nil {
		s.writeError(w, http.StatusBadRequest, "cols and rows must be integers")
		return
	}
	ctx, cancel := s.commandContext(r)
	defer cancel()
	res, err := s.gw.ResizeWindow(ctx, target, cols, rows)
	if err := s.check(res, err, fmt.Sprintf("Failed to resize '%s'", target)); err != nil {
		s.fail(w, r, "resizing window", err)
		return
	}
	s.hub.Poke(target)
	s.writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: fmt.Sprintf("Window '%s' resized", target)})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.commandContext(r)
	defer cancel()
	sessions, err := s.gw.ListSessions(ctx)
	if err != nil {
		s.fail(w, r, "getting status", err)
		return
	}
	s.writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "Status retrieved successfully",
		Data: map[string]any{
			"sessions":           sessions,
			"active_connections": s.hub.Registry().TotalConnections(),
			"active_targets":     s.hub.Registry().Targets(),
		},
	})
}

// streamHandler upgrades to a WebSocket and runs a stream.Session for the
// target named by the rest of the path.
func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "*")
	if err := s.reject(r.Context(), validate.CheckTarget(target)); err != nil {
		s.fail(w, r, "opening stream", err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("websocket upgrade failed", "target", target, "error", err)
		return
	}

	s.streams.Add(1)
	defer s.streams.Done()

	sess := stream.NewSession(s.hub, newWSConn(conn, s.cfg.WriteTimeout), uuid.NewString(), target, stream.SessionConfig{
		HeartbeatInterval: s.cfg.HeartbeatInterval,
		ReceiveTimeout:    s.cfg.ReceiveTimeout,
		Logger:            s.logger,
		Metrics:           s.metrics,
	})
	if err := sess.Run(s.baseCtx); err != nil {
		s.logger.Warn("stream ended", "target", target, "error", err)
	}
}

func (s *Server) getSettingsHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.settings.Load())
}

func (s *Server) putSettingsHandler(w http.ResponseWriter, r *http.Request) {
	v := model.DefaultSettings()
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.settings.Save(v); err != nil {
		s.fail(w, r, "updating settings", err)
		return
	}
	s.writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "Settings updated successfully"})
}

func (s *Server) testConnectionHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.commandContext(r)
	defer cancel()
	sessions, err := s.gw.ListSessions(ctx)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Connection test failed: "+err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "Connection test successful",
		Data:    map[string]any{"sessions": sessions},
	})
}

// targetParam returns the "target" query parameter, defaulting to the
// configured session.
func (s *Server) targetParam(r *http.Request) string {
	if t := r.URL.Query().Get("target"); t != "" {
		return t
	}
	return s.settings.Load().SessionName
}

func (s *Server) commandContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.cfg.CommandTimeout)
}

// reject returns the first validation error and counts it.
func (s *Server) reject(ctx context.Context, errs ...error) error {
	for _, err := range errs {
		if err != nil {
			s.metrics.RecordValidationRejection(ctx, "http")
			return err
		}
	}
	return nil
}

// check turns a non-zero tmux exit into an error carrying failure as its
// message.
func (s *Server) check(res mux.Result, err error, failure string) error {
	if err != nil {
		return err
	}
	if !res.OK() {
		return &commandFailure{msg: failure, res: res}
	}
	return nil
}

type commandFailure struct {
	msg string
	res mux.Result
}

func (e *commandFailure) Error() string {
	if stderr := strings.TrimSpace(e.res.Stderr); stderr != "" {
		return e.msg + ": " + stderr
	}
	return e.msg
}

// fail maps err to an HTTP error reply: validation errors are 400, tmux
// failures 500.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, action string, err error) {
	var cf *commandFailure
	switch {
	case validate.IsValidation(err):
		s.logger.Warn("rejected request", "path", r.URL.Path, "error", err)
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &cf):
		s.logger.Warn("tmux command failed", "path", r.URL.Path, "error", err)
		s.writeError(w, http.StatusInternalServerError, cf.Error())
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error %s: %v", action, err))
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Detail: msg})
}
