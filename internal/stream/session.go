package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	telem "github.com/timvw/pane-relay/internal/otel"
	"github.com/timvw/pane-relay/internal/validate"
)

// Session timing defaults.
const (
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultReceiveTimeout    = 20 * time.Second
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// SessionConfig configures a Session. Zero values select the defaults.
type SessionConfig struct {
	HeartbeatInterval time.Duration
	ReceiveTimeout    time.Duration
	Now               func() time.Time

	Logger  *slog.Logger
	Metrics *telem.Metrics
}

// Session drives one streaming connection for one target.
type Session struct {
	ID     string
	Target string

	conn    Conn
	hub     *Hub
	hbEvery time.Duration
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
	metrics *telem.Metrics

	state atomic.Int32
}

// NewSession prepares a session; Run drives it.
func NewSession(hub *Hub, conn Conn, id, target string, cfg SessionConfig) *Session {
	s := &Session{
		ID:      id,
		Target:  target,
		conn:    conn,
		hub:     hub,
		hbEvery: cfg.HeartbeatInterval,
		timeout: cfg.ReceiveTimeout,
		now:     cfg.Now,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
	if s.hbEvery <= 0 {
		s.hbEvery = DefaultHeartbeatInterval
	}
	if s.timeout <= 0 {
		s.timeout = DefaultReceiveTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("conn_id", id, "target", target)
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Run serves the connection until the client goes away, a send fails or ctx
// ends. The connection is always closed on return. An error is returned only
// when the session could not start.
func (s *Session) Run(ctx context.Context) error {
	defer func() {
		s.conn.Close()
		s.setState(StateClosed)
	}()

	if err := validate.CheckTarget(s.Target); err != nil {
		s.logger.Warn("rejecting stream", "error", err)
		s.metrics.RecordValidationRejection(ctx, "stream")
		return err
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	sub, err := s.hub.Subscribe(s.ID, s.Target, s.conn, func(err error) {
		s.metrics.RecordSendFailure(ctx, "output")
		cancel(fmt.Errorf("output send: %w", err))
	})
	if err != nil {
		return err
	}
	s.setState(StateActive)
	s.metrics.ConnectionOpened(ctx)
	s.logger.Info("stream opened")

	hbDone := make(chan struct{})
	defer func() {
		s.setState(StateClosing)
		cancel(nil)
		<-hbDone
		s.hub.Unsubscribe(sub)
		s.metrics.ConnectionClosed(context.Background())
		s.logger.Info("stream closed", "reason", context.Cause(ctx))
	}()

	if err := s.conn.Send(controlFrame(TypeHeartbeat, s.now())); err != nil {
		s.metrics.RecordSendFailure(ctx, "heartbeat")
		close(hbDone)
		cancel(fmt.Errorf("heartbeat send: %w", err))
		return nil
	}
	go s.heartbeat(ctx, cancel, hbDone)

	for {
		text, err := s.conn.Receive(ctx, s.timeout)
		switch {
		case errors.Is(err, ErrReceiveTimeout):
			continue
		case err != nil:
			if ctx.Err() == nil {
				cancel(fmt.Errorf("receive: %w", err))
			}
			return nil
		}
		if err := s.handle(text); err != nil {
			cancel(err)
			return nil
		}
	}
}

// heartbeat sends a heartbeat frame every interval until ctx ends or a send
// fails.
func (s *Session) heartbeat(ctx context.Context, cancel context.CancelCauseFunc, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.hbEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.conn.Send(controlFrame(TypeHeartbeat, s.now())); err != nil {
				s.metrics.RecordSendFailure(ctx, "heartbeat")
				cancel(fmt.Errorf("heartbeat send: %w", err))
				return
			}
		}
	}
}

// handle processes one client frame. Malformed or unknown frames are
// ignored. A non-nil error means a reply could not be sent.
func (s *Session) handle(text string) error {
	var f ClientFrame
	if err := json.Unmarshal([]byte(text), &f); err != nil {
		s.logger.Debug("ignoring malformed frame", "error", err)
		return nil
	}
	switch f.Type {
	case TypePing:
		if err := s.conn.Send(controlFrame(TypePong, s.now())); err != nil {
			s.metrics.RecordSendFailure(context.Background(), "pong")
			return fmt.Errorf("pong send: %w", err)
		}
	case TypeSetRefreshRate:
		if f.Interval == nil {
			s.logger.Debug("ignoring set_refresh_rate without interval")
			return nil
		}
		d := s.hub.SetInterval(s.Target, IntervalFromSeconds(*f.Interval))
		s.logger.Debug("refresh rate set", "interval", d)
	default:
		s.logger.Debug("ignoring frame", "type", f.Type)
	}
	return nil
}
