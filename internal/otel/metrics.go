package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "pane-relay"

// Metrics holds all OTEL metric instruments for pane-relay.
// A nil *Metrics is valid: every Record method is a no-op on nil.
type Metrics struct {
	// Streaming gauges (up/down counters)
	Connections   metric.Int64UpDownCounter
	ActivePollers metric.Int64UpDownCounter

	// Poll loop counters (captures partitioned by result: changed, unchanged, absent, error)
	Captures     metric.Int64Counter
	Broadcasts   metric.Int64Counter
	SendFailures metric.Int64Counter

	// Gateway counters
	TmuxCommands         metric.Int64Counter
	ValidationRejections metric.Int64Counter
}

// NewMetrics creates all metric instruments. Returns no-op instruments
// when no MeterProvider is registered (safe to call unconditionally).
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	// --- Streaming ---

	m.Connections, err = meter.Int64UpDownCounter("relay.connections.active",
		metric.WithDescription("Open streaming connections"),
		metric.WithUnit("{connection}"))
	if err != nil {
		return nil, err
	}

	m.ActivePollers, err = meter.Int64UpDownCounter("relay.pollers.active",
		metric.WithDescription("Targets with a running output poller"),
		metric.WithUnit("{poller}"))
	if err != nil {
		return nil, err
	}

	m.Captures, err = meter.Int64Counter("relay.captures.total",
		metric.WithDescription("Poll ticks partitioned by result (changed, unchanged, absent, error)"))
	if err != nil {
		return nil, err
	}

	m.Broadcasts, err = meter.Int64Counter("relay.broadcasts.total",
		metric.WithDescription("Output frames delivered to subscribers"),
		metric.WithUnit("{frame}"))
	if err != nil {
		return nil, err
	}

	m.SendFailures, err = meter.Int64Counter("relay.send_failures.total",
		metric.WithDescription("Failed sends to a subscriber, partitioned by frame kind"))
	if err != nil {
		return nil, err
	}

	// --- Gateway ---

	m.TmuxCommands, err = meter.Int64Counter("tmux.commands.total",
		metric.WithDescription("tmux invocations partitioned by subcommand and outcome"))
	if err != nil {
		return nil, err
	}

	m.ValidationRejections, err = meter.Int64Counter("relay.validation_rejections.total",
		metric.WithDescription("Requests rejected for malformed targets, names or commands"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// ConnectionOpened increments the active connection gauge.
func (m *Metrics) ConnectionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.Connections.Add(ctx, 1)
}

// ConnectionClosed decrements the active connection gauge.
func (m *Metrics) ConnectionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.Connections.Add(ctx, -1)
}

// PollerStarted increments the active poller gauge.
func (m *Metrics) PollerStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActivePollers.Add(ctx, 1)
}

// PollerStopped decrements the active poller gauge.
func (m *Metrics) PollerStopped(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActivePollers.Add(ctx, -1)
}

// RecordCapture records the outcome of one poll tick.
func (m *Metrics) RecordCapture(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.Captures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("capture.result", result),
	))
}

// RecordBroadcast records frames delivered for one change.
func (m *Metrics) RecordBroadcast(ctx context.Context, delivered int) {
	if m == nil {
		return
	}
	m.Broadcasts.Add(ctx, int64(delivered))
}

// RecordSendFailure records a failed send of the given frame kind
// (output, heartbeat, pong).
func (m *Metrics) RecordSendFailure(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.SendFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("frame.kind", kind),
	))
}

// RecordTmuxCommand records one tmux invocation.
func (m *Metrics) RecordTmuxCommand(ctx context.Context, op, outcome string) {
	if m == nil {
		return
	}
	m.TmuxCommands.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tmux.op", op),
		attribute.String("tmux.outcome", outcome),
	))
}

// RecordValidationRejection records a rejected request at the given layer
// (http, stream, gateway, hint).
func (m *Metrics) RecordValidationRejection(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.ValidationRejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("rejection.source", source),
	))
}
