// Package otel sets up OpenTelemetry for pane-relay.
//
// With an OTLP endpoint configured, spans around tmux invocations and the
// relay metrics are exported over HTTP. Without one, the global no-op
// providers stay in place and every instrument still works.
package otel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "pane-relay"

const defaultExportInterval = 15 * time.Second

// Version is set by the caller (from the linker-injected cmd.Version).
var Version = "dev"

// OTELConfig selects where telemetry goes.
type OTELConfig struct {
	Endpoint string // OTLP base URL, e.g. "http://localhost:4318"
	Headers  string // OTEL_EXPORTER_OTLP_HEADERS format: "k=v,k2=v2"

	// ExportInterval is the metric push period. Zero uses 15s.
	ExportInterval time.Duration
}

// Telemetry owns the providers installed by Init.
type Telemetry struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider

	Tracer  trace.Tracer
	Metrics *Metrics
}

// endpoint is an OTLP base URL split the way the HTTP exporters want it.
type endpoint struct {
	host     string
	basePath string
	insecure bool
	headers  map[string]string
}

func parseEndpoint(raw, headers string) (endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return endpoint{}, fmt.Errorf("otel: invalid endpoint URL %q: %w", raw, err)
	}
	if u.Host == "" {
		return endpoint{}, fmt.Errorf("otel: endpoint %q has no host", raw)
	}
	return endpoint{
		host:     u.Host,
		basePath: strings.TrimRight(u.Path, "/"),
		insecure: u.Scheme == "http",
		headers:  parseHeaders(headers),
	}, nil
}

func (e endpoint) traceOptions() []otlptracehttp.Option {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(e.host),
		otlptracehttp.WithURLPath(e.basePath + "/v1/traces"),
	}
	if e.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(e.headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(e.headers))
	}
	return opts
}

func (e endpoint) metricOptions() []otlpmetrichttp.Option {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(e.host),
		otlpmetrichttp.WithURLPath(e.basePath + "/v1/metrics"),
	}
	if e.insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	if len(e.headers) > 0 {
		opts = append(opts, otlpmetrichttp.WithHeaders(e.headers))
	}
	return opts
}

// parseHeaders parses "key=value,key2=value2". Pairs without a key are dropped.
func parseHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		key, val, ok := strings.Cut(strings.TrimSpace(pair), "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		headers[key] = strings.TrimSpace(val)
	}
	return headers
}

// Init installs OTLP HTTP exporters when cfg.Endpoint is set and builds the
// relay's instruments. On error nothing is installed.
func Init(ctx context.Context, cfg OTELConfig) (*Telemetry, error) {
	t := &Telemetry{}

	if cfg.Endpoint != "" {
		ep, err := parseEndpoint(cfg.Endpoint, cfg.Headers)
		if err != nil {
			return nil, err
		}
		res, err := resource.New(ctx,
			resource.WithAttributes(
				semconv.ServiceName(serviceName),
				semconv.ServiceVersion(Version),
			),
			resource.WithHost(),
			resource.WithProcessPID(),
		)
		if err != nil {
			return nil, fmt.Errorf("otel resource: %w", err)
		}

		traceExp, err := otlptracehttp.New(ctx, ep.traceOptions()...)
		if err != nil {
			return nil, fmt.Errorf("otel trace exporter: %w", err)
		}
		metricExp, err := otlpmetrichttp.New(ctx, ep.metricOptions()...)
		if err != nil {
			_ = traceExp.Shutdown(ctx)
			return nil, fmt.Errorf("otel metric exporter: %w", err)
		}

		interval := cfg.ExportInterval
		if interval <= 0 {
			interval = defaultExportInterval
		}
		t.tp = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExp),
			sdktrace.WithResource(res),
		)
		t.mp = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(interval))),
			sdkmetric.WithResource(res),
		)
		otel.SetTracerProvider(t.tp)
		otel.SetMeterProvider(t.mp)
		otel.SetTextMapPropagator(propagation.TraceContext{})
	}

	t.Tracer = otel.Tracer(serviceName)

	metrics, err := NewMetrics()
	if err != nil {
		_ = t.Shutdown(ctx)
		return nil, fmt.Errorf("otel metrics: %w", err)
	}
	t.Metrics = metrics
	return t, nil
}

// Shutdown flushes pending telemetry and stops the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.tp != nil {
		errs = append(errs, t.tp.Shutdown(ctx))
	}
	if t.mp != nil {
		errs = append(errs, t.mp.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
