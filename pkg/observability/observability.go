// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package observability bootstraps OpenTelemetry tracing and Prometheus
// metrics for applications embedding the client library. It is opt-in:
// without it, the library's spans go to the no-op global provider and
// nothing is exported.
package observability

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/tombee/libretto/internal/tracing"
	"github.com/tombee/libretto/internal/tracing/export"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Config controls the observability bootstrap. Unmarshal YAML onto
// DefaultConfig so absent keys keep their defaults.
type Config struct {
	// Enabled turns the bootstrap on. When false, New returns a provider
	// whose tracer and meter are no-ops.
	Enabled bool `yaml:"enabled"`

	// ServiceName identifies this process in traces and metrics.
	ServiceName string `yaml:"service_name"`

	// ServiceVersion is the application version.
	ServiceVersion string `yaml:"service_version"`

	// SampleRatio is the fraction of traces to record (0.0 - 1.0).
	SampleRatio float64 `yaml:"sample_ratio"`

	// AlwaysSampleErrors records error spans even when the ratio would
	// drop them.
	AlwaysSampleErrors bool `yaml:"always_sample_errors"`

	// Exporters lists span export destinations.
	Exporters []ExporterConfig `yaml:"exporters"`

	// BatchSize is the maximum number of spans per export batch.
	BatchSize int `yaml:"batch_size"`

	// BatchInterval is how often to flush spans.
	BatchInterval time.Duration `yaml:"batch_interval"`

	// Metrics enables the Prometheus meter provider and its HTTP handler.
	Metrics bool `yaml:"metrics"`
}

// ExporterConfig defines a span export destination.
type ExporterConfig struct {
	// Type selects the exporter: "console", "otlp", "otlp_http", or "none".
	Type string `yaml:"type"`

	// Endpoint is the OTLP receiver address.
	Endpoint string `yaml:"endpoint"`

	// Headers are additional headers sent to the receiver.
	Headers map[string]string `yaml:"headers"`

	// TLS configures secure connections to the receiver.
	TLS TLSConfig `yaml:"tls"`

	// Writer overrides the console exporter's output. Not settable from
	// YAML; defaults to stdout.
	Writer io.Writer `yaml:"-"`
}

// TLSConfig configures TLS for an exporter connection.
type TLSConfig struct {
	// Enabled turns TLS on.
	Enabled bool `yaml:"enabled"`

	// VerifyCertificate controls server certificate verification.
	VerifyCertificate bool `yaml:"verify_certificate"`

	// CACertPath points at a PEM bundle to trust instead of the system roots.
	CACertPath string `yaml:"ca_cert_path"`

	// ClientCertPath and ClientKeyPath enable mutual TLS when both are set.
	ClientCertPath string `yaml:"client_cert_path"`
	ClientKeyPath  string `yaml:"client_key_path"`
}

// DefaultConfig returns configuration with sensible defaults. Tracing
// stays disabled until Enabled is set.
func DefaultConfig() Config {
	return Config{
		Enabled:            false,
		ServiceName:        tracing.DefaultServiceName,
		ServiceVersion:     "unknown",
		SampleRatio:        1.0,
		AlwaysSampleErrors: true,
		BatchSize:          512,
		BatchInterval:      5 * time.Second,
		Metrics:            true,
	}
}

// Provider owns the configured tracer and meter providers. The zero value
// is a disabled provider whose accessors return no-op implementations.
type Provider struct {
	tp             *sdktrace.TracerProvider
	mp             *sdkmetric.MeterProvider
	metricsHandler http.Handler
}

// New builds the providers described by cfg and registers them globally,
// along with the W3C trace context propagator, so instrumented libraries
// and outbound header injection pick them up. A disabled config returns a
// working no-op provider and leaves the globals untouched.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{}, nil
	}

	tcfg := tracing.Config{
		ServiceName:        cfg.ServiceName,
		ServiceVersion:     cfg.ServiceVersion,
		SampleRatio:        cfg.SampleRatio,
		AlwaysSampleErrors: cfg.AlwaysSampleErrors,
		BatchSize:          cfg.BatchSize,
		BatchInterval:      cfg.BatchInterval,
	}
	for _, e := range cfg.Exporters {
		tcfg.Exporters = append(tcfg.Exporters, tracing.ExporterConfig{
			Type:     e.Type,
			Endpoint: e.Endpoint,
			Headers:  e.Headers,
			TLS: export.TLSConfigInput{
				Enabled:           e.TLS.Enabled,
				VerifyCertificate: e.TLS.VerifyCertificate,
				CACertPath:        e.TLS.CACertPath,
				ClientCertPath:    e.TLS.ClientCertPath,
				ClientKeyPath:     e.TLS.ClientKeyPath,
			},
			Writer: e.Writer,
		})
	}

	tp, err := tracing.NewTracerProvider(ctx, tcfg)
	if err != nil {
		return nil, err
	}

	p := &Provider{tp: tp}

	if cfg.Metrics {
		mp, handler, err := tracing.NewMeterProvider(cfg.ServiceName, cfg.ServiceVersion)
		if err != nil {
			tp.Shutdown(ctx)
			return nil, err
		}
		p.mp = mp
		p.metricsHandler = handler
	}

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(tracing.W3CPropagator())
	if p.mp != nil {
		otel.SetMeterProvider(p.mp)
	}

	return p, nil
}

// TracerProvider returns the configured tracer provider, or a no-op
// provider when tracing is disabled. The result is suitable for
// client.WithTracerProvider and session.WithTracerProvider.
func (p *Provider) TracerProvider() trace.TracerProvider {
	if p == nil || p.tp == nil {
		return tracenoop.NewTracerProvider()
	}
	return p.tp
}

// Tracer returns a tracer for the given instrumentation scope.
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.TracerProvider().Tracer(name)
}

// MeterProvider returns the configured meter provider, or a no-op provider
// when metrics are disabled.
func (p *Provider) MeterProvider() metric.MeterProvider {
	if p == nil || p.mp == nil {
		return metricnoop.NewMeterProvider()
	}
	return p.mp
}

// MetricsHandler returns the HTTP handler serving the Prometheus registry,
// or nil when metrics are disabled.
func (p *Provider) MetricsHandler() http.Handler {
	if p == nil {
		return nil
	}
	return p.metricsHandler
}

// Shutdown flushes pending telemetry and releases resources.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			return err
		}
	}
	if p.mp != nil {
		return p.mp.Shutdown(ctx)
	}
	return nil
}

// ForceFlush exports all pending spans and metrics synchronously.
func (p *Provider) ForceFlush(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if p.tp != nil {
		if err := p.tp.ForceFlush(ctx); err != nil {
			return err
		}
	}
	if p.mp != nil {
		return p.mp.ForceFlush(ctx)
	}
	return nil
}
