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

// Package tracing bootstraps the OpenTelemetry trace and metric providers
// and carries request identity onto outbound HTTP calls.
package tracing

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tombee/libretto/internal/tracing/export"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// DefaultServiceName identifies the library when the host application
// does not provide its own service name.
const DefaultServiceName = "libretto"

// Config controls provider construction.
type Config struct {
	// ServiceName identifies this process in traces and metrics.
	ServiceName string

	// ServiceVersion is the application version.
	ServiceVersion string

	// SampleRatio is the fraction of traces to record (0.0 - 1.0).
	// Values at or above 1.0 record every trace.
	SampleRatio float64

	// AlwaysSampleErrors records spans carrying an error attribute even
	// when the ratio would drop them.
	AlwaysSampleErrors bool

	// Exporters lists span export destinations.
	Exporters []ExporterConfig

	// BatchSize is the maximum number of spans per export batch (default: 512).
	BatchSize int

	// BatchInterval is how often to flush spans (default: 5s).
	BatchInterval time.Duration
}

// ExporterConfig defines a span export destination.
type ExporterConfig struct {
	// Type selects the exporter: "console", "otlp", "otlp_http", or "none".
	Type string

	// Endpoint is the OTLP receiver address.
	Endpoint string

	// Headers are additional headers sent to the receiver, typically for
	// authentication.
	Headers map[string]string

	// TLS configures secure connections to the receiver.
	TLS export.TLSConfigInput

	// Writer overrides the console exporter's output. Defaults to stdout.
	Writer io.Writer
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ServiceName:        DefaultServiceName,
		ServiceVersion:     "unknown",
		SampleRatio:        1.0,
		AlwaysSampleErrors: true,
		Exporters:          nil,
		BatchSize:          512,
		BatchInterval:      5 * time.Second,
	}
}

// newResource describes this process to exporters. The service attributes
// carry an empty schema URL so the merge with the SDK default resource
// cannot conflict.
func newResource(serviceName, serviceVersion string) (*resource.Resource, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// NewTracerProvider builds a tracer provider with the configured sampler
// and one batch processor per exporter. Exporter construction failures are
// logged and skipped so a single bad destination does not block the rest.
func NewTracerProvider(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}

	res, err := newResource(cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, err
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(NewSampler(cfg.SampleRatio, cfg.AlwaysSampleErrors)),
	}

	for i, exporterCfg := range cfg.Exporters {
		exporter, err := newExporter(ctx, exporterCfg)
		if err != nil {
			slog.Warn("failed to create span exporter, skipping",
				"index", i,
				"type", exporterCfg.Type,
				"endpoint", exporterCfg.Endpoint,
				"error", err)
			continue
		}
		if exporter == nil {
			continue
		}

		var batchOpts []sdktrace.BatchSpanProcessorOption
		if cfg.BatchSize > 0 {
			batchOpts = append(batchOpts, sdktrace.WithMaxExportBatchSize(cfg.BatchSize))
		}
		if cfg.BatchInterval > 0 {
			batchOpts = append(batchOpts, sdktrace.WithBatchTimeout(cfg.BatchInterval))
		}
		opts = append(opts, sdktrace.WithSpanProcessor(
			sdktrace.NewBatchSpanProcessor(exporter, batchOpts...)))
	}

	return sdktrace.NewTracerProvider(opts...), nil
}

// newExporter creates a span exporter from configuration. A nil exporter
// with a nil error means the destination is disabled.
func newExporter(ctx context.Context, cfg ExporterConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Type {
	case "console":
		return export.NewConsoleExporter(export.ConsoleConfig{
			Writer:      cfg.Writer,
			PrettyPrint: true,
		})

	case "otlp":
		tlsConfig, err := export.BuildTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to build TLS config for OTLP exporter: %w", err)
		}
		return export.NewOTLPExporter(ctx, export.OTLPConfig{
			Endpoint:  cfg.Endpoint,
			Insecure:  !cfg.TLS.Enabled,
			TLSConfig: tlsConfig,
			Headers:   cfg.Headers,
		})

	case "otlp_http", "otlp-http":
		tlsConfig, err := export.BuildTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to build TLS config for OTLP HTTP exporter: %w", err)
		}
		return export.NewOTLPHTTPExporter(ctx, export.OTLPHTTPConfig{
			Endpoint:  cfg.Endpoint,
			Insecure:  !cfg.TLS.Enabled,
			TLSConfig: tlsConfig,
			Headers:   cfg.Headers,
		})

	case "none", "":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.Type)
	}
}

// NewMeterProvider builds a meter provider backed by a dedicated Prometheus
// registry and returns the HTTP handler serving that registry. Each call
// uses its own registry.
func NewMeterProvider(serviceName, serviceVersion string) (*sdkmetric.MeterProvider, http.Handler, error) {
	if serviceName == "" {
		serviceName = DefaultServiceName
	}

	res, err := newResource(serviceName, serviceVersion)
	if err != nil {
		return nil, nil, err
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	return mp, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}
