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

package log

import (
	"context"
	"log/slog"
)

// Exchange describes one outbound HTTP exchange for logging.
type Exchange struct {
	// Method is the HTTP method of the request.
	Method string

	// URL is the loggable request target. Callers redact it before
	// handing it over; this package never sees raw credentials.
	URL string

	// RequestID correlates the exchange with the caller's operation.
	RequestID string

	// Attempt is the 1-based attempt number under the retry policy.
	Attempt int

	// Metadata carries additional attributes, logged as-is.
	Metadata map[string]any
}

// ExchangeResult describes the outcome of an HTTP exchange.
type ExchangeResult struct {
	// StatusCode is the HTTP status code, 0 on transport failure.
	StatusCode int

	// Error is the failure message, empty on success.
	Error string

	// DurationMs is the duration of the exchange in milliseconds.
	DurationMs int64

	// BodyBytes is the response body size.
	BodyBytes int
}

// LogExchangeStart logs an outgoing request at debug level.
func LogExchangeStart(ctx context.Context, logger *slog.Logger, ex *Exchange) {
	attrs := []any{
		"event", "request",
		"method", ex.Method,
		"url", ex.URL,
	}

	if ex.RequestID != "" {
		attrs = append(attrs, "request_id", ex.RequestID)
	}
	if ex.Attempt > 1 {
		attrs = append(attrs, "attempt", ex.Attempt)
	}
	for k, v := range ex.Metadata {
		attrs = append(attrs, k, v)
	}

	logger.Log(ctx, slog.LevelDebug, "sending request", attrs...)
}

// LogExchangeEnd logs the outcome of an exchange. Failed attempts log at
// error level, everything else at debug.
func LogExchangeEnd(ctx context.Context, logger *slog.Logger, ex *Exchange, res *ExchangeResult) {
	attrs := []any{
		"event", "response",
		"method", ex.Method,
		"url", ex.URL,
		"status", res.StatusCode,
		"duration_ms", res.DurationMs,
	}

	if ex.RequestID != "" {
		attrs = append(attrs, "request_id", ex.RequestID)
	}
	if ex.Attempt > 1 {
		attrs = append(attrs, "attempt", ex.Attempt)
	}
	if res.BodyBytes > 0 {
		attrs = append(attrs, "body_bytes", res.BodyBytes)
	}

	level := slog.LevelDebug
	message := "request completed"
	if res.Error != "" {
		attrs = append(attrs, "error", res.Error)
		level = slog.LevelError
		message = "request failed"
	}

	logger.Log(ctx, level, message, attrs...)
}
