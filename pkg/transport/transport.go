// Package transport provides the wire-level value objects and HTTP boundary
// for declarative API clients.
//
// The transport layer separates wire concerns (URL resolution, body encoding,
// retries, rate limiting) from client-level concerns (resource definitions,
// parameter mapping, response transformation). All transports implement the
// Transport interface, providing unified request execution, error
// classification, retry logic, and rate limiting.
package transport

import (
	"context"
)

// Transport executes requests with protocol-specific handling.
type Transport interface {
	// Execute sends a request and returns a response.
	// The context controls cancellation and deadlines.
	// For responses with status >= 400 both the response and a classified
	// *Error are returned so callers can inspect the failed exchange.
	Execute(ctx context.Context, req *Request) (*Response, error)

	// Name returns the transport identifier (e.g., "http").
	Name() string

	// SetRateLimiter configures rate limiting for this transport.
	// Rate limiting occurs before request execution.
	SetRateLimiter(limiter RateLimiter)
}

// Standard metadata keys used across transports.
const (
	// MetadataRequestID is the service request ID
	MetadataRequestID = "request_id"

	// MetadataRetryCount is the number of retries performed for this request
	MetadataRetryCount = "retry_count"

	// MetadataRetryAfter is the raw Retry-After header value, when present
	MetadataRetryAfter = "retry_after"
)

// RateLimiter provides rate limiting for transport requests.
// Implementations should block until a request is allowed.
type RateLimiter interface {
	// Wait blocks until a request is allowed under the rate limit.
	// Returns an error if the context is cancelled before the request can proceed.
	Wait(ctx context.Context) error
}
