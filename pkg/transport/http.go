package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tombee/libretto/internal/tracing"
)

const (
	// DefaultTimeout applies when neither the config nor the request sets one.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResponseBytes caps response bodies at 10MB.
	DefaultMaxResponseBytes = 10 * 1024 * 1024

	defaultUserAgent = "libretto-go"
)

// HTTPConfig configures the HTTP transport.
type HTTPConfig struct {
	// Timeout is the default request timeout (default: 30s).
	// A per-request Timeout overrides it.
	Timeout time.Duration

	// TLSInsecure disables TLS certificate validation.
	// Only for development against self-signed endpoints.
	TLSInsecure bool

	// ProxyURL routes requests through the given proxy.
	// Empty means proxy from environment.
	ProxyURL string

	// MaxResponseBytes caps the response body size (default: 10MB)
	MaxResponseBytes int64

	// UserAgent is sent when the request does not set its own
	UserAgent string
}

// Validate checks if the configuration is valid.
func (c *HTTPConfig) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative, got %v", c.Timeout)
	}
	if c.MaxResponseBytes < 0 {
		return fmt.Errorf("max_response_bytes must be non-negative, got %d", c.MaxResponseBytes)
	}
	if c.ProxyURL != "" {
		u, err := url.Parse(c.ProxyURL)
		if err != nil {
			return fmt.Errorf("invalid proxy_url: %w", err)
		}
		if u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("proxy_url must include scheme and host")
		}
	}
	return nil
}

// HTTPTransport implements the Transport interface over net/http.
//
// Execute performs a single attempt; retry policy belongs to the session
// layer, which wraps Execute in Retry.
type HTTPTransport struct {
	config      *HTTPConfig
	client      *http.Client
	rateLimiter RateLimiter
}

// NewHTTPTransport creates a new HTTP transport with the given configuration.
// A nil config uses defaults.
func NewHTTPTransport(config *HTTPConfig) (*HTTPTransport, error) {
	if config == nil {
		config = &HTTPConfig{}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	proxy := http.ProxyFromEnvironment
	if config.ProxyURL != "" {
		proxyURL, err := url.Parse(config.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy_url: %w", err)
		}
		proxy = http.ProxyURL(proxyURL)
	}

	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: proxy,

			// Connection pool settings
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,

			// Timeouts
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: timeout,
			ExpectContinueTimeout: 1 * time.Second,

			TLSClientConfig: &tls.Config{
				MinVersion:         tls.VersionTLS12,
				InsecureSkipVerify: config.TLSInsecure,
			},
		},
	}

	return &HTTPTransport{
		config: config,
		client: client,
	}, nil
}

// Name returns "http".
func (t *HTTPTransport) Name() string {
	return "http"
}

// SetRateLimiter configures rate limiting for this transport.
func (t *HTTPTransport) SetRateLimiter(limiter RateLimiter) {
	t.rateLimiter = limiter
}

// SetHTTPClient replaces the underlying net/http client, keeping the
// transport's response handling. Useful for httptest servers and custom
// TLS setups.
func (t *HTTPTransport) SetHTTPClient(client *http.Client) {
	if client != nil {
		t.client = client
	}
}

// CloseIdleConnections releases pooled connections held by the underlying
// client.
func (t *HTTPTransport) CloseIdleConnections() {
	t.client.CloseIdleConnections()
}

// Execute sends a single HTTP request attempt and returns the response.
// Responses with status >= 400 return both the response and a classified
// *Error.
func (t *HTTPTransport) Execute(ctx context.Context, req *Request) (*Response, error) {
	if t.rateLimiter != nil {
		if err := t.rateLimiter.Wait(ctx); err != nil {
			return nil, &Error{
				Type:      ErrorTypeCancelled,
				Message:   "rate limit wait cancelled",
				Retryable: false,
				Cause:     err,
			}
		}
	}

	prepared, err := req.Prepare()
	if err != nil {
		return nil, err
	}

	if prepared.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, prepared.Timeout)
		defer cancel()
	}

	httpReq, err := t.buildHTTPRequest(ctx, prepared)
	if err != nil {
		return nil, &Error{
			Type:      ErrorTypeInvalidRequest,
			Message:   fmt.Sprintf("failed to build HTTP request: %s", err),
			Retryable: false,
			Cause:     err,
		}
	}

	// Propagate the caller's trace context and correlation ID. Both are
	// no-ops unless the application registered a propagator or put an ID
	// in the context.
	tracing.InjectHTTPHeaders(ctx, httpReq)
	tracing.InjectIntoRequest(ctx, httpReq)

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, classifyHTTPError(err)
	}
	defer httpResp.Body.Close()

	maxBytes := t.config.MaxResponseBytes
	if maxBytes == 0 {
		maxBytes = DefaultMaxResponseBytes
	}
	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBytes+1))
	if err != nil {
		return nil, &Error{
			Type:      ErrorTypeNetwork,
			Message:   fmt.Sprintf("failed to read response body: %s", err),
			Retryable: true,
			Cause:     err,
		}
	}
	if int64(len(body)) > maxBytes {
		return nil, &Error{
			Type:      ErrorTypeClient,
			Message:   fmt.Sprintf("response body exceeds %d bytes", maxBytes),
			Retryable: false,
		}
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       body,
		Request:    prepared,
		Metadata:   make(map[string]any),
	}

	if requestID := firstHeader(httpResp.Header, "X-Request-ID", "X-Request-Id", "X-Amzn-Requestid"); requestID != "" {
		resp.Metadata[MetadataRequestID] = requestID
	}
	if retryAfter := httpResp.Header.Get("Retry-After"); retryAfter != "" {
		resp.Metadata[MetadataRetryAfter] = retryAfter
	}

	if resp.IsError() {
		return resp, FromResponse(resp)
	}

	return resp, nil
}

// buildHTTPRequest constructs an http.Request from a prepared Request.
func (t *HTTPTransport) buildHTTPRequest(ctx context.Context, req *Request) (*http.Request, error) {
	var bodyReader io.Reader
	if raw := req.RawBody(); raw != nil {
		bodyReader = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.FinalURL(), bodyReader)
	if err != nil {
		return nil, err
	}

	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	if httpReq.Header.Get("User-Agent") == "" {
		ua := t.config.UserAgent
		if ua == "" {
			ua = defaultUserAgent
		}
		httpReq.Header.Set("User-Agent", ua)
	}

	for _, name := range req.CookieNames() {
		httpReq.AddCookie(&http.Cookie{Name: name, Value: req.Cookies[name]})
	}

	return httpReq, nil
}

// classifyHTTPError classifies errors from http.Client.Do.
func classifyHTTPError(err error) *Error {
	if errors.Is(err, context.Canceled) {
		return &Error{
			Type:      ErrorTypeCancelled,
			Message:   "request cancelled",
			Retryable: false,
			Cause:     err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{
			Type:      ErrorTypeTimeout,
			Message:   "request deadline exceeded",
			Retryable: true,
			Cause:     err,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{
			Type:      ErrorTypeTimeout,
			Message:   "request timeout",
			Retryable: true,
			Cause:     err,
		}
	}

	if isConnectionError(err) {
		return &Error{
			Type:      ErrorTypeNetwork,
			Message:   "connection error",
			Retryable: true,
			Cause:     err,
		}
	}

	return &Error{
		Type:      ErrorTypeNetwork,
		Message:   fmt.Sprintf("HTTP error: %s", err),
		Retryable: true,
		Cause:     err,
	}
}

// isConnectionError checks if an error is a connection-level failure.
func isConnectionError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}

	errMsg := strings.ToLower(err.Error())
	connectionKeywords := []string{
		"connection refused",
		"connection reset",
		"no such host",
		"network unreachable",
		"eof",
	}
	for _, keyword := range connectionKeywords {
		if strings.Contains(errMsg, keyword) {
			return true
		}
	}

	return false
}

// firstHeader returns the first non-empty value among the named headers.
func firstHeader(h http.Header, names ...string) string {
	for _, name := range names {
		if v := h.Get(name); v != "" {
			return v
		}
	}
	return ""
}
