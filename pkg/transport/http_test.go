package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tombee/libretto/internal/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

func TestHTTPConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  *HTTPConfig
		wantErr bool
	}{
		{
			name:    "empty config is valid",
			config:  &HTTPConfig{},
			wantErr: false,
		},
		{
			name:    "negative timeout",
			config:  &HTTPConfig{Timeout: -time.Second},
			wantErr: true,
		},
		{
			name:    "negative size cap",
			config:  &HTTPConfig{MaxResponseBytes: -1},
			wantErr: true,
		},
		{
			name:    "proxy without scheme",
			config:  &HTTPConfig{ProxyURL: "proxy.local:8080"},
			wantErr: true,
		},
		{
			name:    "valid proxy",
			config:  &HTTPConfig{ProxyURL: "http://proxy.local:8080"},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestHTTPTransport_Execute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/items" {
			t.Errorf("path = %v, want /items", r.URL.Path)
		}
		if r.URL.Query().Get("page") != "2" {
			t.Errorf("page = %v, want 2", r.URL.Query().Get("page"))
		}
		if r.Header.Get("X-Custom") != "yes" {
			t.Errorf("X-Custom = %v", r.Header.Get("X-Custom"))
		}
		if c, err := r.Cookie("session"); err != nil || c.Value != "abc" {
			t.Errorf("session cookie = %v, %v", c, err)
		}
		if r.Header.Get("User-Agent") == "" {
			t.Error("User-Agent not set")
		}
		w.Header().Set("X-Request-ID", "req-42")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	transport, err := NewHTTPTransport(nil)
	if err != nil {
		t.Fatalf("NewHTTPTransport() error = %v", err)
	}

	req := NewRequest("GET", server.URL, "/items").
		WithParam("page", 2).
		WithHeader("X-Custom", "yes").
		WithCookie("session", "abc")

	resp, err := transport.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if resp.StatusCode != 200 {
		t.Errorf("StatusCode = %d", resp.StatusCode)
	}
	if string(resp.Body) != `{"ok": true}` {
		t.Errorf("Body = %s", resp.Body)
	}
	if resp.RequestID() != "req-42" {
		t.Errorf("RequestID() = %v, want req-42", resp.RequestID())
	}
	if resp.Request == nil || !resp.Request.Prepared() {
		t.Error("Response.Request missing or unprepared")
	}
}

func TestHTTPTransport_ExecutePostBody(t *testing.T) {
	var gotBody string
	var gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf, _ := io.ReadAll(r.Body)
		gotBody = string(buf)
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	transport, _ := NewHTTPTransport(nil)
	req := NewRequest("POST", server.URL, "/items").
		WithBody(map[string]any{"name": "widget"})

	resp, err := transport.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if resp.StatusCode != 201 {
		t.Errorf("StatusCode = %d, want 201", resp.StatusCode)
	}
	if gotBody != `{"name":"widget"}` {
		t.Errorf("server saw body %q", gotBody)
	}
	if gotContentType != "application/json" {
		t.Errorf("server saw Content-Type %q", gotContentType)
	}
}

func TestHTTPTransport_ErrorStatusReturnsResponseAndError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "not found"}`))
	}))
	defer server.Close()

	transport, _ := NewHTTPTransport(nil)
	req := NewRequest("GET", server.URL, "/missing")

	resp, err := transport.Execute(context.Background(), req)
	if err == nil {
		t.Fatal("Execute() error = nil for 404")
	}
	if resp == nil {
		t.Fatal("Execute() resp = nil, want response for inspection")
	}
	if resp.StatusCode != 404 {
		t.Errorf("StatusCode = %d", resp.StatusCode)
	}

	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if terr.Type != ErrorTypeClient {
		t.Errorf("error type = %v, want client", terr.Type)
	}
	if terr.Retryable {
		t.Error("404 marked retryable")
	}
	if !strings.Contains(terr.Message, "not found") {
		t.Errorf("Message = %q", terr.Message)
	}
}

func TestHTTPTransport_ServerErrorRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	transport, _ := NewHTTPTransport(nil)
	req := NewRequest("GET", server.URL, "/")

	resp, err := transport.Execute(context.Background(), req)
	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if terr.Type != ErrorTypeServer || !terr.Retryable {
		t.Errorf("error = %+v, want retryable server error", terr)
	}
	if resp.Metadata[MetadataRetryAfter] != "1" {
		t.Errorf("retry_after metadata = %v", resp.Metadata[MetadataRetryAfter])
	}
}

func TestHTTPTransport_ResponseSizeCap(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	defer server.Close()

	transport, err := NewHTTPTransport(&HTTPConfig{MaxResponseBytes: 1024})
	if err != nil {
		t.Fatalf("NewHTTPTransport() error = %v", err)
	}
	req := NewRequest("GET", server.URL, "/")

	_, err = transport.Execute(context.Background(), req)
	if err == nil {
		t.Fatal("Execute() error = nil, want size cap error")
	}
	if !strings.Contains(err.Error(), "exceeds") {
		t.Errorf("error = %v", err)
	}
}

func TestHTTPTransport_PerRequestTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport, _ := NewHTTPTransport(nil)
	req := NewRequest("GET", server.URL, "/").WithTimeout(20 * time.Millisecond)

	_, err := transport.Execute(context.Background(), req)
	if err == nil {
		t.Fatal("Execute() error = nil, want timeout")
	}
	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if terr.Type != ErrorTypeTimeout && terr.Type != ErrorTypeCancelled {
		t.Errorf("error type = %v, want timeout", terr.Type)
	}
}

type blockedLimiter struct{ err error }

func (b *blockedLimiter) Wait(ctx context.Context) error { return b.err }

func TestHTTPTransport_RateLimiterError(t *testing.T) {
	transport, _ := NewHTTPTransport(nil)
	transport.SetRateLimiter(&blockedLimiter{err: context.Canceled})

	req := NewRequest("GET", "https://api.example.com", "/")
	_, err := transport.Execute(context.Background(), req)
	if err == nil {
		t.Fatal("Execute() error = nil, want limiter error")
	}
	var terr *Error
	if !errors.As(err, &terr) || terr.Type != ErrorTypeCancelled {
		t.Errorf("error = %v, want cancelled", err)
	}
}

func TestHTTPTransport_ConnectionRefused(t *testing.T) {
	transport, _ := NewHTTPTransport(nil)
	// Port 1 is essentially never listening
	req := NewRequest("GET", "http://127.0.0.1:1", "/")

	_, err := transport.Execute(context.Background(), req)
	if err == nil {
		t.Fatal("Execute() error = nil, want connection error")
	}
	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if terr.Type != ErrorTypeNetwork {
		t.Errorf("error type = %v, want network", terr.Type)
	}
	if !terr.Retryable {
		t.Error("connection error not retryable")
	}
}

func TestHTTPTransport_PropagatesRequestIdentity(t *testing.T) {
	old := otel.GetTextMapPropagator()
	t.Cleanup(func() { otel.SetTextMapPropagator(old) })
	otel.SetTextMapPropagator(tracing.W3CPropagator())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("traceparent"); !strings.Contains(got, "4bf92f3577b34da6a3ce929d0e0e4736") {
			t.Errorf("traceparent = %q", got)
		}
		if got := r.Header.Get("X-Correlation-ID"); got != "550e8400-e29b-41d4-a716-446655440000" {
			t.Errorf("X-Correlation-ID = %q", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport, err := NewHTTPTransport(nil)
	if err != nil {
		t.Fatalf("NewHTTPTransport() error = %v", err)
	}

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x4b, 0xf9, 0x2f, 0x35, 0x77, 0xb3, 0x4d, 0xa6, 0xa3, 0xce, 0x92, 0x9d, 0x0e, 0x0e, 0x47, 0x36},
		SpanID:     trace.SpanID{0x00, 0xf0, 0x67, 0xaa, 0x0b, 0xa9, 0x02, 0xb7},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	ctx = tracing.ToContext(ctx, tracing.CorrelationID("550e8400-e29b-41d4-a716-446655440000"))

	if _, err := transport.Execute(ctx, NewRequest("GET", server.URL, "/")); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
}

func TestHTTPTransport_Name(t *testing.T) {
	transport, _ := NewHTTPTransport(nil)
	if transport.Name() != "http" {
		t.Errorf("Name() = %v", transport.Name())
	}
}

func TestTokenBucketLimiter(t *testing.T) {
	limiter := NewTokenBucketLimiter(100, 1)

	ctx := context.Background()
	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	// Burst consumed, next wait must observe cancellation
	if err := limiter.Wait(cancelled); err == nil {
		t.Error("Wait() with cancelled context = nil, want error")
	}
}

func TestSanitizeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "redacts api key",
			in:   "https://api.example.com/items?api_key=sk_live_123&page=2",
			want: "https://api.example.com/items?api_key=%5BREDACTED%5D&page=2",
		},
		{
			name: "no sensitive params unchanged",
			in:   "https://api.example.com/items?page=2",
			want: "https://api.example.com/items?page=2",
		},
		{
			name: "case insensitive match",
			in:   "https://api.example.com/items?API_KEY=abc",
			want: "https://api.example.com/items?API_KEY=%5BREDACTED%5D",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeURL(tt.in); got != tt.want {
				t.Errorf("SanitizeURL() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequestRedactedURL(t *testing.T) {
	req := NewRequest("GET", "https://api.example.com", "/search").
		WithParam("q", "boots").
		WithParam("api_key", "sk_live_123")

	got := req.RedactedURL()
	if strings.Contains(got, "sk_live_123") {
		t.Errorf("RedactedURL() leaks the credential: %s", got)
	}
	if !strings.Contains(got, "q=boots") {
		t.Errorf("RedactedURL() should keep plain parameters: %s", got)
	}

	prepared, err := req.Prepare()
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if got := prepared.RedactedURL(); strings.Contains(got, "sk_live_123") {
		t.Errorf("RedactedURL() after Prepare leaks the credential: %s", got)
	}

	bad := NewRequest("GET", "", "/health")
	if got := bad.RedactedURL(); got != "/health" {
		t.Errorf("RedactedURL() without a base URL = %q, want %q", got, "/health")
	}
}
