// Package harness provides testing utilities for end-to-end client tests.
package harness

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"
)

// MockAPI is a scripted HTTP API for end-to-end tests. Routes map a
// method and path to a queue of responses consumed in order, and every
// request is recorded for assertions.
type MockAPI struct {
	mu       sync.Mutex
	server   *httptest.Server
	routes   map[string][]MockResponse
	served   map[string]int
	requests []RecordedRequest
}

// MockResponse defines one scripted response.
type MockResponse struct {
	// Status is the HTTP status code (defaults to 200).
	Status int

	// Body is encoded as JSON when Raw is empty.
	Body any

	// Raw is written verbatim and wins over Body.
	Raw []byte

	// Headers are additional response headers.
	Headers map[string]string

	// Delay holds the response for the given duration before writing.
	Delay time.Duration
}

// RecordedRequest captures one request as the server saw it.
type RecordedRequest struct {
	Method  string
	Path    string
	Query   url.Values
	Headers http.Header
	Body    []byte
}

// JSON decodes the recorded body as JSON.
func (r RecordedRequest) JSON() (any, error) {
	if len(r.Body) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(r.Body, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// NewMockAPI creates an unstarted mock API. The harness starts it; tests
// that build their own call Start directly.
func NewMockAPI() *MockAPI {
	return &MockAPI{
		routes: make(map[string][]MockResponse),
		served: make(map[string]int),
	}
}

// Start brings the HTTP server up and registers shutdown via t.Cleanup.
func (m *MockAPI) Start(t *testing.T) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server != nil {
		return
	}
	m.server = httptest.NewServer(m)
	t.Cleanup(m.server.Close)
}

// URL returns the server's base URL. Empty before Start.
func (m *MockAPI) URL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server == nil {
		return ""
	}
	return m.server.URL
}

// Handle queues responses for a method and path. Responses are served in
// order; a request beyond the queue fails with a 500 so an unexpected
// extra call surfaces immediately.
func (m *MockAPI) Handle(method, path string, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := routeKey(method, path)
	m.routes[key] = append(m.routes[key], responses...)
}

// ServeHTTP records the request and writes the next scripted response.
func (m *MockAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   r.URL.Query(),
		Headers: r.Header.Clone(),
		Body:    body,
	})

	key := routeKey(r.Method, r.URL.Path)
	queue, ok := m.routes[key]
	if !ok {
		m.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": fmt.Sprintf("no route for %s", key),
		})
		return
	}

	index := m.served[key]
	if index >= len(queue) {
		m.mu.Unlock()
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": fmt.Sprintf("no more responses configured for %s (requested %d, configured %d)", key, index+1, len(queue)),
		})
		return
	}
	m.served[key] = index + 1
	resp := queue[index]
	m.mu.Unlock()

	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}

	for name, value := range resp.Headers {
		w.Header().Set(name, value)
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}

	if len(resp.Raw) > 0 {
		w.WriteHeader(status)
		_, _ = w.Write(resp.Raw)
		return
	}
	if resp.Body != nil {
		writeJSON(w, status, resp.Body)
		return
	}
	w.WriteHeader(status)
}

// Requests returns a copy of every recorded request in arrival order.
func (m *MockAPI) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// RequestsTo returns the recorded requests matching a method and path.
func (m *MockAPI) RequestsTo(method, path string) []RecordedRequest {
	var out []RecordedRequest
	for _, req := range m.Requests() {
		if req.Method == method && req.Path == path {
			out = append(out, req)
		}
	}
	return out
}

// RequestCount returns how many requests hit a method and path.
func (m *MockAPI) RequestCount(method, path string) int {
	return len(m.RequestsTo(method, path))
}

// LastRequest returns the most recent request, or nil when none arrived.
func (m *MockAPI) LastRequest() *RecordedRequest {
	requests := m.Requests()
	if len(requests) == 0 {
		return nil
	}
	return &requests[len(requests)-1]
}

// Reset clears recorded requests and rewinds every response queue.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.served = make(map[string]int)
}

func routeKey(method, path string) string {
	return method + " " + path
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
