package harness

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/tombee/libretto/pkg/client"
	"github.com/tombee/libretto/pkg/descriptor"
	"github.com/tombee/libretto/pkg/transport"
)

// Harness wires a scripted MockAPI to client construction with
// test-friendly defaults. Every resource it creates is released through
// t.Cleanup.
type Harness struct {
	t          *testing.T
	api        *MockAPI
	timeout    time.Duration
	clientOpts []client.Option
}

// New creates a test harness and starts its mock API.
//
// Example:
//
//	h := harness.New(t)
//	h.API().Handle("GET", "/users", harness.MockResponse{Body: []any{}})
func New(t *testing.T, opts ...Option) *Harness {
	t.Helper()

	h := &Harness{
		t:       t,
		timeout: 30 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(h); err != nil {
			t.Fatalf("apply harness option: %v", err)
		}
	}

	if h.api == nil {
		h.api = NewMockAPI()
	}
	h.api.Start(t)

	return h
}

// API returns the mock API for scripting routes and reading requests.
func (h *Harness) API() *MockAPI {
	return h.api
}

// URL returns the mock API's base URL.
func (h *Harness) URL() string {
	return h.api.URL()
}

// Context returns a context bounded by the harness timeout.
func (h *Harness) Context() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	h.t.Cleanup(cancel)
	return ctx
}

// LoadDefinition parses a YAML definition file. API_BASE_URL is pointed
// at the mock server first, so definitions reference the harness with
// base_url: ${API_BASE_URL}.
//
// Example:
//
//	desc := h.LoadDefinition("testdata/users.yaml")
func (h *Harness) LoadDefinition(path string) *descriptor.ClientDescriptor {
	h.t.Helper()

	h.t.Setenv("API_BASE_URL", h.api.URL())

	content, err := os.ReadFile(path)
	if err != nil {
		h.t.Fatalf("read definition file %q: %v", path, err)
	}

	desc, err := descriptor.ParseDefinition(content)
	if err != nil {
		h.t.Fatalf("parse definition from %q: %v", path, err)
	}

	return desc
}

// Client builds a client over the descriptor with the harness options
// and registers its shutdown.
func (h *Harness) Client(desc *descriptor.ClientDescriptor) *client.Client {
	h.t.Helper()

	c, err := client.New(desc, h.clientOpts...)
	if err != nil {
		h.t.Fatalf("build client: %v", err)
	}

	h.t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.Close(ctx); err != nil {
			h.t.Logf("cleanup client: %v", err)
		}
	})

	return c
}

// Call invokes resource.method and fails the test on any error.
//
// Example:
//
//	resp := h.Call(c, "users", "list", client.Args{})
func (h *Harness) Call(c *client.Client, resource, method string, args client.Args) *transport.Response {
	h.t.Helper()

	res, err := c.Resource(resource)
	if err != nil {
		h.t.Fatalf("resource %q: %v", resource, err)
	}

	resp, err := res.Call(h.Context(), method, args)
	if err != nil {
		h.t.Fatalf("call %s.%s: %v", resource, method, err)
	}

	return resp
}

// CallExpectError invokes resource.method expecting a failure. It
// returns the error and the response that rode along with it, and fails
// the test if the call succeeded.
func (h *Harness) CallExpectError(c *client.Client, resource, method string, args client.Args) (*transport.Response, error) {
	h.t.Helper()

	res, err := c.Resource(resource)
	if err != nil {
		h.t.Fatalf("resource %q: %v", resource, err)
	}

	resp, err := res.Call(h.Context(), method, args)
	if err == nil {
		h.t.Fatalf("expected %s.%s to fail, but it succeeded with status %d", resource, method, resp.StatusCode)
	}

	return resp, err
}
