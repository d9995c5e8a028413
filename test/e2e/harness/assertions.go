package harness

import (
	"fmt"
	"testing"

	"github.com/tombee/libretto/pkg/transport"
)

// AssertStatus asserts the response carries the expected status code.
func (h *Harness) AssertStatus(t *testing.T, resp *transport.Response, want int) {
	t.Helper()

	if resp == nil {
		t.Fatal("response is nil")
	}
	if resp.StatusCode != want {
		t.Errorf("expected status %d, got %d (body: %s)", want, resp.StatusCode, resp.Body)
	}
}

// AssertRequestCount asserts how many requests reached a method and path.
func (h *Harness) AssertRequestCount(t *testing.T, method, path string, want int) {
	t.Helper()

	got := h.api.RequestCount(method, path)
	if got != want {
		t.Errorf("expected %d requests to %s %s, got %d", want, method, path, got)
	}
}

// AssertHeader asserts a recorded request carried the expected header value.
func (h *Harness) AssertHeader(t *testing.T, req *RecordedRequest, name, want string) {
	t.Helper()

	if req == nil {
		t.Fatal("request is nil")
	}
	if got := req.Headers.Get(name); got != want {
		t.Errorf("expected header %s=%q, got %q", name, want, got)
	}
}

// AssertQuery asserts a recorded request carried the expected query value.
func (h *Harness) AssertQuery(t *testing.T, req *RecordedRequest, key, want string) {
	t.Helper()

	if req == nil {
		t.Fatal("request is nil")
	}
	if got := req.Query.Get(key); got != want {
		t.Errorf("expected query %s=%q, got %q", key, want, got)
	}
}

// AssertBodyField asserts a top-level key of a recorded JSON body.
// Values compare by their printed form, so numeric JSON decoding does
// not trip the comparison.
func (h *Harness) AssertBodyField(t *testing.T, req *RecordedRequest, key string, want any) {
	t.Helper()

	if req == nil {
		t.Fatal("request is nil")
	}
	decoded, err := req.JSON()
	if err != nil {
		t.Fatalf("request body is not JSON: %v (body: %s)", err, req.Body)
	}
	object, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("request body is not a JSON object: %s", req.Body)
	}
	got, ok := object[key]
	if !ok {
		t.Errorf("request body has no key %q (body: %s)", key, req.Body)
		return
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expected body %s=%v, got %v", key, want, got)
	}
}

// AssertNoBodyField asserts a top-level key is absent from a recorded
// JSON body.
func (h *Harness) AssertNoBodyField(t *testing.T, req *RecordedRequest, key string) {
	t.Helper()

	if req == nil {
		t.Fatal("request is nil")
	}
	decoded, err := req.JSON()
	if err != nil {
		t.Fatalf("request body is not JSON: %v (body: %s)", err, req.Body)
	}
	object, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("request body is not a JSON object: %s", req.Body)
	}
	if got, ok := object[key]; ok {
		t.Errorf("expected body key %q to be absent, got %v", key, got)
	}
}
