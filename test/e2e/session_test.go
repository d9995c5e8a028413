package e2e

import (
	"strings"
	"testing"

	"github.com/tombee/libretto/pkg/client"
	"github.com/tombee/libretto/pkg/observability"
	"github.com/tombee/libretto/sdk"
	"github.com/tombee/libretto/test/e2e/harness"
)

// buildSessionClient declares a ping resource with session-level default
// headers and cookies.
func buildSessionClient(t *testing.T, h *harness.Harness) *client.Client {
	t.Helper()

	desc, err := sdk.NewClient("pinger").
		BaseURL(h.URL()).
		Header("X-Client", "libretto-e2e").
		Cookie("locale", "en").
		Resource("ping").
		Method("get").
		Get("").
		Done().
		Done().
		Build()
	if err != nil {
		t.Fatalf("build definition: %v", err)
	}
	return h.Client(desc)
}

func TestSession_DefaultsRideEveryRequest(t *testing.T) {
	h := harness.New(t)
	h.API().Handle("GET", "/ping", harness.MockResponse{Body: map[string]any{"ok": true}})

	c := buildSessionClient(t, h)
	h.Call(c, "ping", "get", client.Args{})

	req := h.API().LastRequest()
	h.AssertHeader(t, req, "X-Client", "libretto-e2e")
	if cookie := req.Headers.Get("Cookie"); !strings.Contains(cookie, "locale=en") {
		t.Errorf("expected the session cookie on the wire, got %q", cookie)
	}
}

func TestSession_AbsorbsSetCookie(t *testing.T) {
	h := harness.New(t)
	h.API().Handle("GET", "/ping",
		harness.MockResponse{
			Body:    map[string]any{"ok": true},
			Headers: map[string]string{"Set-Cookie": "sid=abc123; Path=/"},
		},
		harness.MockResponse{Body: map[string]any{"ok": true}},
	)

	c := buildSessionClient(t, h)
	h.Call(c, "ping", "get", client.Args{})
	h.Call(c, "ping", "get", client.Args{})

	reqs := h.API().RequestsTo("GET", "/ping")
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}

	first := reqs[0].Headers.Get("Cookie")
	if strings.Contains(first, "sid=") {
		t.Errorf("first request should not carry the server cookie yet, got %q", first)
	}

	second := reqs[1].Headers.Get("Cookie")
	if !strings.Contains(second, "sid=abc123") {
		t.Errorf("second request should carry the absorbed cookie, got %q", second)
	}
	if !strings.Contains(second, "locale=en") {
		t.Errorf("the session default cookie should survive absorption, got %q", second)
	}
}

func TestSession_PerRequestHeaderWins(t *testing.T) {
	h := harness.New(t)
	h.API().Handle("GET", "/ping", harness.MockResponse{Body: map[string]any{"ok": true}})

	c := buildSessionClient(t, h)
	h.Call(c, "ping", "get", client.Args{
		Headers: map[string]string{"X-Client": "special"},
	})

	h.AssertHeader(t, h.API().LastRequest(), "X-Client", "special")
}

func TestSession_CorrelationIDReachesWire(t *testing.T) {
	h := harness.New(t)
	h.API().Handle("GET", "/ping", harness.MockResponse{Body: map[string]any{"ok": true}})

	c := buildSessionClient(t, h)
	res, err := c.Resource("ping")
	if err != nil {
		t.Fatalf("resource: %v", err)
	}

	ctx := observability.WithCorrelationID(h.Context(), observability.CorrelationID("e2e-corr-1"))
	if _, err := res.Call(ctx, "get", client.Args{}); err != nil {
		t.Fatalf("call: %v", err)
	}

	h.AssertHeader(t, h.API().LastRequest(), "X-Correlation-ID", "e2e-corr-1")
}
