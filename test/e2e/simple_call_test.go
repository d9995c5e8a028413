package e2e

import (
	"errors"
	"strings"
	"testing"

	"github.com/tombee/libretto/pkg/client"
	libretoerrors "github.com/tombee/libretto/pkg/errors"
	"github.com/tombee/libretto/test/e2e/harness"
)

func TestRESTCall_QueryDefaults(t *testing.T) {
	h := harness.New(t)
	h.API().Handle("GET", "/users", harness.MockResponse{
		Body: []any{map[string]any{"id": 1, "name": "Ada"}},
	})

	desc := h.LoadDefinition("testdata/users.yaml")
	c := h.Client(desc)

	resp := h.Call(c, "users", "list", client.Args{})
	h.AssertStatus(t, resp, 200)

	// The limit default rides the query string even with no inputs
	req := h.API().LastRequest()
	h.AssertQuery(t, req, "limit", "10")
	h.AssertHeader(t, req, "Accept", "application/json")
}

func TestRESTCall_PathPlaceholderAndExtract(t *testing.T) {
	h := harness.New(t)
	h.API().Handle("GET", "/users/42", harness.MockResponse{
		Body: map[string]any{"user": map[string]any{"id": 42, "name": "Ada"}},
	})

	desc := h.LoadDefinition("testdata/users.yaml")
	c := h.Client(desc)

	resp := h.Call(c, "users", "get", client.Args{Path: []any{42}})
	h.AssertStatus(t, resp, 200)
	h.AssertRequestCount(t, "GET", "/users/42", 1)

	extracted, ok := resp.Metadata[client.MetadataExtracted]
	if !ok {
		t.Fatal("extract expression produced no metadata")
	}
	if extracted != "Ada" {
		t.Errorf("extracted %v, want Ada", extracted)
	}
}

func TestRESTCall_JSONBodyWithStatics(t *testing.T) {
	h := harness.New(t)
	h.API().Handle("POST", "/users", harness.MockResponse{
		Status: 201,
		Body:   map[string]any{"id": 7},
	})

	desc := h.LoadDefinition("testdata/users.yaml")
	c := h.Client(desc)

	resp := h.Call(c, "users", "create", client.Args{
		Params: map[string]any{"name": "Grace", "email": "grace@example.com"},
	})
	h.AssertStatus(t, resp, 201)

	req := h.API().LastRequest()
	h.AssertHeader(t, req, "Content-Type", "application/json")
	h.AssertBodyField(t, req, "name", "Grace")
	h.AssertBodyField(t, req, "email", "grace@example.com")
	h.AssertBodyField(t, req, "source", "e2e")
}

func TestRESTCall_UnknownParamSuggestion(t *testing.T) {
	h := harness.New(t)

	desc := h.LoadDefinition("testdata/users.yaml")
	c := h.Client(desc)

	_, err := h.CallExpectError(c, "users", "create", client.Args{
		Params: map[string]any{"nmae": "Grace"},
	})

	var verr *libretoerrors.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected a validation error, got %T: %v", err, err)
	}
	if verr.Field != "nmae" {
		t.Errorf("validation error names field %q, want nmae", verr.Field)
	}
	if !strings.Contains(verr.Suggestion, "name") {
		t.Errorf("suggestion should propose the close field, got %q", verr.Suggestion)
	}

	// Validation failures never reach the wire
	if got := len(h.API().Requests()); got != 0 {
		t.Errorf("expected no requests, got %d", got)
	}
}

func TestRESTCall_RequiredParamMissing(t *testing.T) {
	h := harness.New(t)

	desc := h.LoadDefinition("testdata/users.yaml")
	c := h.Client(desc)

	_, err := h.CallExpectError(c, "users", "create", client.Args{})

	var verr *libretoerrors.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected a validation error, got %T: %v", err, err)
	}
	if verr.Field != "name" {
		t.Errorf("validation error names field %q, want name", verr.Field)
	}
}
