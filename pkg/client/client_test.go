package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/libretto/pkg/descriptor"
	libretoerrors "github.com/tombee/libretto/pkg/errors"
	"github.com/tombee/libretto/pkg/param"
	"github.com/tombee/libretto/pkg/transport"
)

// scenarioDescriptor declares a small shop client: an items resource with
// a searchable list method, a get-by-id method, and a create method.
func scenarioDescriptor(baseURL string) *descriptor.ClientDescriptor {
	return &descriptor.ClientDescriptor{
		Name:    "shop",
		BaseURL: baseURL,
		Resources: []*descriptor.ResourceDescriptor{
			{
				Name: "items",
				Path: "items",
				Methods: []*descriptor.MethodDescriptor{
					{
						Name:       "list",
						HTTPMethod: "GET",
						Payload: &param.Payload{
							Fields: map[string]param.Field{
								"query": &param.Parameter{},
								"hits":  &param.Parameter{Default: param.DefaultValue(20)},
							},
						},
					},
					{
						Name:       "get",
						HTTPMethod: "GET",
						Path:       "{id}",
					},
					{
						Name:       "create",
						HTTPMethod: "POST",
						Payload: &param.Payload{
							Fields: map[string]param.Field{
								"name":  &param.Parameter{Required: true},
								"price": &param.Parameter{Type: param.TypeNumber},
							},
						},
					},
				},
			},
		},
	}
}

// recordingServer captures every request and body it receives.
type recordingServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []*http.Request
	bodies   [][]byte
}

func newRecordingServer(t *testing.T, handler http.HandlerFunc) *recordingServer {
	t.Helper()
	rs := &recordingServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))
		rs.mu.Lock()
		rs.requests = append(rs.requests, r.Clone(r.Context()))
		rs.bodies = append(rs.bodies, body)
		rs.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *recordingServer) request(i int) *http.Request {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.requests[i]
}

func (rs *recordingServer) body(i int) []byte {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.bodies[i]
}

func (rs *recordingServer) count() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.requests)
}

// newTestClient spins up a recording server and a client pointed at it.
func newTestClient(t *testing.T, desc *descriptor.ClientDescriptor, handler http.HandlerFunc) (*Client, *recordingServer) {
	t.Helper()
	rs := newRecordingServer(t, handler)
	if desc.BaseURL == "" {
		desc.BaseURL = rs.URL
	}
	c, err := New(desc, WithHTTPClient(rs.Client()))
	require.NoError(t, err)
	return c, rs
}

func jsonHandler(status int, body any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func TestNew_RequiresDescriptor(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	assert.True(t, libretoerrors.IsConfig(err))
}

func TestNew_CompileFailurePropagates(t *testing.T) {
	_, err := New(&descriptor.ClientDescriptor{Name: "empty"})
	require.Error(t, err)
	assert.True(t, libretoerrors.IsValidation(err))
}

func TestClient_ResourceLookup(t *testing.T) {
	c, _ := newTestClient(t, scenarioDescriptor(""), jsonHandler(http.StatusOK, map[string]any{}))

	items, err := c.Resource("items")
	require.NoError(t, err)
	assert.Equal(t, "items", items.Name())
	assert.Equal(t, []string{"list", "get", "create"}, items.Methods())

	_, err = c.Resource("orders")
	require.Error(t, err)
	assert.True(t, libretoerrors.IsNotFound(err))
}

func TestCall_QueryDefaults(t *testing.T) {
	c, rs := newTestClient(t, scenarioDescriptor(""), jsonHandler(http.StatusOK, map[string]any{"ok": true}))

	items, err := c.Resource("items")
	require.NoError(t, err)

	resp, err := items.Call(context.Background(), "list", Args{Params: map[string]any{"query": "shoes"}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	got := rs.request(0)
	assert.Equal(t, "/items", got.URL.Path)
	assert.Equal(t, "shoes", got.URL.Query().Get("query"))
	assert.Equal(t, "20", got.URL.Query().Get("hits"))
}

func TestCall_PathPlaceholders(t *testing.T) {
	c, rs := newTestClient(t, scenarioDescriptor(""), jsonHandler(http.StatusOK, map[string]any{}))

	items, err := c.Resource("items")
	require.NoError(t, err)

	_, err = items.Call(context.Background(), "get", Args{Path: []any{42}})
	require.NoError(t, err)

	_, err = items.Call(context.Background(), "get", Args{Params: map[string]any{"id": 43, "expand": "reviews"}})
	require.NoError(t, err)

	assert.Equal(t, "/items/42", rs.request(0).URL.Path)
	assert.Empty(t, rs.request(0).URL.RawQuery)

	// the consumed placeholder key never reaches the query string
	assert.Equal(t, "/items/43", rs.request(1).URL.Path)
	assert.Equal(t, "expand=reviews", rs.request(1).URL.RawQuery)
}

func TestCall_PostBody(t *testing.T) {
	c, rs := newTestClient(t, scenarioDescriptor(""), jsonHandler(http.StatusCreated, map[string]any{"id": 1}))

	items, err := c.Resource("items")
	require.NoError(t, err)

	resp, err := items.Call(context.Background(), "create", Args{Params: map[string]any{
		"name":  "boots",
		"price": 79.5,
	}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "application/json", rs.request(0).Header.Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rs.body(0), &body))
	assert.Equal(t, map[string]any{"name": "boots", "price": 79.5}, body)
}

func TestCall_BodyOverridePushesParamsToQuery(t *testing.T) {
	c, rs := newTestClient(t, scenarioDescriptor(""), jsonHandler(http.StatusOK, map[string]any{}))

	items, err := c.Resource("items")
	require.NoError(t, err)

	_, err = items.Call(context.Background(), "create", Args{
		Params: map[string]any{"name": "boots"},
		Body:   []byte(`raw-payload`),
	})
	require.NoError(t, err)
	assert.Equal(t, "raw-payload", string(rs.body(0)))
	assert.Equal(t, "boots", rs.request(0).URL.Query().Get("name"))
}

func TestCall_UnknownMethod(t *testing.T) {
	c, _ := newTestClient(t, scenarioDescriptor(""), jsonHandler(http.StatusOK, map[string]any{}))

	items, err := c.Resource("items")
	require.NoError(t, err)

	_, err = items.Call(context.Background(), "destroy", Args{})
	require.Error(t, err)
	assert.True(t, libretoerrors.IsNotFound(err))
}

func TestCall_MissingBaseURL(t *testing.T) {
	desc := scenarioDescriptor("")
	c, err := New(desc)
	require.NoError(t, err)

	items, err := c.Resource("items")
	require.NoError(t, err)

	_, err = items.Call(context.Background(), "list", Args{})
	require.Error(t, err)

	var cerr *libretoerrors.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "base_url", cerr.Key)
}

func TestCall_PayloadValidation(t *testing.T) {
	c, rs := newTestClient(t, scenarioDescriptor(""), jsonHandler(http.StatusOK, map[string]any{}))

	items, err := c.Resource("items")
	require.NoError(t, err)

	_, err = items.Call(context.Background(), "list", Args{Params: map[string]any{"bogus": 1}})
	require.Error(t, err)
	assert.True(t, libretoerrors.IsValidation(err))

	_, err = items.Call(context.Background(), "create", Args{Params: map[string]any{"price": 5}})
	require.Error(t, err)
	assert.True(t, libretoerrors.IsValidation(err))

	// validation failures never reach the wire
	assert.Zero(t, rs.count())
}

func TestCall_ReturnsResponseAlongsideError(t *testing.T) {
	desc := scenarioDescriptor("")
	desc.Resources[0].Methods[0].Retry = &descriptor.RetryConfig{MaxAttempts: 1}
	c, _ := newTestClient(t, desc, jsonHandler(http.StatusNotFound, map[string]any{"error": "no such item"}))

	items, err := c.Resource("items")
	require.NoError(t, err)

	resp, err := items.Call(context.Background(), "list", Args{})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCall_MethodRetryOverride(t *testing.T) {
	desc := scenarioDescriptor("")
	// 500 is retryable under the session default policy; the method
	// narrows it away, so a single attempt proves the override applied.
	desc.Resources[0].Methods[0].Retry = &descriptor.RetryConfig{
		MaxAttempts:     3,
		RetryableStatus: []int{418},
	}
	c, rs := newTestClient(t, desc, jsonHandler(http.StatusInternalServerError, map[string]any{}))

	items, err := c.Resource("items")
	require.NoError(t, err)

	_, err = items.Call(context.Background(), "list", Args{})
	require.Error(t, err)
	assert.Equal(t, 1, rs.count())
}

func TestCall_Hooks(t *testing.T) {
	desc := scenarioDescriptor("")
	m := desc.Resources[0].Methods[0]
	m.Extract = ".count"
	m.Pre = func(ctx context.Context, req *transport.Request) (*transport.Request, error) {
		return req.WithHeader("X-Hooked", "1"), nil
	}
	m.Post = func(ctx context.Context, resp *transport.Response) (*transport.Response, error) {
		// extraction has already run when the post hook fires
		resp.Metadata["post_saw_extracted"] = resp.Metadata[MetadataExtracted]
		return resp, nil
	}

	c, rs := newTestClient(t, desc, jsonHandler(http.StatusOK, map[string]any{"count": 5}))

	items, err := c.Resource("items")
	require.NoError(t, err)

	resp, err := items.Call(context.Background(), "list", Args{})
	require.NoError(t, err)
	assert.Equal(t, "1", rs.request(0).Header.Get("X-Hooked"))
	assert.Equal(t, float64(5), resp.Metadata[MetadataExtracted])
	assert.Equal(t, float64(5), resp.Metadata["post_saw_extracted"])
}

func TestCall_Extract(t *testing.T) {
	desc := scenarioDescriptor("")
	desc.Resources[0].Methods[0].Extract = ".items | map(.id)"
	c, _ := newTestClient(t, desc, jsonHandler(http.StatusOK, map[string]any{
		"items": []map[string]any{{"id": 1}, {"id": 2}},
	}))

	items, err := c.Resource("items")
	require.NoError(t, err)

	resp, err := items.Call(context.Background(), "list", Args{})
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), float64(2)}, resp.Metadata[MetadataExtracted])
}

func TestCall_TransformPipeline(t *testing.T) {
	desc := scenarioDescriptor("")
	desc.Transforms = []descriptor.TransformConfig{
		{Name: "defaults", Category: "payload", Mode: "root_only", Values: map[string]any{"channel": "web"}, Order: 1},
		{Name: "version", Category: "url", JQ: `. + "/v2"`, Order: 2},
	}

	c, rs := newTestClient(t, desc, jsonHandler(http.StatusOK, map[string]any{}))

	items, err := c.Resource("items")
	require.NoError(t, err)

	_, err = items.Call(context.Background(), "create", Args{Params: map[string]any{"name": "boots"}})
	require.NoError(t, err)
	assert.Equal(t, "/items/v2", rs.request(0).URL.Path)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rs.body(0), &body))
	assert.Equal(t, map[string]any{"name": "boots", "channel": "web"}, body)
}

func TestCall_AppliesAuth(t *testing.T) {
	desc := scenarioDescriptor("")
	desc.Auth = &descriptor.AuthConfig{Type: "api_key", APIKey: "sk-test"}

	c, rs := newTestClient(t, desc, jsonHandler(http.StatusOK, map[string]any{}))

	items, err := c.Resource("items")
	require.NoError(t, err)

	_, err = items.Call(context.Background(), "list", Args{})
	require.NoError(t, err)
	assert.Equal(t, "sk-test", rs.request(0).Header.Get("X-API-Key"))
}

func TestClient_NestedResources(t *testing.T) {
	desc := &descriptor.ClientDescriptor{
		Name: "social",
		Resources: []*descriptor.ResourceDescriptor{
			{
				Name: "users",
				Path: "users",
				Resources: []*descriptor.ResourceDescriptor{
					{
						Name: "posts",
						Path: "{user_id}/posts",
						Methods: []*descriptor.MethodDescriptor{
							{Name: "list", HTTPMethod: "GET"},
						},
					},
				},
			},
		},
	}

	c, rs := newTestClient(t, desc, jsonHandler(http.StatusOK, []any{}))

	users, err := c.Resource("users")
	require.NoError(t, err)
	posts, err := users.Resource("posts")
	require.NoError(t, err)

	_, err = posts.Call(context.Background(), "list", Args{Params: map[string]any{"user_id": 7}})
	require.NoError(t, err)
	assert.Equal(t, "/users/7/posts", rs.request(0).URL.Path)
}

func TestClient_ResourceBaseURLOverride(t *testing.T) {
	alt := newRecordingServer(t, jsonHandler(http.StatusOK, map[string]any{}))

	desc := scenarioDescriptor("")
	desc.Resources = append(desc.Resources, &descriptor.ResourceDescriptor{
		Name:    "legacy",
		Path:    "legacy",
		BaseURL: alt.URL,
		Methods: []*descriptor.MethodDescriptor{
			{Name: "list", HTTPMethod: "GET"},
		},
	})

	c, rs := newTestClient(t, desc, jsonHandler(http.StatusOK, map[string]any{}))

	items, err := c.Resource("items")
	require.NoError(t, err)
	_, err = items.Call(context.Background(), "list", Args{})
	require.NoError(t, err)

	legacy, err := c.Resource("legacy")
	require.NoError(t, err)
	_, err = legacy.Call(context.Background(), "list", Args{})
	require.NoError(t, err)

	assert.Equal(t, 1, rs.count())
	assert.Equal(t, 1, alt.count())
	assert.Equal(t, "/legacy", alt.request(0).URL.Path)
}

func TestClient_SessionSharedAcrossResources(t *testing.T) {
	desc := &descriptor.ClientDescriptor{
		Name: "shared",
		Resources: []*descriptor.ResourceDescriptor{
			{Name: "login", Path: "login", Methods: []*descriptor.MethodDescriptor{{Name: "start", HTTPMethod: "GET"}}},
			{Name: "profile", Path: "profile", Methods: []*descriptor.MethodDescriptor{{Name: "show", HTTPMethod: "GET"}}},
		},
	}

	c, rs := newTestClient(t, desc, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			http.SetCookie(w, &http.Cookie{Name: "sid", Value: "s-1", Path: "/"})
		}
		jsonHandler(http.StatusOK, map[string]any{})(w, r)
	})

	login, err := c.Resource("login")
	require.NoError(t, err)
	_, err = login.Call(context.Background(), "start", Args{})
	require.NoError(t, err)

	profile, err := c.Resource("profile")
	require.NoError(t, err)
	_, err = profile.Call(context.Background(), "show", Args{})
	require.NoError(t, err)

	cookie, err := rs.request(1).Cookie("sid")
	require.NoError(t, err)
	assert.Equal(t, "s-1", cookie.Value)
}

func TestClient_Close(t *testing.T) {
	c, _ := newTestClient(t, scenarioDescriptor(""), jsonHandler(http.StatusOK, map[string]any{}))

	items, err := c.Resource("items")
	require.NoError(t, err)
	_, err = items.Call(context.Background(), "list", Args{})
	require.NoError(t, err)

	require.NoError(t, c.Close(context.Background()))
}
