package client

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/libretto/pkg/descriptor"
	libretoerrors "github.com/tombee/libretto/pkg/errors"
	"github.com/tombee/libretto/pkg/transport"
)

func TestBatch_CollectsResultsPastFailure(t *testing.T) {
	c, rs := newTestClient(t, scenarioDescriptor(""), func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/items/13" {
			jsonHandler(http.StatusNotFound, map[string]any{"error": "gone"})(w, r)
			return
		}
		jsonHandler(http.StatusOK, map[string]any{"ok": true})(w, r)
	})

	items, err := c.Resource("items")
	require.NoError(t, err)

	results := items.Batch("get").Do(context.Background(), []Args{
		{Path: []any{1}},
		{Path: []any{13}},
		{Path: []any{3}},
	})

	require.Len(t, results, 3)
	assert.Equal(t, 3, rs.count())

	assert.Equal(t, 0, results[0].Index)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, http.StatusOK, results[0].Response.StatusCode)

	// the middle failure does not stop the run
	assert.Equal(t, 1, results[1].Index)
	assert.Error(t, results[1].Err)

	assert.Equal(t, 2, results[2].Index)
	assert.NoError(t, results[2].Err)
}

func TestBatch_StopsOnCancelledContext(t *testing.T) {
	c, _ := newTestClient(t, scenarioDescriptor(""), jsonHandler(http.StatusOK, map[string]any{}))

	items, err := c.Resource("items")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := items.Batch("get").WithDelay(time.Millisecond).Do(ctx, []Args{
		{Path: []any{1}},
		{Path: []any{2}},
		{Path: []any{3}},
	})

	// the first call fails in flight, the delay before the second
	// observes the cancellation and ends the run
	require.Len(t, results, 2)
	assert.Error(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, context.Canceled)
}

func TestChain_DerivesArgsFromPreviousResponse(t *testing.T) {
	c, rs := newTestClient(t, scenarioDescriptor(""), func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/items" {
			jsonHandler(http.StatusOK, map[string]any{"items": []any{map[string]any{"id": 7}}})(w, r)
			return
		}
		jsonHandler(http.StatusOK, map[string]any{"id": 7, "name": "thing"})(w, r)
	})

	items, err := c.Resource("items")
	require.NoError(t, err)

	responses, err := c.Chain().
		Call(items, "list", Args{}).
		Derive(items, "get", func(prev *transport.Response) (Args, error) {
			data, err := prev.JSON()
			if err != nil {
				return Args{}, err
			}
			first := data.(map[string]any)["items"].([]any)[0].(map[string]any)
			return Args{Path: []any{first["id"]}}, nil
		}).
		Run(context.Background())

	require.NoError(t, err)
	require.Len(t, responses, 2)
	assert.Equal(t, "/items/7", rs.request(1).URL.Path)
}

func TestChain_StopsAtFirstError(t *testing.T) {
	desc := scenarioDescriptor("")
	desc.Resources[0].Methods[0].Retry = &descriptor.RetryConfig{MaxAttempts: 1}

	c, rs := newTestClient(t, desc, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/items" {
			jsonHandler(http.StatusInternalServerError, map[string]any{})(w, r)
			return
		}
		jsonHandler(http.StatusOK, map[string]any{})(w, r)
	})

	items, err := c.Resource("items")
	require.NoError(t, err)

	derived := false
	responses, err := c.Chain().
		Call(items, "list", Args{}).
		Derive(items, "get", func(prev *transport.Response) (Args, error) {
			derived = true
			return Args{Path: []any{1}}, nil
		}).
		Run(context.Background())

	require.Error(t, err)
	assert.ErrorContains(t, err, "chain step 0 (items.list)")
	assert.Empty(t, responses)
	assert.False(t, derived)
	assert.Equal(t, 1, rs.count())
}

func TestChain_RejectsNilResource(t *testing.T) {
	c, _ := newTestClient(t, scenarioDescriptor(""), jsonHandler(http.StatusOK, map[string]any{}))

	_, err := c.Chain().Call(nil, "list", Args{}).Run(context.Background())
	require.Error(t, err)
	assert.True(t, libretoerrors.IsConfig(err))
}
