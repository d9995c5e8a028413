// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auth

import (
	"context"
	"net/http"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/libretto/pkg/descriptor"
	libretoerrors "github.com/tombee/libretto/pkg/errors"
	"github.com/tombee/libretto/pkg/transport"
)

func TestNew_NilConfig(t *testing.T) {
	_, err := New(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, libretoerrors.IsConfig(err))
}

func TestNew_UnknownType(t *testing.T) {
	_, err := New(context.Background(), &descriptor.AuthConfig{Type: "kerberos"})
	require.Error(t, err)

	var cfgErr *libretoerrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "auth.type", cfgErr.Key)
	assert.Contains(t, cfgErr.Reason, "unknown auth type")
	assert.Contains(t, cfgErr.Reason, "api_key")
}

func TestNew_DispatchesByType(t *testing.T) {
	strategy, err := New(context.Background(), &descriptor.AuthConfig{
		Type:   "api_key",
		APIKey: "sk-test",
	})
	require.NoError(t, err)
	assert.Equal(t, "api_key", strategy.Name())
	assert.NotNil(t, strategy.State())
}

func TestTypes_ListsRegisteredStrategies(t *testing.T) {
	types := Types()
	assert.True(t, sort.StringsAreSorted(types))
	for _, want := range []string{
		"api_key", "basic", "bearer", "dpop",
		"jwt_bearer", "oauth2", "session_cookie", "sigv4",
	} {
		assert.Contains(t, types, want)
	}
}

func TestState_TokenLifecycle(t *testing.T) {
	state := NewState()
	assert.False(t, state.Authenticated())

	state.SetToken("tok-1", time.Now().Add(time.Hour))
	assert.True(t, state.Authenticated())
	assert.False(t, state.Expired())

	token, expiry := state.Token()
	assert.Equal(t, "tok-1", token)
	assert.False(t, expiry.IsZero())

	state.SetToken("tok-2", time.Now().Add(-time.Minute))
	assert.True(t, state.Expired())

	state.SetAuthenticated(false)
	assert.False(t, state.Authenticated())
}

func TestState_Metadata(t *testing.T) {
	state := NewState()

	_, ok := state.Metadata("nonce")
	assert.False(t, ok)

	state.SetMetadata("nonce", "abc")
	got, ok := state.Metadata("nonce")
	require.True(t, ok)
	assert.Equal(t, "abc", got)
}

func TestResolveCredential(t *testing.T) {
	ctx := context.Background()
	opts := Options{}
	applyDefaults(&opts)

	t.Run("missing required", func(t *testing.T) {
		_, err := resolveCredential(ctx, opts.Resolver, "auth.token", "", true)
		require.Error(t, err)

		var cfgErr *libretoerrors.ConfigError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "auth.token", cfgErr.Key)
	})

	t.Run("missing optional", func(t *testing.T) {
		got, err := resolveCredential(ctx, opts.Resolver, "auth.token", "", false)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("literal passthrough", func(t *testing.T) {
		got, err := resolveCredential(ctx, opts.Resolver, "auth.token", "sk-literal", true)
		require.NoError(t, err)
		assert.Equal(t, "sk-literal", got)
	})

	t.Run("env reference", func(t *testing.T) {
		t.Setenv("LIBRETTO_AUTH_TEST_TOKEN", "from-env")
		got, err := resolveCredential(ctx, opts.Resolver, "auth.token", "${LIBRETTO_AUTH_TEST_TOKEN}", true)
		require.NoError(t, err)
		assert.Equal(t, "from-env", got)
	})

	t.Run("unset env reference", func(t *testing.T) {
		_, err := resolveCredential(ctx, opts.Resolver, "auth.token", "${LIBRETTO_AUTH_TEST_UNSET}", true)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "LIBRETTO_AUTH_TEST_UNSET")
	})
}

func TestObserveStatus(t *testing.T) {
	state := NewState()
	state.SetAuthenticated(true)

	observeStatus(state, &transport.Response{StatusCode: 200, Headers: http.Header{}})
	assert.True(t, state.Authenticated())

	observeStatus(state, &transport.Response{StatusCode: 401, Headers: http.Header{}})
	assert.False(t, state.Authenticated())

	state.SetAuthenticated(true)
	observeStatus(state, &transport.Response{StatusCode: 403, Headers: http.Header{}})
	assert.False(t, state.Authenticated())

	observeStatus(state, nil)
}
