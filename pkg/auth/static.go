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
	"encoding/base64"
	"fmt"
	"time"

	"github.com/tombee/libretto/pkg/descriptor"
	libretoerrors "github.com/tombee/libretto/pkg/errors"
	"github.com/tombee/libretto/pkg/transport"
)

func init() {
	Register("api_key", newAPIKey)
	Register("basic", newBasic)
	Register("bearer", newBearer)
}

// Placement values for api_key credentials.
const (
	PlacementHeader = "header"
	PlacementQuery  = "query"
	PlacementCookie = "cookie"
)

// DefaultAPIKeyField is the header used when the declaration names none.
const DefaultAPIKeyField = "X-API-Key"

// APIKey attaches a static key as a header, query parameter, or cookie.
type APIKey struct {
	key       string
	field     string
	placement string
	state     *State
}

func newAPIKey(ctx context.Context, cfg *descriptor.AuthConfig, opts Options) (Strategy, error) {
	key, err := resolveCredential(ctx, opts.Resolver, "auth.api_key", cfg.APIKey, true)
	if err != nil {
		return nil, err
	}

	placement := cfg.Placement
	if placement == "" {
		placement = PlacementHeader
	}
	switch placement {
	case PlacementHeader, PlacementQuery, PlacementCookie:
	default:
		return nil, &libretoerrors.ConfigError{
			Key:    "auth.placement",
			Reason: fmt.Sprintf("unknown placement %q (use header, query, or cookie)", cfg.Placement),
		}
	}

	field := cfg.Field
	if field == "" {
		field = DefaultAPIKeyField
	}

	return &APIKey{key: key, field: field, placement: placement, state: NewState()}, nil
}

// Name returns "api_key".
func (a *APIKey) Name() string { return "api_key" }

// State returns the shared authentication state.
func (a *APIKey) State() *State { return a.state }

// Authenticate marks the strategy authenticated; a static key needs no
// handshake.
func (a *APIKey) Authenticate(ctx context.Context) error {
	a.state.SetAuthenticated(true)
	return nil
}

// Prepare attaches the key at its declared placement.
func (a *APIKey) Prepare(ctx context.Context, req *transport.Request) (*transport.Request, error) {
	switch a.placement {
	case PlacementQuery:
		return req.WithParam(a.field, a.key), nil
	case PlacementCookie:
		return req.WithCookie(a.field, a.key), nil
	default:
		return req.WithHeader(a.field, a.key), nil
	}
}

// Handle clears the authenticated flag on 401/403.
func (a *APIKey) Handle(ctx context.Context, resp *transport.Response) error {
	observeStatus(a.state, resp)
	return nil
}

// Basic attaches an Authorization: Basic header.
type Basic struct {
	encoded string
	state   *State
}

func newBasic(ctx context.Context, cfg *descriptor.AuthConfig, opts Options) (Strategy, error) {
	username, err := resolveCredential(ctx, opts.Resolver, "auth.username", cfg.Username, true)
	if err != nil {
		return nil, err
	}
	password, err := resolveCredential(ctx, opts.Resolver, "auth.password", cfg.Password, true)
	if err != nil {
		return nil, err
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	return &Basic{encoded: encoded, state: NewState()}, nil
}

// Name returns "basic".
func (b *Basic) Name() string { return "basic" }

// State returns the shared authentication state.
func (b *Basic) State() *State { return b.state }

// Authenticate marks the strategy authenticated.
func (b *Basic) Authenticate(ctx context.Context) error {
	b.state.SetAuthenticated(true)
	return nil
}

// Prepare sets the Authorization header.
func (b *Basic) Prepare(ctx context.Context, req *transport.Request) (*transport.Request, error) {
	return req.WithHeader("Authorization", "Basic "+b.encoded), nil
}

// Handle clears the authenticated flag on 401/403.
func (b *Basic) Handle(ctx context.Context, resp *transport.Response) error {
	observeStatus(b.state, resp)
	return nil
}

// Bearer attaches a static Authorization: Bearer token.
type Bearer struct {
	token string
	state *State
}

func newBearer(ctx context.Context, cfg *descriptor.AuthConfig, opts Options) (Strategy, error) {
	token, err := resolveCredential(ctx, opts.Resolver, "auth.token", cfg.Token, true)
	if err != nil {
		return nil, err
	}
	return &Bearer{token: token, state: NewState()}, nil
}

// Name returns "bearer".
func (b *Bearer) Name() string { return "bearer" }

// State returns the shared authentication state.
func (b *Bearer) State() *State { return b.state }

// Authenticate marks the strategy authenticated.
func (b *Bearer) Authenticate(ctx context.Context) error {
	b.state.SetToken(b.token, time.Time{})
	return nil
}

// Prepare sets the Authorization header.
func (b *Bearer) Prepare(ctx context.Context, req *transport.Request) (*transport.Request, error) {
	return req.WithHeader("Authorization", "Bearer "+b.token), nil
}

// Handle clears the authenticated flag on 401/403.
func (b *Bearer) Handle(ctx context.Context, resp *transport.Response) error {
	observeStatus(b.state, resp)
	return nil
}
