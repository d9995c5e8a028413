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
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/tombee/libretto/pkg/descriptor"
	libretoerrors "github.com/tombee/libretto/pkg/errors"
	"github.com/tombee/libretto/pkg/transport"
)

func init() {
	Register("oauth2", newOAuth2)
}

// OAuth2 implements the client credentials grant. Tokens come from a
// cached token source that refreshes on expiry; a 401 response drops the
// cache so the next request fetches a fresh token.
type OAuth2 struct {
	cc     *clientcredentials.Config
	tokCtx context.Context
	logger *slog.Logger
	state  *State

	mu     sync.Mutex
	source oauth2.TokenSource
}

func newOAuth2(ctx context.Context, cfg *descriptor.AuthConfig, opts Options) (Strategy, error) {
	clientID, err := resolveCredential(ctx, opts.Resolver, "auth.client_id", cfg.ClientID, true)
	if err != nil {
		return nil, err
	}
	clientSecret, err := resolveCredential(ctx, opts.Resolver, "auth.client_secret", cfg.ClientSecret, true)
	if err != nil {
		return nil, err
	}
	if cfg.TokenURL == "" {
		return nil, &libretoerrors.ConfigError{
			Key:    "auth.token_url",
			Reason: "oauth2 requires a token_url",
		}
	}

	cc := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       append([]string(nil), cfg.Scopes...),
	}

	// The token source keeps this context for every token fetch, so it
	// carries the injected HTTP client rather than a request context.
	tokCtx := context.WithValue(context.Background(), oauth2.HTTPClient, opts.HTTPClient)

	s := &OAuth2{
		cc:     cc,
		tokCtx: tokCtx,
		logger: opts.Logger,
		state:  NewState(),
	}
	s.source = cc.TokenSource(tokCtx)
	return s, nil
}

// Name returns "oauth2".
func (o *OAuth2) Name() string { return "oauth2" }

// State returns the shared authentication state.
func (o *OAuth2) State() *State { return o.state }

// Authenticate fetches an initial token.
func (o *OAuth2) Authenticate(ctx context.Context) error {
	_, err := o.token()
	return err
}

// Prepare attaches the current access token, fetching or refreshing it as
// needed.
func (o *OAuth2) Prepare(ctx context.Context, req *transport.Request) (*transport.Request, error) {
	tok, err := o.token()
	if err != nil {
		return nil, err
	}
	return req.WithHeader("Authorization", "Bearer "+tok.AccessToken), nil
}

// Handle drops the cached token on 401 so the next request re-fetches;
// 403 only clears the authenticated flag since a new token would carry
// the same grants.
func (o *OAuth2) Handle(ctx context.Context, resp *transport.Response) error {
	observeStatus(o.state, resp)
	if resp != nil && resp.StatusCode == http.StatusUnauthorized {
		o.invalidate()
	}
	return nil
}

func (o *OAuth2) token() (*oauth2.Token, error) {
	o.mu.Lock()
	source := o.source
	o.mu.Unlock()

	tok, err := source.Token()
	if err != nil {
		o.state.SetAuthenticated(false)
		return nil, &libretoerrors.AuthError{
			Strategy: "oauth2",
			Message:  "failed to acquire token",
			Cause:    err,
		}
	}
	o.state.SetToken(tok.AccessToken, tok.Expiry)
	return tok, nil
}

func (o *OAuth2) invalidate() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.logger.Debug("oauth2 token invalidated, next request re-fetches")
	o.source = o.cc.TokenSource(o.tokCtx)
}
