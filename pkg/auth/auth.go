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

// Package auth implements the authentication strategies a client can
// declare: api_key, basic, bearer, oauth2 client credentials, jwt_bearer,
// dpop, session_cookie, and sigv4.
//
// A Strategy attaches credentials to outgoing requests in Prepare and
// observes responses in Handle, flipping its shared State on 401/403 so
// the session can re-authenticate. Credential fields accept literals,
// ${ENV} references, and secret://name references; they resolve through
// the secrets chain exactly once, when the strategy is constructed.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tombee/libretto/internal/log"
	"github.com/tombee/libretto/internal/secrets"
	"github.com/tombee/libretto/pkg/descriptor"
	libretoerrors "github.com/tombee/libretto/pkg/errors"
	"github.com/tombee/libretto/pkg/transport"
)

// Strategy is one authentication scheme.
type Strategy interface {
	// Name returns the strategy type identifier (api_key, oauth2, ...).
	Name() string

	// Authenticate performs any upfront credential exchange. Strategies
	// without a handshake mark themselves authenticated and return nil.
	Authenticate(ctx context.Context) error

	// Prepare attaches credentials to the outgoing request.
	Prepare(ctx context.Context, req *transport.Request) (*transport.Request, error)

	// Handle observes the response. Auth failures (401/403) clear the
	// authenticated flag; strategies may also capture tokens or cookies.
	Handle(ctx context.Context, resp *transport.Response) error

	// State returns the strategy's shared authentication state.
	State() *State
}

// State tracks authentication status shared between the strategy and the
// session. All methods are safe for concurrent use.
type State struct {
	mu            sync.RWMutex
	authenticated bool
	token         string
	expiry        time.Time
	metadata      map[string]any
}

// NewState returns an unauthenticated state.
func NewState() *State {
	return &State{metadata: make(map[string]any)}
}

// Authenticated reports whether the strategy currently holds valid
// credentials.
func (s *State) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// SetAuthenticated sets the authenticated flag.
func (s *State) SetAuthenticated(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = ok
}

// Token returns the current token and its expiry. Expiry is zero for
// tokens that do not expire.
func (s *State) Token() (string, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.expiry
}

// SetToken records a token and marks the state authenticated.
func (s *State) SetToken(token string, expiry time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.expiry = expiry
	s.authenticated = true
}

// Expired reports whether the recorded token has an expiry in the past.
func (s *State) Expired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.expiry.IsZero() && time.Now().After(s.expiry)
}

// Metadata returns a stored metadata value.
func (s *State) Metadata(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.metadata[key]
	return v, ok
}

// SetMetadata stores a metadata value.
func (s *State) SetMetadata(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metadata == nil {
		s.metadata = make(map[string]any)
	}
	s.metadata[key] = value
}

// Options carries shared strategy dependencies.
type Options struct {
	// Resolver resolves credential references (defaults to the standard
	// env/keychain/file chain)
	Resolver *secrets.Resolver

	// Logger receives strategy diagnostics (defaults to discard)
	Logger *slog.Logger

	// HTTPClient serves token-endpoint and identity calls (oauth2, sigv4
	// validation); defaults to http.DefaultClient
	HTTPClient *http.Client
}

// Option customizes strategy construction.
type Option func(*Options)

// WithResolver sets the secrets resolver.
func WithResolver(r *secrets.Resolver) Option {
	return func(o *Options) { o.Resolver = r }
}

// WithLogger sets the strategy logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithHTTPClient sets the HTTP client used for credential exchanges.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Options) { o.HTTPClient = c }
}

// Factory constructs a strategy from its declared configuration.
type Factory func(ctx context.Context, cfg *descriptor.AuthConfig, opts Options) (Strategy, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds a strategy factory under the given type name. Built-in
// strategies register during init; registering the same name again
// overwrites the previous factory.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Types returns the registered strategy type names in sorted order.
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New constructs the strategy declared by cfg. Credentials resolve
// through the secrets chain here; a missing or unresolvable required
// credential fails construction.
func New(ctx context.Context, cfg *descriptor.AuthConfig, opts ...Option) (Strategy, error) {
	if cfg == nil {
		return nil, &libretoerrors.ConfigError{
			Key:    "auth",
			Reason: "auth configuration is required",
		}
	}

	o := Options{}
	for _, opt := range opts {
		opt(&o)
	}
	applyDefaults(&o)

	registryMu.RLock()
	factory, ok := registry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, &libretoerrors.ConfigError{
			Key:    "auth.type",
			Reason: fmt.Sprintf("unknown auth type %q (known: %s)", cfg.Type, strings.Join(Types(), ", ")),
		}
	}

	return factory(ctx, cfg, o)
}

// applyDefaults fills unset options with the package defaults.
func applyDefaults(o *Options) {
	if o.Resolver == nil {
		o.Resolver = secrets.DefaultResolver()
	}
	if o.Logger == nil {
		o.Logger = log.Discard()
	}
	if o.HTTPClient == nil {
		o.HTTPClient = http.DefaultClient
	}
}

// resolveCredential resolves one credential reference. Empty optional
// credentials return "" without error; empty required ones fail naming
// the config key.
func resolveCredential(ctx context.Context, r *secrets.Resolver, key, ref string, required bool) (string, error) {
	if ref == "" {
		if required {
			return "", &libretoerrors.ConfigError{
				Key:    key,
				Reason: "required credential is missing",
			}
		}
		return "", nil
	}
	value, err := r.Resolve(ctx, ref)
	if err != nil {
		return "", &libretoerrors.ConfigError{
			Key:    key,
			Reason: "failed to resolve credential",
			Cause:  err,
		}
	}
	if value == "" && required {
		return "", &libretoerrors.ConfigError{
			Key:    key,
			Reason: "credential resolved to an empty value",
		}
	}
	return value, nil
}

// observeStatus applies the shared response rule: 401 and 403 clear the
// authenticated flag so the session re-authenticates before retrying.
func observeStatus(state *State, resp *transport.Response) {
	if resp == nil {
		return
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		state.SetAuthenticated(false)
	}
}
