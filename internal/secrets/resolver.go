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

package secrets

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// secretRefScheme marks a credential value as a reference into the backend chain.
const secretRefScheme = "secret://"

// Resolver manages a chain of SecretBackends and resolves secrets
// by querying backends in priority order. Every value it hands out is
// registered with its Masker so logs can scrub credentials.
type Resolver struct {
	backends []SecretBackend
	masker   *Masker
}

// NewResolver creates a new secret resolver with the given backends.
// Backends are automatically sorted by priority (highest first).
func NewResolver(backends ...SecretBackend) *Resolver {
	// Filter out unavailable backends
	available := make([]SecretBackend, 0, len(backends))
	for _, b := range backends {
		if b.Available() {
			available = append(available, b)
		}
	}

	// Sort by priority (descending)
	sort.Slice(available, func(i, j int) bool {
		return available[i].Priority() > available[j].Priority()
	})

	return &Resolver{
		backends: available,
		masker:   NewMasker(),
	}
}

// DefaultResolver creates a resolver over the standard chain:
// environment variables, system keychain, encrypted file.
func DefaultResolver() *Resolver {
	backends := []SecretBackend{NewEnvBackend(), NewKeychainBackend()}
	if fb, err := NewFileBackend("", ""); err == nil {
		backends = append(backends, fb)
	}
	return NewResolver(backends...)
}

// Resolve turns a credential reference into its plaintext value.
// Three forms are accepted:
//   - "secret://name"  looks name up through the backend chain
//   - "${VAR}" (possibly embedded) expands environment variables
//   - anything else passes through as a literal
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	if strings.HasPrefix(ref, secretRefScheme) {
		name := strings.TrimPrefix(ref, secretRefScheme)
		if name == "" {
			return "", fmt.Errorf("empty secret reference")
		}
		return r.Get(ctx, name)
	}
	if HasEnvRef(ref) {
		value, err := ExpandEnv(ref)
		if err != nil {
			return "", err
		}
		r.masker.registerEnvSecrets(ref)
		return value, nil
	}
	return ref, nil
}

// Get retrieves a secret by querying backends in priority order.
// Returns the first successful result or ErrSecretNotFound if all backends fail.
func (r *Resolver) Get(ctx context.Context, key string) (string, error) {
	if len(r.backends) == 0 {
		return "", fmt.Errorf("%w: no available backends", ErrBackendUnavailable)
	}

	var lastErr error
	for _, backend := range r.backends {
		value, err := backend.Get(ctx, key)
		if err == nil {
			r.masker.AddSecret(value)
			return value, nil
		}

		// Track the last error for debugging
		if !errors.Is(err, ErrSecretNotFound) {
			lastErr = err
		}
	}

	// If we have a non-NotFound error, return it with context
	if lastErr != nil {
		return "", fmt.Errorf("failed to get secret %q: %w", key, lastErr)
	}

	return "", fmt.Errorf("%w: %q", ErrSecretNotFound, key)
}

// Set stores a secret in the first available writable backend.
// If a specific backend is specified, only that backend is used.
func (r *Resolver) Set(ctx context.Context, key string, value string, backendName string) error {
	if len(r.backends) == 0 {
		return fmt.Errorf("%w: no available backends", ErrBackendUnavailable)
	}

	// If a specific backend is requested, use only that one
	if backendName != "" {
		for _, backend := range r.backends {
			if backend.Name() == backendName {
				if err := backend.Set(ctx, key, value); err != nil {
					return fmt.Errorf("failed to set secret in %s: %w", backendName, err)
				}
				return nil
			}
		}
		return fmt.Errorf("backend %q not found or unavailable", backendName)
	}

	// Try backends in priority order, skipping read-only ones
	for _, backend := range r.backends {
		// Skip read-only backends
		if ro, ok := backend.(ReadOnlyBackend); ok && ro.ReadOnly() {
			continue
		}

		if err := backend.Set(ctx, key, value); err != nil {
			if errors.Is(err, ErrReadOnlyBackend) {
				continue
			}
			return fmt.Errorf("failed to set secret in %s: %w", backend.Name(), err)
		}
		return nil
	}

	return fmt.Errorf("no writable backend available")
}

// Delete removes a secret from a specific backend or all writable backends.
func (r *Resolver) Delete(ctx context.Context, key string, backendName string) error {
	if len(r.backends) == 0 {
		return fmt.Errorf("%w: no available backends", ErrBackendUnavailable)
	}

	// If a specific backend is requested, use only that one
	if backendName != "" {
		for _, backend := range r.backends {
			if backend.Name() == backendName {
				if err := backend.Delete(ctx, key); err != nil {
					return fmt.Errorf("failed to delete secret from %s: %w", backendName, err)
				}
				return nil
			}
		}
		return fmt.Errorf("backend %q not found or unavailable", backendName)
	}

	// Delete from all writable backends that have the key
	deleted := false
	for _, backend := range r.backends {
		// Skip read-only backends
		if ro, ok := backend.(ReadOnlyBackend); ok && ro.ReadOnly() {
			continue
		}

		if err := backend.Delete(ctx, key); err != nil {
			if errors.Is(err, ErrSecretNotFound) || errors.Is(err, ErrReadOnlyBackend) {
				continue
			}
			return fmt.Errorf("failed to delete secret from %s: %w", backend.Name(), err)
		}
		deleted = true
	}

	if !deleted {
		return fmt.Errorf("%w: %q", ErrSecretNotFound, key)
	}

	return nil
}

// List returns all secret keys visible through the chain, de-duplicated with
// higher priority backends winning.
func (r *Resolver) List(ctx context.Context) ([]string, error) {
	if len(r.backends) == 0 {
		return nil, fmt.Errorf("%w: no available backends", ErrBackendUnavailable)
	}

	seen := make(map[string]struct{})
	var keys []string

	for _, backend := range r.backends {
		backendKeys, err := backend.List(ctx)
		if err != nil {
			// Skip backends that cannot enumerate
			continue
		}

		for _, key := range backendKeys {
			if _, exists := seen[key]; !exists {
				seen[key] = struct{}{}
				keys = append(keys, key)
			}
		}
	}

	sort.Strings(keys)
	return keys, nil
}

// Backends returns the list of available backends in priority order.
func (r *Resolver) Backends() []SecretBackend {
	return r.backends
}

// Masker exposes the resolver's credential masker. Loggers wrap their
// output with Masker().Mask to keep resolved secrets out of records.
func (r *Resolver) Masker() *Masker {
	return r.masker
}
