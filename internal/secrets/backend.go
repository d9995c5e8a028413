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
)

var (
	// ErrSecretNotFound marks a key no backend holds.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrBackendUnavailable marks a backend unusable in this environment.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrReadOnlyBackend marks a write against a read-only backend.
	ErrReadOnlyBackend = errors.New("backend is read-only")
)

// SecretBackend is one store in the resolver chain. Implementations must
// be safe for concurrent use.
type SecretBackend interface {
	// Name identifies the backend ("env", "keychain", "file").
	Name() string

	// Get retrieves a secret, or ErrSecretNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a secret, or ErrReadOnlyBackend.
	Set(ctx context.Context, key string, value string) error

	// Delete removes a secret, or ErrSecretNotFound / ErrReadOnlyBackend.
	Delete(ctx context.Context, key string) error

	// List returns the keys, never the values, this backend holds.
	List(ctx context.Context) ([]string, error)

	// Available reports whether the backend can run in this environment.
	Available() bool

	// Priority orders the chain, higher first: env 100, keychain 50,
	// file 25.
	Priority() int
}

// ReadOnlyBackend marks backends whose Set and Delete always fail with
// ErrReadOnlyBackend. The resolver skips them when writing.
type ReadOnlyBackend interface {
	SecretBackend
	ReadOnly() bool
}
