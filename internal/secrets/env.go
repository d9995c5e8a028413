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
	"fmt"
	"os"
	"regexp"
	"strings"
)

const (
	// EnvBackendPriority puts environment variables first in the chain so
	// deployments can override stored secrets.
	EnvBackendPriority = 100

	envSecretPrefix = "LIBRETTO_SECRET_"
)

// validEnvVarName matches POSIX-style environment variable names.
var validEnvVarName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// envRefPattern matches ${VAR} references inside strings.
var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// EnvBackend reads secrets from environment variables. A key resolves
// through LIBRETTO_SECRET_<NORMALIZED_KEY> first, then through the raw key
// when it is itself a valid variable name, so both "stripe-api-key" and
// "GITHUB_TOKEN" work as secret names.
type EnvBackend struct{}

// NewEnvBackend creates the environment variable backend.
func NewEnvBackend() *EnvBackend {
	return &EnvBackend{}
}

// Name returns the backend identifier.
func (e *EnvBackend) Name() string { return "env" }

// Available always reports true.
func (e *EnvBackend) Available() bool { return true }

// Priority returns the backend priority.
func (e *EnvBackend) Priority() int { return EnvBackendPriority }

// ReadOnly reports that the process environment is never written.
func (e *EnvBackend) ReadOnly() bool { return true }

// Get resolves a secret from the environment.
func (e *EnvBackend) Get(ctx context.Context, key string) (string, error) {
	candidates := []string{e.normalizeKey(key)}
	if validEnvVarName.MatchString(key) {
		candidates = append(candidates, key)
	}
	for _, name := range candidates {
		if value := os.Getenv(name); value != "" {
			return value, nil
		}
	}
	return "", fmt.Errorf("%w: environment variable not set", ErrSecretNotFound)
}

// Set always fails: the process environment is read-only.
func (e *EnvBackend) Set(ctx context.Context, key string, value string) error {
	return ErrReadOnlyBackend
}

// Delete always fails: the process environment is read-only.
func (e *EnvBackend) Delete(ctx context.Context, key string) error {
	return ErrReadOnlyBackend
}

// List returns the keys of all non-empty LIBRETTO_SECRET_* variables.
func (e *EnvBackend) List(ctx context.Context) ([]string, error) {
	var keys []string
	for _, entry := range os.Environ() {
		name, value, ok := strings.Cut(entry, "=")
		if !ok || value == "" || !strings.HasPrefix(name, envSecretPrefix) {
			continue
		}
		keys = append(keys, e.denormalizeKey(name))
	}
	return keys, nil
}

// normalizeKey maps a secret key onto its environment variable name:
// "storefront/api-key" reads LIBRETTO_SECRET_STOREFRONT_API_KEY.
func (e *EnvBackend) normalizeKey(key string) string {
	normalized := strings.NewReplacer("/", "_", "-", "_").Replace(key)
	return envSecretPrefix + strings.ToUpper(normalized)
}

// denormalizeKey maps a variable name back to its canonical secret key:
// LIBRETTO_SECRET_GITHUB_TOKEN lists as "github_token".
func (e *EnvBackend) denormalizeKey(envVar string) string {
	return strings.ToLower(strings.TrimPrefix(envVar, envSecretPrefix))
}

// ExpandEnv replaces every ${VAR} reference in s with the variable's value.
// A reference to an unset or empty variable is an error so that missing
// credentials fail loudly instead of producing empty headers.
func ExpandEnv(s string) (string, error) {
	var missing []string
	expanded := envRefPattern.ReplaceAllStringFunc(s, func(ref string) string {
		name := envRefPattern.FindStringSubmatch(ref)[1]
		value := os.Getenv(name)
		if value == "" {
			missing = append(missing, name)
		}
		return value
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("environment variable not set: %s", strings.Join(missing, ", "))
	}
	return expanded, nil
}

// HasEnvRef reports whether s contains at least one ${VAR} reference.
func HasEnvRef(s string) bool {
	return envRefPattern.MatchString(s)
}
