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
	"sync"

	"github.com/zalando/go-keyring"
)

const (
	// KeychainBackendPriority ranks the OS keyring between the env and
	// encrypted file backends.
	KeychainBackendPriority = 50

	keychainService  = "libretto"
	keychainIndexKey = "__libretto_index__"
)

// KeychainBackend stores secrets in the operating system keyring: Keychain
// on macOS, the Secret Service API on Linux, Credential Manager on Windows.
// The underlying keyring cannot enumerate entries, so the backend maintains
// its own index entry to support List; entries written outside the library
// are invisible to it.
type KeychainBackend struct {
	available bool
	mu        sync.Mutex
}

// NewKeychainBackend probes the keyring once and marks the backend
// unavailable when the probe fails with anything but a missing entry.
func NewKeychainBackend() *KeychainBackend {
	_, err := keyring.Get(keychainService, "__libretto_probe__")
	return &KeychainBackend{
		available: err == nil || errors.Is(err, keyring.ErrNotFound),
	}
}

// Name returns the backend identifier.
func (k *KeychainBackend) Name() string { return "keychain" }

// Available reports whether the keyring probe succeeded.
func (k *KeychainBackend) Available() bool { return k.available }

// Priority returns the backend priority.
func (k *KeychainBackend) Priority() int { return KeychainBackendPriority }

// Get retrieves a secret from the keyring.
func (k *KeychainBackend) Get(ctx context.Context, key string) (string, error) {
	if !k.available {
		return "", fmt.Errorf("%w: keyring unavailable", ErrBackendUnavailable)
	}
	value, err := keyring.Get(keychainService, key)
	if err != nil {
		return "", classifyKeyringErr(err, key)
	}
	return value, nil
}

// Set stores a secret in the keyring and records it in the index.
func (k *KeychainBackend) Set(ctx context.Context, key string, value string) error {
	if !k.available {
		return fmt.Errorf("%w: keyring unavailable", ErrBackendUnavailable)
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := keyring.Set(keychainService, key, value); err != nil {
		return classifyKeyringErr(err, key)
	}
	k.updateIndex(func(index map[string]struct{}) { index[key] = struct{}{} })
	return nil
}

// Delete removes a secret from the keyring and the index.
func (k *KeychainBackend) Delete(ctx context.Context, key string) error {
	if !k.available {
		return fmt.Errorf("%w: keyring unavailable", ErrBackendUnavailable)
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := keyring.Delete(keychainService, key); err != nil {
		return classifyKeyringErr(err, key)
	}
	k.updateIndex(func(index map[string]struct{}) { delete(index, key) })
	return nil
}

// List returns the keys this backend has written, in sorted order.
func (k *KeychainBackend) List(ctx context.Context) ([]string, error) {
	if !k.available {
		return nil, fmt.Errorf("%w: keyring unavailable", ErrBackendUnavailable)
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	index := k.readIndex()
	keys := make([]string, 0, len(index))
	for key := range index {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// readIndex loads the index entry. A missing or unreadable index reads as
// empty.
func (k *KeychainBackend) readIndex() map[string]struct{} {
	index := map[string]struct{}{}
	raw, err := keyring.Get(keychainService, keychainIndexKey)
	if err != nil {
		return index
	}
	for _, key := range strings.Split(raw, "\n") {
		if key != "" {
			index[key] = struct{}{}
		}
	}
	return index
}

// updateIndex applies a mutation to the index entry. Index maintenance is
// best effort: a write failure degrades List, not Get or Set.
func (k *KeychainBackend) updateIndex(mutate func(map[string]struct{})) {
	index := k.readIndex()
	mutate(index)
	keys := make([]string, 0, len(index))
	for key := range index {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	_ = keyring.Set(keychainService, keychainIndexKey, strings.Join(keys, "\n"))
}

// classifyKeyringErr maps keyring failures onto the backend error set. A
// locked or prompting keyring reads as unavailable so the resolver falls
// through to the next backend.
func classifyKeyringErr(err error, key string) error {
	if errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	if isKeyringLocked(err) {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return fmt.Errorf("keychain: %w", err)
}

// isKeyringLocked matches the error strings the platform keyrings emit
// when locked, prompting, or unreachable.
func isKeyringLocked(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{
		"locked",
		"cannot access",
		"permission denied",
		"failed to unlock",
		"user interaction required",
		"secret service",
		"dbus",
		"user canceled",
	} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
