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
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/crypto/argon2"
)

// FileBackendPriority ranks the encrypted file store below the env and
// keychain backends.
const FileBackendPriority = 25

// Key derivation and format parameters. Changing any of them requires a
// fileFormatVersion bump so old stores fail loudly instead of decrypting
// to garbage.
const (
	fileFormatVersion = 1
	argon2Time        = 3
	argon2Memory      = 64 * 1024
	argon2Threads     = 4
	derivedKeyLen     = 32
	saltLen           = 16
)

// FileBackend stores secrets in a single AES-256-GCM encrypted JSON file.
// Every write derives a fresh cipher key from the master key and a new
// salt with argon2id. The master key comes from the constructor argument,
// the LIBRETTO_MASTER_KEY environment variable, or a master.key file under
// the user config directory, in that order; without one the backend
// reports itself unavailable and the resolver chain skips it.
type FileBackend struct {
	path      string
	masterKey []byte
	mu        sync.RWMutex
}

// envelope is the on-disk shape of the encrypted store.
type envelope struct {
	Version int    `json:"v"`
	Salt    []byte `json:"salt"`
	Nonce   []byte `json:"nonce"`
	Data    []byte `json:"data"`
}

// NewFileBackend creates an encrypted file backend at path, defaulting to
// libretto/secrets.enc under the user config directory. A missing master
// key yields an unavailable backend, not an error.
func NewFileBackend(path string, masterKey string) (*FileBackend, error) {
	if path == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve config directory: %w", err)
		}
		path = filepath.Join(configDir, "libretto", "secrets.enc")
	}

	b := &FileBackend{path: path}
	key, err := resolveMasterKey(masterKey)
	if err != nil {
		return b, nil
	}
	b.masterKey = key

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create secrets directory: %w", err)
	}
	return b, nil
}

// Name returns the backend identifier.
func (f *FileBackend) Name() string { return "file" }

// Available reports whether a master key was found.
func (f *FileBackend) Available() bool { return f.masterKey != nil }

// Priority returns the backend priority.
func (f *FileBackend) Priority() int { return FileBackendPriority }

// Get retrieves a secret from the encrypted store.
func (f *FileBackend) Get(ctx context.Context, key string) (string, error) {
	if !f.Available() {
		return "", fmt.Errorf("%w: no master key", ErrBackendUnavailable)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	store, err := f.load()
	if err != nil {
		return "", err
	}
	value, ok := store[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	return value, nil
}

// Set stores a secret, creating the store file on first write.
func (f *FileBackend) Set(ctx context.Context, key string, value string) error {
	if !f.Available() {
		return fmt.Errorf("%w: no master key", ErrBackendUnavailable)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	store, err := f.load()
	if err != nil {
		return err
	}
	store[key] = value
	return f.save(store)
}

// Delete removes a secret from the store.
func (f *FileBackend) Delete(ctx context.Context, key string) error {
	if !f.Available() {
		return fmt.Errorf("%w: no master key", ErrBackendUnavailable)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	store, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := store[key]; !ok {
		return fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	delete(store, key)
	return f.save(store)
}

// List returns the stored secret keys in sorted order.
func (f *FileBackend) List(ctx context.Context) ([]string, error) {
	if !f.Available() {
		return nil, fmt.Errorf("%w: no master key", ErrBackendUnavailable)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	store, err := f.load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(store))
	for k := range store {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// load reads and decrypts the store. A missing file is an empty store.
func (f *FileBackend) load() (map[string]string, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read secrets file: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed secrets file: %w", err)
	}
	if env.Version > fileFormatVersion {
		return nil, fmt.Errorf("secrets file version %d not supported", env.Version)
	}

	plaintext, err := f.open(&env)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(plaintext)

	store := map[string]string{}
	if err := json.Unmarshal(plaintext, &store); err != nil {
		return nil, fmt.Errorf("malformed secrets payload: %w", err)
	}
	return store, nil
}

// save encrypts the store and replaces the file through a temp-file
// rename, so a crash mid-write never corrupts the existing store.
func (f *FileBackend) save(store map[string]string) error {
	plaintext, err := json.Marshal(store)
	if err != nil {
		return fmt.Errorf("encode secrets: %w", err)
	}
	defer zeroBytes(plaintext)

	env, err := f.seal(plaintext)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode secrets file: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		return fmt.Errorf("write secrets file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace secrets file: %w", err)
	}
	return nil
}

// open decrypts an envelope with the key derived from its salt.
func (f *FileBackend) open(env *envelope) ([]byte, error) {
	key := argon2.IDKey(f.masterKey, env.Salt, argon2Time, argon2Memory, argon2Threads, derivedKeyLen)
	defer zeroBytes(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, env.Nonce, env.Data, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt secrets file (wrong master key or corrupted store): %w", err)
	}
	return plaintext, nil
}

// seal encrypts plaintext under a fresh salt and nonce.
func (f *FileBackend) seal(plaintext []byte) (*envelope, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey(f.masterKey, salt, argon2Time, argon2Memory, argon2Threads, derivedKeyLen)
	defer zeroBytes(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return &envelope{
		Version: fileFormatVersion,
		Salt:    salt,
		Nonce:   nonce,
		Data:    gcm.Seal(nil, nonce, plaintext, nil),
	}, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("build cipher: %w", err)
	}
	return gcm, nil
}

// resolveMasterKey returns the first configured master key: the explicit
// argument, the LIBRETTO_MASTER_KEY environment variable, then a
// master.key file under the user config directory.
func resolveMasterKey(explicit string) ([]byte, error) {
	if explicit != "" {
		return []byte(explicit), nil
	}
	if env := os.Getenv("LIBRETTO_MASTER_KEY"); env != "" {
		return []byte(env), nil
	}
	if configDir, err := os.UserConfigDir(); err == nil {
		keyPath := filepath.Join(configDir, "libretto", "master.key")
		if err := checkKeyFilePermissions(keyPath); err == nil {
			if key, readErr := os.ReadFile(keyPath); readErr == nil && len(key) > 0 {
				return key, nil
			}
		}
	}
	return nil, errors.New("no master key (set LIBRETTO_MASTER_KEY or create master.key)")
}

// checkKeyFilePermissions rejects symlinked and group or world accessible
// key files.
func checkKeyFilePermissions(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("key file %s is a symlink", path)
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return fmt.Errorf("key file %s permissions too open (%o)", path, perm)
	}
	return nil
}

// zeroBytes wipes key material after use.
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
