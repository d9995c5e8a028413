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
	"os"
	"strings"
	"sync"
)

// maskedValue replaces credential material in masked output.
const maskedValue = "***"

// secretNameSuffixes mark variable and reference names whose values are
// credentials.
var secretNameSuffixes = []string{
	"_TOKEN",
	"_SECRET",
	"_KEY",
	"_PASSWORD",
	"_PASS",
	"_PWD",
}

// Masker collects credential values as the resolver hands them out and
// replaces them in strings bound for logs. Safe for concurrent use: the
// resolver registers values while client goroutines mask log output.
type Masker struct {
	mu     sync.RWMutex
	values map[string]struct{}
}

// NewMasker creates an empty masker.
func NewMasker() *Masker {
	return &Masker{values: make(map[string]struct{})}
}

// AddSecret registers a value for masking. Empty values are ignored.
func (m *Masker) AddSecret(value string) {
	if value == "" {
		return
	}
	m.mu.Lock()
	m.values[value] = struct{}{}
	m.mu.Unlock()
}

// Mask replaces every registered value in s with "***".
func (m *Masker) Mask(s string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := s
	for value := range m.values {
		if strings.Contains(result, value) {
			result = strings.ReplaceAll(result, value, maskedValue)
		}
	}
	return result
}

// registerEnvSecrets records the values of credential-looking ${VAR}
// references so their expansions are masked in logs. Plain configuration
// variables such as base URLs stay unregistered.
func (m *Masker) registerEnvSecrets(ref string) {
	for _, match := range envRefPattern.FindAllStringSubmatch(ref, -1) {
		if isSecretName(match[1]) {
			m.AddSecret(os.Getenv(match[1]))
		}
	}
}

// isSecretName reports whether a variable name looks like it holds a
// credential (GITHUB_TOKEN, ALGOLIA_API_KEY, DB_PASSWORD, ...).
func isSecretName(name string) bool {
	upper := strings.ToUpper(name)
	for _, suffix := range secretNameSuffixes {
		if strings.HasSuffix(upper, suffix) {
			return true
		}
	}
	return false
}
