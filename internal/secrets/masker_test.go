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
	"strings"
	"testing"
)

func TestMasker_Mask(t *testing.T) {
	m := NewMasker()
	m.AddSecret("sk_live_12345")
	m.AddSecret("hunter2")

	input := "Authorization: Bearer sk_live_12345 password=hunter2"
	got := m.Mask(input)

	if strings.Contains(got, "sk_live_12345") {
		t.Errorf("Mask() left token in output: %s", got)
	}
	if strings.Contains(got, "hunter2") {
		t.Errorf("Mask() left password in output: %s", got)
	}
	if want := "Authorization: Bearer *** password=***"; got != want {
		t.Errorf("Mask() = %q, want %q", got, want)
	}
}

func TestMasker_IgnoresEmptyValues(t *testing.T) {
	m := NewMasker()
	m.AddSecret("")

	if got := m.Mask("nothing to hide"); got != "nothing to hide" {
		t.Errorf("Mask() = %q, want input unchanged", got)
	}
}

func TestMasker_Passthrough(t *testing.T) {
	m := NewMasker()
	m.AddSecret("secret-value")

	if got := m.Mask("plain text"); got != "plain text" {
		t.Errorf("Mask() = %q, want %q", got, "plain text")
	}
}

func TestIsSecretName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"GITHUB_TOKEN", true},
		{"ALGOLIA_API_KEY", true},
		{"DB_PASSWORD", true},
		{"SMTP_PASS", true},
		{"ADMIN_PWD", true},
		{"CLIENT_SECRET", true},
		{"api_token", true},
		{"BASE_URL", false},
		{"PAGE", false},
		{"TIMEOUT_SECONDS", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isSecretName(tt.name); got != tt.want {
				t.Errorf("isSecretName(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestResolver_MasksResolvedSecrets(t *testing.T) {
	ctx := context.Background()

	backend := newMockBackend("mock", 100)
	backend.secrets["api_key"] = "resolved-credential"
	resolver := NewResolver(backend)

	value, err := resolver.Resolve(ctx, "secret://api_key")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if value != "resolved-credential" {
		t.Fatalf("Resolve() = %q, want %q", value, "resolved-credential")
	}

	masked := resolver.Masker().Mask("sending key resolved-credential upstream")
	if strings.Contains(masked, "resolved-credential") {
		t.Errorf("Masker did not hide resolved secret: %s", masked)
	}
}

func TestResolver_MasksEnvCredentials(t *testing.T) {
	ctx := context.Background()
	t.Setenv("LIBRETTO_TEST_CLIENT_TOKEN", "tok-abc-123")
	t.Setenv("LIBRETTO_TEST_BASE_URL", "https://api.example.com")

	resolver := NewResolver()

	if _, err := resolver.Resolve(ctx, "${LIBRETTO_TEST_CLIENT_TOKEN}"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if _, err := resolver.Resolve(ctx, "${LIBRETTO_TEST_BASE_URL}"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	masked := resolver.Masker().Mask("token tok-abc-123 for https://api.example.com")
	if strings.Contains(masked, "tok-abc-123") {
		t.Errorf("Masker did not hide env token: %s", masked)
	}
	if !strings.Contains(masked, "https://api.example.com") {
		t.Errorf("Masker hid non-credential value: %s", masked)
	}
}
