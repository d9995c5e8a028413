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

package tracing

import (
	"context"
	"net/http/httptest"
	"testing"
)

const sampleID = CorrelationID("7c9e6679-7425-40de-944b-e07fc1f90ae7")

func TestNewCorrelationID_ValidAndUnique(t *testing.T) {
	seen := make(map[CorrelationID]bool, 64)
	for i := 0; i < 64; i++ {
		id := NewCorrelationID()
		if !id.IsValid() {
			t.Fatalf("NewCorrelationID() = %q, not a UUID", id)
		}
		if seen[id] {
			t.Fatalf("NewCorrelationID() repeated %q", id)
		}
		seen[id] = true
	}
}

func TestCorrelationID_IsValid(t *testing.T) {
	tests := []struct {
		name string
		id   CorrelationID
		want bool
	}{
		{"lowercase", sampleID, true},
		{"uppercase", CorrelationID("7C9E6679-7425-40DE-944B-E07FC1F90AE7"), true},
		{"empty", CorrelationID(""), false},
		{"truncated", CorrelationID("7c9e6679-7425-40de"), false},
		{"trailing junk", sampleID + "-x", false},
		{"no hyphens", CorrelationID("7c9e6679742540de944be07fc1f90ae7"), false},
		{"non-hex digit", CorrelationID("7c9e6679-7425-40de-944b-e07fc1f90azz"), false},
		{"arbitrary string", CorrelationID("request-42"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.id.IsValid(); got != tt.want {
				t.Errorf("IsValid(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestCorrelationID_ContextRoundTrip(t *testing.T) {
	ctx := ToContext(context.Background(), sampleID)

	if got := FromContext(ctx); got != sampleID {
		t.Errorf("FromContext() = %q, want %q", got, sampleID)
	}
	if got := FromContextOrEmpty(ctx); got != sampleID {
		t.Errorf("FromContextOrEmpty() = %q, want %q", got, sampleID)
	}
}

func TestFromContext_MintsWhenMissing(t *testing.T) {
	ctx := context.Background()

	first := FromContext(ctx)
	second := FromContext(ctx)

	if !first.IsValid() || !second.IsValid() {
		t.Fatalf("FromContext() minted invalid IDs: %q, %q", first, second)
	}
	if first == second {
		t.Errorf("FromContext() minted the same ID twice: %q", first)
	}
}

func TestFromContextOrEmpty_Missing(t *testing.T) {
	if got := FromContextOrEmpty(context.Background()); got != "" {
		t.Errorf("FromContextOrEmpty() = %q, want empty", got)
	}
}

func TestValidateUUID(t *testing.T) {
	id, ok := ValidateUUID(sampleID.String())
	if !ok {
		t.Fatalf("ValidateUUID(%q) rejected a valid UUID", sampleID)
	}
	if id != sampleID {
		t.Errorf("ValidateUUID() = %q, want %q", id, sampleID)
	}

	for _, bad := range []string{"", "not-a-uuid", "7c9e6679742540de944be07fc1f90ae7"} {
		if _, ok := ValidateUUID(bad); ok {
			t.Errorf("ValidateUUID(%q) = true, want false", bad)
		}
	}
}

func TestInjectIntoRequest(t *testing.T) {
	ctx := ToContext(context.Background(), sampleID)
	req := httptest.NewRequest("GET", "/orders", nil)

	InjectIntoRequest(ctx, req)

	if got := req.Header.Get(HeaderCorrelationID); got != sampleID.String() {
		t.Errorf("header = %q, want %q", got, sampleID)
	}
}

func TestInjectIntoRequest_NoID(t *testing.T) {
	req := httptest.NewRequest("GET", "/orders", nil)

	InjectIntoRequest(context.Background(), req)

	if got := req.Header.Get(HeaderCorrelationID); got != "" {
		t.Errorf("header = %q, want unset", got)
	}
}
