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
	"net/http"
	"regexp"

	"github.com/google/uuid"
)

// CorrelationID is a unique identifier tying a caller's operation to the
// API requests made on its behalf. It uses RFC 4122 UUID format.
type CorrelationID string

// correlationKeyType is the context key for storing correlation IDs.
type correlationKeyType struct{}

var correlationKey = correlationKeyType{}

// HeaderCorrelationID is the header carrying the correlation ID on
// outbound requests.
const HeaderCorrelationID = "X-Correlation-ID"

// uuidRegex validates RFC 4122 UUID format.
var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// NewCorrelationID generates a new unique correlation ID.
func NewCorrelationID() CorrelationID {
	return CorrelationID(uuid.New().String())
}

// String returns the string representation of the correlation ID.
func (c CorrelationID) String() string {
	return string(c)
}

// IsValid reports whether the correlation ID is a valid UUID.
func (c CorrelationID) IsValid() bool {
	return uuidRegex.MatchString(string(c))
}

// ToContext adds the correlation ID to the context.
func ToContext(ctx context.Context, id CorrelationID) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}

func lookup(ctx context.Context) (CorrelationID, bool) {
	id, ok := ctx.Value(correlationKey).(CorrelationID)
	return id, ok
}

// FromContext retrieves the correlation ID from the context, minting a
// fresh one when the context carries none.
func FromContext(ctx context.Context) CorrelationID {
	if id, ok := lookup(ctx); ok {
		return id
	}
	return NewCorrelationID()
}

// FromContextOrEmpty retrieves the correlation ID from the context.
// Returns the empty string when the context carries none.
func FromContextOrEmpty(ctx context.Context) CorrelationID {
	id, _ := lookup(ctx)
	return id
}

// ValidateUUID checks whether s is a valid UUID and returns it as a
// correlation ID.
func ValidateUUID(s string) (CorrelationID, bool) {
	if uuidRegex.MatchString(s) {
		return CorrelationID(s), true
	}
	return "", false
}

// InjectIntoRequest adds the context's correlation ID to the request
// headers. Requests without a correlation ID are left untouched.
func InjectIntoRequest(ctx context.Context, req *http.Request) {
	id := FromContextOrEmpty(ctx)
	if id != "" {
		req.Header.Set(HeaderCorrelationID, id.String())
	}
}
