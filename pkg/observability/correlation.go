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

package observability

import (
	"context"

	"github.com/tombee/libretto/internal/tracing"
)

// CorrelationID ties a caller's operation to the API requests made on its
// behalf. Outbound requests carry it in the X-Correlation-ID header.
type CorrelationID = tracing.CorrelationID

// NewCorrelationID generates a new unique correlation ID.
func NewCorrelationID() CorrelationID {
	return tracing.NewCorrelationID()
}

// WithCorrelationID returns a context carrying the correlation ID. Every
// request issued with that context sends the ID to the server.
func WithCorrelationID(ctx context.Context, id CorrelationID) context.Context {
	return tracing.ToContext(ctx, id)
}

// CorrelationIDFromContext returns the context's correlation ID, or the
// empty string when the context carries none.
func CorrelationIDFromContext(ctx context.Context) CorrelationID {
	return tracing.FromContextOrEmpty(ctx)
}

// EnsureCorrelationID returns a context guaranteed to carry a correlation
// ID, generating one when the context has none.
func EnsureCorrelationID(ctx context.Context) (context.Context, CorrelationID) {
	if id := tracing.FromContextOrEmpty(ctx); id != "" {
		return ctx, id
	}
	id := tracing.NewCorrelationID()
	return tracing.ToContext(ctx, id), id
}
