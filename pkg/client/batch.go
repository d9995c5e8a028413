package client

import (
	"context"
	"time"

	"github.com/tombee/libretto/pkg/transport"
)

// BatchProcessor runs one method over a slice of argument sets, strictly
// in order, collecting every result. Per-call failures are recorded and
// the run continues; only context cancellation stops it early.
type BatchProcessor struct {
	resource *Resource
	method   string
	delay    time.Duration
}

// BatchResult is the outcome of one batched call.
type BatchResult struct {
	// Index is the position of the argument set in the input slice
	Index int

	// Response is the call's response; it may be set alongside Err for
	// non-2xx statuses
	Response *transport.Response

	// Err is the call's error, or the context error when the run was cut
	// short
	Err error
}

// Batch binds a method name for batched execution.
func (r *Resource) Batch(method string) *BatchProcessor {
	return &BatchProcessor{resource: r, method: method}
}

// WithDelay waits the given duration between consecutive calls.
func (b *BatchProcessor) WithDelay(d time.Duration) *BatchProcessor {
	b.delay = d
	return b
}

// Do executes the method once per argument set and returns one result per
// set executed. Cancellation records the context error for the current
// position and returns what has been collected.
func (b *BatchProcessor) Do(ctx context.Context, argSets []Args) []BatchResult {
	results := make([]BatchResult, 0, len(argSets))
	for i, args := range argSets {
		if b.delay > 0 && i > 0 {
			select {
			case <-ctx.Done():
				results = append(results, BatchResult{Index: i, Err: ctx.Err()})
				return results
			case <-time.After(b.delay):
			}
		}
		resp, err := b.resource.Call(ctx, b.method, args)
		results = append(results, BatchResult{Index: i, Response: resp, Err: err})
	}
	return results
}
