package client

import (
	"context"
	"time"

	libretoerrors "github.com/tombee/libretto/pkg/errors"
	"github.com/tombee/libretto/pkg/transport"
)

// DeriveFunc computes a step's arguments from the previous step's
// response. The first step of a chain receives nil.
type DeriveFunc func(prev *transport.Response) (Args, error)

type chainStep struct {
	resource *Resource
	method   string
	args     Args
	derive   DeriveFunc
}

// RequestChain runs a fixed sequence of calls where each step may derive
// its arguments from the previous response. Execution is sequential and
// stops at the first error.
type RequestChain struct {
	steps []chainStep
	delay time.Duration
}

// WithDelay waits the given duration between consecutive steps.
func (rc *RequestChain) WithDelay(d time.Duration) *RequestChain {
	rc.delay = d
	return rc
}

// Call appends a step with fixed arguments.
func (rc *RequestChain) Call(r *Resource, method string, args Args) *RequestChain {
	rc.steps = append(rc.steps, chainStep{resource: r, method: method, args: args})
	return rc
}

// Derive appends a step whose arguments are computed from the previous
// step's response.
func (rc *RequestChain) Derive(r *Resource, method string, fn DeriveFunc) *RequestChain {
	rc.steps = append(rc.steps, chainStep{resource: r, method: method, derive: fn})
	return rc
}

// Run executes the chain. It returns the responses collected so far and
// the error of the step that failed, if any.
func (rc *RequestChain) Run(ctx context.Context) ([]*transport.Response, error) {
	responses := make([]*transport.Response, 0, len(rc.steps))
	var prev *transport.Response

	for i, step := range rc.steps {
		if step.resource == nil {
			return responses, &libretoerrors.ConfigError{
				Key:    "chain",
				Reason: "chain step has no resource",
			}
		}
		if rc.delay > 0 && i > 0 {
			select {
			case <-ctx.Done():
				return responses, ctx.Err()
			case <-time.After(rc.delay):
			}
		}

		args := step.args
		if step.derive != nil {
			var err error
			args, err = step.derive(prev)
			if err != nil {
				return responses, libretoerrors.Wrapf(err, "chain step %d (%s.%s)", i, step.resource.Name(), step.method)
			}
		}

		resp, err := step.resource.Call(ctx, step.method, args)
		if err != nil {
			return responses, libretoerrors.Wrapf(err, "chain step %d (%s.%s)", i, step.resource.Name(), step.method)
		}
		responses = append(responses, resp)
		prev = resp
	}
	return responses, nil
}
