package transform

import (
	"context"

	"github.com/tombee/libretto/internal/jq"
)

var defaultJQ = jq.NewExecutor(0, 0)

// JQ applies a jq program to the value. Programs are compiled once and
// cached by the executor; execution is bounded by the executor's timeout
// and input size limits.
type JQ struct {
	Meta

	// Expression is the jq program source. Empty passes the value through.
	Expression string

	// Executor overrides the shared default when set.
	Executor *jq.Executor
}

// Apply runs the program against the value.
func (t *JQ) Apply(ctx context.Context, value any, _ *Context) (any, error) {
	exec := t.Executor
	if exec == nil {
		exec = defaultJQ
	}
	return exec.Execute(ctx, t.Expression, value)
}
