// Package transform provides ordered, composable value transforms for
// request payloads. A pipeline sorts its transforms by order, folds them
// left to right over the value, and threads one shared Context through
// every step so later transforms can see which keys earlier ones claimed.
package transform

import (
	"context"
	"fmt"
	"sort"
)

// Category describes what part of the request a transform shapes.
type Category string

const (
	CategoryPayload Category = "payload"
	CategoryURL     Category = "url"
	CategoryParams  Category = "params"
	CategoryHeaders Category = "headers"
	CategoryCookies Category = "cookies"
	CategoryCustom  Category = "custom"
)

// Op labels the kind of operation a transform performs. It is informational
// only; nothing dispatches on it.
type Op string

const (
	OpMerge   Op = "merge"
	OpMap     Op = "map"
	OpFilter  Op = "filter"
	OpChain   Op = "chain"
	OpCompose Op = "compose"
	OpCustom  Op = "custom"
)

// Context carries shared state through one pipeline run. Processed tracks
// top-level keys already claimed by an earlier transform; History records
// the names of transforms applied so far.
type Context struct {
	Processed map[string]struct{}
	History   []string
}

// NewContext returns an empty pipeline context.
func NewContext() *Context {
	return &Context{Processed: make(map[string]struct{})}
}

// MarkProcessed records a top-level key as claimed.
func (c *Context) MarkProcessed(key string) {
	if c.Processed == nil {
		c.Processed = make(map[string]struct{})
	}
	c.Processed[key] = struct{}{}
}

// IsProcessed reports whether a key has been claimed by an earlier
// transform in this run.
func (c *Context) IsProcessed(key string) bool {
	_, ok := c.Processed[key]
	return ok
}

// Transform is a single value-to-value step in a pipeline.
type Transform interface {
	// Name identifies the transform in pipeline history and errors.
	Name() string

	// Order positions the transform in the pipeline. Lower runs first;
	// ties keep declaration order.
	Order() int

	// Apply maps the value. tc is shared across the whole pipeline run.
	Apply(ctx context.Context, value any, tc *Context) (any, error)
}

// Meta supplies the descriptive half of a Transform. Concrete transforms
// embed it and implement Apply.
type Meta struct {
	// Label names the transform; the category stands in when empty
	Label    string
	Category Category
	Op       Op

	// Target is the payload key the transform operates on, where relevant
	Target string

	// Seq orders the transform within its pipeline
	Seq int
}

// Name returns the label, falling back to the category.
func (m Meta) Name() string {
	if m.Label != "" {
		return m.Label
	}
	if m.Category != "" {
		return string(m.Category)
	}
	return "transform"
}

// Order returns the pipeline sequence position.
func (m Meta) Order() int { return m.Seq }

// TargetCategory reports which part of a request the transform shapes.
// Callers routing transforms over a whole request dispatch on it; an empty
// category is treated as payload.
func (m Meta) TargetCategory() Category { return m.Category }

// Func adapts a closure into a Transform.
type Func struct {
	Meta
	Fn func(ctx context.Context, value any, tc *Context) (any, error)
}

// Apply invokes the wrapped function. A nil function passes the value
// through unchanged.
func (t *Func) Apply(ctx context.Context, value any, tc *Context) (any, error) {
	if t.Fn == nil {
		return value, nil
	}
	return t.Fn(ctx, value, tc)
}

// Pipeline is an ordered collection of transforms.
type Pipeline struct {
	transforms []Transform
}

// NewPipeline builds a pipeline from the given transforms. Declaration
// order is preserved for transforms sharing the same Order value.
func NewPipeline(transforms ...Transform) *Pipeline {
	p := &Pipeline{}
	for _, t := range transforms {
		if t != nil {
			p.transforms = append(p.transforms, t)
		}
	}
	return p
}

// Add appends a transform and returns the pipeline.
func (p *Pipeline) Add(t Transform) *Pipeline {
	if t != nil {
		p.transforms = append(p.transforms, t)
	}
	return p
}

// Len reports the number of transforms in the pipeline.
func (p *Pipeline) Len() int {
	if p == nil {
		return 0
	}
	return len(p.transforms)
}

// Ordered returns the transforms sorted ascending by Order; equal orders
// keep declaration position. The returned slice is a copy.
func (p *Pipeline) Ordered() []Transform {
	if p == nil || len(p.transforms) == 0 {
		return nil
	}
	ordered := make([]Transform, len(p.transforms))
	copy(ordered, p.transforms)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Order() < ordered[j].Order()
	})
	return ordered
}

// Execute folds the ordered transforms over value with one shared Context.
// The first failing transform aborts the run.
func (p *Pipeline) Execute(ctx context.Context, value any) (any, error) {
	if p == nil || len(p.transforms) == 0 {
		return value, nil
	}

	tc := NewContext()
	var err error
	for _, t := range p.Ordered() {
		value, err = t.Apply(ctx, value, tc)
		if err != nil {
			return nil, fmt.Errorf("transform %s: %w", t.Name(), err)
		}
		tc.History = append(tc.History, t.Name())
	}
	return value, nil
}
