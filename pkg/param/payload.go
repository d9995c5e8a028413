package param

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tombee/libretto/internal/fuzzy"
	libretoerrors "github.com/tombee/libretto/pkg/errors"
)

// Field is a payload member: either *Parameter or *ConditionalParameter.
type Field interface {
	base() *Parameter
}

func (p *Parameter) base() *Parameter            { return p }
func (c *ConditionalParameter) base() *Parameter { return &c.Parameter }

// Payload assembles declared parameters plus static values into one request
// shape. The declared field set is the only legal key set for input data.
type Payload struct {
	// Fields maps field keys to their parameter declarations
	Fields map[string]Field

	// Statics seed the output; parameters may override the same key
	Statics map[string]any

	// Transform receives the fully assembled output and may replace it
	// wholesale
	Transform func(map[string]any) (map[string]any, error)
}

// Validate rejects unknown keys, missing required parameters without
// defaults, and values that neither match nor convert to their declared
// type. It does not run the mapping pipeline.
func (p *Payload) Validate(data map[string]any) error {
	for key := range data {
		if _, ok := p.Fields[key]; !ok {
			return &libretoerrors.ValidationError{
				Field:      key,
				Message:    "unknown payload key",
				Suggestion: p.suggestField(key),
			}
		}
	}

	for _, key := range p.sortedFieldKeys() {
		field := p.Fields[key].base()
		value, present := data[key]

		if !present || value == nil {
			if field.Required && field.Default == nil {
				return &libretoerrors.ValidationError{
					Field:   key,
					Message: "required parameter is missing and has no default",
				}
			}
			continue
		}

		if field.Type == "" || field.Type == TypeAny {
			continue
		}
		if matchesType(value, field.Type) {
			continue
		}
		if _, err := coerceType(value, field.Type); err != nil {
			return &libretoerrors.ValidationError{
				Field:   key,
				Message: fmt.Sprintf("value of type %T is not convertible to %s", value, field.Type),
			}
		}
	}

	return nil
}

// Apply assembles the output map from input data.
//
// Statics seed the output. Phase 1 resolves plain parameters in sorted key
// order, recording every processed value (transient included) into the
// processing context under its field key. Phase 2 resolves conditional
// parameters in dependency order. A configured Transform runs last over the
// assembled map.
func (p *Payload) Apply(data map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(p.Statics)+len(p.Fields))
	for k, v := range p.Statics {
		out[k] = v
	}

	processed := make(map[string]any, len(p.Fields))

	var conditionalKeys []string
	for _, key := range p.sortedFieldKeys() {
		field := p.Fields[key]

		if _, isConditional := field.(*ConditionalParameter); isConditional {
			conditionalKeys = append(conditionalKeys, key)
			continue
		}

		par := field.base()
		mapped, err := par.apply(key, data[key], par.Required)
		if err != nil {
			return nil, err
		}
		if mapped == nil {
			// Absent optional parameter: omitted from output and from the
			// processing context
			continue
		}
		processed[key] = mapped
		if !par.Transient {
			out[par.OutputName(key)] = mapped
		}
	}

	ordered, err := p.orderConditionals(conditionalKeys)
	if err != nil {
		return nil, err
	}

	for _, key := range ordered {
		cond := p.Fields[key].(*ConditionalParameter)

		deps := make(map[string]any, len(cond.Dependencies))
		for _, dep := range cond.Dependencies {
			if v, ok := processed[dep]; ok {
				deps[dep] = v
			}
		}

		mapped, included, err := cond.applyContext(key, data[key], deps)
		if err != nil {
			return nil, err
		}
		if !included || mapped == nil {
			// Excluded or absent: contributes nothing, recorded as absent
			continue
		}
		processed[key] = mapped
		if !cond.Transient {
			out[cond.OutputName(key)] = mapped
		}
	}

	if p.Transform != nil {
		replaced, err := p.Transform(out)
		if err != nil {
			return nil, err
		}
		out = replaced
	}

	return out, nil
}

// orderConditionals returns the conditional field keys in topological
// order of their dependency graph. A dependency naming an undeclared field
// fails with that name; a cycle fails naming the exact cyclic subset.
func (p *Payload) orderConditionals(keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	conditional := make(map[string]*ConditionalParameter, len(keys))
	for _, key := range keys {
		conditional[key] = p.Fields[key].(*ConditionalParameter)
	}

	// Edges run dependency -> dependent; only edges between conditionals
	// constrain the order since plain parameters resolve in phase 1.
	dependents := make(map[string][]string, len(keys))
	indegree := make(map[string]int, len(keys))
	for _, key := range keys {
		indegree[key] = 0
	}

	for _, key := range keys {
		for _, dep := range conditional[key].Dependencies {
			if _, declared := p.Fields[dep]; !declared {
				return nil, &libretoerrors.ValidationError{
					Field:   key,
					Message: fmt.Sprintf("dependency %q is not a declared field", dep),
				}
			}
			if _, isConditional := conditional[dep]; isConditional {
				dependents[dep] = append(dependents[dep], key)
				indegree[key]++
			}
		}
	}

	queue := make([]string, 0, len(keys))
	for _, key := range keys {
		if indegree[key] == 0 {
			queue = append(queue, key)
		}
	}
	sort.Strings(queue)

	ordered := make([]string, 0, len(keys))
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		ordered = append(ordered, key)

		next := dependents[key]
		sort.Strings(next)
		for _, dependent := range next {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(ordered) < len(keys) {
		remaining := make(map[string]bool, len(keys))
		for _, key := range keys {
			remaining[key] = true
		}
		for _, key := range ordered {
			delete(remaining, key)
		}
		return nil, &libretoerrors.ValidationError{
			Field:   "payload",
			Message: fmt.Sprintf("circular parameter dependency: %s", describeCycle(remaining, conditional)),
		}
	}

	return ordered, nil
}

// describeCycle walks the remaining dependency edges from the smallest key
// until a node repeats, rendering the exact cycle as "a -> b -> a".
func describeCycle(remaining map[string]bool, conditional map[string]*ConditionalParameter) string {
	start := ""
	for key := range remaining {
		if start == "" || key < start {
			start = key
		}
	}

	seen := make(map[string]int)
	path := []string{}
	current := start
	for {
		if at, visited := seen[current]; visited {
			cycle := append(path[at:], current)
			return strings.Join(cycle, " -> ")
		}
		seen[current] = len(path)
		path = append(path, current)

		// Follow the smallest remaining conditional dependency
		next := ""
		for _, dep := range conditional[current].Dependencies {
			if remaining[dep] && (next == "" || dep < next) {
				next = dep
			}
		}
		if next == "" {
			// No further remaining dependency; report the walked path
			return strings.Join(path, " -> ")
		}
		current = next
	}
}

// suggestField proposes the closest declared field name for a typo.
func (p *Payload) suggestField(key string) string {
	best, score, err := fuzzy.BestMatch(fuzzy.ScorerTokenSortRatio, key, p.sortedFieldKeys())
	if err != nil || score < fuzzy.DefaultThreshold {
		return ""
	}
	return fmt.Sprintf("did you mean %q?", best)
}

func (p *Payload) sortedFieldKeys() []string {
	keys := make([]string, 0, len(p.Fields))
	for key := range p.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
