package transform

import (
	"context"
	"fmt"
)

// Mode selects how a PayloadTransform folds its values into the payload.
type Mode string

const (
	// ModeUpdate deep-merges into the target key when it already exists,
	// otherwise seeds it fresh
	ModeUpdate Mode = "update"

	// ModeNestedOnly always nests under the target key, merging into
	// whatever is already there
	ModeNestedOnly Mode = "nested_only"

	// ModeRootOnly merges values at the top level, folding in existing
	// top-level keys that no earlier transform has claimed
	ModeRootOnly Mode = "root_only"
)

// PayloadTransform merges a configured value map into the payload at its
// target key, or at the root, according to its mode. The zero Mode is
// ModeUpdate.
type PayloadTransform struct {
	Meta
	Mode   Mode
	Values map[string]any
}

// Apply merges the configured values into the payload. The incoming value
// must be a map (nil is treated as empty); the input map is never mutated.
func (t *PayloadTransform) Apply(_ context.Context, value any, tc *Context) (any, error) {
	var in map[string]any
	switch v := value.(type) {
	case nil:
		in = map[string]any{}
	case map[string]any:
		in = v
	default:
		return nil, fmt.Errorf("payload transform %s requires a map, got %T", t.Name(), value)
	}

	out := make(map[string]any, len(in)+1)
	for k, v := range in {
		out[k] = v
	}

	switch t.Mode {
	case ModeRootOnly:
		merged := make(map[string]any, len(t.Values)+len(out))
		for k, v := range out {
			if !tc.IsProcessed(k) {
				merged[k] = v
			}
		}
		merged = DeepMerge(merged, t.Values)
		for k := range t.Values {
			tc.MarkProcessed(k)
		}
		return merged, nil

	case ModeNestedOnly:
		existing, _ := out[t.Target].(map[string]any)
		out[t.Target] = DeepMerge(existing, t.Values)
		tc.MarkProcessed(t.Target)
		return out, nil

	default: // ModeUpdate
		if existing, ok := out[t.Target].(map[string]any); ok {
			out[t.Target] = DeepMerge(existing, t.Values)
		} else {
			out[t.Target] = DeepMerge(nil, t.Values)
		}
		tc.MarkProcessed(t.Target)
		return out, nil
	}
}

// DeepMerge merges source into target recursively, returning a new map.
// Source values win, except a nil source value never overwrites a non-nil
// target value. Neither input is mutated.
func DeepMerge(target, source map[string]any) map[string]any {
	out := make(map[string]any, len(target)+len(source))
	for k, v := range target {
		out[k] = v
	}
	for k, sv := range source {
		tv, exists := out[k]
		if sv == nil {
			if exists && tv != nil {
				continue
			}
			out[k] = nil
			continue
		}
		if tm, tok := tv.(map[string]any); tok {
			if sm, sok := sv.(map[string]any); sok {
				out[k] = DeepMerge(tm, sm)
				continue
			}
		}
		out[k] = sv
	}
	return out
}
