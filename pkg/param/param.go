// Package param implements the parameter mapping engine: single parameters,
// conditional parameters resolved against already-processed values, and
// payloads that assemble many parameters into one request shape.
package param

import (
	"fmt"
	"log/slog"
	"reflect"

	"github.com/spf13/cast"

	"github.com/tombee/libretto/internal/fuzzy"
	"github.com/tombee/libretto/internal/log"
	libretoerrors "github.com/tombee/libretto/pkg/errors"
)

// Type is the declared type constraint of a parameter.
type Type string

const (
	TypeAny     Type = "any"
	TypeString  Type = "string"
	TypeInteger Type = "integer"
	TypeNumber  Type = "number"
	TypeBoolean Type = "boolean"
	TypeArray   Type = "array"
	TypeObject  Type = "object"
)

// FailureMode selects which mapping stages raise instead of passing the
// value through unchanged.
type FailureMode string

const (
	// FailMap raises when a value map lookup finds no match
	FailMap FailureMode = "map"

	// FailTransform raises when the user transform returns an error
	FailTransform FailureMode = "transform"

	// FailType raises when type coercion fails
	FailType FailureMode = "type"
)

// FuzzyConfig enables fuzzy value-map lookups for unmatched string values.
type FuzzyConfig struct {
	// Scorer names the similarity function (default: token_sort_ratio)
	Scorer string

	// Threshold is the minimum score for a match on a 0-100 scale (default: 70)
	Threshold int
}

// Parameter declares one input of a payload.
//
// A parameter is stateless across calls: one declaration serves every
// request its resource method handles.
type Parameter struct {
	// Name is the output key. Empty means the field key the parameter is
	// declared under.
	Name string

	// Type constrains the mapped value (default: any)
	Type Type

	// Default provides a fresh default per call when the input is absent.
	// Use DefaultValue to wrap a literal.
	Default func() any

	// Required makes a missing value (with no default) a validation error
	Required bool

	// Choices restricts the final mapped value to a fixed set
	Choices []any

	// ValueMap rewrites matching input values. Exact lookup first, then
	// fuzzy when configured.
	ValueMap map[string]any

	// Fuzzy enables fuzzy ValueMap lookups for unmatched strings
	Fuzzy *FuzzyConfig

	// Transform rewrites the value after mapping and before coercion
	Transform func(any) (any, error)

	// Transient parameters feed dependent parameters during payload
	// assembly but never appear in the output.
	Transient bool

	// RaiseFor lists the stages that raise instead of passing through
	RaiseFor []FailureMode

	// Logger receives coercion warnings. Nil discards them.
	Logger *slog.Logger
}

// DefaultValue wraps a literal into a default provider. Compound values
// (maps, slices) are deep-copied per call so one declaration never leaks a
// shared mutable default across requests.
func DefaultValue(v any) func() any {
	return func() any {
		return deepCopyValue(v)
	}
}

// OutputName returns the key the mapped value is merged under.
func (p *Parameter) OutputName(key string) string {
	if p.Name != "" {
		return p.Name
	}
	return key
}

// Apply maps a raw input value through the parameter pipeline:
// default, value map (exact then fuzzy), transform, type coercion, choices.
// A nil result with a nil error means the parameter resolved to absent.
func (p *Parameter) Apply(value any) (any, error) {
	return p.apply(p.Name, value, p.Required)
}

// Map applies the value and wraps the result under the parameter's output
// name, so several parameters compose by map union. An absent result
// returns an empty map.
func (p *Parameter) Map(key string, value any) (map[string]any, error) {
	mapped, err := p.apply(key, value, p.Required)
	if err != nil {
		return nil, err
	}
	if mapped == nil {
		return map[string]any{}, nil
	}
	return map[string]any{p.OutputName(key): mapped}, nil
}

// apply runs the pipeline with the field key used for error reporting and
// an effective required flag (conditional parameters resolve required-ness
// per call without mutating the declaration).
func (p *Parameter) apply(key string, value any, required bool) (any, error) {
	if key == "" {
		key = p.Name
	}

	if value == nil && p.Default != nil {
		value = p.Default()
	}
	if value == nil {
		if required {
			return nil, &libretoerrors.ValidationError{
				Field:   key,
				Message: "required parameter is missing and has no default",
			}
		}
		return nil, nil
	}

	if len(p.ValueMap) > 0 {
		mapped, matched, err := p.mapValue(key, value)
		if err != nil {
			return nil, err
		}
		if matched {
			value = mapped
		}
	}

	if p.Transform != nil {
		transformed, err := p.Transform(value)
		if err != nil {
			if p.raisesFor(FailTransform) {
				return nil, &libretoerrors.MappingError{
					Parameter: key,
					Stage:     "transform",
					Value:     value,
					Message:   "transform failed",
					Cause:     err,
				}
			}
			// Pass the value through unchanged
		} else {
			value = transformed
		}
	}

	// A transform may legitimately change the type; coerce only when the
	// final concrete type still disagrees with the declaration.
	if p.Type != "" && p.Type != TypeAny && !matchesType(value, p.Type) {
		coerced, err := coerceType(value, p.Type)
		if err != nil {
			if p.raisesFor(FailType) {
				return nil, &libretoerrors.MappingError{
					Parameter: key,
					Stage:     "type",
					Value:     value,
					Message:   fmt.Sprintf("cannot coerce %T to %s", value, p.Type),
					Cause:     err,
				}
			}
			p.logger().Warn("type coercion failed, passing value through",
				log.String("parameter", key),
				log.String("declared_type", string(p.Type)),
				log.String("value_type", fmt.Sprintf("%T", value)))
		} else {
			value = coerced
		}
	}

	if len(p.Choices) > 0 && !containsChoice(p.Choices, value) {
		return nil, &libretoerrors.ValidationError{
			Field:   key,
			Message: fmt.Sprintf("value %v is not among the declared choices", value),
		}
	}

	return value, nil
}

// mapValue resolves the value through the value map. The second return
// reports whether a mapping was found.
func (p *Parameter) mapValue(key string, value any) (any, bool, error) {
	s, isString := value.(string)
	if isString {
		if mapped, ok := p.ValueMap[s]; ok {
			return mapped, true, nil
		}
	}

	if isString && p.Fuzzy != nil {
		candidates := make([]string, 0, len(p.ValueMap))
		for k := range p.ValueMap {
			candidates = append(candidates, k)
		}

		threshold := p.Fuzzy.Threshold
		if threshold == 0 {
			threshold = fuzzy.DefaultThreshold
		}
		best, score, err := fuzzy.BestMatch(p.Fuzzy.Scorer, s, candidates)
		if err != nil {
			return nil, false, &libretoerrors.MappingError{
				Parameter: key,
				Stage:     "map",
				Value:     value,
				Message:   err.Error(),
				Cause:     err,
			}
		}
		if score >= threshold {
			return p.ValueMap[best], true, nil
		}
	}

	if p.raisesFor(FailMap) {
		return nil, false, &libretoerrors.MappingError{
			Parameter: key,
			Stage:     "map",
			Value:     value,
			Message:   fmt.Sprintf("no value map match for %v", value),
		}
	}
	return nil, false, nil
}

func (p *Parameter) raisesFor(mode FailureMode) bool {
	for _, m := range p.RaiseFor {
		if m == mode {
			return true
		}
	}
	return false
}

func (p *Parameter) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return log.Discard()
}

// matchesType reports whether the concrete value already satisfies the
// declared type.
func matchesType(value any, t Type) bool {
	switch t {
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeInteger:
		switch value.(type) {
		case int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64:
			return true
		}
		return false
	case TypeNumber:
		switch value.(type) {
		case int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64:
			return true
		}
		return false
	case TypeArray:
		if value == nil {
			return false
		}
		k := reflect.TypeOf(value).Kind()
		return k == reflect.Slice || k == reflect.Array
	case TypeObject:
		if value == nil {
			return false
		}
		return reflect.TypeOf(value).Kind() == reflect.Map
	default:
		return true
	}
}

// coerceType converts the value to the declared type. Array wraps scalars
// into a single-element slice rather than coercing element-wise.
func coerceType(value any, t Type) (any, error) {
	switch t {
	case TypeString:
		return cast.ToStringE(value)
	case TypeInteger:
		return cast.ToIntE(value)
	case TypeNumber:
		return cast.ToFloat64E(value)
	case TypeBoolean:
		return cast.ToBoolE(value)
	case TypeArray:
		rv := reflect.ValueOf(value)
		if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
			out := make([]any, rv.Len())
			for i := 0; i < rv.Len(); i++ {
				out[i] = rv.Index(i).Interface()
			}
			return out, nil
		}
		return []any{value}, nil
	case TypeObject:
		return cast.ToStringMapE(value)
	default:
		return value, nil
	}
}

// containsChoice checks the final value against the declared choices.
func containsChoice(choices []any, value any) bool {
	for _, choice := range choices {
		if reflect.DeepEqual(choice, value) {
			return true
		}
	}
	return false
}

// deepCopyValue copies maps and slices recursively; scalars return as-is.
func deepCopyValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(vv))
		for k, item := range vv {
			out[k] = deepCopyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(vv))
		for i, item := range vv {
			out[i] = deepCopyValue(item)
		}
		return out
	case []string:
		out := make([]string, len(vv))
		copy(out, vv)
		return out
	default:
		return v
	}
}
