package descriptor

import (
	"context"
	"fmt"

	"github.com/tombee/libretto/internal/jq"
	libretoerrors "github.com/tombee/libretto/pkg/errors"
	"github.com/tombee/libretto/pkg/param"
)

// descriptorJQ evaluates jq programs declared in definitions. Programs
// are compiled once and cached.
var descriptorJQ = jq.NewExecutor(0, 0)

// Build turns the YAML payload form into a runtime payload declaration.
func (pc *PayloadConfig) Build() (*param.Payload, error) {
	p := &param.Payload{}

	if len(pc.Fields) > 0 {
		p.Fields = make(map[string]param.Field, len(pc.Fields))
		for key, fc := range pc.Fields {
			if fc == nil {
				fc = &FieldConfig{}
			}
			field, err := fc.build()
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", key, err)
			}
			p.Fields[key] = field
		}
	}

	if len(pc.Statics) > 0 {
		p.Statics = make(map[string]any, len(pc.Statics))
		for k, v := range pc.Statics {
			p.Statics[k] = deepCopyMeta(v)
		}
	}

	if pc.Transform != "" {
		if err := descriptorJQ.Validate(pc.Transform); err != nil {
			return nil, &libretoerrors.ConfigError{
				Key:    "transform",
				Reason: "invalid jq expression",
				Cause:  err,
			}
		}
		expr := pc.Transform
		p.Transform = func(out map[string]any) (map[string]any, error) {
			res, err := descriptorJQ.Execute(context.Background(), expr, out)
			if err != nil {
				return nil, err
			}
			m, ok := res.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("payload transform must produce an object, got %T", res)
			}
			return m, nil
		}
	}

	return p, nil
}

func (fc *FieldConfig) build() (param.Field, error) {
	typ, err := parseParamType(fc.Type)
	if err != nil {
		return nil, err
	}
	raiseFor, err := parseRaiseFor(fc.RaiseFor)
	if err != nil {
		return nil, err
	}

	base := param.Parameter{
		Name:      fc.Name,
		Type:      typ,
		Required:  fc.Required,
		Transient: fc.Transient,
		RaiseFor:  raiseFor,
	}
	if len(fc.Choices) > 0 {
		base.Choices = append([]any(nil), fc.Choices...)
	}
	if len(fc.ValueMap) > 0 {
		vm := make(map[string]any, len(fc.ValueMap))
		for k, v := range fc.ValueMap {
			vm[k] = deepCopyMeta(v)
		}
		base.ValueMap = vm
	}
	if fc.Default != nil {
		base.Default = param.DefaultValue(deepCopyMeta(fc.Default))
	}
	if fc.Fuzzy != nil {
		base.Fuzzy = &param.FuzzyConfig{
			Scorer:    fc.Fuzzy.Scorer,
			Threshold: fc.Fuzzy.Threshold,
		}
	}
	if fc.Transform != "" {
		if err := descriptorJQ.Validate(fc.Transform); err != nil {
			return nil, &libretoerrors.ConfigError{
				Key:    "transform",
				Reason: "invalid jq expression",
				Cause:  err,
			}
		}
		expr := fc.Transform
		base.Transform = func(v any) (any, error) {
			return descriptorJQ.Execute(context.Background(), expr, v)
		}
	}

	if len(fc.Dependencies) == 0 && fc.Conditions == nil {
		return &base, nil
	}

	cond := &param.ConditionalParameter{
		Parameter:    base,
		Dependencies: append([]string(nil), fc.Dependencies...),
		Expr:         fc.Conditions,
	}
	if err := cond.ValidateConditions(); err != nil {
		return nil, err
	}
	return cond, nil
}

func parseParamType(s string) (param.Type, error) {
	switch param.Type(s) {
	case "", param.TypeAny:
		return param.TypeAny, nil
	case param.TypeString, param.TypeInteger, param.TypeNumber,
		param.TypeBoolean, param.TypeArray, param.TypeObject:
		return param.Type(s), nil
	default:
		return "", &libretoerrors.ValidationError{
			Field:      "type",
			Message:    fmt.Sprintf("unknown parameter type %q", s),
			Suggestion: "use string, integer, number, boolean, array, or object",
		}
	}
}

func parseRaiseFor(stages []string) ([]param.FailureMode, error) {
	if len(stages) == 0 {
		return nil, nil
	}
	out := make([]param.FailureMode, 0, len(stages))
	for _, s := range stages {
		switch param.FailureMode(s) {
		case param.FailMap, param.FailTransform, param.FailType:
			out = append(out, param.FailureMode(s))
		default:
			return nil, &libretoerrors.ValidationError{
				Field:      "raise_for",
				Message:    fmt.Sprintf("unknown failure stage %q", s),
				Suggestion: "use map, transform, or type",
			}
		}
	}
	return out, nil
}
