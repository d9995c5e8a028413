package param

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	libretoerrors "github.com/tombee/libretto/pkg/errors"
)

// Conditions holds the hooks a conditional parameter evaluates against its
// resolved dependencies. All hooks are optional.
type Conditions struct {
	// Value computes or overrides the input value from the dependencies
	Value func(deps map[string]any) (any, error)

	// Include decides whether the parameter appears at all.
	// False short-circuits resolution and skips Validate.
	Include func(deps map[string]any) (bool, error)

	// Required resolves the effective required flag for this call only
	Required func(deps map[string]any) (bool, error)

	// Validate checks the resolved value against the dependencies, after
	// the base pipeline has run. False raises a validation error.
	Validate func(value any, deps map[string]any) (bool, error)
}

// ExprConditions is the declarative surface for Conditions: expr-lang
// source strings evaluated with the dependency map as the environment.
// Validate additionally sees the resolved value as "value".
type ExprConditions struct {
	Value    string `yaml:"value,omitempty" json:"value,omitempty"`
	Include  string `yaml:"include,omitempty" json:"include,omitempty"`
	Required string `yaml:"required,omitempty" json:"required,omitempty"`
	Validate string `yaml:"validate,omitempty" json:"validate,omitempty"`
}

// ConditionalParameter resolves against values of other parameters that
// were processed earlier in the same payload application.
type ConditionalParameter struct {
	Parameter

	// Dependencies names the fields this parameter reads. Every name must
	// resolve in the processing context before this parameter applies.
	Dependencies []string

	// Conditions are the programmatic hooks
	Conditions Conditions

	// Expr holds declarative conditions compiled once on first use.
	// Programmatic Conditions win when both are set for the same hook.
	Expr *ExprConditions

	compileOnce sync.Once
	compiled    exprPrograms
	compileErr  error
}

type exprPrograms struct {
	value    *vm.Program
	include  *vm.Program
	required *vm.Program
	validate *vm.Program
}

// ApplyContext resolves the parameter against its dependency values.
// The boolean reports inclusion: false means the include condition
// suppressed the parameter entirely.
func (c *ConditionalParameter) ApplyContext(value any, deps map[string]any) (any, bool, error) {
	return c.applyContext(c.Name, value, deps)
}

func (c *ConditionalParameter) applyContext(key string, value any, deps map[string]any) (any, bool, error) {
	if key == "" {
		key = c.Name
	}

	for _, dep := range c.Dependencies {
		if _, ok := deps[dep]; !ok {
			return nil, false, &libretoerrors.ValidationError{
				Field:   key,
				Message: fmt.Sprintf("dependency %q is not resolved", dep),
			}
		}
	}

	if err := c.compile(); err != nil {
		return nil, false, err
	}

	include, err := c.evalInclude(deps)
	if err != nil {
		return nil, false, conditionError(key, "include", err)
	}
	if !include {
		return nil, false, nil
	}

	required, err := c.evalRequired(deps)
	if err != nil {
		return nil, false, conditionError(key, "required", err)
	}

	if override, ok, err := c.evalValue(deps); err != nil {
		return nil, false, conditionError(key, "value", err)
	} else if ok {
		value = override
	}

	resolved, err := c.Parameter.apply(key, value, required)
	if err != nil {
		return nil, false, err
	}

	if ok, err := c.evalValidate(resolved, deps); err != nil {
		return nil, false, conditionError(key, "validate", err)
	} else if !ok {
		return nil, false, &libretoerrors.ValidationError{
			Field:   key,
			Message: fmt.Sprintf("validate condition rejected value %v", resolved),
		}
	}

	return resolved, true, nil
}

func (c *ConditionalParameter) evalInclude(deps map[string]any) (bool, error) {
	if c.Conditions.Include != nil {
		return c.Conditions.Include(deps)
	}
	if c.compiled.include != nil {
		return runBoolProgram(c.compiled.include, envFrom(deps, nil, false))
	}
	return true, nil
}

func (c *ConditionalParameter) evalRequired(deps map[string]any) (bool, error) {
	if c.Conditions.Required != nil {
		return c.Conditions.Required(deps)
	}
	if c.compiled.required != nil {
		return runBoolProgram(c.compiled.required, envFrom(deps, nil, false))
	}
	return c.Required, nil
}

func (c *ConditionalParameter) evalValue(deps map[string]any) (any, bool, error) {
	if c.Conditions.Value != nil {
		v, err := c.Conditions.Value(deps)
		return v, err == nil, err
	}
	if c.compiled.value != nil {
		v, err := expr.Run(c.compiled.value, envFrom(deps, nil, false))
		return v, err == nil, err
	}
	return nil, false, nil
}

func (c *ConditionalParameter) evalValidate(value any, deps map[string]any) (bool, error) {
	if c.Conditions.Validate != nil {
		return c.Conditions.Validate(value, deps)
	}
	if c.compiled.validate != nil {
		return runBoolProgram(c.compiled.validate, envFrom(deps, value, true))
	}
	return true, nil
}

// ValidateConditions compiles any expr condition sources now, so a bad
// program fails at definition time instead of on the first request.
func (c *ConditionalParameter) ValidateConditions() error {
	return c.compile()
}

// compile builds the expr programs once. Compilation failures surface as
// configuration errors on first application.
func (c *ConditionalParameter) compile() error {
	c.compileOnce.Do(func() {
		if c.Expr == nil {
			return
		}
		var err error
		if c.Expr.Value != "" {
			if c.compiled.value, err = compileExpr(c.Expr.Value); err != nil {
				c.compileErr = err
				return
			}
		}
		if c.Expr.Include != "" {
			if c.compiled.include, err = compileExpr(c.Expr.Include); err != nil {
				c.compileErr = err
				return
			}
		}
		if c.Expr.Required != "" {
			if c.compiled.required, err = compileExpr(c.Expr.Required); err != nil {
				c.compileErr = err
				return
			}
		}
		if c.Expr.Validate != "" {
			if c.compiled.validate, err = compileExpr(c.Expr.Validate); err != nil {
				c.compileErr = err
				return
			}
		}
	})
	if c.compileErr != nil {
		return &libretoerrors.ConfigError{
			Key:    "conditions",
			Reason: "condition expression does not compile",
			Cause:  c.compileErr,
		}
	}
	return nil
}

func compileExpr(src string) (*vm.Program, error) {
	program, err := expr.Compile(src, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", src, err)
	}
	return program, nil
}

func runBoolProgram(program *vm.Program, env map[string]any) (bool, error) {
	out, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition returned %T, want bool", out)
	}
	return b, nil
}

func envFrom(deps map[string]any, value any, withValue bool) map[string]any {
	env := make(map[string]any, len(deps)+1)
	for k, v := range deps {
		env[k] = v
	}
	if withValue {
		env["value"] = value
	}
	return env
}

func conditionError(key, condition string, err error) error {
	return &libretoerrors.ValidationError{
		Field:   key,
		Message: fmt.Sprintf("%s condition failed: %v", condition, err),
	}
}
