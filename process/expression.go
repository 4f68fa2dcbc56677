package process

import (
	"context"
	"fmt"
	"strconv"

	"github.com/petal-labs/strata/core"
	"github.com/petal-labs/strata/expr"
)

// ExpressionConfig configures an Expression process.
type ExpressionConfig struct {
	// Expression is evaluated on every update. Inputs are bound as in0,
	// in1, ... in operand order and as the array "in". The host step and
	// the selected input-set position are bound as step and param.
	Expression string

	// Vars are additional constants visible to the expression. Input
	// bindings shadow them.
	Vars map[string]any
}

// Expression evaluates an expression over its inputs.
type Expression struct {
	src  string
	ast  expr.Expr
	vars map[string]any
	out  output
}

// NewExpression parses the configured expression. Syntax errors are
// reported here, not at update time.
func NewExpression(cfg ExpressionConfig) (*Expression, error) {
	ast, err := expr.Parse(cfg.Expression)
	if err != nil {
		return nil, fmt.Errorf("parsing expression %q: %w", cfg.Expression, err)
	}
	return &Expression{src: cfg.Expression, ast: ast, vars: cfg.Vars}, nil
}

// Source returns the expression text.
func (e *Expression) Source() string { return e.src }

// Initialize implements core.Process.
func (e *Expression) Initialize(context.Context) error { return nil }

// Update implements core.Process.
func (e *Expression) Update(_ context.Context, in core.Inputs) error {
	v, err := expr.Eval(e.ast, expr.Chain(inputResolver(in), expr.MapResolver(e.vars)))
	if err != nil {
		return fmt.Errorf("evaluating %q: %w", e.src, err)
	}
	e.out.set(v)
	return nil
}

// Output implements core.Process.
func (e *Expression) Output(index int) (core.Value, bool) { return e.out.get(index) }

// Reset implements core.Process.
func (e *Expression) Reset() { e.out.clear() }

// PipeCompatible implements core.Chainable.
func (e *Expression) PipeCompatible() bool { return true }

// inputResolver binds the update inputs for expression evaluation.
func inputResolver(in core.Inputs) expr.Resolver {
	return expr.ResolverFunc(func(name string) (any, bool) {
		switch name {
		case "step":
			return in.Step, true
		case "param":
			return in.ParamPos, true
		case "in":
			vals := make([]any, len(in.Values))
			for i, v := range in.Values {
				vals[i] = v
			}
			return vals, true
		}
		if len(name) > 2 && name[:2] == "in" {
			i, err := strconv.Atoi(name[2:])
			if err == nil && i >= 0 && i < in.Len() {
				return in.At(i), true
			}
		}
		return nil, false
	})
}

var _ core.Chainable = (*Expression)(nil)
