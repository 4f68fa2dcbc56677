package model

import (
	"context"
	"fmt"
	"math"

	"github.com/petal-labs/strata/core"
	"github.com/petal-labs/strata/expr"
)

// IterationMode selects how an aggregate decides how many passes to run.
type IterationMode int

const (
	// Sequential runs a fixed or expression-driven number of passes.
	Sequential IterationMode = iota
	// Conditional runs passes while a condition holds.
	Conditional
)

func (m IterationMode) String() string {
	if m == Conditional {
		return "conditional"
	}
	return "sequential"
}

// NewSequentialComponent creates an aggregate running iterations passes.
func NewSequentialComponent(name string, iterations int) *IterableComponent {
	a := &IterableComponent{base: newBase(name), mode: Sequential, lastParamPos: -1}
	a.SetIterations(iterations)
	return a
}

// NewConditionalComponent creates an aggregate that repeats while
// condition evaluates truthy.
func NewConditionalComponent(name, condition string) (*IterableComponent, error) {
	a := &IterableComponent{base: newBase(name), mode: Conditional, lastParamPos: -1}
	if err := a.SetCondition(condition); err != nil {
		return nil, err
	}
	return a, nil
}

// Mode returns the iteration mode.
func (a *IterableComponent) Mode() IterationMode { return a.mode }

// Iterations returns the fixed iteration count.
func (a *IterableComponent) Iterations() int { return a.iterations }

// SetIterations sets a fixed iteration count and clears any count
// expression. Negative counts are treated as zero.
func (a *IterableComponent) SetIterations(n int) {
	a.iterations = max(n, 0)
	a.countSrc = ""
	a.countExpr = nil
}

// IterationExpression returns the count expression source, if any.
func (a *IterableComponent) IterationExpression() string { return a.countSrc }

// SetIterationExpression makes the iteration count data-dependent. The
// expression is evaluated before the first pass and again after every
// pass. It sees step (1-based number of the next pass), iterations
// (passes completed) and the components visible from this aggregate.
func (a *IterableComponent) SetIterationExpression(src string) error {
	if src == "" {
		a.countSrc, a.countExpr = "", nil
		return nil
	}
	e, err := expr.Parse(src)
	if err != nil {
		return core.NewComponentError(a.name, core.ErrUnspecified, "iteration expression %q: %v", src, err)
	}
	a.countSrc, a.countExpr = src, e
	return nil
}

// Condition returns the loop condition source.
func (a *IterableComponent) Condition() string { return a.condSrc }

// SetCondition sets the loop condition and switches to conditional mode.
func (a *IterableComponent) SetCondition(src string) error {
	e, err := expr.Parse(src)
	if err != nil {
		return core.NewComponentError(a.name, core.ErrUnspecified, "condition %q: %v", src, err)
	}
	a.condSrc, a.cond = src, e
	a.mode = Conditional
	return nil
}

// MaxIterations returns the conditional loop cap; zero means no cap.
func (a *IterableComponent) MaxIterations() int { return a.maxIterations }

// SetMaxIterations caps conditional loops.
func (a *IterableComponent) SetMaxIterations(n int) { a.maxIterations = max(n, 0) }

// CompletedIterations returns the passes completed by the current or last
// run.
func (a *IterableComponent) CompletedIterations() int { return a.completed }

func (a *IterableComponent) iterate(ctx context.Context) error {
	a.completed = 0
	if a.mode == Conditional {
		return a.iterateConditional(ctx)
	}
	return a.iterateSequential(ctx)
}

func (a *IterableComponent) iterateSequential(ctx context.Context) error {
	n, err := a.evaluateCount()
	if err != nil {
		return err
	}
	for i := 0; i < n && !a.ctrl.abort.Load(); i++ {
		if err := a.pass(ctx, i); err != nil {
			return err
		}
		if a.countExpr != nil {
			if n, err = a.evaluateCount(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *IterableComponent) iterateConditional(ctx context.Context) error {
	for !a.ctrl.abort.Load() {
		if a.maxIterations > 0 && a.completed >= a.maxIterations {
			return nil
		}
		ok, err := a.evaluateCondition()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := a.pass(ctx, a.completed); err != nil {
			return err
		}
	}
	return nil
}

func (a *IterableComponent) pass(ctx context.Context, i int) error {
	a.ctrl.notify(Notification{
		Kind:      IterationStarted,
		Component: a.name,
		CompKind:  KindAggregate,
		TimeLevel: a.timeLevel,
		Step:      i,
	})
	if err := a.runPass(ctx, i); err != nil {
		return err
	}
	a.completed = i + 1
	return nil
}

func (a *IterableComponent) evaluateCount() (int, error) {
	if a.countExpr == nil {
		return a.iterations, nil
	}
	v, err := expr.Eval(a.countExpr, a.resolver())
	if err != nil {
		return 0, core.NewComponentError(a.name, core.ErrUnspecified, "iteration expression %q: %v", a.countSrc, err)
	}
	f, ok := expr.ToFloat64(v)
	if !ok {
		if b, isBool := v.(bool); isBool && b {
			f, ok = 1, true
		} else if isBool {
			f, ok = 0, true
		}
	}
	if !ok || math.IsNaN(f) {
		return 0, core.NewComponentError(a.name, core.ErrUnspecified,
			"iteration expression %q yielded %v, not a number", a.countSrc, v)
	}
	if f <= 0 {
		return 0, nil
	}
	if f > math.MaxInt32 {
		return math.MaxInt32, nil
	}
	return int(f), nil
}

func (a *IterableComponent) evaluateCondition() (bool, error) {
	v, err := expr.Eval(a.cond, a.resolver())
	if err != nil {
		return false, core.NewComponentError(a.name, core.ErrUnspecified, "condition %q: %v", a.condSrc, err)
	}
	return expr.IsTruthy(v), nil
}

// resolver exposes step, iterations and the components visible from the
// aggregate: its own children first, then outward through its hosts.
func (a *IterableComponent) resolver() expr.Resolver {
	vars := expr.MapResolver{
		"step":       a.completed + 1,
		"iterations": a.completed,
	}
	scoped := expr.ResolverFunc(func(name string) (any, bool) {
		comp, err := a.ctrl.lookupFrom(&a.base, name)
		if err != nil {
			a.ctrl.logger.Debug("expression identifier not resolved",
				"component", a.name, "identifier", name, "error", err)
			return nil, false
		}
		return ValueOf(comp), true
	})
	return expr.Chain(vars, scoped)
}

// ValueOf returns the value a component contributes to expressions: the
// buffered value of data components, otherwise output 0.
func ValueOf(c Component) any {
	v, ok := c.Output(0)
	if !ok {
		return nil
	}
	return v
}

// Describe returns a one-line summary of the iteration policy.
func (a *IterableComponent) Describe() string {
	switch {
	case a.proc != nil:
		return fmt.Sprintf("process (%s)", a.handling)
	case a.mode == Conditional && a.maxIterations > 0:
		return fmt.Sprintf("while %s (max %d)", a.condSrc, a.maxIterations)
	case a.mode == Conditional:
		return fmt.Sprintf("while %s", a.condSrc)
	case a.countExpr != nil:
		return fmt.Sprintf("repeat %s", a.countSrc)
	default:
		return fmt.Sprintf("repeat %d", a.iterations)
	}
}
