package model

import (
	"context"

	"github.com/petal-labs/strata/core"
)

// source is a resolved input: the upstream component and the output index
// read from it.
type source struct {
	comp Component
	ref  core.InputRef
}

// NewProcessComponent wraps proc as a leaf component. The parameter
// handling defaults to core.DefaultParameterHandling.
func NewProcessComponent(name string, proc core.Process) *IterableComponent {
	return &IterableComponent{
		base:         newBase(name),
		proc:         proc,
		handling:     core.DefaultParameterHandling,
		lastParamPos: -1,
	}
}

// Process returns the wrapped process, or nil for aggregates.
func (a *IterableComponent) Process() core.Process { return a.proc }

// ParameterHandling returns the parameter-advance policy.
func (a *IterableComponent) ParameterHandling() core.ParameterHandling { return a.handling }

// SetParameterHandling sets the parameter-advance policy.
func (a *IterableComponent) SetParameterHandling(h core.ParameterHandling) {
	if h == "" {
		h = core.DefaultParameterHandling
	}
	a.handling = h
}

// ParamPos returns the input-set index selected at the last link.
func (a *IterableComponent) ParamPos() int { return a.paramPos }

// Modified returns the modification stamp of the last successful update.
// Stamps increase monotonically across the controller; zero means never.
func (a *IterableComponent) Modified() uint64 { return a.modified }

// IsSink reports whether the wrapped process is a terminal consumer.
func (a *IterableComponent) IsSink() bool {
	return a.proc != nil && core.IsSink(a.proc)
}

// IsPipeCompatible reports whether the wrapped process extends pipelines.
func (a *IterableComponent) IsPipeCompatible() bool {
	return a.proc != nil && core.IsPipeCompatible(a.proc)
}

func (a *IterableComponent) initialize(ctx context.Context) error {
	if a.initialized {
		return nil
	}
	if err := a.proc.Initialize(ctx); err != nil {
		return core.WrapComponentError(a.name, err)
	}
	a.initialized = true
	return nil
}

// policyIndex maps step to an input-set index under the component's policy.
func (a *IterableComponent) policyIndex(step int) (int, error) {
	idx, err := core.MapHostIndexToPolicyIndex(a.handling, step, len(a.inputs))
	if err != nil {
		return 0, core.WrapComponentError(a.name, err)
	}
	return idx, nil
}

// link resolves the input-set selected for step and initializes the
// process if needed. It is a no-op until the next update.
func (a *IterableComponent) link(ctx context.Context, step int) error {
	if a.linked {
		return nil
	}
	a.step = step
	if err := a.initialize(ctx); err != nil {
		return err
	}

	idx, err := a.policyIndex(step)
	if err != nil {
		return err
	}
	var set []core.InputRef
	if len(a.inputs) > 0 {
		set = a.inputs[idx]
	}

	sources := make([]source, 0, len(set))
	for _, ref := range set {
		comp, err := a.ctrl.resolveRef(a.name, ref)
		if err != nil {
			return err
		}
		sources = append(sources, source{comp: comp, ref: ref})
	}

	a.sources = sources
	a.paramPos = idx
	a.linked = true
	return nil
}

// updateProcess pulls the linked inputs and runs the process once.
func (a *IterableComponent) updateProcess(ctx context.Context) error {
	return a.ctrl.invoke(a, func() error {
		if !a.linked {
			if err := a.link(ctx, a.step); err != nil {
				return err
			}
		}
		a.updating = true
		defer func() {
			a.updating = false
			a.linked = false
		}()

		values := make([]core.Value, len(a.sources))
		for i, s := range a.sources {
			v, err := a.ctrl.pull(ctx, a.name, s)
			if err != nil {
				return err
			}
			values[i] = v
		}

		in := core.Inputs{Values: values, Step: a.step, ParamPos: a.paramPos}
		if err := a.proc.Update(ctx, in); err != nil {
			return core.WrapComponentError(a.name, err)
		}
		a.lastParamPos = a.paramPos
		a.modified = a.ctrl.nextStamp()
		return nil
	})
}

// needsUpdate reports whether a consumer reading this process must run it
// first: it is pending in a pipeline, it has not run for its current
// parameter position, or it has nothing to offer at index.
func (a *IterableComponent) needsUpdate(index int) bool {
	if a.proc == nil || a.updating {
		return false
	}
	if a.linked {
		return true
	}
	idx, err := core.MapHostIndexToPolicyIndex(a.handling, a.step, len(a.inputs))
	if err != nil || idx != a.lastParamPos {
		return true
	}
	_, ok := a.proc.Output(index)
	return !ok
}

func (a *IterableComponent) resetProcess() {
	a.initialized = false
	a.linked = false
	a.updating = false
	a.sources = nil
	a.paramPos = 0
	a.lastParamPos = -1
	a.step = 0
	a.proc.Reset()
}

// pull reads one input value for owner. A process still pending in the
// current pipeline is updated first.
func (c *Controller) pull(ctx context.Context, owner string, s source) (core.Value, error) {
	if p, ok := s.comp.(*IterableComponent); ok && p.proc != nil && p.linked && !p.updating {
		if err := p.update(ctx); err != nil {
			return nil, err
		}
	}
	v, ok := s.comp.Output(s.ref.OutputIndex)
	if !ok {
		return nil, core.NewComponentError(owner, core.ErrUninitializedOutput, "input %q has no value", s.ref.String())
	}
	return v, nil
}
