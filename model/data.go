package model

import (
	"context"

	"github.com/petal-labs/strata/core"
)

// DataComponent buffers a single value. Buffering decouples producers and
// consumers running at different time levels and breaks reference cycles.
type DataComponent struct {
	base

	value    core.Value
	hasValue bool

	linked   bool
	producer source
}

// NewDataComponent creates an empty data buffer.
func NewDataComponent(name string) *DataComponent {
	return &DataComponent{base: newBase(name)}
}

// Kind implements Component.
func (d *DataComponent) Kind() Kind { return KindData }

// Value returns the buffered value.
func (d *DataComponent) Value() (core.Value, bool) {
	return d.value, d.hasValue
}

// SetValue pushes a value into the buffer. The buffer keeps a detached
// copy.
func (d *DataComponent) SetValue(v core.Value) {
	d.value = core.Detach(v)
	d.hasValue = true
}

// Output implements Component. Only index 0 exists.
func (d *DataComponent) Output(index int) (core.Value, bool) {
	if index != 0 || !d.hasValue {
		return nil, false
	}
	return d.value, true
}

// Reset clears the buffered value and link state.
func (d *DataComponent) Reset() {
	d.value = nil
	d.hasValue = false
	d.linked = false
	d.producer = source{}
	d.step = 0
}

// link selects the producer for step. A buffer without declared inputs
// that already holds a pushed value needs no producer.
func (d *DataComponent) link(step int) error {
	if d.linked {
		return nil
	}
	d.step = step

	ref, ok := d.firstRef(step)
	if !ok {
		if len(d.inputs) == 0 && d.hasValue {
			d.producer = source{}
			d.linked = true
			return nil
		}
		return core.NewComponentError(d.name, core.ErrUnresolvedInput, "no input declared for step %d", step)
	}

	comp, err := d.ctrl.resolveRef(d.name, ref)
	if err != nil {
		return err
	}
	d.producer = source{comp: comp, ref: ref}
	d.linked = true
	return nil
}

func (d *DataComponent) update(ctx context.Context) error {
	return d.ctrl.invoke(d, func() error {
		if !d.linked {
			if err := d.link(d.step); err != nil {
				return err
			}
		}
		defer func() { d.linked = false }()

		if d.producer.comp == nil {
			return nil
		}
		return d.fetchData(ctx)
	})
}

// fetchData stores a detached copy of the producer's output, running the
// producer first when it has not yet produced for its current step.
func (d *DataComponent) fetchData(ctx context.Context) error {
	switch p := d.producer.comp.(type) {
	case *IterableComponent:
		if p.needsUpdate(d.producer.ref.OutputIndex) {
			if err := p.update(ctx); err != nil {
				return err
			}
		}
	case *DataRefComponent:
		if err := p.update(ctx); err != nil {
			return err
		}
	}

	v, ok := d.producer.comp.Output(d.producer.ref.OutputIndex)
	if !ok {
		return core.NewComponentError(d.name, core.ErrUninitializedOutput,
			"producer %q has no value", d.producer.ref.String())
	}
	d.value = core.Detach(v)
	d.hasValue = true
	return nil
}

// DataRefComponent forwards reads, writes and updates to a DataComponent
// resolved by name or unique userID.
type DataRefComponent struct {
	base

	target    string
	resolving bool
	updating  bool
}

// NewDataRefComponent creates a reference to target. An empty target
// means the first declared input names the target.
func NewDataRefComponent(name, target string) *DataRefComponent {
	return &DataRefComponent{base: newBase(name), target: target}
}

// Kind implements Component.
func (r *DataRefComponent) Kind() Kind { return KindDataRef }

// Target returns the configured target name or userID.
func (r *DataRefComponent) Target() string {
	if r.target != "" {
		return r.target
	}
	if ref, ok := r.firstRef(0); ok {
		return ref.Component
	}
	return ""
}

// SetTarget replaces the target name or userID.
func (r *DataRefComponent) SetTarget(target string) { r.target = target }

// Resolve follows the reference, through other references if needed, to
// the DataComponent it designates.
func (r *DataRefComponent) Resolve() (*DataComponent, error) {
	if r.resolving {
		return nil, core.NewComponentError(r.name, core.ErrUnresolvedInput, "reference cycle")
	}
	if r.ctrl == nil {
		return nil, core.NewComponentError(r.name, core.ErrUnresolvedInput, "not registered")
	}
	r.resolving = true
	defer func() { r.resolving = false }()

	name := r.Target()
	if name == "" {
		return nil, core.NewComponentError(r.name, core.ErrUnresolvedInput, "no target")
	}
	switch t := r.ctrl.Component(name).(type) {
	case *DataComponent:
		return t, nil
	case *DataRefComponent:
		return t.Resolve()
	case nil:
		return r.ctrl.ResolveData(name)
	default:
		return nil, core.NewComponentError(r.name, core.ErrUnresolvedInput,
			"target %q is a %s component", name, t.Kind())
	}
}

// Output forwards to the target.
func (r *DataRefComponent) Output(index int) (core.Value, bool) {
	d, err := r.Resolve()
	if err != nil {
		return nil, false
	}
	return d.Output(index)
}

// SetValue forwards a push to the target.
func (r *DataRefComponent) SetValue(v core.Value) error {
	d, err := r.Resolve()
	if err != nil {
		return err
	}
	d.SetValue(v)
	return nil
}

// Reset clears local guards. The target keeps its value.
func (r *DataRefComponent) Reset() {
	r.resolving = false
	r.updating = false
	r.step = 0
}

// update refreshes the target. Re-entry while an update is in progress is
// logged and ignored.
func (r *DataRefComponent) update(ctx context.Context) error {
	if r.updating {
		r.ctrl.logger.Warn("recursive update ignored",
			"component", r.name,
			"error", core.NewComponentError(r.name, core.ErrRecursiveUpdate, "update re-entered"))
		return nil
	}
	return r.ctrl.invoke(r, func() error {
		r.updating = true
		defer func() { r.updating = false }()

		d, err := r.Resolve()
		if err != nil {
			return err
		}
		if len(d.inputs) == 0 {
			return nil
		}
		if err := d.link(d.step); err != nil {
			return err
		}
		return d.update(ctx)
	})
}
