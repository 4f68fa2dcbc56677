package model

import (
	"context"
	"slices"

	"github.com/petal-labs/strata/core"
	"github.com/petal-labs/strata/expr"
)

// IterableComponent is either a single Process (leaf role) or an ordered
// chain of child components (aggregate role). Aggregates iterate their
// children under a sequential or conditional policy.
type IterableComponent struct {
	base

	// leaf role
	proc         core.Process
	handling     core.ParameterHandling
	initialized  bool
	linked       bool
	updating     bool
	sources      []source
	paramPos     int
	lastParamPos int
	modified     uint64

	// aggregate role
	mode          IterationMode
	iterations    int
	countSrc      string
	countExpr     expr.Expr
	condSrc       string
	cond          expr.Expr
	maxIterations int
	completed     int
}

// Kind implements Component.
func (a *IterableComponent) Kind() Kind {
	if a.proc != nil {
		return KindProcess
	}
	return KindAggregate
}

// Children returns the child chain in order.
func (a *IterableComponent) Children() []Component {
	if a.ctrl == nil {
		return nil
	}
	var out []Component
	for h := a.first; h != NoHandle; {
		child := a.ctrl.at(h)
		out = append(out, child)
		h = child.node().downstream
	}
	return out
}

// Output returns the process output, or for aggregates the output of the
// last child.
func (a *IterableComponent) Output(index int) (core.Value, bool) {
	if a.proc != nil {
		return a.proc.Output(index)
	}
	if a.ctrl == nil || a.last == NoHandle {
		return nil, false
	}
	return a.ctrl.at(a.last).Output(index)
}

// Reset discards run state. Aggregates reset every descendant.
func (a *IterableComponent) Reset() {
	if a.proc != nil {
		a.resetProcess()
		return
	}
	a.completed = 0
	a.step = 0
	for _, child := range a.Children() {
		child.Reset()
	}
}

func (a *IterableComponent) update(ctx context.Context) error {
	if a.proc != nil {
		return a.updateProcess(ctx)
	}
	return a.ctrl.invoke(a, func() error {
		return a.iterate(ctx)
	})
}

// levelMap is the transient partition of an aggregate's children into time
// levels, rebuilt for every pass.
type levelMap map[int][]Component

// mapTimeLevels partitions the children of a by time level. Child
// aggregates are scheduled as single units and run their own loop, whatever
// their level.
func (a *IterableComponent) mapTimeLevels() levelMap {
	m := make(levelMap)
	for _, child := range a.Children() {
		lvl := child.TimeLevel()
		m[lvl] = append(m[lvl], child)
	}
	return m
}

func (m levelMap) levelsDescending() []int {
	levels := make([]int, 0, len(m))
	for lvl := range m {
		levels = append(levels, lvl)
	}
	slices.Sort(levels)
	slices.Reverse(levels)
	return levels
}

// runPass executes one iteration step over all time levels, deepest first.
func (a *IterableComponent) runPass(ctx context.Context, step int) error {
	m := a.mapTimeLevels()
	for _, units := range m {
		for _, u := range units {
			u.node().step = step
		}
	}

	for _, lvl := range m.levelsDescending() {
		if a.ctrl.abort.Load() {
			return nil
		}
		if err := a.runLevel(ctx, lvl, step, m[lvl]); err != nil {
			return err
		}
	}
	return nil
}

func (a *IterableComponent) runLevel(ctx context.Context, lvl, step int, units []Component) error {
	for _, u := range units {
		if p, ok := u.(*IterableComponent); ok && p.proc != nil {
			if err := p.initialize(ctx); err != nil {
				return err
			}
		}
	}

	pl := newPlanner(units, step)
	execs := pl.executables()
	if len(execs) == 0 {
		a.ctrl.logger.Warn("no executable components", "host", a.name, "level", lvl, "step", step)
		return nil
	}

	for _, pipe := range pl.pipelines(execs) {
		if a.ctrl.abort.Load() {
			return nil
		}
		a.ctrl.logger.Debug("executing pipeline",
			"host", a.name, "level", lvl, "step", step, "members", names(pipe))
		if err := a.ctrl.runPipeline(ctx, pipe, step); err != nil {
			return err
		}
		if a.ctrl.abort.Load() {
			return nil
		}
	}
	return nil
}

// runPipeline links every member head to tail, then updates the tail.
// Pending members are pulled by their consumers.
func (c *Controller) runPipeline(ctx context.Context, pipe []Component, step int) error {
	defer func() {
		for _, m := range pipe {
			unlink(m)
		}
	}()

	for _, m := range pipe {
		if err := linkMember(ctx, m, step); err != nil {
			return err
		}
	}

	switch tail := pipe[len(pipe)-1].(type) {
	case *IterableComponent:
		return tail.update(ctx)
	case *DataComponent:
		return tail.update(ctx)
	case *DataRefComponent:
		return tail.update(ctx)
	}
	return nil
}

func linkMember(ctx context.Context, m Component, step int) error {
	switch t := m.(type) {
	case *IterableComponent:
		if t.proc != nil {
			return t.link(ctx, step)
		}
	case *DataComponent:
		return t.link(step)
	case *DataRefComponent:
		_, err := t.Resolve()
		return err
	}
	return nil
}

func unlink(m Component) {
	switch t := m.(type) {
	case *IterableComponent:
		t.linked = false
	case *DataComponent:
		t.linked = false
	}
}

func names(comps []Component) []string {
	out := make([]string, len(comps))
	for i, c := range comps {
		out[i] = c.Name()
	}
	return out
}

// planner discovers executables and pipelines within one time level.
type planner struct {
	units    []Component
	inLevel  map[Component]bool
	step     int
	recorded map[Component]bool
	pipes    [][]Component
}

func newPlanner(units []Component, step int) *planner {
	in := make(map[Component]bool, len(units))
	for _, u := range units {
		in[u] = true
	}
	return &planner{
		units:    units,
		inLevel:  in,
		step:     step,
		recorded: make(map[Component]bool),
	}
}

// upstream returns the same-level units c reads from at this step. A
// reference into a child aggregate stands for the aggregate itself, and an
// aggregate reads whatever its descendants read from outside it. Mapping
// failures yield no inputs; linking reports them.
func (pl *planner) upstream(c Component) []Component {
	b := c.node()
	if b.ctrl == nil {
		return nil
	}

	var refs []core.InputRef
	switch t := c.(type) {
	case *IterableComponent:
		if t.proc == nil {
			refs = descendantRefs(t)
			break
		}
		if len(t.inputs) == 0 {
			return nil
		}
		idx, err := core.MapHostIndexToPolicyIndex(t.handling, pl.step, len(t.inputs))
		if err != nil {
			return nil
		}
		refs = t.inputs[idx]
	case *DataComponent:
		if ref, ok := t.firstRef(pl.step); ok {
			refs = []core.InputRef{ref}
		}
	case *DataRefComponent:
		if target := t.Target(); target != "" {
			refs = []core.InputRef{{Component: target}}
		}
	}

	var out []Component
	for _, ref := range refs {
		if u := pl.unitOf(b.ctrl.Component(ref.Component)); u != nil && u != c && !slices.Contains(out, u) {
			out = append(out, u)
		}
	}
	return out
}

// unitOf returns the unit of the level that is comp or contains comp.
func (pl *planner) unitOf(comp Component) Component {
	for comp != nil {
		if pl.inLevel[comp] {
			return comp
		}
		comp = comp.Host()
	}
	return nil
}

// descendantRefs collects every input reference declared below agg, across
// all input-sets, since the aggregate's own loop decides which set applies.
func descendantRefs(agg *IterableComponent) []core.InputRef {
	var refs []core.InputRef
	for _, child := range agg.Children() {
		if g, ok := child.(*IterableComponent); ok && g.proc == nil {
			refs = append(refs, descendantRefs(g)...)
			continue
		}
		if r, ok := child.(*DataRefComponent); ok && r.Target() != "" {
			refs = append(refs, core.InputRef{Component: r.Target()})
		}
		for _, set := range child.Inputs() {
			refs = append(refs, set...)
		}
	}
	return refs
}

// executables returns the units no other unit of the level reads from.
// Sinks always qualify. When every unit is consumed (a cycle), the level's
// data buffers start execution instead.
func (pl *planner) executables() []Component {
	consumed := make(map[Component]bool)
	for _, u := range pl.units {
		for _, v := range pl.upstream(u) {
			consumed[v] = true
		}
	}

	var out []Component
	for _, u := range pl.units {
		if !consumed[u] || isSink(u) {
			out = append(out, u)
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, u := range pl.units {
		if u.Kind() == KindData {
			out = append(out, u)
		}
	}
	return out
}

// pipelines orders the work reachable from execs. Spawned upstream
// pipelines precede the pipeline that needs them, including when the
// upstream is itself an executable such as a sink read by another unit.
func (pl *planner) pipelines(execs []Component) [][]Component {
	for _, e := range execs {
		if pl.recorded[e] {
			continue
		}
		pipe := pl.walk(e, nil)
		pl.pipes = append(pl.pipes, pipe)
	}
	return pl.pipes
}

func (pl *planner) walk(c Component, pipe []Component) []Component {
	pipe = append([]Component{c}, pipe...)
	pl.recorded[c] = true

	for _, u := range pl.upstream(c) {
		if pl.recorded[u] {
			continue
		}
		if isPipeCompatible(u) {
			pipe = pl.walk(u, pipe)
			continue
		}
		sub := pl.walk(u, nil)
		pl.pipes = append(pl.pipes, sub)
	}
	return pipe
}

func isSink(c Component) bool {
	p, ok := c.(*IterableComponent)
	return ok && p.IsSink()
}

func isPipeCompatible(c Component) bool {
	p, ok := c.(*IterableComponent)
	return ok && p.IsPipeCompatible()
}

// LevelPlan describes the schedule of one time level for one step.
type LevelPlan struct {
	Level       int
	Executables []string
	Pipelines   [][]string
}

// Plan reports the pipelines a pass at step would run, deepest level
// first, without executing anything.
func (a *IterableComponent) Plan(step int) []LevelPlan {
	if a.proc != nil {
		return nil
	}
	m := a.mapTimeLevels()
	var out []LevelPlan
	for _, lvl := range m.levelsDescending() {
		pl := newPlanner(m[lvl], step)
		execs := pl.executables()
		lp := LevelPlan{Level: lvl, Executables: names(execs)}
		if len(execs) > 0 {
			for _, pipe := range pl.pipelines(execs) {
				lp.Pipelines = append(lp.Pipelines, names(pipe))
			}
		}
		out = append(out, lp)
	}
	return out
}
