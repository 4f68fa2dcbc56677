package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/petal-labs/strata/core"
)

// Controller errors.
var (
	ErrDuplicateName    = errors.New("component name already registered")
	ErrUnknownComponent = errors.New("unknown component")
	ErrNotAggregate     = errors.New("component cannot host children")
	ErrModelRunning     = errors.New("a model is already running")
	ErrRegistered       = errors.New("component is already registered")
)

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver installs the notification observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		c.observer = o
	}
}

// Controller owns the component repository and drives model runs.
// Registration and removal must not race with a run; the scheduler itself
// is single-threaded. AbortModel and the state queries are safe to call
// from any goroutine.
type Controller struct {
	arena   []Component
	names   map[string]Handle
	userIDs map[string][]Handle

	logger   *slog.Logger
	observer Observer

	running atomic.Bool
	abort   atomic.Bool
	stamp   uint64
}

// NewController creates an empty controller.
func NewController(opts ...Option) *Controller {
	c := &Controller{
		names:   make(map[string]Handle),
		userIDs: make(map[string][]Handle),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetObserver replaces the notification observer.
func (c *Controller) SetObserver(o Observer) {
	c.observer = o
}

// Observer returns the installed notification observer, if any.
func (c *Controller) Observer() Observer {
	return c.observer
}

// Logger returns the controller logger.
func (c *Controller) Logger() *slog.Logger {
	return c.logger
}

func (c *Controller) at(h Handle) Component {
	if h < 0 || int(h) >= len(c.arena) {
		return nil
	}
	return c.arena[h]
}

func (c *Controller) nextStamp() uint64 {
	c.stamp++
	return c.stamp
}

// Add registers comp as a root component.
func (c *Controller) Add(comp Component) error {
	return c.register(nil, comp, NoHandle)
}

// AddChild registers comp and appends it to host's child chain.
func (c *Controller) AddChild(host string, comp Component) error {
	h, err := c.aggregate(host)
	if err != nil {
		return err
	}
	return c.register(h, comp, NoHandle)
}

// InsertChild registers comp and places it in host's chain directly
// before the child named before.
func (c *Controller) InsertChild(host string, comp Component, before string) error {
	h, err := c.aggregate(host)
	if err != nil {
		return err
	}
	next := c.Component(before)
	if next == nil {
		return fmt.Errorf("%w: %q", ErrUnknownComponent, before)
	}
	if next.node().host != h.handle {
		return fmt.Errorf("%w: %q is not a child of %q", ErrUnknownComponent, before, host)
	}
	return c.register(h, comp, next.node().handle)
}

func (c *Controller) aggregate(name string) (*base, error) {
	comp := c.Component(name)
	if comp == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownComponent, name)
	}
	if comp.Kind() != KindAggregate {
		return nil, fmt.Errorf("%w: %q is a %s component", ErrNotAggregate, name, comp.Kind())
	}
	return comp.node(), nil
}

func (c *Controller) register(host *base, comp Component, before Handle) error {
	if comp == nil {
		return fmt.Errorf("%w: nil component", ErrUnknownComponent)
	}
	b := comp.node()
	if b.ctrl != nil {
		return fmt.Errorf("%w: %q", ErrRegistered, b.name)
	}
	if b.name == "" {
		return core.NewComponentError(b.name, core.ErrInvalidIdentifier, "component name is empty")
	}
	// Names appear in Name:index references and in expressions, so they
	// follow the same character rules as user IDs.
	if err := core.ValidateIdentifier(b.name); err != nil {
		return core.WrapComponentError(b.name, err)
	}
	if _, taken := c.names[b.name]; taken {
		return fmt.Errorf("%w: %q", ErrDuplicateName, b.name)
	}

	b.ctrl = c
	b.handle = Handle(len(c.arena))
	c.arena = append(c.arena, comp)
	c.names[b.name] = b.handle
	if b.userID != "" {
		c.userIDs[b.userID] = append(c.userIDs[b.userID], b.handle)
	}

	if host == nil {
		return nil
	}

	b.host = host.handle
	if b.timeLevel < host.timeLevel {
		b.shiftLevel(host.timeLevel - b.timeLevel)
	}

	if before == NoHandle {
		b.upstream = host.last
		if host.last != NoHandle {
			c.at(host.last).node().downstream = b.handle
		} else {
			host.first = b.handle
		}
		host.last = b.handle
		return nil
	}

	next := c.at(before).node()
	b.downstream = before
	b.upstream = next.upstream
	if next.upstream != NoHandle {
		c.at(next.upstream).node().downstream = b.handle
	} else {
		host.first = b.handle
	}
	next.upstream = b.handle
	return nil
}

// RemoveComponent unregisters the named component and all of its
// descendants.
func (c *Controller) RemoveComponent(name string) error {
	if c.running.Load() {
		return ErrModelRunning
	}
	comp := c.Component(name)
	if comp == nil {
		return fmt.Errorf("%w: %q", ErrUnknownComponent, name)
	}
	b := comp.node()

	if h := b.hostBase(); h != nil {
		if b.upstream != NoHandle {
			c.at(b.upstream).node().downstream = b.downstream
		} else {
			h.first = b.downstream
		}
		if b.downstream != NoHandle {
			c.at(b.downstream).node().upstream = b.upstream
		} else {
			h.last = b.upstream
		}
	}
	c.unregister(b)
	return nil
}

func (c *Controller) unregister(b *base) {
	for h := b.first; h != NoHandle; {
		child := c.at(h).node()
		next := child.downstream
		c.unregister(child)
		h = next
	}

	delete(c.names, b.name)
	if b.userID != "" {
		c.reindexUserID(b.handle, b.userID, "")
	}
	c.arena[b.handle] = nil

	*b = base{
		name:        b.name,
		userID:      b.userID,
		description: b.description,
		timeLevel:   b.timeLevel,
		inputs:      b.inputs,
	}
	b.handle, b.host, b.upstream, b.downstream, b.first, b.last = NoHandle, NoHandle, NoHandle, NoHandle, NoHandle, NoHandle
}

func (c *Controller) reindexUserID(h Handle, old, id string) {
	if old != "" {
		hs := c.userIDs[old]
		for i, x := range hs {
			if x == h {
				hs = append(hs[:i], hs[i+1:]...)
				break
			}
		}
		if len(hs) == 0 {
			delete(c.userIDs, old)
		} else {
			c.userIDs[old] = hs
		}
	}
	if id != "" {
		c.userIDs[id] = append(c.userIDs[id], h)
	}
}

// UniqueName returns prefix if it is free, otherwise the first free name
// among prefix_1, prefix_2, ...
func (c *Controller) UniqueName(prefix string) string {
	if _, taken := c.names[prefix]; !taken {
		return prefix
	}
	for i := 1; ; i++ {
		name := prefix + "_" + strconv.Itoa(i)
		if _, taken := c.names[name]; !taken {
			return name
		}
	}
}

// Component returns the component registered under name, or nil.
func (c *Controller) Component(name string) Component {
	h, ok := c.names[name]
	if !ok {
		return nil
	}
	return c.arena[h]
}

// ComponentsByUserID returns every component carrying id, in registration
// order.
func (c *Controller) ComponentsByUserID(id string) []Component {
	hs := c.userIDs[id]
	out := make([]Component, 0, len(hs))
	for _, h := range hs {
		out = append(out, c.arena[h])
	}
	return out
}

// Components returns all registered components in registration order.
func (c *Controller) Components() []Component {
	out := make([]Component, 0, len(c.names))
	for _, comp := range c.arena {
		if comp != nil {
			out = append(out, comp)
		}
	}
	return out
}

// Roots returns the registered components without a host.
func (c *Controller) Roots() []Component {
	var out []Component
	for _, comp := range c.arena {
		if comp != nil && comp.node().host == NoHandle {
			out = append(out, comp)
		}
	}
	return out
}

// ResolveData finds the DataComponent addressed by a name or a userID.
// A userID must match exactly one DataComponent.
func (c *Controller) ResolveData(nameOrUserID string) (*DataComponent, error) {
	if d, ok := c.Component(nameOrUserID).(*DataComponent); ok {
		return d, nil
	}
	var found []*DataComponent
	for _, comp := range c.ComponentsByUserID(nameOrUserID) {
		if d, ok := comp.(*DataComponent); ok {
			found = append(found, d)
		}
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return nil, core.NewComponentError(nameOrUserID, core.ErrUnresolvedInput, "no data component matches")
	default:
		return nil, core.NewComponentError(nameOrUserID, core.ErrUnresolvedInput,
			"%d data components share this user ID", len(found))
	}
}

// Lookup resolves a name or userID as seen from the component from. The
// search starts at from's host and moves outward one host at a time; at
// each scope only direct children are considered, never the contents of
// nested aggregates. Names win over userIDs; a userID matching more than
// one child of the same scope is ambiguous.
func (c *Controller) Lookup(from Component, nameOrUserID string) (Component, error) {
	if from == nil {
		return nil, fmt.Errorf("%w: nil scope", ErrUnknownComponent)
	}
	return c.lookupFrom(from.node().hostBase(), nameOrUserID)
}

func (c *Controller) lookupFrom(scope *base, id string) (Component, error) {
	for ; scope != nil; scope = scope.hostBase() {
		var byUserID []Component
		for h := scope.first; h != NoHandle; {
			child := c.at(h)
			cb := child.node()
			if cb.name == id {
				return child, nil
			}
			if cb.userID == id {
				byUserID = append(byUserID, child)
			}
			h = cb.downstream
		}
		switch len(byUserID) {
		case 0:
		case 1:
			return byUserID[0], nil
		default:
			return nil, core.NewComponentError(id, core.ErrUnresolvedInput,
				"ambiguous: %d components in %q share this user ID", len(byUserID), scope.name)
		}
	}

	// Roots form the outermost scope.
	if comp := c.Component(id); comp != nil && comp.node().host == NoHandle {
		return comp, nil
	}
	var roots []Component
	for _, comp := range c.ComponentsByUserID(id) {
		if comp.node().host == NoHandle {
			roots = append(roots, comp)
		}
	}
	if len(roots) == 1 {
		return roots[0], nil
	}
	return nil, core.NewComponentError(id, core.ErrUnresolvedInput, "not visible in scope")
}

// resolveRef maps an input reference to a live component.
func (c *Controller) resolveRef(owner string, ref core.InputRef) (Component, error) {
	comp := c.Component(ref.Component)
	if comp == nil {
		return nil, core.NewComponentError(owner, core.ErrUnresolvedInput, "input %q is not registered", ref.String())
	}
	return comp, nil
}

// ExecuteModel runs the named component to completion or until an abort
// is requested. An aborted run returns nil.
func (c *Controller) ExecuteModel(ctx context.Context, name string) error {
	comp := c.Component(name)
	if comp == nil {
		return fmt.Errorf("%w: %q", ErrUnknownComponent, name)
	}
	if !c.running.CompareAndSwap(false, true) {
		return ErrModelRunning
	}
	defer c.running.Store(false)
	c.abort.Store(false)

	c.notify(Notification{Kind: ExecutionStarted, Component: name, CompKind: comp.Kind(), TimeLevel: comp.TimeLevel()})

	comp.node().step = 0
	err := c.execute(ctx, comp)

	aborted := c.abort.Load()
	c.notify(Notification{
		Kind:      ExecutionStopped,
		Component: name,
		CompKind:  comp.Kind(),
		TimeLevel: comp.TimeLevel(),
		Aborted:   aborted,
		Err:       err,
	})
	if err != nil {
		c.logger.Error("model execution failed", "component", name, "error", err)
		return err
	}
	if aborted {
		c.logger.Info("model execution aborted", "component", name)
	}
	return nil
}

// execute runs a single component as a standalone unit.
func (c *Controller) execute(ctx context.Context, comp Component) error {
	switch t := comp.(type) {
	case *IterableComponent:
		if t.proc != nil {
			if err := t.link(ctx, t.step); err != nil {
				return err
			}
		}
		return t.update(ctx)
	case *DataComponent:
		if err := t.link(t.step); err != nil {
			return err
		}
		return t.update(ctx)
	case *DataRefComponent:
		return t.update(ctx)
	default:
		return fmt.Errorf("%w: unsupported component type %T", ErrUnknownComponent, comp)
	}
}

// ResetComponent resets the named component and, for aggregates, all of
// its descendants.
func (c *Controller) ResetComponent(name string) error {
	comp := c.Component(name)
	if comp == nil {
		return fmt.Errorf("%w: %q", ErrUnknownComponent, name)
	}
	comp.Reset()
	return nil
}

// AbortModel asks the running model to stop at the next suspension point.
// Work already in progress completes.
func (c *Controller) AbortModel() {
	if c.running.Load() && !c.abort.Swap(true) {
		c.logger.Info("model abort requested")
	}
}

// IsModelAbortionRequested reports whether the current run was asked to stop.
func (c *Controller) IsModelAbortionRequested() bool {
	return c.abort.Load()
}

// IsModelRunning reports whether ExecuteModel is in progress.
func (c *Controller) IsModelRunning() bool {
	return c.running.Load()
}
