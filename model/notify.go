package model

// NotificationKind identifies a scheduler notification.
type NotificationKind int

const (
	// ComponentStarted precedes every component invocation.
	ComponentStarted NotificationKind = iota
	// ComponentStopped follows every invocation, including failed ones.
	ComponentStopped
	// IterationStarted is sent by an aggregate before each pass.
	IterationStarted
	// ExecutionStarted is sent once when ExecuteModel begins.
	ExecutionStarted
	// ExecutionStopped is sent once when ExecuteModel returns.
	ExecutionStopped
)

func (k NotificationKind) String() string {
	switch k {
	case ComponentStarted:
		return "component_started"
	case ComponentStopped:
		return "component_stopped"
	case IterationStarted:
		return "iteration_started"
	case ExecutionStarted:
		return "execution_started"
	case ExecutionStopped:
		return "execution_stopped"
	default:
		return "unknown"
	}
}

// Notification describes a scheduler state change.
type Notification struct {
	Kind      NotificationKind
	Component string
	Host      string // empty for roots
	CompKind  Kind
	TimeLevel int

	// Step is the 0-based host iteration index for component
	// notifications and the 0-based pass index for IterationStarted.
	Step int

	// Aborted is set on ExecutionStopped when the run ended because an
	// abort was requested.
	Aborted bool

	// Err is set on ComponentStopped and ExecutionStopped after a failure.
	Err error
}

// Observer receives notifications synchronously on the scheduler's thread.
type Observer func(Notification)

func (c *Controller) notify(n Notification) {
	if c.observer != nil {
		c.observer(n)
	}
}

func (c *Controller) componentNotification(kind NotificationKind, comp Component, err error) Notification {
	b := comp.node()
	n := Notification{
		Kind:      kind,
		Component: b.name,
		CompKind:  comp.Kind(),
		TimeLevel: b.timeLevel,
		Step:      b.step,
		Err:       err,
	}
	if h := b.hostBase(); h != nil {
		n.Host = h.name
	}
	return n
}

// invoke brackets fn with started/stopped notifications.
func (c *Controller) invoke(comp Component, fn func() error) error {
	c.notify(c.componentNotification(ComponentStarted, comp, nil))
	err := fn()
	c.notify(c.componentNotification(ComponentStopped, comp, err))
	return err
}
