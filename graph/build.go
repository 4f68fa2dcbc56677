package graph

import (
	"fmt"

	"github.com/petal-labs/strata/core"
	"github.com/petal-labs/strata/model"
	"github.com/petal-labs/strata/registry"
)

// BuildOption configures how a ModelDefinition is turned into a controller.
type BuildOption func(*buildConfig)

type buildConfig struct {
	registry *registry.Registry
	ctrlOpts []model.Option
}

// WithRegistry sets the registry used to instantiate processes. Defaults
// to registry.Global().
func WithRegistry(reg *registry.Registry) BuildOption {
	return func(c *buildConfig) {
		c.registry = reg
	}
}

// WithControllerOptions passes options to model.NewController.
func WithControllerOptions(opts ...model.Option) BuildOption {
	return func(c *buildConfig) {
		c.ctrlOpts = append(c.ctrlOpts, opts...)
	}
}

// Build validates the definition against the registry and builds a
// controller holding every component. Validation errors are returned as
// a *DiagnosticError; warnings do not stop the build.
func (md *ModelDefinition) Build(opts ...BuildOption) (*model.Controller, error) {
	cfg := &buildConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.registry == nil {
		cfg.registry = registry.Global()
	}

	if diags := md.ValidateWithRegistry(cfg.registry); HasErrors(diags) {
		return nil, &DiagnosticError{Diagnostics: diags}
	}

	ctrl := model.NewController(cfg.ctrlOpts...)
	b := &builder{ctrl: ctrl, reg: cfg.registry}
	for _, cd := range md.Components {
		if err := b.add("", cd); err != nil {
			return nil, err
		}
	}
	return ctrl, nil
}

type builder struct {
	ctrl *model.Controller
	reg  *registry.Registry
}

func (b *builder) add(host string, cd ComponentDef) error {
	comp, err := b.component(cd)
	if err != nil {
		return fmt.Errorf("creating component %q: %w", cd.Name, err)
	}
	if cd.UserID != "" {
		if err := comp.SetUserID(cd.UserID); err != nil {
			return err
		}
	}
	comp.SetDescription(cd.Description)
	if cd.TimeLevel != nil {
		if err := comp.SetTimeLevel(*cd.TimeLevel); err != nil {
			return err
		}
	}
	if len(cd.Inputs) > 0 && !cd.IsAggregate() {
		inputs, err := core.ParseInputSpecs(cd.Inputs)
		if err != nil {
			return fmt.Errorf("component %q: %w", cd.Name, err)
		}
		comp.SetInputs(inputs)
	}

	if host == "" {
		err = b.ctrl.Add(comp)
	} else {
		err = b.ctrl.AddChild(host, comp)
	}
	if err != nil {
		return fmt.Errorf("adding component %q: %w", cd.Name, err)
	}

	for _, child := range cd.Children {
		if err := b.add(cd.Name, child); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) component(cd ComponentDef) (model.Component, error) {
	switch cd.Kind {
	case KindProcess:
		proc, err := b.reg.Create(cd.Type, cd.Name, cd.Config)
		if err != nil {
			return nil, err
		}
		handling, err := core.ParseParameterHandling(cd.ParameterHandling)
		if err != nil {
			return nil, err
		}
		pc := model.NewProcessComponent(cd.Name, proc)
		pc.SetParameterHandling(handling)
		return pc, nil

	case KindSequential:
		n := 1
		if cd.Iterations != nil {
			n = *cd.Iterations
		}
		seq := model.NewSequentialComponent(cd.Name, n)
		if err := seq.SetIterationExpression(cd.IterationExpression); err != nil {
			return nil, err
		}
		return seq, nil

	case KindConditional:
		cond, err := model.NewConditionalComponent(cd.Name, cd.Condition)
		if err != nil {
			return nil, err
		}
		cond.SetMaxIterations(cd.MaxIterations)
		return cond, nil

	case KindData:
		d := model.NewDataComponent(cd.Name)
		if cd.Value != nil {
			d.SetValue(cd.Value)
		}
		return d, nil

	case KindDataRef:
		return model.NewDataRefComponent(cd.Name, cd.Target), nil

	default:
		return nil, fmt.Errorf("unknown kind %q", cd.Kind)
	}
}
