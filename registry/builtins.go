package registry

import (
	"fmt"
	"log/slog"

	"github.com/petal-labs/strata/core"
	"github.com/petal-labs/strata/process"
)

// registerBuiltins registers all built-in Strata process types.
// Called once by Global() during singleton initialization.
func registerBuiltins(r *Registry) {
	r.Register(ProcessTypeDef{
		Type:        "constant",
		Category:    "source",
		DisplayName: "Constant",
		Description: "Output the configured value on every update",
		Ports: PortSchema{
			Outputs: []PortDef{{Name: "value", Type: "any"}},
		},
		Config: []ConfigField{
			{Name: "value", Type: "any", Required: true, Description: "value to output"},
		},
		PipeCompatible: true,
		Factory: func(_ string, config map[string]any) (core.Process, error) {
			return process.NewConstant(config["value"]), nil
		},
	})

	r.Register(ProcessTypeDef{
		Type:        "sequence",
		Category:    "source",
		DisplayName: "Sequence",
		Description: "Output one value per host step, wrapping after the last",
		Ports: PortSchema{
			Outputs: []PortDef{{Name: "value", Type: "any"}},
		},
		Config: []ConfigField{
			{Name: "values", Type: "array", Required: true, Description: "values indexed by step"},
		},
		PipeCompatible: true,
		Factory: func(_ string, config map[string]any) (core.Process, error) {
			raw, _ := config["values"].([]any)
			values := make([]core.Value, len(raw))
			for i, v := range raw {
				values[i] = v
			}
			return process.NewSequence(values), nil
		},
	})

	r.Register(ProcessTypeDef{
		Type:        "expression",
		Category:    "transform",
		DisplayName: "Expression",
		Description: "Evaluate an expression over the operands (in0, in1, ..., step, param)",
		Ports: PortSchema{
			Inputs:   []PortDef{{Name: "in", Type: "any"}},
			Outputs:  []PortDef{{Name: "result", Type: "any"}},
			Variadic: true,
		},
		Config: []ConfigField{
			{Name: "expression", Type: "string", Required: true, Description: "expression to evaluate"},
			{Name: "vars", Type: "object", Description: "constants visible to the expression"},
		},
		PipeCompatible: true,
		Factory: func(_ string, config map[string]any) (core.Process, error) {
			vars, _ := config["vars"].(map[string]any)
			return process.NewExpression(process.ExpressionConfig{
				Expression: stringField(config, "expression", ""),
				Vars:       vars,
			})
		},
	})

	r.Register(ProcessTypeDef{
		Type:        "accumulator",
		Category:    "transform",
		DisplayName: "Accumulator",
		Description: "Add the operands to a running total and output the total",
		Ports: PortSchema{
			Inputs:   []PortDef{{Name: "in", Type: "number"}},
			Outputs:  []PortDef{{Name: "total", Type: "number"}},
			Variadic: true,
		},
		Config: []ConfigField{
			{Name: "initial", Type: "number", Description: "starting total (default 0)"},
		},
		Factory: func(_ string, config map[string]any) (core.Process, error) {
			return process.NewAccumulator(numberField(config, "initial", 0)), nil
		},
	})

	r.Register(ProcessTypeDef{
		Type:        "recorder",
		Category:    "sink",
		DisplayName: "Recorder",
		Description: "Keep every received value for inspection after the run",
		Ports: PortSchema{
			Inputs:   []PortDef{{Name: "in", Type: "any"}},
			Outputs:  []PortDef{{Name: "last", Type: "any"}},
			Variadic: true,
		},
		Sink: true,
		Factory: func(string, map[string]any) (core.Process, error) {
			return process.NewRecorder(), nil
		},
	})

	r.Register(ProcessTypeDef{
		Type:        "log",
		Category:    "sink",
		DisplayName: "Log",
		Description: "Log every received value and publish it as a component.output event",
		Ports: PortSchema{
			Inputs:   []PortDef{{Name: "in", Type: "any"}},
			Outputs:  []PortDef{{Name: "last", Type: "any"}},
			Variadic: true,
		},
		Config: []ConfigField{
			{Name: "message", Type: "string", Description: "log message"},
			{Name: "level", Type: "string", Description: "debug, info, warn or error (default info)"},
		},
		Sink: true,
		Factory: func(component string, config map[string]any) (core.Process, error) {
			var level slog.Level
			if s := stringField(config, "level", ""); s != "" {
				if err := level.UnmarshalText([]byte(s)); err != nil {
					return nil, fmt.Errorf("invalid log level %q", s)
				}
			}
			return process.NewLogSink(process.LogSinkConfig{
				Component: component,
				Message:   stringField(config, "message", ""),
				Level:     level,
			}), nil
		},
	})

	r.Register(ProcessTypeDef{
		Type:        "file",
		Category:    "sink",
		DisplayName: "File",
		Description: "Append every received value to a JSON lines file",
		Ports: PortSchema{
			Inputs:   []PortDef{{Name: "in", Type: "any"}},
			Outputs:  []PortDef{{Name: "last", Type: "any"}},
			Variadic: true,
		},
		Config: []ConfigField{
			{Name: "path", Type: "string", Required: true, Description: "output file"},
		},
		Sink: true,
		Factory: func(_ string, config map[string]any) (core.Process, error) {
			return process.NewFileSink(stringField(config, "path", "")), nil
		},
	})
}
