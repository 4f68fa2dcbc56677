package expr

import (
	"fmt"
	"math"
)

type builtinFunc func(args []any) (any, error)

// builtins are the functions callable from expressions. All of them are
// numeric and pure.
var builtins = map[string]builtinFunc{
	"abs":   unary("abs", math.Abs),
	"floor": unary("floor", math.Floor),
	"ceil":  unary("ceil", math.Ceil),
	"round": unary("round", math.Round),
	"sqrt":  unary("sqrt", math.Sqrt),
	"min":   fold("min", math.Min),
	"max":   fold("max", math.Max),
	"len": func(args []any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("len: expected 1 argument, got %d", len(args))
		}
		return getLength(args[0]), nil
	},
}

func unary(name string, fn func(float64) float64) builtinFunc {
	return func(args []any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("%s: expected 1 argument, got %d", name, len(args))
		}
		f, ok := ToFloat64(args[0])
		if !ok {
			return nil, fmt.Errorf("%s: argument must be numeric, got %T", name, args[0])
		}
		return fn(f), nil
	}
}

func fold(name string, fn func(a, b float64) float64) builtinFunc {
	return func(args []any) (any, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("%s: expected at least 1 argument", name)
		}
		var acc float64
		for i, a := range args {
			f, ok := ToFloat64(a)
			if !ok {
				return nil, fmt.Errorf("%s: argument %d must be numeric, got %T", name, i, a)
			}
			if i == 0 {
				acc = f
				continue
			}
			acc = fn(acc, f)
		}
		return acc, nil
	}
}

// Functions returns the names of the built-in functions.
func Functions() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	return names
}
