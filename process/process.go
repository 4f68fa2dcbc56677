// Package process provides the built-in leaf processes that model
// definitions can instantiate by type name: constants, sequences,
// expressions, accumulators, plain Go functions and a few sinks.
//
// Every type here satisfies core.Process. Most are pipe-compatible so
// chains of them run as a single pipeline; sinks report IsSink so the
// scheduler always considers them executable.
package process

import (
	"github.com/petal-labs/strata/core"
)

// output holds the single output of a process between updates.
type output struct {
	value core.Value
	ok    bool
}

func (o *output) set(v core.Value) {
	o.value = v
	o.ok = true
}

func (o *output) get(index int) (core.Value, bool) {
	if index != 0 || !o.ok {
		return nil, false
	}
	return o.value, true
}

func (o *output) clear() {
	o.value = nil
	o.ok = false
}
