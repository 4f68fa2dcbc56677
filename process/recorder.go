package process

import (
	"context"
	"slices"
	"sync"

	"github.com/petal-labs/strata/core"
)

// Record is one update seen by a Recorder.
type Record struct {
	Step     int        `json:"step"`
	ParamPos int        `json:"param"`
	Value    core.Value `json:"value"`
}

// Recorder is a sink that keeps every value it receives. A single input is
// recorded as is; several inputs are recorded as a []any in operand order.
// Output 0 is the most recently recorded value.
//
// Recorder is safe to read from other goroutines while a model runs.
type Recorder struct {
	mu      sync.Mutex
	records []Record
	out     output
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Initialize implements core.Process.
func (r *Recorder) Initialize(context.Context) error { return nil }

// Update implements core.Process.
func (r *Recorder) Update(_ context.Context, in core.Inputs) error {
	v := collapse(in.Values)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, Record{Step: in.Step, ParamPos: in.ParamPos, Value: v})
	r.out.set(v)
	return nil
}

// Output implements core.Process.
func (r *Recorder) Output(index int) (core.Value, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.out.get(index)
}

// Reset implements core.Process.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
	r.out.clear()
}

// IsSink implements core.Sink.
func (r *Recorder) IsSink() bool { return true }

// Records returns a copy of everything recorded since the last reset.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.records)
}

// Values returns the recorded values in update order.
func (r *Recorder) Values() []core.Value {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.Value, len(r.records))
	for i, rec := range r.records {
		out[i] = rec.Value
	}
	return out
}

// Len returns the number of recorded updates.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// collapse detaches the input values and unwraps the single-input case.
func collapse(values []core.Value) core.Value {
	switch len(values) {
	case 0:
		return nil
	case 1:
		return core.Detach(values[0])
	}
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = core.Detach(v)
	}
	return out
}

var _ core.Sink = (*Recorder)(nil)
