package process

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/petal-labs/strata/core"
)

// FileSink appends every value it receives to a file as a JSON line of the
// form {"step":0,"param":0,"value":...}. The file is truncated when the
// sink is initialized.
type FileSink struct {
	path string
	out  output
}

// NewFileSink creates a file sink writing to path.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Path returns the output file path.
func (f *FileSink) Path() string { return f.path }

// Initialize implements core.Process. Parent directories are created as
// needed.
func (f *FileSink) Initialize(context.Context) error {
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating directory for %s: %w", f.path, err)
		}
	}
	if err := os.WriteFile(f.path, nil, 0o600); err != nil {
		return fmt.Errorf("truncating %s: %w", f.path, err)
	}
	return nil
}

// Update implements core.Process.
func (f *FileSink) Update(_ context.Context, in core.Inputs) error {
	v := collapse(in.Values)
	line, err := json.Marshal(Record{Step: in.Step, ParamPos: in.ParamPos, Value: v})
	if err != nil {
		return fmt.Errorf("encoding value for %s: %w", f.path, err)
	}

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) // #nosec G304 -- path from model definition
	if err != nil {
		return fmt.Errorf("opening %s: %w", f.path, err)
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing %s: %w", f.path, err)
	}
	f.out.set(v)
	return nil
}

// Output implements core.Process.
func (f *FileSink) Output(index int) (core.Value, bool) { return f.out.get(index) }

// Reset implements core.Process. The file is left in place.
func (f *FileSink) Reset() { f.out.clear() }

// IsSink implements core.Sink.
func (f *FileSink) IsSink() bool { return true }

var _ core.Sink = (*FileSink)(nil)
