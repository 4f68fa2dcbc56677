package core

import (
	"fmt"
	"strconv"
	"strings"
)

// InputRef addresses one output of an upstream component.
// The wire format is "Name" or "Name:outputIndex".
type InputRef struct {
	Component   string
	OutputIndex int
}

// String returns the wire form of the reference. The output index is
// omitted when it is zero.
func (r InputRef) String() string {
	if r.OutputIndex == 0 {
		return r.Component
	}
	return r.Component + ":" + strconv.Itoa(r.OutputIndex)
}

// ParseInputRef parses "Name" or "Name:outputIndex".
func ParseInputRef(s string) (InputRef, error) {
	clean := strings.TrimSpace(s)
	name, idx, hasIdx := strings.Cut(clean, ":")
	name = strings.TrimSpace(name)
	if name == "" {
		return InputRef{}, fmt.Errorf("%w: %q has no component name", ErrInvalidInputRef, s)
	}
	if !hasIdx {
		return InputRef{Component: name}, nil
	}

	idx = strings.TrimSpace(idx)
	n, err := strconv.Atoi(idx)
	if err != nil || n < 0 {
		return InputRef{}, fmt.Errorf("%w: %q has invalid output index %q", ErrInvalidInputRef, s, idx)
	}
	return InputRef{Component: name, OutputIndex: n}, nil
}

// ParseInputSet parses one input-set. Order is preserved; it is the
// operand order of the consuming process.
func ParseInputSet(refs []string) ([]InputRef, error) {
	set := make([]InputRef, 0, len(refs))
	for _, s := range refs {
		r, err := ParseInputRef(s)
		if err != nil {
			return nil, err
		}
		set = append(set, r)
	}
	return set, nil
}

// ParseInputSpecs parses a list of input-sets, one per iteration step.
func ParseInputSpecs(specs [][]string) ([][]InputRef, error) {
	out := make([][]InputRef, 0, len(specs))
	for i, refs := range specs {
		set, err := ParseInputSet(refs)
		if err != nil {
			return nil, fmt.Errorf("input-set %d: %w", i, err)
		}
		out = append(out, set)
	}
	return out, nil
}

// MustParseInputSpecs is ParseInputSpecs for literals known to be valid.
// It panics on malformed references.
func MustParseInputSpecs(specs ...[]string) [][]InputRef {
	out, err := ParseInputSpecs(specs)
	if err != nil {
		panic(err)
	}
	return out
}
