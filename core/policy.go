package core

import (
	"fmt"
	"strings"
)

// ParameterHandling selects how a process advances through its input-sets
// as its host iterates.
type ParameterHandling string

const (
	// UseUp walks the list once and then keeps reusing the last entry.
	UseUp ParameterHandling = "use_up"

	// Cycle walks the list and wraps back to the start after exhaustion.
	Cycle ParameterHandling = "cycle"

	// SyncWithHost requires one entry per host iteration. Running out of
	// entries is an error.
	SyncWithHost ParameterHandling = "sync_with_host"
)

// DefaultParameterHandling is used when a process does not choose a policy.
const DefaultParameterHandling = SyncWithHost

// String returns the string representation of the policy.
func (h ParameterHandling) String() string {
	return string(h)
}

// ParseParameterHandling converts a policy name to a ParameterHandling.
// The empty string yields the default policy.
func ParseParameterHandling(s string) (ParameterHandling, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultParameterHandling, nil
	case "use_up", "useup":
		return UseUp, nil
	case "cycle":
		return Cycle, nil
	case "sync_with_host", "syncwithhost", "sync":
		return SyncWithHost, nil
	default:
		return "", fmt.Errorf("unknown parameter handling %q", s)
	}
}

// MapHostIndexToPolicyIndex maps the host iteration index step to an index
// into a list of listSize input-sets. An empty list always maps to 0.
func MapHostIndexToPolicyIndex(policy ParameterHandling, step, listSize int) (int, error) {
	if listSize <= 0 {
		return 0, nil
	}
	if step < 0 {
		step = 0
	}

	switch policy {
	case UseUp:
		return min(step, listSize-1), nil

	case Cycle:
		r := (step + 1) % listSize
		if r == 0 {
			return listSize - 1, nil
		}
		return r - 1, nil

	case SyncWithHost, "":
		if step >= listSize {
			return 0, fmt.Errorf("%w: step %d but only %d input-sets declared", ErrPolicyDesync, step, listSize)
		}
		return step, nil

	default:
		return 0, fmt.Errorf("%w: unknown parameter handling %q", ErrUnspecified, policy)
	}
}
