package core

import (
	"errors"
	"fmt"
	"regexp"
)

// Error kinds. Every engine failure wraps exactly one of these, so callers
// can branch with errors.Is.
var (
	ErrUnresolvedInput     = errors.New("unresolved input")
	ErrUninitializedOutput = errors.New("uninitialized output")
	ErrInvalidIdentifier   = errors.New("invalid identifier")
	ErrRecursiveUpdate     = errors.New("recursive update")
	ErrPolicyDesync        = errors.New("parameter position out of sync with host iteration")
	ErrUnspecified         = errors.New("unspecified failure")
)

// ErrInvalidInputRef is returned for malformed input references.
var ErrInvalidInputRef = errors.New("invalid input reference")

// ComponentError is raised by a model component. It carries the component
// name, the error kind and, when available, the underlying cause.
type ComponentError struct {
	Component string // name of the failing component
	Kind      error  // one of the Err* kinds
	Message   string // human-readable detail
	Cause     error  // lower-level failure (may be nil)
}

// Error implements the error interface.
func (e *ComponentError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Component, e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *ComponentError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// NewComponentError builds a ComponentError with a formatted message.
func NewComponentError(component string, kind error, format string, args ...any) *ComponentError {
	return &ComponentError{
		Component: component,
		Kind:      kind,
		Message:   fmt.Sprintf(format, args...),
	}
}

// WrapComponentError attributes cause to component. Causes that already
// carry a kind keep it; anything else is classified as ErrUnspecified.
func WrapComponentError(component string, cause error) error {
	if cause == nil {
		return nil
	}
	var ce *ComponentError
	if errors.As(cause, &ce) {
		return cause
	}
	return &ComponentError{
		Component: component,
		Kind:      KindOf(cause),
		Cause:     cause,
	}
}

// KindOf returns the kind of err, or ErrUnspecified.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrUnresolvedInput,
		ErrUninitializedOutput,
		ErrInvalidIdentifier,
		ErrRecursiveUpdate,
		ErrPolicyDesync,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrUnspecified
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_]*$`)

// ValidateIdentifier checks id against the userID charset: letters,
// digits and underscore. The empty string is valid and clears an ID.
func ValidateIdentifier(id string) error {
	if !identifierPattern.MatchString(id) {
		return fmt.Errorf("%w: %q may only contain letters, digits and underscore", ErrInvalidIdentifier, id)
	}
	return nil
}
