// Package errors carries the failure taxonomy shared by the likelihood packages.
//
// Every failure belongs to one of three kinds. Configuration errors are raised at
// construction time (bad TDI tag, missing channel, missing injection parameters).
// Domain errors are raised per call for inputs the numerics cannot handle
// (degenerate frequency window, zero parameter under a relative step). Engine errors
// wrap whatever the delegated waveform/response engine returned. None of them are
// retried by this module.
package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
)

// Kind classifies an Error.
type Kind int

const (
	// KindUnknown is the zero Kind, reported for errors not built by this package.
	KindUnknown Kind = iota
	// KindConfiguration marks invalid construction input. Fatal, never retried.
	KindConfiguration
	// KindDomain marks a parameter vector or grid outside the valid numerical domain.
	KindDomain
	// KindEngine marks a failure of the delegated compute engine.
	KindEngine
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindDomain:
		return "domain"
	case KindEngine:
		return "engine"
	default:
		return "unknown"
	}
}

// Error is an error with a kind, context and the stack at construction.
type Error struct {
	// Kind is the taxonomy bucket.
	Kind Kind
	// Err is the underlying error, if any.
	Err error
	// Message describes what went wrong.
	Message string
	// Operation is the operation being performed, e.g. "Likelihood.NLL".
	Operation string
	// Component is the package or type that failed, e.g. "matched".
	Component string
	// Stack is the call stack at construction.
	Stack []string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder

	b.WriteString(e.Kind.String())
	b.WriteString(" error")
	if e.Component != "" {
		b.WriteString(" [")
		b.WriteString(e.Component)
		if e.Operation != "" {
			b.WriteString(".")
			b.WriteString(e.Operation)
		}
		b.WriteString("]")
	} else if e.Operation != "" {
		b.WriteString(" [")
		b.WriteString(e.Operation)
		b.WriteString("]")
	}

	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is an *Error of the same kind with no message of its
// own, which lets the sentinel values below be used with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	if t.Message != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// WithOperation sets the operation.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// WithComponent sets the component.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// StackTrace returns the stack captured at construction.
func (e *Error) StackTrace() []string {
	return e.Stack
}

// Sentinels usable as errors.Is targets.
var (
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrDomain        = &Error{Kind: KindDomain}
	ErrEngine        = &Error{Kind: KindEngine}
)

// Configuration builds a KindConfiguration error.
func Configuration(format string, args ...interface{}) *Error {
	return newf(KindConfiguration, format, args...)
}

// Domain builds a KindDomain error.
func Domain(format string, args ...interface{}) *Error {
	return newf(KindDomain, format, args...)
}

// Engine wraps an engine failure. A nil err yields nil.
func Engine(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	e := newf(KindEngine, format, args...)
	e.Err = err
	return e
}

// Wrap attaches a message to err, keeping its kind when err is already an *Error.
// Errors from outside this package are classified as engine errors, since the only
// foreign errors the core sees come from the delegated engine.
func Wrap(err error, msg string) *Error {
	if err == nil {
		return nil
	}
	kind := KindOf(err)
	if kind == KindUnknown {
		kind = KindEngine
	}
	return &Error{
		Kind:    kind,
		Err:     err,
		Message: msg,
		Stack:   getStackTrace(),
	}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// As is errors.As, re-exported so callers need only this package.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// Is is errors.Is.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Stack:   getStackTrace(),
	}
}

// getStackTrace returns the current stack trace as a slice of strings.
func getStackTrace() []string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:]) // skip runtime.Callers, getStackTrace and the constructor
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	stack := make([]string, 0, n)
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") && !strings.Contains(frame.File, "internal/errors") {
			stack = append(stack, fmt.Sprintf("%s\n\t%s:%d", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}
	return stack
}
