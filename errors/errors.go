package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Phase indicates where in the wrapper lifecycle the error occurred
type Phase string

const (
	PhaseInit     Phase = "init"     // engine initialization
	PhaseCall     Phase = "call"     // proxied native operation
	PhaseDispose  Phase = "dispose"  // handle teardown
	PhaseDispatch Phase = "dispatch" // event redelivery
	PhaseConfig   Phase = "config"   // configuration loading
	PhaseScript   Phase = "script"   // script compilation and loading
)

// Kind categorizes the error
type Kind string

const (
	KindDisposed     Kind = "disposed"
	KindNative       Kind = "native"
	KindRuntimeInit  Kind = "runtime_init"
	KindInvalidInput Kind = "invalid_input"
	KindNotFound     Kind = "not_found"
	KindClosed       Kind = "closed"
)

// Error is the structured error type used throughout the library
type Error struct {
	Cause    error
	Phase    Phase
	Kind     Kind
	Resource string // wrapper kind, e.g. "Device"
	Op       string // operation name, e.g. "spawn"
	Domain   string // native error domain
	Detail   string
	Code     int // native error code
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Resource != "" {
		b.WriteString(" ")
		b.WriteString(e.Resource)
		if e.Op != "" {
			b.WriteByte('.')
			b.WriteString(e.Op)
		}
	} else if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}

	if e.Domain != "" {
		fmt.Fprintf(&b, " (%s:%d)", e.Domain, e.Code)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Sentinels for errors.Is matching.
var (
	ErrDisposed    = &Error{Phase: PhaseCall, Kind: KindDisposed}
	ErrNative      = &Error{Phase: PhaseCall, Kind: KindNative}
	ErrRuntimeInit = &Error{Phase: PhaseInit, Kind: KindRuntimeInit}
)

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Resource sets the wrapper kind
func (b *Builder) Resource(r string) *Builder {
	b.err.Resource = r
	return b
}

// Op sets the operation name
func (b *Builder) Op(op string) *Builder {
	b.err.Op = op
	return b
}

// Native sets the native error domain and code
func (b *Builder) Native(domain string, code int) *Builder {
	b.err.Domain = domain
	b.err.Code = code
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Disposed creates the error returned by any operation on a closed handle.
func Disposed(resource, op string) *Error {
	return &Error{
		Phase:    PhaseCall,
		Kind:     KindDisposed,
		Resource: resource,
		Op:       op,
		Detail:   "resource disposed",
	}
}

// Native creates a native operation failure carrying the engine's domain, code and message.
func Native(resource, op, domain string, code int, message string) *Error {
	return &Error{
		Phase:    PhaseCall,
		Kind:     KindNative,
		Resource: resource,
		Op:       op,
		Domain:   domain,
		Code:     code,
		Detail:   message,
	}
}

// RuntimeInit creates the fatal engine initialization error
func RuntimeInit(cause error) *Error {
	return &Error{
		Phase:  PhaseInit,
		Kind:   KindRuntimeInit,
		Detail: "engine initialization failed",
		Cause:  cause,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Closed creates an error for operations on a stopped component
func Closed(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s closed", component),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// IsDisposed reports whether err is, or wraps, a ResourceDisposed error.
func IsDisposed(err error) bool {
	return errors.Is(err, ErrDisposed)
}

// AsNative returns the native operation failure wrapped in err, if any.
func AsNative(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindNative {
		return e, true
	}
	return nil, false
}
