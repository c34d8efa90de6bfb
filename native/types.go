package native

import "fmt"

// Pointer is an opaque reference to an engine object. Zero is the nil pointer.
type Pointer uintptr

// SignalID identifies a connected signal handler.
type SignalID uint64

// Callback is invoked by the engine, on an engine-owned goroutine, when a connected
// signal is emitted.
type Callback func(instance Pointer, userData uintptr)

// Signal names emitted by engine objects.
const (
	SignalChanged   = "changed"   // device manager
	SignalLost      = "lost"      // device
	SignalDetached  = "detached"  // session
	SignalDestroyed = "destroyed" // script
)

// ErrorDomain is the domain of every error raised by the engine.
const ErrorDomain = "FRIDA_ERROR"

// Engine error codes.
const (
	CodeServerNotRunning = iota
	CodeExecutableNotFound
	CodeExecutableNotSupported
	CodeProcessNotFound
	CodeProcessNotResponding
	CodeInvalidArgument
	CodeInvalidOperation
	CodePermissionDenied
	CodeAddressInUse
	CodeTimedOut
	CodeNotSupported
	CodeProtocol
	CodeTransport
)

// Error is the engine's error signal.
type Error struct {
	Domain  string
	Message string
	Code    int
}

// NewError creates an engine error in the engine's domain.
func NewError(code int, format string, args ...any) *Error {
	return &Error{
		Domain:  ErrorDomain,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// DeviceType is the engine's device classification.
type DeviceType int

const (
	DeviceTypeLocal DeviceType = iota
	DeviceTypeTether
	DeviceTypeRemote
)

// Icon is raw RGBA pixel data as produced by the engine.
type Icon struct {
	Pixels    []byte
	Width     int
	Height    int
	Rowstride int
}

// Process is one entry of a process enumeration.
type Process struct {
	Icon *Icon
	Name string
	PID  uint32
}
