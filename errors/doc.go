// Package errors provides structured error types for the frida-go library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// Three kinds cross the public API boundary:
//
//	KindDisposed     - an operation was attempted on a closed wrapper; raised locally,
//	                   no native call is made
//	KindNative       - a native call set its error signal; Domain, Code and Detail carry
//	                   the engine's error unchanged
//	KindRuntimeInit  - the engine failed to initialize; fatal for the process
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseCall, errors.KindNative).
//		Resource("Device").
//		Op("spawn").
//		Native("FRIDA_ERROR", 1).
//		Detail("Unable to find executable at '%s'", path).
//		Build()
//
// Or use convenience constructors:
//
//	err := errors.Disposed("Session", "pid")
//	err := errors.RuntimeInit(cause)
//
// All errors implement the standard error interface and support errors.Is/As:
//
//	if errors.Is(err, errors.ErrDisposed) { ... }
//	if nerr, ok := errors.AsNative(err); ok { log(nerr.Code) }
package errors
