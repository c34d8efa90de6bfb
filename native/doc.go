// Package native describes the engine's C-level surface as seen from Go.
//
// Engine objects are reached only through opaque, reference-counted Pointers. Blocking
// calls report failure through a *Error (the engine's error signal) instead of a Go
// error; translating that signal is the caller's job. Notifications are delivered by
// connecting a Callback to a named signal with an opaque userData word:
//
//	id := lib.Connect(dev, native.SignalLost, trampoline, token)
//	...
//	lib.Disconnect(dev, id)
//
// After Disconnect returns no new invocation of that handler starts; an invocation
// already running may still complete.
//
// Library is implemented by engine backends. The in-process backend lives in
// native/local.
package native
