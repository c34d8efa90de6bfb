// Package bridge implements the native-handle lifecycle shared by every wrapper.
//
// A wrapper owns exactly one reference-counted engine object through a Handle:
//
//	h, err := bridge.Open(rt, ptr, ctx, bridge.Binding{
//	    Kind:   "Device",
//	    Signal: native.SignalLost,
//	    Notify: func() { dev.Lost.Emit(dev) },
//	})
//
// Open acquires the process-wide Runtime (initializing the engine on the first
// reference), registers a self-reference token and connects the notification
// signal with the token as the callback's user data. The engine resolves the token
// back to the Handle on its own goroutine and the Handle redelivers the
// notification on the captured dispatch.Context.
//
// # Teardown
//
// Close runs once; later calls are no-ops:
//
//  1. the signal handler is disconnected, so no new callback can begin
//  2. callbacks already in flight are waited for (except one running inline on
//     the caller's own stack)
//  3. the token is removed, so a late callback resolves to nothing
//  4. the engine object is unreffed and the Runtime released
//
// Closing blocks until proxied calls already running on the same Handle return.
//
// # Proxied calls
//
// Call, Exec and Get check the Handle is live, invoke the native function with the
// owned pointer and translate a set native error signal into one *errors.Error of
// kind KindNative. A closed Handle yields KindDisposed without touching the engine.
package bridge
