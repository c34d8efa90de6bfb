// Package local is an in-process engine backend implementing native.Library.
//
// It models the engine's object graph (device manager, devices, processes,
// sessions, scripts) on a reference-counted handle table and emits signals on the
// engine's main context, never on the caller's goroutine. Scripts are WebAssembly
// modules: CreateScript compiles the source with wazero, LoadScript instantiates
// it and UnloadScript closes the instance.
//
//	eng := local.New(local.DefaultConfig())
//	mgr, err := frida.NewManager(eng)
//
// # Main Context
//
// By default Init starts a private loop that plays the role of the engine's own
// thread. Config.MainContext replaces it, e.g. with the host's loop, which makes
// notifications arrive already on the host's context.
//
// # Simulation
//
// AddDevice, RemoveDevice and EmitSignal drive the engine from the host side. The
// counters (InitCount, ShutdownCount, InvalidUnrefs, Objects) let tests check that
// the engine was initialized and released exactly as often as expected.
package local
