// Package frida exposes an instrumentation engine's devices, sessions and scripts
// as closable Go objects.
//
// Every wrapper owns exactly one reference-counted engine object, subscribes to one
// lifecycle signal of that object and re-delivers it as an event on the wrapper's
// target context. Closing a wrapper releases its object exactly once; afterwards
// every operation fails with a disposed error.
//
// # Architecture Overview
//
//	frida/           Manager, Device, Session and Script wrappers
//	├── bridge/      Handle lifecycle, engine reference count, call proxy, events
//	├── dispatch/    Target execution contexts and the thread-locked Loop
//	├── native/      Engine library interface, error codes and signals
//	│   └── local/   In-process engine backend (scripts run on wazero)
//	├── resource/    Reference-counted object table used by the local engine
//	├── errors/      Structured error types
//	├── internal/config  fridactl configuration (viper)
//	└── cmd/fridactl Command line and interactive client
//
// # Quick Start
//
//	mgr, err := frida.NewManager(local.New(local.DefaultConfig()))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Close()
//
//	devices, _ := mgr.EnumerateDevices()
//	dev := devices[0]
//	defer dev.Close()
//
//	dev.Lost.Subscribe(func(d *frida.Device, _ bridge.EventArgs) {
//	    fmt.Println("device lost")
//	})
//
//	session, err := dev.Attach(1337)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close()
//
// # Target Context
//
// Events are observed on the context passed with WithContext, or on a process-wide
// default loop. Children inherit their parent's context. When the engine emits a
// signal on the target context itself, the event fires inline; otherwise it is
// posted and fires in emission order.
//
// # Engine Lifetime
//
// The engine is initialized when the first wrapper opens and shut down when the
// last one closes. A failed initialization is permanent for the runtime: every
// later open fails with the same error.
//
// # Thread Safety
//
// All wrappers are safe for concurrent use. Close blocks until operations already
// running on the same wrapper return. Closing a parent never affects its children.
package frida
