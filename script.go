package frida

import (
	"github.com/wippyai/frida-go/bridge"
	"github.com/wippyai/frida-go/dispatch"
	"github.com/wippyai/frida-go/native"
)

// Script is code injected through a session.
type Script struct {
	handle *bridge.Handle
	lib    native.Library

	// Destroyed fires when the script is unloaded or its session ends.
	Destroyed bridge.Event[*Script]
}

func openScript(rt *bridge.Runtime, ptr native.Pointer, ctx dispatch.Context) (*Script, error) {
	sc := &Script{lib: rt.Library()}
	h, err := bridge.Open(rt, ptr, ctx, bridge.Binding{
		Kind:   "Script",
		Signal: native.SignalDestroyed,
		Notify: func() { sc.Destroyed.Emit(sc) },
	})
	if err != nil {
		return nil, err
	}
	sc.handle = h
	return sc, nil
}

// Name returns the script name.
func (sc *Script) Name() (string, error) {
	return bridge.Get(sc.handle, "name", sc.lib.ScriptName)
}

// Load runs the script.
func (sc *Script) Load() error {
	return bridge.Exec(sc.handle, "load", sc.lib.LoadScript)
}

// Unload stops and destroys the script.
func (sc *Script) Unload() error {
	return bridge.Exec(sc.handle, "unload", sc.lib.UnloadScript)
}

// Context returns the target context events are delivered on.
func (sc *Script) Context() dispatch.Context {
	return sc.handle.Context()
}

// Close releases the script. It does not unload.
func (sc *Script) Close() error {
	return sc.handle.Close()
}
