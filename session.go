package frida

import (
	"github.com/wippyai/frida-go/bridge"
	"github.com/wippyai/frida-go/dispatch"
	"github.com/wippyai/frida-go/native"
)

// Session is an attachment to one process.
type Session struct {
	handle *bridge.Handle
	lib    native.Library

	// Detached fires when the session ends, whether by Detach, process exit or
	// device loss.
	Detached bridge.Event[*Session]
}

func openSession(rt *bridge.Runtime, ptr native.Pointer, ctx dispatch.Context) (*Session, error) {
	s := &Session{lib: rt.Library()}
	h, err := bridge.Open(rt, ptr, ctx, bridge.Binding{
		Kind:   "Session",
		Signal: native.SignalDetached,
		Notify: func() { s.Detached.Emit(s) },
	})
	if err != nil {
		return nil, err
	}
	s.handle = h
	return s, nil
}

// PID returns the pid of the attached process.
func (s *Session) PID() (uint32, error) {
	return bridge.Get(s.handle, "pid", s.lib.SessionPID)
}

// ID returns the engine-assigned session id.
func (s *Session) ID() (string, error) {
	return bridge.Get(s.handle, "id", s.lib.SessionID)
}

// Detach ends the session. Its scripts are destroyed first.
func (s *Session) Detach() error {
	return bridge.Exec(s.handle, "detach", func(p native.Pointer) *native.Error {
		s.lib.Detach(p)
		return nil
	})
}

// CreateScript compiles source into a script owned by the caller.
func (s *Session) CreateScript(name, source string) (*Script, error) {
	return openChild(s.handle, "create_script", func(p native.Pointer) (native.Pointer, *native.Error) {
		return s.lib.CreateScript(p, name, source)
	}, openScript)
}

// Context returns the target context events are delivered on.
func (s *Session) Context() dispatch.Context {
	return s.handle.Context()
}

// Close releases the session. It does not detach.
func (s *Session) Close() error {
	return s.handle.Close()
}
