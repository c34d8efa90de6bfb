package frida

import (
	"github.com/wippyai/frida-go/bridge"
	"github.com/wippyai/frida-go/dispatch"
	"github.com/wippyai/frida-go/native"
)

// Manager enumerates the devices of an engine.
type Manager struct {
	handle *bridge.Handle
	lib    native.Library

	// Changed fires when devices are added or removed.
	Changed bridge.Event[*Manager]
}

// NewManager opens a device manager on lib. The engine is initialized if no other
// wrapper holds it.
func NewManager(lib native.Library, opts ...Option) (*Manager, error) {
	o, err := resolve(lib, opts)
	if err != nil {
		return nil, err
	}

	// Hold the engine while the manager pointer is created and handed over.
	if err := o.rt.Acquire(); err != nil {
		return nil, err
	}
	defer o.rt.Release()

	m := &Manager{lib: lib}
	h, err := bridge.Open(o.rt, lib.NewDeviceManager(), o.ctx, bridge.Binding{
		Kind:   "DeviceManager",
		Signal: native.SignalChanged,
		Notify: func() { m.Changed.Emit(m) },
	})
	if err != nil {
		return nil, err
	}
	m.handle = h
	return m, nil
}

// EnumerateDevices returns the current devices. Each Device is owned by the caller.
func (m *Manager) EnumerateDevices() ([]*Device, error) {
	var openErr error
	devices, err := bridge.Call(m.handle, "enumerate_devices", func(p native.Pointer) ([]*Device, *native.Error) {
		ptrs, nerr := m.lib.EnumerateDevices(p)
		if nerr != nil {
			return nil, nerr
		}
		out := make([]*Device, 0, len(ptrs))
		for i, dp := range ptrs {
			d, err := openDevice(m.handle.Runtime(), dp, m.handle.Context())
			if err != nil {
				openErr = err
				for _, rest := range ptrs[i+1:] {
					m.lib.Unref(rest)
				}
				for _, opened := range out {
					_ = opened.Close()
				}
				return nil, nil
			}
			out = append(out, d)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return devices, openErr
}

// Context returns the target context events are delivered on.
func (m *Manager) Context() dispatch.Context {
	return m.handle.Context()
}

// Close releases the manager. Devices it returned stay open.
func (m *Manager) Close() error {
	return m.handle.Close()
}
