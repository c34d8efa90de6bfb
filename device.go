package frida

import (
	"fmt"
	"image"
	"sync"

	"github.com/wippyai/frida-go/bridge"
	"github.com/wippyai/frida-go/dispatch"
	"github.com/wippyai/frida-go/native"
)

// Device is a machine the engine can instrument processes on.
type Device struct {
	handle   *bridge.Handle
	lib      native.Library
	icon     image.Image
	iconOnce sync.Once

	// Lost fires when the device disappears.
	Lost bridge.Event[*Device]
}

func openDevice(rt *bridge.Runtime, ptr native.Pointer, ctx dispatch.Context) (*Device, error) {
	d := &Device{lib: rt.Library()}
	h, err := bridge.Open(rt, ptr, ctx, bridge.Binding{
		Kind:   "Device",
		Signal: native.SignalLost,
		Notify: func() { d.Lost.Emit(d) },
	})
	if err != nil {
		return nil, err
	}
	d.handle = h
	return d, nil
}

// ID returns the device identifier.
func (d *Device) ID() (string, error) {
	return bridge.Get(d.handle, "id", d.lib.DeviceID)
}

// Name returns the human-readable device name.
func (d *Device) Name() (string, error) {
	return bridge.Get(d.handle, "name", d.lib.DeviceName)
}

// Icon returns the device icon, or nil if it has none. The image is converted on
// first use and cached until Close.
func (d *Device) Icon() (image.Image, error) {
	return bridge.Get(d.handle, "icon", func(p native.Pointer) image.Image {
		d.iconOnce.Do(func() {
			d.icon = iconImage(d.lib.DeviceIcon(p))
		})
		return d.icon
	})
}

// Type returns the device classification.
func (d *Device) Type() (DeviceType, error) {
	return bridge.Get(d.handle, "type", func(p native.Pointer) DeviceType {
		return deviceType(d.lib.DeviceType(p))
	})
}

// EnumerateProcesses lists the device's processes ordered by pid.
func (d *Device) EnumerateProcesses() ([]Process, error) {
	return bridge.Call(d.handle, "enumerate_processes", func(p native.Pointer) ([]Process, *native.Error) {
		procs, nerr := d.lib.EnumerateProcesses(p)
		if nerr != nil {
			return nil, nerr
		}
		out := make([]Process, len(procs))
		for i, proc := range procs {
			out[i] = Process{PID: proc.PID, Name: proc.Name, icon: proc.Icon}
		}
		return out, nil
	})
}

// Spawn starts program suspended and returns its pid.
func (d *Device) Spawn(program string, argv, envp []string) (uint32, error) {
	return bridge.Call(d.handle, "spawn", func(p native.Pointer) (uint32, *native.Error) {
		return d.lib.Spawn(p, program, argv, envp)
	})
}

// Resume resumes a spawned process.
func (d *Device) Resume(pid uint32) error {
	return bridge.Exec(d.handle, "resume", func(p native.Pointer) *native.Error {
		return d.lib.Resume(p, pid)
	})
}

// Kill terminates a process. Sessions attached to it are detached.
func (d *Device) Kill(pid uint32) error {
	return bridge.Exec(d.handle, "kill", func(p native.Pointer) *native.Error {
		return d.lib.Kill(p, pid)
	})
}

// Attach opens a session on a process. The session is independent of the device:
// closing the device leaves it open.
func (d *Device) Attach(pid uint32) (*Session, error) {
	return openChild(d.handle, "attach", func(p native.Pointer) (native.Pointer, *native.Error) {
		return d.lib.Attach(p, pid)
	}, openSession)
}

// String formats the device as Id: "<id>", Name: "<name>", Type: <type>.
func (d *Device) String() string {
	s, err := bridge.Get(d.handle, "to_string", func(p native.Pointer) string {
		return fmt.Sprintf("Id: %q, Name: %q, Type: %s",
			d.lib.DeviceID(p), d.lib.DeviceName(p), deviceType(d.lib.DeviceType(p)))
	})
	if err != nil {
		return "Device (disposed)"
	}
	return s
}

// Context returns the target context events are delivered on.
func (d *Device) Context() dispatch.Context {
	return d.handle.Context()
}

// Close releases the device. Safe to call more than once.
func (d *Device) Close() error {
	return d.handle.Close()
}
