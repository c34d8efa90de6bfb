package native

// Object is the reference counting and signal surface shared by all engine objects.
type Object interface {
	Ref(p Pointer)
	Unref(p Pointer)
	Connect(p Pointer, signal string, cb Callback, userData uintptr) SignalID
	Disconnect(p Pointer, id SignalID)
}

// DeviceManagerAPI enumerates devices.
type DeviceManagerAPI interface {
	NewDeviceManager() Pointer
	EnumerateDevices(mgr Pointer) ([]Pointer, *Error)
}

// DeviceAPI is the device surface. Returned Pointers are owned by the caller.
type DeviceAPI interface {
	DeviceID(dev Pointer) string
	DeviceName(dev Pointer) string
	DeviceIcon(dev Pointer) *Icon
	DeviceType(dev Pointer) DeviceType
	EnumerateProcesses(dev Pointer) ([]Process, *Error)
	Spawn(dev Pointer, path string, argv, envp []string) (uint32, *Error)
	Resume(dev Pointer, pid uint32) *Error
	Kill(dev Pointer, pid uint32) *Error
	Attach(dev Pointer, pid uint32) (Pointer, *Error)
}

// SessionAPI is the session surface.
type SessionAPI interface {
	SessionPID(s Pointer) uint32
	SessionID(s Pointer) string
	Detach(s Pointer)
	CreateScript(s Pointer, name, source string) (Pointer, *Error)
}

// ScriptAPI is the script surface.
type ScriptAPI interface {
	ScriptName(sc Pointer) string
	LoadScript(sc Pointer) *Error
	UnloadScript(sc Pointer) *Error
}

// Library is a complete engine backend.
type Library interface {
	// Init performs one-time engine initialization.
	Init() error
	// Shutdown releases everything Init acquired.
	Shutdown()

	Object
	DeviceManagerAPI
	DeviceAPI
	SessionAPI
	ScriptAPI
}
