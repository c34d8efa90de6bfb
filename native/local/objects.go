package local

import (
	"context"
	"path"
	"sort"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/frida-go/native"
	"github.com/wippyai/frida-go/resource"
)

type deviceManager struct {
	e   *Engine
	ptr native.Pointer
}

func (m *deviceManager) Drop() {
	m.e.mu.Lock()
	defer m.e.mu.Unlock()
	delete(m.e.managers, m.ptr)
}

type device struct {
	cfg         DeviceConfig
	processes   map[uint32]*process
	executables map[string]struct{}
	sessions    map[native.Pointer]*session
	ptr         native.Pointer
	lost        bool
}

type process struct {
	name      string
	argv      []string
	envp      []string
	pid       uint32
	suspended bool
}

type session struct {
	e        *Engine
	dev      *device
	scripts  map[native.Pointer]*script
	id       string
	ptr      native.Pointer
	pid      uint32
	detached bool
}

func (s *session) Drop() {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	delete(s.dev.sessions, s.ptr)
	s.detached = true
}

type script struct {
	e         *Engine
	sess      *session
	compiled  wazero.CompiledModule
	module    api.Module
	name      string
	ptr       native.Pointer
	destroyed bool
}

func (sc *script) Drop() {
	sc.e.mu.Lock()
	defer sc.e.mu.Unlock()
	ctx := context.Background()
	if sc.module != nil {
		_ = sc.module.Close(ctx)
		sc.module = nil
	}
	if sc.compiled != nil {
		_ = sc.compiled.Close(ctx)
		sc.compiled = nil
	}
	delete(sc.sess.scripts, sc.ptr)
}

func (e *Engine) insertLocked(typeID uint32, v any) (native.Pointer, error) {
	h, err := e.table.Insert(typeID, v)
	if err != nil {
		return 0, err
	}
	return native.Pointer(h), nil
}

func (e *Engine) lookupLocked(p native.Pointer, typeID uint32) any {
	if e.table == nil {
		return nil
	}
	v, ok := e.table.GetTyped(resource.Handle(p), typeID)
	if !ok {
		return nil
	}
	return v
}

func (e *Engine) deviceLocked(p native.Pointer) *device {
	if v := e.lookupLocked(p, typeDevice); v != nil {
		return v.(*device)
	}
	return nil
}

func (e *Engine) sessionLocked(p native.Pointer) *session {
	if v := e.lookupLocked(p, typeSession); v != nil {
		return v.(*session)
	}
	return nil
}

func (e *Engine) scriptLocked(p native.Pointer) *script {
	if v := e.lookupLocked(p, typeScript); v != nil {
		return v.(*script)
	}
	return nil
}

// addDeviceLocked creates a device whose initial reference belongs to the engine's
// device list.
func (e *Engine) addDeviceLocked(dc DeviceConfig) error {
	dev := &device{
		cfg:         dc,
		processes:   make(map[uint32]*process, len(dc.Processes)),
		executables: make(map[string]struct{}, len(dc.Executables)),
		sessions:    make(map[native.Pointer]*session),
	}
	for _, pc := range dc.Processes {
		dev.processes[pc.PID] = &process{pid: pc.PID, name: pc.Name}
		if pc.PID >= e.nextPID {
			e.nextPID = pc.PID + 1
		}
	}
	for _, exe := range dc.Executables {
		dev.executables[exe] = struct{}{}
	}

	p, err := e.insertLocked(typeDevice, dev)
	if err != nil {
		return err
	}
	dev.ptr = p
	e.devices = append(e.devices, dev)
	return nil
}

func (e *Engine) emitChangedLocked() {
	for p := range e.managers {
		e.emitLocked(p, native.SignalChanged)
	}
}

// AddDevice adds a device to the inventory and returns its id. A running engine
// announces it with "changed" on every device manager.
func (e *Engine) AddDevice(dc DeviceConfig) (string, error) {
	dc = withID(dc)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.inventory = append(e.inventory, dc)
	if !e.running {
		return dc.ID, nil
	}
	if err := e.addDeviceLocked(dc); err != nil {
		return "", err
	}
	e.emitChangedLocked()
	return dc.ID, nil
}

// RemoveDevice removes a device from the inventory. A running engine emits "lost"
// on the device, "detached" on each of its sessions and "changed" on every device
// manager. Reports whether a device with that id existed.
func (e *Engine) RemoveDevice(id string) bool {
	e.mu.Lock()

	found := false
	for i, dc := range e.inventory {
		if dc.ID == id {
			e.inventory = append(e.inventory[:i:i], e.inventory[i+1:]...)
			found = true
			break
		}
	}

	var gone *device
	if e.running {
		for i, dev := range e.devices {
			if dev.cfg.ID == id {
				gone = dev
				e.devices = append(e.devices[:i:i], e.devices[i+1:]...)
				break
			}
		}
	}
	if gone != nil {
		gone.lost = true
		e.emitLocked(gone.ptr, native.SignalLost)
		for _, s := range gone.sessions {
			e.detachLocked(s)
		}
		e.emitChangedLocked()
	}
	t := e.table
	e.mu.Unlock()

	if gone != nil {
		if _, ok := t.Unref(resource.Handle(gone.ptr)); !ok {
			Logger().Debug("device destroyed before removal", zap.String("device", id))
		}
		Logger().Info("device removed", zap.String("device", id))
		return true
	}
	return found
}

// Device manager

// NewDeviceManager implements native.DeviceManagerAPI. Returns 0 when stopped.
func (e *Engine) NewDeviceManager() native.Pointer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return 0
	}
	m := &deviceManager{e: e}
	p, err := e.insertLocked(typeDeviceManager, m)
	if err != nil {
		Logger().Error("creating device manager", zap.Error(err))
		return 0
	}
	m.ptr = p
	e.managers[p] = struct{}{}
	return p
}

// EnumerateDevices implements native.DeviceManagerAPI. Each returned pointer carries
// a new reference.
func (e *Engine) EnumerateDevices(mgr native.Pointer) ([]native.Pointer, *native.Error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lookupLocked(mgr, typeDeviceManager) == nil {
		return nil, native.NewError(native.CodeInvalidArgument, "Invalid device manager")
	}
	out := make([]native.Pointer, 0, len(e.devices))
	for _, dev := range e.devices {
		if e.table.Ref(resource.Handle(dev.ptr)) {
			out = append(out, dev.ptr)
		}
	}
	return out, nil
}

// Device

// DeviceID implements native.DeviceAPI.
func (e *Engine) DeviceID(p native.Pointer) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if dev := e.deviceLocked(p); dev != nil {
		return dev.cfg.ID
	}
	return ""
}

// DeviceName implements native.DeviceAPI.
func (e *Engine) DeviceName(p native.Pointer) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if dev := e.deviceLocked(p); dev != nil {
		return dev.cfg.Name
	}
	return ""
}

// DeviceIcon implements native.DeviceAPI. Returns nil for devices without an icon.
func (e *Engine) DeviceIcon(p native.Pointer) *native.Icon {
	e.mu.Lock()
	defer e.mu.Unlock()
	if dev := e.deviceLocked(p); dev != nil {
		return dev.cfg.Icon
	}
	return nil
}

// DeviceType implements native.DeviceAPI.
func (e *Engine) DeviceType(p native.Pointer) native.DeviceType {
	e.mu.Lock()
	defer e.mu.Unlock()
	if dev := e.deviceLocked(p); dev != nil {
		return dev.cfg.Type
	}
	return native.DeviceTypeLocal
}

func (e *Engine) liveDeviceLocked(p native.Pointer) (*device, *native.Error) {
	dev := e.deviceLocked(p)
	if dev == nil {
		return nil, native.NewError(native.CodeInvalidArgument, "Invalid device")
	}
	if dev.lost {
		return nil, native.NewError(native.CodeServerNotRunning, "Device is gone")
	}
	return dev, nil
}

// EnumerateProcesses implements native.DeviceAPI. Processes are ordered by pid.
func (e *Engine) EnumerateProcesses(p native.Pointer) ([]native.Process, *native.Error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	dev, nerr := e.liveDeviceLocked(p)
	if nerr != nil {
		return nil, nerr
	}
	out := make([]native.Process, 0, len(dev.processes))
	for _, proc := range dev.processes {
		out = append(out, native.Process{PID: proc.pid, Name: proc.name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out, nil
}

// Spawn implements native.DeviceAPI. The process starts suspended.
func (e *Engine) Spawn(p native.Pointer, program string, argv, envp []string) (uint32, *native.Error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	dev, nerr := e.liveDeviceLocked(p)
	if nerr != nil {
		return 0, nerr
	}
	if _, ok := dev.executables[program]; !ok {
		return 0, native.NewError(native.CodeExecutableNotFound, "Unable to find executable at '%s'", program)
	}

	pid := e.nextPID
	e.nextPID++
	dev.processes[pid] = &process{
		pid:       pid,
		name:      path.Base(program),
		argv:      append([]string(nil), argv...),
		envp:      append([]string(nil), envp...),
		suspended: true,
	}
	Logger().Debug("process spawned",
		zap.String("device", dev.cfg.ID),
		zap.String("program", program),
		zap.Uint32("pid", pid))
	return pid, nil
}

// Resume implements native.DeviceAPI.
func (e *Engine) Resume(p native.Pointer, pid uint32) *native.Error {
	e.mu.Lock()
	defer e.mu.Unlock()
	dev, nerr := e.liveDeviceLocked(p)
	if nerr != nil {
		return nerr
	}
	proc, ok := dev.processes[pid]
	if !ok {
		return native.NewError(native.CodeProcessNotFound, "Unable to find process with pid %d", pid)
	}
	if !proc.suspended {
		return native.NewError(native.CodeInvalidOperation, "Process with pid %d is not suspended", pid)
	}
	proc.suspended = false
	return nil
}

// Kill implements native.DeviceAPI. Sessions attached to the process are detached.
func (e *Engine) Kill(p native.Pointer, pid uint32) *native.Error {
	e.mu.Lock()
	defer e.mu.Unlock()
	dev, nerr := e.liveDeviceLocked(p)
	if nerr != nil {
		return nerr
	}
	if _, ok := dev.processes[pid]; !ok {
		return native.NewError(native.CodeProcessNotFound, "Unable to find process with pid %d", pid)
	}
	delete(dev.processes, pid)
	for _, s := range dev.sessions {
		if s.pid == pid {
			e.detachLocked(s)
		}
	}
	return nil
}

// Attach implements native.DeviceAPI.
func (e *Engine) Attach(p native.Pointer, pid uint32) (native.Pointer, *native.Error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	dev, nerr := e.liveDeviceLocked(p)
	if nerr != nil {
		return 0, nerr
	}
	if _, ok := dev.processes[pid]; !ok {
		return 0, native.NewError(native.CodeProcessNotFound, "Unable to find process with pid %d", pid)
	}

	s := &session{
		e:       e,
		dev:     dev,
		id:      uuid.NewString(),
		pid:     pid,
		scripts: make(map[native.Pointer]*script),
	}
	sp, err := e.insertLocked(typeSession, s)
	if err != nil {
		return 0, native.NewError(native.CodeTransport, "%v", err)
	}
	s.ptr = sp
	dev.sessions[sp] = s
	return sp, nil
}

// Session

// SessionPID implements native.SessionAPI.
func (e *Engine) SessionPID(p native.Pointer) uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s := e.sessionLocked(p); s != nil {
		return s.pid
	}
	return 0
}

// SessionID implements native.SessionAPI.
func (e *Engine) SessionID(p native.Pointer) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s := e.sessionLocked(p); s != nil {
		return s.id
	}
	return ""
}

// Detach implements native.SessionAPI. Detaching twice is a no-op.
func (e *Engine) Detach(p native.Pointer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s := e.sessionLocked(p); s != nil {
		e.detachLocked(s)
	}
}

// detachLocked destroys the session's scripts, then emits "detached".
func (e *Engine) detachLocked(s *session) {
	if s.detached {
		return
	}
	s.detached = true
	for _, sc := range s.scripts {
		e.destroyScriptLocked(sc)
	}
	e.emitLocked(s.ptr, native.SignalDetached)
}

// CreateScript implements native.SessionAPI. source is a WebAssembly module.
func (e *Engine) CreateScript(p native.Pointer, name, source string) (native.Pointer, *native.Error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.sessionLocked(p)
	if s == nil {
		return 0, native.NewError(native.CodeInvalidArgument, "Invalid session")
	}
	if s.detached {
		return 0, native.NewError(native.CodeInvalidOperation, "Session is gone")
	}

	compiled, err := e.wasm.CompileModule(context.Background(), []byte(source))
	if err != nil {
		return 0, native.NewError(native.CodeInvalidArgument, "Script(%s): %v", name, err)
	}

	sc := &script{e: e, sess: s, name: name, compiled: compiled}
	sp, err := e.insertLocked(typeScript, sc)
	if err != nil {
		_ = compiled.Close(context.Background())
		return 0, native.NewError(native.CodeTransport, "%v", err)
	}
	sc.ptr = sp
	s.scripts[sp] = sc
	return sp, nil
}

// Script

// ScriptName implements native.ScriptAPI.
func (e *Engine) ScriptName(p native.Pointer) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sc := e.scriptLocked(p); sc != nil {
		return sc.name
	}
	return ""
}

func (e *Engine) liveScriptLocked(p native.Pointer) (*script, *native.Error) {
	sc := e.scriptLocked(p)
	if sc == nil {
		return nil, native.NewError(native.CodeInvalidArgument, "Invalid script")
	}
	if sc.destroyed {
		return nil, native.NewError(native.CodeInvalidOperation, "Script is destroyed")
	}
	return sc, nil
}

// LoadScript implements native.ScriptAPI. It instantiates the compiled module,
// running its start function.
func (e *Engine) LoadScript(p native.Pointer) *native.Error {
	e.mu.Lock()
	defer e.mu.Unlock()
	sc, nerr := e.liveScriptLocked(p)
	if nerr != nil {
		return nerr
	}
	if sc.module != nil {
		return native.NewError(native.CodeInvalidOperation, "Script is already loaded")
	}

	mod, err := e.wasm.InstantiateModule(context.Background(), sc.compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return native.NewError(native.CodeInvalidOperation, "Script(%s) failed to load: %v", sc.name, err)
	}
	sc.module = mod
	return nil
}

// UnloadScript implements native.ScriptAPI. The script is destroyed and emits
// "destroyed".
func (e *Engine) UnloadScript(p native.Pointer) *native.Error {
	e.mu.Lock()
	defer e.mu.Unlock()
	sc, nerr := e.liveScriptLocked(p)
	if nerr != nil {
		return nerr
	}
	e.destroyScriptLocked(sc)
	return nil
}

func (e *Engine) destroyScriptLocked(sc *script) {
	if sc.destroyed {
		return
	}
	sc.destroyed = true
	if sc.module != nil {
		if err := sc.module.Close(context.Background()); err != nil {
			Logger().Warn("closing script module", zap.String("script", sc.name), zap.Error(err))
		}
		sc.module = nil
	}
	e.emitLocked(sc.ptr, native.SignalDestroyed)
}
