package local

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/wippyai/frida-go/dispatch"
	"github.com/wippyai/frida-go/native"
	"github.com/wippyai/frida-go/resource"
)

// Object type ids in the handle table.
const (
	typeDeviceManager uint32 = iota + 1
	typeDevice
	typeSession
	typeScript
)

const firstSpawnPID = 10000

// Engine is an in-process native.Library.
type Engine struct {
	cfg       Config
	inventory []DeviceConfig
	signals   *signalHub

	mu       sync.Mutex
	running  bool
	table    *resource.Table
	wasm     wazero.Runtime
	loop     *dispatch.Loop
	main     dispatch.Context
	devices  []*device
	managers map[native.Pointer]struct{}
	nextPID  uint32

	inits         atomic.Int64
	shutdowns     atomic.Int64
	invalidUnrefs atomic.Int64
}

var _ native.Library = (*Engine)(nil)

// New creates an engine. Nothing is allocated until Init.
func New(cfg Config) *Engine {
	inventory := make([]DeviceConfig, len(cfg.Devices))
	for i, dc := range cfg.Devices {
		inventory[i] = withID(dc)
	}
	return &Engine{
		cfg:       cfg,
		inventory: inventory,
		signals:   newSignalHub(),
	}
}

// withID assigns a random id to a device configured without one.
func withID(dc DeviceConfig) DeviceConfig {
	if dc.ID == "" {
		dc.ID = uuid.NewString()
	}
	return dc
}

// Init implements native.Library.
func (e *Engine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("engine already initialized")
	}
	if e.cfg.FailInit != nil {
		return e.cfg.FailInit
	}

	e.table = resource.NewTable()
	e.table.Subscribe(e)
	e.wasm = wazero.NewRuntime(context.Background())
	if e.cfg.MainContext != nil {
		e.main = e.cfg.MainContext
	} else {
		e.loop = dispatch.NewLoop("frida-main")
		e.main = e.loop
	}
	e.managers = make(map[native.Pointer]struct{})
	e.nextPID = firstSpawnPID

	for _, dc := range e.inventory {
		if err := e.addDeviceLocked(dc); err != nil {
			return err
		}
	}

	e.running = true
	e.inits.Add(1)
	Logger().Info("engine started", zap.Int("devices", len(e.devices)))
	return nil
}

// Shutdown implements native.Library. Objects still referenced are destroyed.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	table, wasm, loop := e.table, e.wasm, e.loop
	e.devices = nil
	e.managers = nil
	e.loop = nil
	e.main = nil
	e.mu.Unlock()

	if n := table.Len(); n > 0 {
		Logger().Warn("engine shut down with live objects", zap.Int("objects", n))
	}
	_ = table.Close()
	e.signals.clear()
	if err := wasm.Close(context.Background()); err != nil {
		Logger().Error("closing script runtime", zap.Error(err))
	}
	if loop != nil {
		loop.Close()
	}

	e.shutdowns.Add(1)
	Logger().Info("engine stopped")
}

// OnResourceEvent traces object lifetimes and drops the handlers of destroyed objects.
func (e *Engine) OnResourceEvent(ev resource.Event) {
	switch ev.Type {
	case resource.EventCreated:
		Logger().Debug("object created",
			zap.String("type", typeName(ev.TypeID)),
			zap.Uint32("ptr", uint32(ev.Handle)))
	case resource.EventDestroyed:
		e.signals.drop(native.Pointer(ev.Handle))
		Logger().Debug("object destroyed",
			zap.String("type", typeName(ev.TypeID)),
			zap.Uint32("ptr", uint32(ev.Handle)))
	}
}

func typeName(id uint32) string {
	switch id {
	case typeDeviceManager:
		return "DeviceManager"
	case typeDevice:
		return "Device"
	case typeSession:
		return "Session"
	case typeScript:
		return "Script"
	}
	return "unknown"
}

func (e *Engine) currentTable() *resource.Table {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return nil
	}
	return e.table
}

// Ref implements native.Object.
func (e *Engine) Ref(p native.Pointer) {
	t := e.currentTable()
	if t == nil || !t.Ref(resource.Handle(p)) {
		Logger().Error("ref of invalid pointer", zap.Uintptr("ptr", uintptr(p)))
	}
}

// Unref implements native.Object. Releasing a reference that is not held is
// counted and logged.
func (e *Engine) Unref(p native.Pointer) {
	t := e.currentTable()
	if t != nil {
		if _, ok := t.Unref(resource.Handle(p)); ok {
			return
		}
	}
	e.invalidUnrefs.Add(1)
	Logger().Error("unref of invalid pointer", zap.Uintptr("ptr", uintptr(p)))
}

// Connect implements native.Object. Returns 0 for an invalid pointer.
func (e *Engine) Connect(p native.Pointer, signal string, cb native.Callback, userData uintptr) native.SignalID {
	t := e.currentTable()
	if t == nil {
		return 0
	}
	if _, ok := t.Get(resource.Handle(p)); !ok {
		Logger().Error("connect on invalid pointer",
			zap.Uintptr("ptr", uintptr(p)),
			zap.String("signal", signal))
		return 0
	}
	return e.signals.connect(p, signal, cb, userData)
}

// Disconnect implements native.Object.
func (e *Engine) Disconnect(p native.Pointer, id native.SignalID) {
	e.signals.disconnect(p, id)
}

// emitLocked posts a signal emission to the main context. Handlers disconnected before
// the emission runs are skipped.
func (e *Engine) emitLocked(p native.Pointer, signal string) {
	hs := e.signals.snapshot(p, signal)
	if len(hs) == 0 || e.main == nil {
		return
	}
	ok := e.main.Post(func() {
		for _, h := range hs {
			if h.disconnected.Load() {
				continue
			}
			h.cb(p, h.userData)
		}
	})
	if !ok {
		Logger().Warn("signal dropped: main context closed",
			zap.Uintptr("ptr", uintptr(p)),
			zap.String("signal", signal))
	}
}

// EmitSignal emits signal on p as if the engine raised it.
func (e *Engine) EmitSignal(p native.Pointer, signal string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.emitLocked(p, signal)
}

// InitCount returns how many times Init succeeded.
func (e *Engine) InitCount() int64 {
	return e.inits.Load()
}

// ShutdownCount returns how many times Shutdown tore the engine down.
func (e *Engine) ShutdownCount() int64 {
	return e.shutdowns.Load()
}

// InvalidUnrefs returns how many Unref calls named a pointer with no live reference.
func (e *Engine) InvalidUnrefs() int64 {
	return e.invalidUnrefs.Load()
}

// Running reports whether the engine is initialized.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Objects returns the number of live engine objects.
func (e *Engine) Objects() int {
	t := e.currentTable()
	if t == nil {
		return 0
	}
	return t.Len()
}

// RefCount returns the reference count of p, or 0 if p is not live.
func (e *Engine) RefCount(p native.Pointer) uint32 {
	t := e.currentTable()
	if t == nil {
		return 0
	}
	return t.Refs(resource.Handle(p))
}

// Handlers returns the number of handlers connected to p.
func (e *Engine) Handlers(p native.Pointer) int {
	return e.signals.count(p)
}

// MainContext returns the context signals are emitted on, or nil when stopped.
func (e *Engine) MainContext() dispatch.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.main
}
