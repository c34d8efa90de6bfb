package frida

import (
	stderrors "errors"
	"image/color"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sourcegraph/conc"

	"github.com/wippyai/frida-go/bridge"
	"github.com/wippyai/frida-go/dispatch"
	"github.com/wippyai/frida-go/errors"
	"github.com/wippyai/frida-go/native"
	"github.com/wippyai/frida-go/native/local"
)

const (
	waitTimeout = 2 * time.Second
	emptyModule = "\x00asm\x01\x00\x00\x00"
)

type env struct {
	eng    *local.Engine
	rt     *bridge.Runtime
	host   *dispatch.Loop
	engine *dispatch.Loop
}

// newEnv starts an engine emitting signals on its own loop and a host loop that
// wrappers deliver events to.
func newEnv(t *testing.T, cfg local.Config) *env {
	t.Helper()
	engineLoop := dispatch.NewLoop("frida-test-engine")
	host := dispatch.NewLoop("frida-test-host")
	t.Cleanup(func() {
		host.Close()
		engineLoop.Close()
	})

	cfg.MainContext = engineLoop
	eng := local.New(cfg)
	return &env{
		eng:    eng,
		rt:     bridge.NewRuntime(eng, bridge.WithMetrics(bridge.NewMetrics(prometheus.NewRegistry()))),
		host:   host,
		engine: engineLoop,
	}
}

func testConfig() local.Config {
	cfg := local.DefaultConfig()
	cfg.Devices[0].Processes = append(cfg.Devices[0].Processes, local.ProcessConfig{PID: 100, Name: "app"})
	return cfg
}

func (e *env) manager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(e.eng, WithRuntime(e.rt), WithContext(e.host))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

// device opens the device with the given id and nothing else.
func (e *env) device(t *testing.T, id string) *Device {
	t.Helper()
	m := e.manager(t)
	defer m.Close()

	devices, err := m.EnumerateDevices()
	if err != nil {
		t.Fatalf("EnumerateDevices: %v", err)
	}
	var found *Device
	for _, d := range devices {
		if did, _ := d.ID(); did == id && found == nil {
			found = d
			continue
		}
		_ = d.Close()
	}
	if found == nil {
		t.Fatalf("device %q not found", id)
	}
	return found
}

// settle waits for queued emissions and the host deliveries they posted.
func (e *env) settle(t *testing.T) {
	t.Helper()
	if err := e.engine.Invoke(func() {}); err != nil {
		t.Fatalf("engine Invoke: %v", err)
	}
	if err := e.host.Invoke(func() {}); err != nil {
		t.Fatalf("host Invoke: %v", err)
	}
}

func TestNewManager_InitFailure(t *testing.T) {
	boom := stderrors.New("engine unavailable")
	eng := local.New(local.Config{FailInit: boom})
	rt := bridge.NewRuntime(eng, bridge.WithMetrics(bridge.NewMetrics(prometheus.NewRegistry())))

	loop := dispatch.NewLoop("frida-test-unused")
	defer loop.Close()

	_, err := NewManager(eng, WithRuntime(rt), WithContext(loop))
	if !stderrors.Is(err, errors.ErrRuntimeInit) {
		t.Fatalf("Expected RuntimeInit error, got %v", err)
	}
	if _, again := NewManager(eng, WithRuntime(rt)); again != err {
		t.Fatalf("Expected latched error, got %v", again)
	}
	if rt.Refs() != 0 {
		t.Fatalf("refs = %d", rt.Refs())
	}
}

func TestNewManager_RuntimeMismatch(t *testing.T) {
	e := newEnv(t, testConfig())
	_, err := NewManager(local.New(local.Config{}), WithRuntime(e.rt))
	if !stderrors.Is(err, errors.New(errors.PhaseConfig, errors.KindInvalidInput).Build()) {
		t.Fatalf("Expected config error, got %v", err)
	}
}

func TestNewManager_Registerer(t *testing.T) {
	e := newEnv(t, testConfig())
	reg := prometheus.NewRegistry()
	m, err := NewManager(e.eng, WithRuntime(e.rt), WithContext(e.host), WithRegisterer(reg))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "frida_runtime_active_refs" {
			found = true
		}
	}
	if !found {
		t.Fatal("runtime metrics not registered")
	}
}

func TestManager_EnumerateAndChanged(t *testing.T) {
	e := newEnv(t, testConfig())
	m := e.manager(t)
	defer m.Close()

	changed := make(chan bool, 1)
	m.Changed.Subscribe(func(sender *Manager, _ bridge.EventArgs) {
		if sender != m {
			t.Errorf("unexpected sender")
		}
		changed <- e.host.CheckAccess()
	})

	devices, err := m.EnumerateDevices()
	if err != nil {
		t.Fatalf("EnumerateDevices: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("Expected 2 devices, got %d", len(devices))
	}
	for _, d := range devices {
		_ = d.Close()
	}

	if _, err := e.eng.AddDevice(local.DeviceConfig{ID: "usb", Name: "Phone", Type: native.DeviceTypeTether}); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	select {
	case onHost := <-changed:
		if !onHost {
			t.Fatal("Changed did not fire on the host context")
		}
	case <-time.After(waitTimeout):
		t.Fatal("Changed not delivered")
	}

	devices, err = m.EnumerateDevices()
	if err != nil {
		t.Fatalf("EnumerateDevices: %v", err)
	}
	if len(devices) != 3 {
		t.Fatalf("Expected 3 devices, got %d", len(devices))
	}
	typ, err := devices[2].Type()
	if err != nil || typ != DeviceTypeTether {
		t.Fatalf("Type() = %v, %v", typ, err)
	}
	for _, d := range devices {
		_ = d.Close()
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := m.EnumerateDevices(); !errors.IsDisposed(err) {
		t.Fatalf("Expected disposed, got %v", err)
	}
}

func TestDevice_Properties(t *testing.T) {
	e := newEnv(t, testConfig())
	d := e.device(t, "local")
	defer d.Close()

	name, err := d.Name()
	if err != nil || name != "Local System" {
		t.Fatalf("Name() = %q, %v", name, err)
	}
	typ, err := d.Type()
	if err != nil || typ != DeviceTypeLocal {
		t.Fatalf("Type() = %v, %v", typ, err)
	}
	if got, want := d.String(), `Id: "local", Name: "Local System", Type: Local`; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}

	icon, err := d.Icon()
	if err != nil || icon == nil {
		t.Fatalf("Icon() = %v, %v", icon, err)
	}
	if b := icon.Bounds(); b.Dx() != 16 || b.Dy() != 16 {
		t.Fatalf("icon bounds %v", b)
	}
	again, _ := d.Icon()
	if again != icon {
		t.Fatal("icon was converted twice")
	}

	procs, err := d.EnumerateProcesses()
	if err != nil {
		t.Fatalf("EnumerateProcesses: %v", err)
	}
	if len(procs) != 4 || procs[0].PID != 1 || procs[0].Name != "init" {
		t.Fatalf("Unexpected processes %+v", procs)
	}
	if procs[0].Image() != nil {
		t.Fatal("process without icon produced an image")
	}

	remote := e.device(t, "socket")
	defer remote.Close()
	if icon, err := remote.Icon(); err != nil || icon != nil {
		t.Fatalf("remote Icon() = %v, %v", icon, err)
	}
}

func TestDevice_SpawnResumeKill(t *testing.T) {
	e := newEnv(t, testConfig())
	d := e.device(t, "local")
	defer d.Close()

	pid, err := d.Spawn("/bin/cat", []string{"cat", "-"}, []string{"TERM=dumb"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := d.Resume(pid); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	err = d.Resume(pid)
	nerr, ok := errors.AsNative(err)
	if !ok || nerr.Code != native.CodeInvalidOperation {
		t.Fatalf("second Resume: %v", err)
	}

	s, err := d.Attach(pid)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer s.Close()
	detached := make(chan struct{})
	s.Detached.Subscribe(func(*Session, bridge.EventArgs) { close(detached) })

	if err := d.Kill(pid); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	select {
	case <-detached:
	case <-time.After(waitTimeout):
		t.Fatal("Kill did not detach the session")
	}

	if _, err := d.Attach(pid); err == nil {
		t.Fatal("Attach to a killed process should fail")
	}
}

func TestDevice_DisposedOperations(t *testing.T) {
	e := newEnv(t, testConfig())
	d := e.device(t, "local")
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	tests := []struct {
		name string
		call func() error
	}{
		{"ID", func() error { _, err := d.ID(); return err }},
		{"Name", func() error { _, err := d.Name(); return err }},
		{"Icon", func() error { _, err := d.Icon(); return err }},
		{"Type", func() error { _, err := d.Type(); return err }},
		{"EnumerateProcesses", func() error { _, err := d.EnumerateProcesses(); return err }},
		{"Spawn", func() error { _, err := d.Spawn("/bin/cat", nil, nil); return err }},
		{"Resume", func() error { return d.Resume(1) }},
		{"Kill", func() error { return d.Kill(1) }},
		{"Attach", func() error { _, err := d.Attach(1); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.IsDisposed(err) {
				t.Errorf("Expected disposed, got %v", err)
			}
		})
	}

	if got := d.String(); got != "Device (disposed)" {
		t.Fatalf("String() = %q", got)
	}
	if e.rt.Refs() != 0 {
		t.Fatalf("refs = %d", e.rt.Refs())
	}
}

func TestSession_ScriptLifecycle(t *testing.T) {
	e := newEnv(t, testConfig())
	d := e.device(t, "local")
	defer d.Close()
	s, err := d.Attach(100)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer s.Close()

	id, err := s.ID()
	if err != nil || id == "" {
		t.Fatalf("ID() = %q, %v", id, err)
	}

	_, err = s.CreateScript("broken", "function() {}")
	if nerr, ok := errors.AsNative(err); !ok || nerr.Code != native.CodeInvalidArgument {
		t.Fatalf("CreateScript with invalid source: %v", err)
	}

	sc, err := s.CreateScript("agent", emptyModule)
	if err != nil {
		t.Fatalf("CreateScript: %v", err)
	}
	defer sc.Close()
	if name, err := sc.Name(); err != nil || name != "agent" {
		t.Fatalf("Name() = %q, %v", name, err)
	}

	var events []string
	sc.Destroyed.Subscribe(func(*Script, bridge.EventArgs) {
		if !e.host.CheckAccess() {
			t.Errorf("Destroyed fired off the host context")
		}
		events = append(events, "destroyed")
	})
	s.Detached.Subscribe(func(*Session, bridge.EventArgs) {
		events = append(events, "detached")
	})

	if err := sc.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s.Detach(); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	e.settle(t)

	if len(events) != 2 || events[0] != "destroyed" || events[1] != "detached" {
		t.Fatalf("Unexpected events %v", events)
	}
	if err := sc.Unload(); err == nil {
		t.Fatal("Unload of a destroyed script should fail")
	}
	if _, err := s.CreateScript("late", emptyModule); err == nil {
		t.Fatal("CreateScript on a detached session should fail")
	}
}

func TestDelivery_InlineOnEngineContext(t *testing.T) {
	main := dispatch.NewLoop("frida-test-shared")
	defer main.Close()

	cfg := testConfig()
	cfg.MainContext = main
	eng := local.New(cfg)
	rt := bridge.NewRuntime(eng, bridge.WithMetrics(bridge.NewMetrics(prometheus.NewRegistry())))

	m, err := NewManager(eng, WithRuntime(rt), WithContext(main))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	devices, err := m.EnumerateDevices()
	if err != nil {
		t.Fatalf("EnumerateDevices: %v", err)
	}
	_ = m.Close()

	d := devices[0]
	for _, other := range devices[1:] {
		_ = other.Close()
	}

	onLoop := make(chan bool, 1)
	d.Lost.Subscribe(func(dev *Device, _ bridge.EventArgs) {
		onLoop <- main.CheckAccess()
		// Closing from the handler must not wait on itself.
		_ = dev.Close()
	})
	eng.RemoveDevice("local")

	select {
	case ok := <-onLoop:
		if !ok {
			t.Fatal("Lost did not run on the shared context")
		}
	case <-time.After(waitTimeout):
		t.Fatal("Lost not delivered")
	}
	_ = main.Invoke(func() {})
	if rt.Refs() != 0 || eng.InvalidUnrefs() != 0 {
		t.Fatalf("refs=%d invalid unrefs=%d", rt.Refs(), eng.InvalidUnrefs())
	}
}

func TestDevice_ConcurrentCallsAndClose(t *testing.T) {
	e := newEnv(t, testConfig())
	d := e.device(t, "local")

	var wg conc.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Go(func() {
			for j := 0; j < 50; j++ {
				_, err := d.EnumerateProcesses()
				if err != nil && !errors.IsDisposed(err) {
					t.Errorf("unexpected error: %v", err)
					return
				}
			}
		})
	}
	for i := 0; i < 4; i++ {
		wg.Go(func() { _ = d.Close() })
	}
	wg.Wait()

	if e.rt.Refs() != 0 {
		t.Fatalf("refs = %d", e.rt.Refs())
	}
	if e.eng.InvalidUnrefs() != 0 {
		t.Fatalf("double unrefs: %d", e.eng.InvalidUnrefs())
	}
}

func TestDeviceType_String(t *testing.T) {
	tests := []struct {
		typ  DeviceType
		want string
	}{
		{DeviceTypeLocal, "Local"},
		{DeviceTypeTether, "Tether"},
		{DeviceTypeRemote, "Remote"},
	}
	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", int(tt.typ), got, tt.want)
		}
	}

	defer func() {
		if recover() == nil {
			t.Fatal("unknown device type should panic")
		}
	}()
	_ = DeviceType(7).String()
}

func TestIconImage(t *testing.T) {
	icon := &native.Icon{
		Width:     2,
		Height:    1,
		Rowstride: 12,
		Pixels:    []byte{1, 2, 3, 4, 5, 6, 7, 8, 0, 0, 0, 0},
	}
	img := Process{icon: icon}.Image()
	if img == nil {
		t.Fatal("Image() = nil")
	}
	if got := color.NRGBAModel.Convert(img.At(1, 0)).(color.NRGBA); got != (color.NRGBA{R: 5, G: 6, B: 7, A: 8}) {
		t.Fatalf("pixel (1,0) = %+v", got)
	}
	if iconImage(&native.Icon{}) != nil {
		t.Fatal("empty icon produced an image")
	}
}

func TestIconImage_Malformed(t *testing.T) {
	tests := []struct {
		name string
		icon *native.Icon
	}{
		{"short buffer", &native.Icon{Width: 4, Height: 4, Rowstride: 16, Pixels: make([]byte, 10)}},
		{"last row truncated", &native.Icon{Width: 2, Height: 2, Rowstride: 8, Pixels: make([]byte, 15)}},
		{"rowstride below width", &native.Icon{Width: 4, Height: 1, Rowstride: 8, Pixels: make([]byte, 64)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if img := iconImage(tt.icon); img != nil {
				t.Fatalf("Expected nil image, got %v", img.Bounds())
			}
		})
	}

	// The last row needs only Width*4 bytes, not a full Rowstride.
	exact := &native.Icon{Width: 2, Height: 2, Rowstride: 12, Pixels: make([]byte, 20)}
	if iconImage(exact) == nil {
		t.Fatal("icon with an unpadded last row was rejected")
	}
}
