package local

import (
	"errors"
	"testing"
	"time"

	"github.com/wippyai/frida-go/dispatch"
	"github.com/wippyai/frida-go/native"
)

// emptyModule is the smallest valid WebAssembly module.
const emptyModule = "\x00asm\x01\x00\x00\x00"

// trapModule traps in its start function.
const trapModule = "\x00asm\x01\x00\x00\x00" +
	"\x01\x04\x01\x60\x00\x00" + // type: func() -> ()
	"\x03\x02\x01\x00" + // function 0 has type 0
	"\x08\x01\x00" + // start: function 0
	"\x0a\x05\x01\x03\x00\x00\x0b" // code: unreachable

func startEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e := New(cfg)
	if err := e.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(e.Shutdown)
	return e
}

func devicePtr(t *testing.T, e *Engine, id string) native.Pointer {
	t.Helper()
	mgr := e.NewDeviceManager()
	defer e.Unref(mgr)
	devs, nerr := e.EnumerateDevices(mgr)
	if nerr != nil {
		t.Fatalf("EnumerateDevices: %s", nerr.Message)
	}
	var found native.Pointer
	for _, d := range devs {
		if found == 0 && e.DeviceID(d) == id {
			found = d
			continue
		}
		e.Unref(d)
	}
	if found == 0 {
		t.Fatalf("device %q not found", id)
	}
	return found
}

func TestEngine_InitShutdown(t *testing.T) {
	e := New(DefaultConfig())
	if e.Running() {
		t.Fatal("engine running before Init")
	}
	if err := e.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := e.Init(); err == nil {
		t.Fatal("second Init should fail")
	}
	if e.Objects() != 2 {
		t.Fatalf("Expected 2 device objects, got %d", e.Objects())
	}

	e.Shutdown()
	e.Shutdown()
	if e.InitCount() != 1 || e.ShutdownCount() != 1 {
		t.Fatalf("inits=%d shutdowns=%d", e.InitCount(), e.ShutdownCount())
	}
	if e.NewDeviceManager() != 0 {
		t.Fatal("NewDeviceManager should return 0 when stopped")
	}

	if err := e.Init(); err != nil {
		t.Fatalf("re-Init: %v", err)
	}
	e.Shutdown()
	if e.InitCount() != 2 || e.ShutdownCount() != 2 {
		t.Fatalf("inits=%d shutdowns=%d", e.InitCount(), e.ShutdownCount())
	}
}

func TestEngine_FailInit(t *testing.T) {
	boom := errors.New("boom")
	e := New(Config{FailInit: boom})
	if err := e.Init(); err != boom {
		t.Fatalf("Expected configured error, got %v", err)
	}
	if e.Running() || e.InitCount() != 0 {
		t.Fatal("failed Init must leave the engine stopped")
	}
}

func TestEngine_EnumerateDevicesRefs(t *testing.T) {
	e := startEngine(t, DefaultConfig())
	dev := devicePtr(t, e, "local")

	if got := e.RefCount(dev); got != 2 {
		t.Fatalf("Expected engine and caller refs, got %d", got)
	}
	if e.DeviceName(dev) != "Local System" {
		t.Fatalf("DeviceName = %q", e.DeviceName(dev))
	}
	if e.DeviceType(dev) != native.DeviceTypeLocal {
		t.Fatalf("DeviceType = %v", e.DeviceType(dev))
	}
	if icon := e.DeviceIcon(dev); icon == nil || icon.Width != 16 {
		t.Fatalf("DeviceIcon = %+v", icon)
	}

	e.Unref(dev)
	if got := e.RefCount(dev); got != 1 {
		t.Fatalf("Expected engine ref only, got %d", got)
	}
	if e.InvalidUnrefs() != 0 {
		t.Fatal("balanced unrefs counted as invalid")
	}

	if _, nerr := e.EnumerateDevices(dev); nerr == nil || nerr.Code != native.CodeInvalidArgument {
		t.Fatalf("EnumerateDevices on a device pointer: %+v", nerr)
	}
}

func TestEngine_InvalidUnref(t *testing.T) {
	e := startEngine(t, DefaultConfig())
	mgr := e.NewDeviceManager()
	e.Unref(mgr)
	e.Unref(mgr)
	if e.InvalidUnrefs() != 1 {
		t.Fatalf("Expected 1 invalid unref, got %d", e.InvalidUnrefs())
	}
}

func TestEngine_Processes(t *testing.T) {
	e := startEngine(t, DefaultConfig())
	dev := devicePtr(t, e, "local")
	defer e.Unref(dev)

	procs, nerr := e.EnumerateProcesses(dev)
	if nerr != nil {
		t.Fatalf("EnumerateProcesses: %s", nerr.Message)
	}
	if len(procs) != 3 || procs[0].PID != 1 || procs[2].Name != "target" {
		t.Fatalf("Unexpected processes %+v", procs)
	}

	tests := []struct {
		name    string
		run     func() *native.Error
		code    int
		message string
	}{
		{
			name: "spawn unknown executable",
			run: func() *native.Error {
				_, nerr := e.Spawn(dev, "/nope", nil, nil)
				return nerr
			},
			code:    native.CodeExecutableNotFound,
			message: "Unable to find executable at '/nope'",
		},
		{
			name:    "resume unknown pid",
			run:     func() *native.Error { return e.Resume(dev, 99) },
			code:    native.CodeProcessNotFound,
			message: "Unable to find process with pid 99",
		},
		{
			name:    "resume running process",
			run:     func() *native.Error { return e.Resume(dev, 412) },
			code:    native.CodeInvalidOperation,
			message: "Process with pid 412 is not suspended",
		},
		{
			name: "attach unknown pid",
			run: func() *native.Error {
				_, nerr := e.Attach(dev, 4242)
				return nerr
			},
			code:    native.CodeProcessNotFound,
			message: "Unable to find process with pid 4242",
		},
		{
			name:    "kill unknown pid",
			run:     func() *native.Error { return e.Kill(dev, 7) },
			code:    native.CodeProcessNotFound,
			message: "Unable to find process with pid 7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nerr := tt.run()
			if nerr == nil {
				t.Fatal("expected an error")
			}
			if nerr.Domain != native.ErrorDomain || nerr.Code != tt.code || nerr.Message != tt.message {
				t.Errorf("got %+v", nerr)
			}
		})
	}

	pid, nerr := e.Spawn(dev, "/bin/cat", []string{"cat"}, nil)
	if nerr != nil {
		t.Fatalf("Spawn: %s", nerr.Message)
	}
	if pid < firstSpawnPID {
		t.Fatalf("Unexpected pid %d", pid)
	}
	if nerr := e.Resume(dev, pid); nerr != nil {
		t.Fatalf("Resume: %s", nerr.Message)
	}
	if nerr := e.Resume(dev, pid); nerr == nil {
		t.Fatal("second Resume should fail")
	}
	if nerr := e.Kill(dev, pid); nerr != nil {
		t.Fatalf("Kill: %s", nerr.Message)
	}
}

func TestEngine_Scripts(t *testing.T) {
	e := startEngine(t, DefaultConfig())
	dev := devicePtr(t, e, "local")
	defer e.Unref(dev)

	s, nerr := e.Attach(dev, 1337)
	if nerr != nil {
		t.Fatalf("Attach: %s", nerr.Message)
	}
	defer e.Unref(s)
	if e.SessionPID(s) != 1337 || e.SessionID(s) == "" {
		t.Fatalf("session pid=%d id=%q", e.SessionPID(s), e.SessionID(s))
	}

	if _, nerr := e.CreateScript(s, "bad", "not wasm"); nerr == nil || nerr.Code != native.CodeInvalidArgument {
		t.Fatalf("CreateScript with invalid source: %+v", nerr)
	}

	sc, nerr := e.CreateScript(s, "hello", emptyModule)
	if nerr != nil {
		t.Fatalf("CreateScript: %s", nerr.Message)
	}
	if e.ScriptName(sc) != "hello" {
		t.Fatalf("ScriptName = %q", e.ScriptName(sc))
	}
	if nerr := e.LoadScript(sc); nerr != nil {
		t.Fatalf("LoadScript: %s", nerr.Message)
	}
	if nerr := e.LoadScript(sc); nerr == nil || nerr.Code != native.CodeInvalidOperation {
		t.Fatalf("second LoadScript: %+v", nerr)
	}
	if nerr := e.UnloadScript(sc); nerr != nil {
		t.Fatalf("UnloadScript: %s", nerr.Message)
	}
	if nerr := e.UnloadScript(sc); nerr == nil || nerr.Message != "Script is destroyed" {
		t.Fatalf("UnloadScript after destroy: %+v", nerr)
	}
	e.Unref(sc)

	trap, nerr := e.CreateScript(s, "trap", trapModule)
	if nerr != nil {
		t.Fatalf("CreateScript(trap): %s", nerr.Message)
	}
	defer e.Unref(trap)
	if nerr := e.LoadScript(trap); nerr == nil {
		t.Fatal("LoadScript should report the start function trap")
	}

	e.Detach(s)
	if _, nerr := e.CreateScript(s, "late", emptyModule); nerr == nil || nerr.Message != "Session is gone" {
		t.Fatalf("CreateScript after detach: %+v", nerr)
	}
}

type fired struct {
	ptr      native.Pointer
	userData uintptr
	onMain   bool
}

func TestEngine_SignalsArePostedToMainContext(t *testing.T) {
	main := dispatch.NewLoop("engine-test-main")
	defer main.Close()

	cfg := DefaultConfig()
	cfg.MainContext = main
	e := startEngine(t, cfg)

	mgr := e.NewDeviceManager()
	defer e.Unref(mgr)
	dev := devicePtr(t, e, "local")
	defer e.Unref(dev)
	s, _ := e.Attach(dev, 1)
	defer e.Unref(s)

	got := make(chan fired, 8)
	record := func(p native.Pointer, ud uintptr) {
		got <- fired{ptr: p, userData: ud, onMain: main.CheckAccess()}
	}
	e.Connect(mgr, native.SignalChanged, record, 1)
	e.Connect(dev, native.SignalLost, record, 2)
	e.Connect(s, native.SignalDetached, record, 3)

	if !e.RemoveDevice("local") {
		t.Fatal("RemoveDevice reported no device")
	}

	seen := map[uintptr]fired{}
	for len(seen) < 3 {
		select {
		case f := <-got:
			seen[f.userData] = f
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, saw %v", seen)
		}
	}
	for ud, f := range seen {
		if !f.onMain {
			t.Errorf("signal %d did not run on the main context", ud)
		}
	}
	if seen[2].ptr != dev || seen[3].ptr != s || seen[1].ptr != mgr {
		t.Fatalf("Unexpected instances %+v", seen)
	}
	if _, nerr := e.EnumerateProcesses(dev); nerr == nil {
		t.Fatal("operations on a lost device should fail")
	}
}

func TestEngine_DisconnectSkipsPendingEmission(t *testing.T) {
	main := dispatch.NewLoop("engine-test-main")
	defer main.Close()

	cfg := DefaultConfig()
	cfg.MainContext = main
	e := startEngine(t, cfg)
	mgr := e.NewDeviceManager()
	defer e.Unref(mgr)

	calls := 0
	id := e.Connect(mgr, native.SignalChanged, func(native.Pointer, uintptr) { calls++ }, 0)
	if e.Handlers(mgr) != 1 {
		t.Fatalf("Expected 1 handler, got %d", e.Handlers(mgr))
	}

	release := make(chan struct{})
	main.Post(func() { <-release })
	e.EmitSignal(mgr, native.SignalChanged)
	e.Disconnect(mgr, id)
	close(release)

	if err := main.Invoke(func() {}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if calls != 0 {
		t.Fatalf("disconnected handler ran %d times", calls)
	}
	if e.Handlers(mgr) != 0 {
		t.Fatal("handler still registered")
	}
}

func TestEngine_KillDetachesSessions(t *testing.T) {
	main := dispatch.NewLoop("engine-test-main")
	defer main.Close()

	cfg := DefaultConfig()
	cfg.MainContext = main
	e := startEngine(t, cfg)
	dev := devicePtr(t, e, "local")
	defer e.Unref(dev)

	s, _ := e.Attach(dev, 412)
	defer e.Unref(s)
	sc, _ := e.CreateScript(s, "agent", emptyModule)
	defer e.Unref(sc)

	var order []string
	e.Connect(sc, native.SignalDestroyed, func(native.Pointer, uintptr) { order = append(order, "destroyed") }, 0)
	e.Connect(s, native.SignalDetached, func(native.Pointer, uintptr) { order = append(order, "detached") }, 0)

	if nerr := e.Kill(dev, 412); nerr != nil {
		t.Fatalf("Kill: %s", nerr.Message)
	}
	_ = main.Invoke(func() {})

	if len(order) != 2 || order[0] != "destroyed" || order[1] != "detached" {
		t.Fatalf("Unexpected signal order %v", order)
	}
}

func TestEngine_ShutdownDestroysLiveObjects(t *testing.T) {
	e := New(DefaultConfig())
	if err := e.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	dev := devicePtr(t, e, "local")
	s, _ := e.Attach(dev, 1)
	if _, nerr := e.CreateScript(s, "agent", emptyModule); nerr != nil {
		t.Fatalf("CreateScript: %s", nerr.Message)
	}

	e.Shutdown()
	if e.Objects() != 0 {
		t.Fatalf("Expected no objects after Shutdown, got %d", e.Objects())
	}
	e.Unref(dev)
	if e.InvalidUnrefs() != 1 {
		t.Fatal("Unref after Shutdown should be counted as invalid")
	}
}

func TestEngine_AddDeviceAssignsID(t *testing.T) {
	e := startEngine(t, Config{})
	id, err := e.AddDevice(DeviceConfig{Name: "Remote", Type: native.DeviceTypeRemote})
	if err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	if id == "" {
		t.Fatal("Expected a generated id")
	}
	dev := devicePtr(t, e, id)
	defer e.Unref(dev)
	if e.DeviceType(dev) != native.DeviceTypeRemote {
		t.Fatalf("DeviceType = %v", e.DeviceType(dev))
	}
	if !e.RemoveDevice(id) {
		t.Fatal("RemoveDevice reported no device")
	}
	if e.RemoveDevice(id) {
		t.Fatal("second RemoveDevice should report no device")
	}
}
