package bridge

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/frida-go/errors"
	"github.com/wippyai/frida-go/native"
)

// Runtime gates engine initialization on the number of open handles.
// The engine is initialized iff Refs() > 0.
type Runtime struct {
	lib     native.Library
	metrics *Metrics
	initErr error
	mu      sync.Mutex
	refs    atomic.Int64
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithMetrics routes the runtime's and its handles' statistics to m.
func WithMetrics(m *Metrics) RuntimeOption {
	return func(r *Runtime) {
		if m != nil {
			r.metrics = m
		}
	}
}

// NewRuntime creates a runtime for lib. The engine is not initialized until the
// first Acquire.
func NewRuntime(lib native.Library, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		lib:     lib,
		metrics: defaultMetrics,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var shared sync.Map // native.Library -> *Runtime

// Shared returns the process-wide runtime for lib, creating it on first use.
// lib must be comparable (backends are pointer types).
func Shared(lib native.Library) *Runtime {
	if r, ok := shared.Load(lib); ok {
		return r.(*Runtime)
	}
	r, _ := shared.LoadOrStore(lib, NewRuntime(lib))
	return r.(*Runtime)
}

// Library returns the engine backend.
func (r *Runtime) Library() native.Library {
	return r.lib
}

// Metrics returns the metrics collector the runtime reports to.
func (r *Runtime) Metrics() *Metrics {
	return r.metrics
}

// Refs returns the number of outstanding references.
func (r *Runtime) Refs() int64 {
	return r.refs.Load()
}

// Err returns the latched initialization error, if initialization ever failed.
func (r *Runtime) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initErr
}

// Acquire takes a reference, initializing the engine on the 0→1 transition.
// An initialization failure is latched: every later Acquire fails with it.
func (r *Runtime) Acquire() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initErr != nil {
		return r.initErr
	}

	if r.refs.Load() == 0 {
		if err := r.lib.Init(); err != nil {
			r.initErr = errors.RuntimeInit(err)
			Logger().Error("engine initialization failed", zap.Error(err))
			return r.initErr
		}
		Logger().Info("engine initialized")
	}

	r.refs.Add(1)
	r.metrics.refAcquired()
	return nil
}

// Release drops a reference, shutting the engine down on the 1→0 transition.
func (r *Runtime) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.refs.Load() == 0 {
		Logger().DPanic("runtime released without a matching acquire")
		return
	}

	r.metrics.refReleased()
	if r.refs.Add(-1) == 0 {
		r.lib.Shutdown()
		Logger().Info("engine shut down")
	}
}
