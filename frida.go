package frida

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/wippyai/frida-go/bridge"
	"github.com/wippyai/frida-go/dispatch"
	"github.com/wippyai/frida-go/errors"
	"github.com/wippyai/frida-go/native"
	"github.com/wippyai/frida-go/native/local"
)

// SetLogger configures the logger of every package in the module.
func SetLogger(l *zap.Logger) {
	bridge.SetLogger(l)
	dispatch.SetLogger(l)
	local.SetLogger(l)
}

var (
	defaultLoop     *dispatch.Loop
	defaultLoopOnce sync.Once
)

// DefaultContext returns the process-wide loop used by wrappers created without
// WithContext. It is started on first use and runs for the life of the process.
func DefaultContext() *dispatch.Loop {
	defaultLoopOnce.Do(func() {
		defaultLoop = dispatch.NewLoop("frida-host")
	})
	return defaultLoop
}

// Option configures a Manager.
type Option func(*options)

type options struct {
	ctx        dispatch.Context
	rt         *bridge.Runtime
	registerer prometheus.Registerer
}

// WithContext sets the target context events are delivered on.
func WithContext(ctx dispatch.Context) Option {
	return func(o *options) {
		o.ctx = ctx
	}
}

// WithRuntime sets the engine runtime. The default is the process-wide runtime
// of the library.
func WithRuntime(rt *bridge.Runtime) Option {
	return func(o *options) {
		o.rt = rt
	}
}

// WithRegisterer registers the runtime's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

func resolve(lib native.Library, opts []Option) (*options, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if o.rt == nil {
		o.rt = bridge.Shared(lib)
	} else if o.rt.Library() != lib {
		return nil, errors.InvalidInput(errors.PhaseConfig, "runtime belongs to another library")
	}
	if o.ctx == nil {
		o.ctx = DefaultContext()
	}
	if o.registerer != nil {
		if err := o.rt.Metrics().RegisterTo(o.registerer); err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "register metrics")
		}
	}
	return o, nil
}

// openChild creates a child object under the parent's call proxy and binds it to
// the parent's context. The parent's engine reference is held throughout, so the
// new pointer cannot outlive the engine before the child owns it.
func openChild[T any](parent *bridge.Handle, op string,
	create func(native.Pointer) (native.Pointer, *native.Error),
	open func(*bridge.Runtime, native.Pointer, dispatch.Context) (T, error),
) (T, error) {
	var openErr error
	child, err := bridge.Call(parent, op, func(p native.Pointer) (T, *native.Error) {
		var zero T
		ptr, nerr := create(p)
		if nerr != nil {
			return zero, nerr
		}
		c, err := open(parent.Runtime(), ptr, parent.Context())
		if err != nil {
			openErr = err
			return zero, nil
		}
		return c, nil
	})
	if err != nil {
		return child, err
	}
	return child, openErr
}
