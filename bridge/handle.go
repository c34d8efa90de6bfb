package bridge

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/frida-go/dispatch"
	"github.com/wippyai/frida-go/errors"
	"github.com/wippyai/frida-go/native"
)

// Binding describes how a wrapper is attached to its engine object.
type Binding struct {
	// Notify runs on the target context each time Signal is emitted.
	Notify func()
	// Kind names the wrapper in errors, logs and metrics, e.g. "Device".
	Kind string
	// Signal is the engine signal to subscribe to. Empty means none.
	Signal string
}

// Handle owns one engine object on behalf of a wrapper.
type Handle struct {
	rt     *Runtime
	lib    native.Library
	ctx    dispatch.Context
	gate   *gate
	notify func()
	done   chan struct{} // closed once release has run
	kind   string

	mu      sync.RWMutex
	ptr     native.Pointer
	token   Token
	signal  native.SignalID
	closing bool
}

// Open takes ownership of ptr and binds it to ctx. On failure ptr has been
// unreffed and no reference is held on rt.
func Open(rt *Runtime, ptr native.Pointer, ctx dispatch.Context, b Binding) (*Handle, error) {
	if ptr == 0 {
		return nil, errors.InvalidInput(errors.PhaseCall, "open "+b.Kind+": nil pointer")
	}
	if ctx == nil {
		rt.lib.Unref(ptr)
		return nil, errors.InvalidInput(errors.PhaseCall, "open "+b.Kind+": nil context")
	}

	if err := rt.Acquire(); err != nil {
		rt.lib.Unref(ptr)
		return nil, err
	}

	h := &Handle{
		rt:     rt,
		lib:    rt.lib,
		ctx:    ctx,
		gate:   newGate(),
		notify: b.Notify,
		done:   make(chan struct{}),
		kind:   b.Kind,
		ptr:    ptr,
	}
	h.token = tokens.insert(h)
	if b.Signal != "" {
		h.signal = h.lib.Connect(ptr, b.Signal, trampoline, uintptr(h.token))
		if h.signal == 0 {
			tokens.remove(h.token)
			rt.lib.Unref(ptr)
			rt.Release()
			return nil, errors.New(errors.PhaseCall, errors.KindInvalidInput).
				Resource(b.Kind).
				Op("connect").
				Detail("engine refused signal %q", b.Signal).
				Build()
		}
	}

	rt.metrics.handleOpened(h.kind)
	Logger().Debug("handle opened",
		zap.String("kind", h.kind),
		zap.Uintptr("ptr", uintptr(ptr)),
		zap.Uintptr("token", uintptr(h.token)))
	return h, nil
}

// Kind returns the wrapper kind.
func (h *Handle) Kind() string {
	return h.kind
}

// Runtime returns the runtime the handle holds a reference on.
func (h *Handle) Runtime() *Runtime {
	return h.rt
}

// Context returns the target execution context captured at Open.
func (h *Handle) Context() dispatch.Context {
	return h.ctx
}

// Closed reports whether Close has started.
func (h *Handle) Closed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.liveLocked()
}

func (h *Handle) liveLocked() bool {
	return h.ptr != 0 && !h.closing
}

// Close tears the handle down. Safe to call any number of times from any goroutine,
// including from the handle's own notification handler. A Close racing another one
// returns after the teardown completes, except from an inline handler of the handle,
// which returns at once.
func (h *Handle) Close() error {
	h.mu.Lock()
	if !h.liveLocked() {
		h.mu.Unlock()
		if h.ctx.CheckAccess() && h.gate.inlineActive() {
			return nil
		}
		<-h.done
		return nil
	}
	h.closing = true
	ptr, tok, sig := h.ptr, h.token, h.signal
	h.mu.Unlock()

	if sig != 0 {
		h.lib.Disconnect(ptr, sig)
	}
	h.gate.close(h.ctx.CheckAccess())
	tokens.remove(tok)

	h.release()
	return nil
}

// release drops the engine object and the runtime reference exactly once.
func (h *Handle) release() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ptr == 0 {
		return
	}

	ptr := h.ptr
	h.lib.Unref(ptr)
	h.ptr = 0
	h.token = 0
	h.signal = 0
	h.rt.metrics.handleClosed(h.kind)
	h.rt.Release()
	close(h.done)

	Logger().Debug("handle closed",
		zap.String("kind", h.kind),
		zap.Uintptr("ptr", uintptr(ptr)))
}

// trampoline is the single engine callback for every handle.
func trampoline(_ native.Pointer, userData uintptr) {
	h, ok := tokens.lookup(Token(userData))
	if !ok {
		return
	}
	h.dispatch()
}

func (h *Handle) dispatch() {
	inline := h.ctx.CheckAccess()
	if !h.gate.enter(inline) {
		return
	}
	defer h.gate.exit(inline)

	if h.notify == nil {
		return
	}

	if inline {
		h.rt.metrics.notified(h.kind, modeInline)
		h.notify()
		return
	}

	if h.ctx.Post(h.notify) {
		h.rt.metrics.notified(h.kind, modePosted)
		return
	}
	h.rt.metrics.notified(h.kind, modeDropped)
	Logger().Warn("notification dropped: target context closed", zap.String("kind", h.kind))
}
