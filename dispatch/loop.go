package dispatch

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/frida-go/errors"
)

// Loop is a serial execution context backed by one goroutine locked to an OS thread.
type Loop struct {
	name   string
	cond   *sync.Cond
	done   chan struct{}
	queue  []func()
	mu     sync.Mutex
	tid    atomic.Uint64
	closed bool
}

// NewLoop starts a loop and returns once its thread id is known.
func NewLoop(name string) *Loop {
	l := &Loop{
		name: name,
		done: make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)

	ready := make(chan struct{})
	go l.run(ready)
	<-ready
	return l
}

// Name returns the loop's name.
func (l *Loop) Name() string {
	return l.name
}

// ThreadID returns the OS thread id the loop runs on, or 0 once it has exited.
func (l *Loop) ThreadID() uint64 {
	return l.tid.Load()
}

// CheckAccess reports whether the caller is the loop goroutine.
func (l *Loop) CheckAccess() bool {
	tid := l.tid.Load()
	return tid != 0 && CurrentThreadID() == tid
}

// Post enqueues fn. Tasks run in the order they were posted.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		Logger().Warn("post to closed loop dropped", zap.String("loop", l.name))
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.cond.Signal()
	return true
}

// Invoke runs fn on the loop and waits for it to return.
// If the caller is already on the loop, fn runs inline.
func (l *Loop) Invoke(fn func()) error {
	if l.CheckAccess() {
		fn()
		return nil
	}

	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return errors.Closed(errors.PhaseDispatch, "loop "+l.name)
	}
	<-finished
	return nil
}

// Close stops accepting work, drains tasks already queued and waits for the
// loop goroutine to exit. Calling Close from the loop itself does not wait.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		if !l.CheckAccess() {
			<-l.done
		}
		return
	}
	l.closed = true
	l.mu.Unlock()
	l.cond.Broadcast()

	if l.CheckAccess() {
		return
	}
	<-l.done
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) run(ready chan<- struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(l.done)
	// Cleared before the thread is unlocked so no other goroutine can match it.
	defer l.tid.Store(0)

	l.tid.Store(CurrentThreadID())
	close(ready)

	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			Logger().Error("loop task panicked",
				zap.String("loop", l.name),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	fn()
}
