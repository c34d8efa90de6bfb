package bridge

import "sync"

// gate tracks notification callbacks between their start and the end of their
// redelivery so teardown can wait for them.
type gate struct {
	cond   *sync.Cond
	mu     sync.Mutex
	active int
	inline int // active callbacks running their handler on the target context
	closed bool
}

func newGate() *gate {
	g := &gate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// enter admits a callback unless the gate is closed.
func (g *gate) enter(inline bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.active++
	if inline {
		g.inline++
	}
	return true
}

func (g *gate) exit(inline bool) {
	g.mu.Lock()
	g.active--
	if inline {
		g.inline--
	}
	g.mu.Unlock()
	g.cond.Broadcast()
}

// inlineActive reports whether a callback is running its handler on the target context.
func (g *gate) inlineActive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inline > 0
}

// close refuses new callbacks and waits for admitted ones. When the caller is on the
// target context, inline callbacks are its own callers (the context is serial) and
// are not waited for.
func (g *gate) close(onTarget bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	for {
		pending := g.active
		if onTarget {
			pending -= g.inline
		}
		if pending <= 0 {
			return
		}
		g.cond.Wait()
	}
}
