package local

import (
	"sync"
	"sync/atomic"

	"github.com/wippyai/frida-go/native"
)

type handler struct {
	cb           native.Callback
	signal       string
	userData     uintptr
	id           native.SignalID
	disconnected atomic.Bool
}

// signalHub stores connected handlers per object.
type signalHub struct {
	handlers map[native.Pointer][]*handler
	mu       sync.Mutex
	next     native.SignalID
}

func newSignalHub() *signalHub {
	return &signalHub{handlers: make(map[native.Pointer][]*handler)}
}

func (s *signalHub) connect(p native.Pointer, signal string, cb native.Callback, userData uintptr) native.SignalID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.handlers[p] = append(s.handlers[p], &handler{
		id:       s.next,
		signal:   signal,
		cb:       cb,
		userData: userData,
	})
	return s.next
}

// disconnect removes a handler. Once it returns, an emission that has not yet
// reached the handler skips it.
func (s *signalHub) disconnect(p native.Pointer, id native.SignalID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	hs := s.handlers[p]
	for i, h := range hs {
		if h.id == id {
			h.disconnected.Store(true)
			s.handlers[p] = append(hs[:i:i], hs[i+1:]...)
			return true
		}
	}
	return false
}

func (s *signalHub) snapshot(p native.Pointer, signal string) []*handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*handler
	for _, h := range s.handlers[p] {
		if h.signal == signal {
			out = append(out, h)
		}
	}
	return out
}

func (s *signalHub) drop(p native.Pointer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.handlers[p] {
		h.disconnected.Store(true)
	}
	delete(s.handlers, p)
}

func (s *signalHub) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, hs := range s.handlers {
		for _, h := range hs {
			h.disconnected.Store(true)
		}
	}
	s.handlers = make(map[native.Pointer][]*handler)
}

func (s *signalHub) count(p native.Pointer) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers[p])
}
