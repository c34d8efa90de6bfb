package resource

import (
	"errors"
	"sync"
)

var (
	ErrClosed = errors.New("resource table closed")
	ErrFull   = errors.New("resource table full")
)

// Table is a reference-counted handle table.
type Table struct {
	entries   []entry
	freeList  []uint32
	observers []Observer
	mu        sync.RWMutex
	obsMu     sync.RWMutex
	closed    bool
}

type entry struct {
	value  any
	typeID uint32
	refs   uint32
	gen    uint32
	valid  bool
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		entries:  make([]entry, 0, 64),
		freeList: make([]uint32, 0, 16),
	}
}

// Insert stores value with one reference and returns its handle.
func (t *Table) Insert(typeID uint32, value any) (Handle, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, ErrClosed
	}

	var index uint32
	if n := len(t.freeList); n > 0 {
		index = t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
	} else {
		if len(t.entries) >= MaxEntries {
			t.mu.Unlock()
			return 0, ErrFull
		}
		t.entries = append(t.entries, entry{})
		index = uint32(len(t.entries))
	}

	e := &t.entries[index-1]
	e.gen = (e.gen + 1) & genMask
	if e.gen == 0 {
		e.gen = 1
	}
	e.value = value
	e.typeID = typeID
	e.refs = 1
	e.valid = true
	h := makeHandle(index, e.gen)
	t.mu.Unlock()

	t.notify(Event{Type: EventCreated, Handle: h, TypeID: typeID, Value: value})
	return h, nil
}

// lookup returns the live entry for h. Caller holds t.mu.
func (t *Table) lookup(h Handle) *entry {
	idx := h.index()
	if idx == 0 || int(idx) > len(t.entries) {
		return nil
	}
	e := &t.entries[idx-1]
	if !e.valid || e.gen != h.gen() {
		return nil
	}
	return e
}

// Get retrieves a value by handle.
func (t *Table) Get(h Handle) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e := t.lookup(h)
	if e == nil {
		return nil, false
	}
	return e.value, true
}

// GetTyped retrieves a value only if it matches the expected type.
func (t *Table) GetTyped(h Handle, typeID uint32) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e := t.lookup(h)
	if e == nil || e.typeID != typeID {
		return nil, false
	}
	return e.value, true
}

// Refs returns the reference count of h, or 0 if h is invalid.
func (t *Table) Refs(h Handle) uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e := t.lookup(h); e != nil {
		return e.refs
	}
	return 0
}

// Ref adds a reference. Returns false if h is invalid.
func (t *Table) Ref(h Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.lookup(h)
	if e == nil {
		return false
	}
	e.refs++
	return true
}

// Unref drops a reference, destroying the entry when none remain. ok is false if h
// was invalid, which means the caller released a reference it did not hold.
func (t *Table) Unref(h Handle) (destroyed, ok bool) {
	t.mu.Lock()
	e := t.lookup(h)
	if e == nil {
		t.mu.Unlock()
		return false, false
	}
	e.refs--
	if e.refs > 0 {
		t.mu.Unlock()
		return false, true
	}

	value, typeID := e.value, e.typeID
	e.valid = false
	e.value = nil
	t.freeList = append(t.freeList, h.index())
	t.mu.Unlock()

	t.destroy(h, typeID, value)
	return true, true
}

func (t *Table) destroy(h Handle, typeID uint32, value any) {
	if d, ok := value.(Dropper); ok {
		d.Drop()
	}
	t.notify(Event{Type: EventDestroyed, Handle: h, TypeID: typeID, Value: value})
}

// Subscribe adds an observer for lifecycle events.
func (t *Table) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Unsubscribe removes an observer.
func (t *Table) Unsubscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	for i, obs := range t.observers {
		if obs == o {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

// Len returns the number of live entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	for _, e := range t.entries {
		if e.valid {
			count++
		}
	}
	return count
}

// Each iterates over live entries until fn returns false. fn must not call back
// into the table.
func (t *Table) Each(fn func(Handle, uint32, any) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for i, e := range t.entries {
		if e.valid {
			if !fn(makeHandle(uint32(i+1), e.gen), e.typeID, e.value) {
				break
			}
		}
	}
}

// Clear destroys every live entry regardless of its reference count.
// Handles issued before Clear become invalid.
func (t *Table) Clear() {
	type dead struct {
		value  any
		handle Handle
		typeID uint32
	}

	t.mu.Lock()
	var drops []dead
	for i := range t.entries {
		e := &t.entries[i]
		if !e.valid {
			continue
		}
		drops = append(drops, dead{handle: makeHandle(uint32(i+1), e.gen), typeID: e.typeID, value: e.value})
		e.valid = false
		e.value = nil
		t.freeList = append(t.freeList, uint32(i+1))
	}
	t.mu.Unlock()

	for _, d := range drops {
		t.destroy(d.handle, d.typeID, d.value)
	}
}

// Close destroys every entry and stops accepting inserts.
func (t *Table) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.Clear()
	return nil
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnResourceEvent(e)
	}
}
