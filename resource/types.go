package resource

// Handle is an opaque reference to an entry in a table.
// Handle 0 is reserved and always invalid.
type Handle uint32

const (
	indexBits = 20
	indexMask = 1<<indexBits - 1
	genMask   = 1<<(32-indexBits) - 1

	// MaxEntries is the number of live entries a table can hold.
	MaxEntries = indexMask
)

func makeHandle(index, gen uint32) Handle {
	return Handle(gen&genMask<<indexBits | index&indexMask)
}

func (h Handle) index() uint32 { return uint32(h) & indexMask }
func (h Handle) gen() uint32   { return uint32(h) >> indexBits }

// EventType classifies lifecycle notifications.
type EventType uint8

const (
	EventCreated EventType = iota
	EventDestroyed
)

// Event represents a lifecycle event.
type Event struct {
	Value  any
	Handle Handle
	TypeID uint32
	Type   EventType
}

// Observer receives notifications about lifecycle events.
type Observer interface {
	OnResourceEvent(Event)
}

// Dropper is optionally implemented by values that need cleanup on destruction.
type Dropper interface {
	Drop()
}
