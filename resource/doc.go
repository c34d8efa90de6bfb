// Package resource provides a reference-counted handle table for engine objects.
//
// Engine backends hand out opaque handles instead of Go pointers. Each entry
// starts with one reference owned by the creator; Ref and Unref adjust it, and
// the entry is destroyed when the count reaches zero.
//
//	table := resource.NewTable()
//
//	h := table.Insert(TypeDevice, dev) // refs = 1
//	table.Ref(h)                       // refs = 2
//	table.Unref(h)                     // refs = 1
//	table.Unref(h)                     // destroyed, dev.Drop() called
//
// # Stale Handles
//
// Slots are recycled through a free list, but every handle carries the slot's
// generation. A handle kept after its entry was destroyed never resolves to the
// slot's next occupant: Get fails and Unref reports the handle as invalid, which
// is how backends detect double releases.
//
// # Observers
//
// Register observers to track lifecycle events:
//
//	table.Subscribe(observer) // receives EventCreated and EventDestroyed
//
// Observers are called synchronously, after the table's lock is released.
package resource
