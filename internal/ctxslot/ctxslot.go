// Package ctxslot provides one reusable storage cell per goroutine.
//
// Hot paths that repeatedly associate an execution context with the calling
// goroutine fetch the cell once with [Current] and then read or write it
// directly, paying the goroutine lookup cost a single time.
//
// Cells are cached until [Release] is called from the owning goroutine. Go
// offers no goroutine exit hook, so callers that enter contexts on short-lived
// goroutines should release the cell when they are done.
package ctxslot

import (
	"sync"
)

// Slot is a single value cell owned by one goroutine. A Slot must only be
// read or written by the goroutine it was obtained on.
type Slot struct {
	value any
	set   bool
}

// slots maps goroutine id to *Slot.
var slots sync.Map

// Current returns the cell of the calling goroutine, creating it on first use.
//
// If the goroutine id cannot be determined, a fresh cell is returned that is
// not cached, so values written to it are not visible to later calls.
func Current() *Slot {
	id := goroutineID()
	if id == 0 {
		return new(Slot)
	}
	if s, ok := slots.Load(id); ok {
		return s.(*Slot)
	}
	s, _ := slots.LoadOrStore(id, new(Slot))
	return s.(*Slot)
}

// Peek returns the cell of the calling goroutine if one exists, or nil.
// Unlike [Current] it never creates a cell, so read-only callers on
// goroutines that never write do not grow the cache.
func Peek() *Slot {
	id := goroutineID()
	if id == 0 {
		return nil
	}
	if s, ok := slots.Load(id); ok {
		return s.(*Slot)
	}
	return nil
}

// Release drops the cell of the calling goroutine. The next call to Current
// on the same goroutine creates a new, empty cell.
func Release() {
	if id := goroutineID(); id != 0 {
		slots.Delete(id)
	}
}

// Read returns the value stored in s. The second result is false if nothing
// has been written yet, or the cell was cleared.
func Read(s *Slot) (any, bool) {
	if s == nil {
		return nil, false
	}
	return s.value, s.set
}

// Write stores v in s, replacing any previous value.
func Write(s *Slot, v any) {
	s.value = v
	s.set = true
}

// Clear empties s.
func Clear(s *Slot) {
	s.value = nil
	s.set = false
}

// Load is a typed Read. It reports false if the cell is empty or holds a
// value of a different type.
func Load[T any](s *Slot) (T, bool) {
	v, ok := Read(s)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
