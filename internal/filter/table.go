// Package filter implements the fixed-capacity receive filter table and
// the dispatch pass that fans an incoming frame out to every matching
// registered callback.
package filter

import (
	"errors"
	"sync"

	"github.com/MrGreensWorkshop/zephyr/internal/can"
)

// ErrNoSpace is returned by Add when every slot is occupied.
var ErrNoSpace = errors.New("filter table full")

// Callback receives an independent copy of a matched frame. Callbacks
// run with the table lock held: they must not block and must not call
// back into Add or Remove.
type Callback func(can.Frame)

type slot struct {
	filter can.Filter
	cb     Callback
}

// Table is a fixed-capacity registry of receive filters. A slot is free
// while its callback is nil; the slot index is the filter's identity.
type Table struct {
	mu    sync.Mutex
	slots []slot
}

// NewTable creates a table with the given number of slots.
func NewTable(capacity int) *Table {
	return &Table{slots: make([]slot, capacity)}
}

// Capacity returns the number of slots, free or occupied.
func (t *Table) Capacity() int { return len(t.slots) }

// Active returns the number of occupied slots.
func (t *Table) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for i := range t.slots {
		if t.slots[i].cb != nil {
			n++
		}
	}
	return n
}

// Add stores f and cb in the first free slot (lowest index wins) and
// returns the slot index, or ErrNoSpace when the table is full. Slot ids
// are stable until Remove.
func (t *Table) Add(f can.Filter, cb Callback) (int, error) {
	if cb == nil {
		return -1, errors.New("nil filter callback")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		if t.slots[i].cb == nil {
			t.slots[i] = slot{filter: f, cb: cb}
			return i, nil
		}
	}
	return -1, ErrNoSpace
}

// Remove frees the slot with the given id. Out-of-range or already-free
// ids are a no-op so teardown stays idempotent.
func (t *Table) Remove(id int) {
	if id < 0 || id >= len(t.slots) {
		return
	}
	t.mu.Lock()
	t.slots[id] = slot{}
	t.mu.Unlock()
}

// Dispatch invokes, in slot-index order, the callback of every occupied
// slot whose filter matches fr. Each callback gets its own copy of the
// frame. The lock is held for the whole pass, so the set of filters seen
// by one frame is a consistent snapshot: a filter added mid-dispatch
// never sees this frame, and removal blocks until the pass completes.
// Dispatch returns the number of callbacks invoked.
func (t *Table) Dispatch(fr *can.Frame) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	matched := 0
	for i := range t.slots {
		if t.slots[i].cb == nil {
			continue
		}
		if !t.slots[i].filter.Match(fr) {
			continue
		}
		// Copy so one callback's mutation is invisible to the next.
		tmp := *fr
		t.slots[i].cb(tmp)
		matched++
	}
	return matched
}
