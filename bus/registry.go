package bus

import (
	"fmt"
	"sync/atomic"

	"retrohost/constants"
	"retrohost/pool"
	"retrohost/utils"
)

var itoa = utils.Itoa

// Call is a registered message type: a one-way PushCall or a two-way
// RequestCall. Calls are compared by identity.
type Call interface {
	Name() string
	register(a *pool.Allocator, capacity int) (*callEntry, error)
}

// thunk dispatches one envelope of a known call on node n.
type thunk func(n *Node, e *callEntry, env envelope)

// callEntry is one row of the dispatch table.
type callEntry struct {
	id       uint16
	name     string
	capacity int
	twoWay   bool

	payload pool.Reservable // *pool.Slab[A]
	result  pool.Reservable // *pool.Slab[R], two-way calls only

	request  thunk
	response thunk

	inflight atomic.Int32 // open round trips, two-way calls only
}

// registry maps calls to dense ids. Append-only before Start, read-only after.
type registry struct {
	ids        map[Call]uint16
	entries    []*callEntry
	slots      int // envelope slots across every slab
	responders int // sum of two-way capacities
}

func newRegistry() *registry {
	r := &registry{ids: make(map[Call]uint16)}
	r.entries = append(r.entries, &callEntry{
		name:     "unregistered",
		request:  dispatchUnregistered,
		response: dispatchUnregistered,
	})
	return r
}

// add registers c with capacity in-flight messages.
func (r *registry) add(a *pool.Allocator, c Call, capacity int) error {
	if _, ok := r.ids[c]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCall, c.Name())
	}
	if len(r.entries) >= constants.MaxCalls {
		return fmt.Errorf("bus: call table full at %d entries", constants.MaxCalls)
	}
	if capacity <= 0 {
		capacity = constants.DefaultCallCapacity
	}
	e, err := c.register(a, capacity)
	if err != nil {
		return fmt.Errorf("bus: register %s: %w", c.Name(), err)
	}
	e.id = uint16(len(r.entries))
	e.name = c.Name()
	e.capacity = capacity
	r.entries = append(r.entries, e)
	r.ids[c] = e.id

	r.slots += capacity
	if e.twoWay {
		r.slots += capacity
		r.responders += capacity
	}
	return nil
}

// lookup returns the entry for c, or the sentinel entry when c is unknown.
//
//go:nosplit
func (r *registry) lookup(c Call) *callEntry {
	return r.entries[r.ids[c]]
}

// dispatchUnregistered is the sentinel thunk for call id 0.
func dispatchUnregistered(n *Node, _ *callEntry, env envelope) {
	violation(n.kind, "unregistered", "dispatched envelope of unregistered call from node "+itoa(int(env.source)))
}
