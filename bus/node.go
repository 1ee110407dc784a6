package bus

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"retrohost/ring"
)

// responder remembers the callback of one open request.
type responder struct {
	call uint16
	cb   any // func(R) of the call
}

// Node is one participant's view of the bus. Push/Request/Pull and the
// response callbacks belong to the goroutine that owns the node; capacity
// probes may be called from anywhere.
type Node struct {
	kind Endpoint
	reg  *registry

	targets []Endpoint // declared at wiring time

	out     []*ring.Buffer[envelope] // this → target, indexed by target
	in      []*ring.Buffer[envelope] // source → this, indexed by source
	respOut []*ring.Buffer[envelope] // responses this → requester
	respIn  []*ring.Buffer[envelope] // responses target → this

	handlers []any // indexed by call id

	responders []responder
	tokens     []uint32     // free responder tokens, owner goroutine only
	free       atomic.Int32 // len(tokens), readable by probes

	active atomic.Bool
}

func newNode(kind Endpoint, endpoints int, reg *registry) *Node {
	return &Node{
		kind:    kind,
		reg:     reg,
		out:     make([]*ring.Buffer[envelope], endpoints),
		in:      make([]*ring.Buffer[envelope], endpoints),
		respOut: make([]*ring.Buffer[envelope], endpoints),
		respIn:  make([]*ring.Buffer[envelope], endpoints),
	}
}

// Kind is the endpoint this node serves.
func (n *Node) Kind() Endpoint { return n.kind }

// Targets lists the endpoints this node may address.
func (n *Node) Targets() []Endpoint { return append([]Endpoint(nil), n.targets...) }

// IsActive reports whether the bus was started and not stopped.
func (n *Node) IsActive() bool { return n.active.Load() }

// RemainingRequests is the number of free responder tokens.
func (n *Node) RemainingRequests() int { return int(n.free.Load()) }

// WaitUntilActive blocks until Start activated the node or ctx is done.
// Intended for the goroutine that owns the node, before its first Pull.
func (n *Node) WaitUntilActive(ctx context.Context) error {
	for !n.active.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	return nil
}

// Pending is the number of envelopes currently waiting for this node.
func (n *Node) Pending() int {
	total := 0
	for i := range n.in {
		if n.in[i] != nil {
			total += n.in[i].ReadAvailable()
		}
		if n.respIn[i] != nil {
			total += n.respIn[i].ReadAvailable()
		}
	}
	return total
}

// Pull drains every envelope present when it was called: requests and
// pushes addressed to this node run their handlers, responses to this node's
// requests run their callbacks. FIFO holds per source; nothing is promised
// across sources. It never waits for new traffic and returns the number of
// envelopes consumed. Only the owning goroutine may call it.
func (n *Node) Pull() int {
	if !n.active.Load() {
		return 0
	}
	consumed := 0
	for src := range n.in {
		if q := n.in[src]; q != nil {
			consumed += n.drain(q)
		}
		if q := n.respIn[src]; q != nil {
			consumed += n.drain(q)
		}
	}
	return consumed
}

// drain dispatches the envelopes queued in q at entry.
func (n *Node) drain(q *ring.Buffer[envelope]) int {
	k := q.ReadAvailable()
	for i := 0; i < k; i++ {
		env, _ := q.ReadValue()
		e := n.reg.entries[0]
		if int(env.call) < len(n.reg.entries) {
			e = n.reg.entries[env.call]
		}
		if env.kind == kindResponse {
			e.response(n, e, env)
		} else {
			e.request(n, e, env)
		}
	}
	return k
}

// outbound is the queue toward target, or nil when not routed.
//
//go:nosplit
func (n *Node) outbound(target Endpoint) *ring.Buffer[envelope] {
	if int(target) >= len(n.out) {
		return nil
	}
	return n.out[target]
}

// handler is the installed handler for call id, or nil.
//
//go:nosplit
func (n *Node) handler(id uint16) any {
	if int(id) >= len(n.handlers) {
		return nil
	}
	return n.handlers[id]
}

// setHandler installs fn for c. Wiring only.
func (n *Node) setHandler(c Call, fn any) error {
	if n.active.Load() {
		return fmt.Errorf("%w: handler for %s on node %d", ErrStarted, c.Name(), n.kind)
	}
	e := n.reg.lookup(c)
	if e.id == 0 {
		return fmt.Errorf("%w: %s (did you call AddCall?)", ErrUnregistered, c.Name())
	}
	for len(n.handlers) <= int(e.id) {
		n.handlers = append(n.handlers, nil)
	}
	n.handlers[e.id] = fn
	return nil
}

// addTarget records a route, ignoring duplicates.
func (n *Node) addTarget(t Endpoint) {
	for _, have := range n.targets {
		if have == t {
			return
		}
	}
	n.targets = append(n.targets, t)
}

// prepare sizes the dispatch and responder tables once the registry is frozen.
func (n *Node) prepare() {
	for len(n.handlers) < len(n.reg.entries) {
		n.handlers = append(n.handlers, nil)
	}
	n.responders = make([]responder, n.reg.responders)
	n.tokens = make([]uint32, 0, n.reg.responders)
	for i := n.reg.responders - 1; i >= 0; i-- {
		n.tokens = append(n.tokens, uint32(i))
	}
	n.free.Store(int32(len(n.tokens)))
}

// takeToken pops a free responder token. Owner goroutine only.
func (n *Node) takeToken() uint32 {
	t := n.tokens[len(n.tokens)-1]
	n.tokens = n.tokens[:len(n.tokens)-1]
	n.free.Add(-1)
	return t
}

// putToken returns a responder token. Owner goroutine only.
func (n *Node) putToken(t uint32) {
	n.tokens = append(n.tokens, t)
	n.free.Add(1)
}
