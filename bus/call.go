package bus

import "retrohost/pool"

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// ONE-WAY CALLS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// PushCall is a fire-and-forget message carrying an A.
//
// Values containing pool Handles transfer ownership: build the payload with
// Handle.Move and do not touch the handle after a successful Push.
type PushCall[A any] struct {
	name string
}

// NewPush declares a one-way call. Register it with Manager.AddCall.
func NewPush[A any](name string) *PushCall[A] {
	return &PushCall[A]{name: name}
}

// Name identifies the call in diagnostics.
func (c *PushCall[A]) Name() string { return c.name }

func (c *PushCall[A]) register(a *pool.Allocator, capacity int) (*callEntry, error) {
	slab := pool.NewSlab[A](c.name)
	if err := a.ReserveSlab(slab, capacity); err != nil {
		return nil, err
	}
	return &callEntry{payload: slab, request: c.dispatch, response: dispatchUnregistered}, nil
}

// On installs the handler run by n.Pull for every A delivered to n.
func (c *PushCall[A]) On(n *Node, fn func(A)) error {
	return n.setHandler(c, fn)
}

// CanPush reports whether a payload slot is free. Callers on the real-time
// side must check it before Push.
//
//go:nosplit
func (c *PushCall[A]) CanPush(n *Node) bool {
	e := n.reg.lookup(c)
	return e.id != 0 && n.active.Load() && e.payload.(*pool.Slab[A]).Available() > 0
}

// CanPushTo additionally checks that n routes to target and that the route
// has room.
func (c *PushCall[A]) CanPushTo(n *Node, target Endpoint) bool {
	q := n.outbound(target)
	return q != nil && q.WriteAvailable() > 0 && c.CanPush(n)
}

// Push packages v into an envelope and queues it toward target. It never
// blocks. Calling it after CanPush returned false is a contract violation.
func (c *PushCall[A]) Push(n *Node, target Endpoint, v A) bool {
	e := n.reg.lookup(c)
	if e.id == 0 {
		return violation(n.kind, c.name, "push of unregistered call")
	}
	if !n.active.Load() {
		return false
	}
	q := n.outbound(target)
	if q == nil {
		return violation(n.kind, c.name, "no route to node "+itoa(int(target)))
	}
	slab := e.payload.(*pool.Slab[A])
	slot, ok := slab.Acquire()
	if !ok {
		return violation(n.kind, c.name, "push without capacity")
	}
	*slab.At(slot) = v
	if !q.WriteValue(envelope{call: e.id, kind: kindPush, source: n.kind, slot: slot}) {
		slab.Release(slot)
		return violation(n.kind, c.name, "route queue full")
	}
	return true
}

// Broadcast pushes a copy of v to every target n routes to and returns how
// many were queued. Targets without capacity are skipped. Do not broadcast
// values that own pool Handles.
func (c *PushCall[A]) Broadcast(n *Node, v A) int {
	sent := 0
	for t := range n.out {
		if n.out[t] == nil || !c.CanPushTo(n, Endpoint(t)) {
			continue
		}
		if c.Push(n, Endpoint(t), v) {
			sent++
		}
	}
	return sent
}

// dispatch runs on the target inside Pull.
func (c *PushCall[A]) dispatch(n *Node, e *callEntry, env envelope) {
	slab := e.payload.(*pool.Slab[A])
	v := *slab.At(env.slot)
	slab.Release(env.slot)

	fn, _ := n.handler(env.call).(func(A))
	if fn == nil {
		violation(n.kind, c.name, "no handler installed")
		return
	}
	fn(v)
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// TWO-WAY CALLS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// RequestCall is a two-way message: an A travels to the target, its handler
// returns an R, and the R is handed to the requester's callback inside the
// requester's own Pull.
type RequestCall[A, R any] struct {
	name string
}

// NewRequest declares a two-way call. Register it with Manager.AddCall.
func NewRequest[A, R any](name string) *RequestCall[A, R] {
	return &RequestCall[A, R]{name: name}
}

// Name identifies the call in diagnostics.
func (c *RequestCall[A, R]) Name() string { return c.name }

func (c *RequestCall[A, R]) register(a *pool.Allocator, capacity int) (*callEntry, error) {
	req := pool.NewSlab[A](c.name + ".request")
	if err := a.ReserveSlab(req, capacity); err != nil {
		return nil, err
	}
	res := pool.NewSlab[R](c.name + ".response")
	if err := a.ReserveSlab(res, capacity); err != nil {
		return nil, err
	}
	return &callEntry{
		twoWay:   true,
		payload:  req,
		result:   res,
		request:  c.dispatchRequest,
		response: c.dispatchResponse,
	}, nil
}

// On installs the handler run by n.Pull for every request delivered to n.
// Its return value travels back to the requester.
func (c *RequestCall[A, R]) On(n *Node, fn func(A) R) error {
	return n.setHandler(c, fn)
}

// CanRequest reports whether another round trip of this call can start
// from n without exhausting the request or response pools.
func (c *RequestCall[A, R]) CanRequest(n *Node) bool {
	e := n.reg.lookup(c)
	return e.id != 0 && n.active.Load() &&
		int(e.inflight.Load()) < e.capacity &&
		n.free.Load() > 0 &&
		e.payload.(*pool.Slab[A]).Available() > 0
}

// Request queues v toward target. cb is retained by n and invoked exactly
// once, later, inside n.Pull, with the value returned by target's handler.
// It is never invoked inline.
func (c *RequestCall[A, R]) Request(n *Node, target Endpoint, v A, cb func(R)) bool {
	e := n.reg.lookup(c)
	if e.id == 0 {
		return violation(n.kind, c.name, "request of unregistered call")
	}
	if !n.active.Load() {
		return false
	}
	q := n.outbound(target)
	if q == nil {
		return violation(n.kind, c.name, "no route to node "+itoa(int(target)))
	}
	if !c.CanRequest(n) {
		return violation(n.kind, c.name, "request without capacity")
	}

	slab := e.payload.(*pool.Slab[A])
	slot, ok := slab.Acquire()
	if !ok {
		return violation(n.kind, c.name, "request pool exhausted")
	}
	*slab.At(slot) = v

	token := n.takeToken()
	n.responders[token] = responder{call: e.id, cb: cb}
	e.inflight.Add(1)

	if !q.WriteValue(envelope{call: e.id, kind: kindRequest, source: n.kind, slot: slot, token: token}) {
		e.inflight.Add(-1)
		n.responders[token] = responder{}
		n.putToken(token)
		slab.Release(slot)
		return violation(n.kind, c.name, "route queue full")
	}
	return true
}

// dispatchRequest runs on the target inside Pull and queues the response.
// A panicking handler still answers with the zero value before the panic
// unwinds into Pull, so the requester's token and the call's capacity come
// back.
func (c *RequestCall[A, R]) dispatchRequest(n *Node, e *callEntry, env envelope) {
	req := e.payload.(*pool.Slab[A])
	v := *req.At(env.slot)
	req.Release(env.slot)

	var out R
	answered := false
	defer func() {
		if !answered {
			var zero R
			c.respond(n, e, env, zero)
		}
	}()

	if fn, _ := n.handler(env.call).(func(A) R); fn != nil {
		out = fn(v)
	} else {
		// Release builds answer with the zero value so the requester's
		// round trip still completes.
		violation(n.kind, c.name, "no handler installed")
	}
	answered = true
	c.respond(n, e, env, out)
}

func (c *RequestCall[A, R]) respond(n *Node, e *callEntry, env envelope, out R) {
	res := e.result.(*pool.Slab[R])
	slot, ok := res.Acquire()
	if !ok {
		violation(n.kind, c.name, "response pool exhausted")
		return
	}
	*res.At(slot) = out

	q := n.respOut[env.source]
	if !q.WriteValue(envelope{call: env.call, kind: kindResponse, source: n.kind, slot: slot, token: env.token}) {
		res.Release(slot)
		violation(n.kind, c.name, "response queue full")
	}
}

// dispatchResponse runs on the requester inside Pull.
func (c *RequestCall[A, R]) dispatchResponse(n *Node, e *callEntry, env envelope) {
	res := e.result.(*pool.Slab[R])
	v := *res.At(env.slot)
	res.Release(env.slot)

	r := n.responders[env.token]
	n.responders[env.token] = responder{}
	n.putToken(env.token)
	e.inflight.Add(-1)

	if r.call != env.call {
		violation(n.kind, c.name, "response for a token owned by another call")
		return
	}
	if cb, _ := r.cb.(func(R)); cb != nil {
		cb(v)
	}
}
