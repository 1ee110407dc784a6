package bus

import (
	"fmt"
	"sync/atomic"

	"retrohost/constants"
	"retrohost/debug"
	"retrohost/pool"
	"retrohost/ring"
	"retrohost/utils"
)

// Manager is the wiring authority of one bus: it registers calls, creates
// nodes and freezes everything on Start.
type Manager struct {
	endpoints int
	reg       *registry
	alloc     *pool.Allocator
	nodes     []*Node
	started   atomic.Bool
}

// NewManager returns a manager for endpoints participants (0..endpoints-1).
func NewManager(endpoints int) *Manager {
	if endpoints <= 0 || endpoints > constants.MaxEndpoints {
		panic("bus: endpoint count out of range")
	}
	return &Manager{
		endpoints: endpoints,
		reg:       newRegistry(),
		alloc:     pool.NewAllocator(),
		nodes:     make([]*Node, endpoints),
	}
}

// Allocator exposes the shared pool so callers can reserve frame/sample
// chunks alongside the envelope slabs. It is committed by Start.
func (m *Manager) Allocator() *pool.Allocator { return m.alloc }

// AddCall registers c with room for capacity messages in flight (two-way
// calls reserve the same again for responses). A non-positive capacity
// uses constants.DefaultCallCapacity.
func (m *Manager) AddCall(c Call, capacity int) error {
	if m.started.Load() {
		return fmt.Errorf("%w: AddCall(%s)", ErrStarted, c.Name())
	}
	return m.reg.add(m.alloc, c, capacity)
}

// CreateNode creates (or extends) the node for kind, routed to targets.
// Calling it again for the same kind adds routes to the same node.
func (m *Manager) CreateNode(kind Endpoint, targets ...Endpoint) (*Node, error) {
	if m.started.Load() {
		return nil, fmt.Errorf("%w: CreateNode(%d)", ErrStarted, kind)
	}
	if int(kind) >= m.endpoints {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEndpoint, kind)
	}
	for _, t := range targets {
		if int(t) >= m.endpoints || t == kind {
			return nil, fmt.Errorf("%w: route %d -> %d", ErrUnknownEndpoint, kind, t)
		}
	}
	n := m.nodes[kind]
	if n == nil {
		n = newNode(kind, m.endpoints, m.reg)
		m.nodes[kind] = n
	}
	for _, t := range targets {
		n.addTarget(t)
	}
	return n, nil
}

// Node returns the node created for kind, or nil.
func (m *Manager) Node(kind Endpoint) *Node {
	if int(kind) >= m.endpoints {
		return nil
	}
	return m.nodes[kind]
}

// Started reports whether Start succeeded.
func (m *Manager) Started() bool { return m.started.Load() }

// Start validates the topology, commits the allocator, builds the route
// queues and activates every node. Topology and calls are frozen afterwards.
func (m *Manager) Start() error {
	if m.started.Load() {
		return ErrStarted
	}
	if err := m.validate(); err != nil {
		return err
	}
	if err := m.alloc.Commit(); err != nil {
		return err
	}

	qcap := utils.NextPow2(m.reg.slots)
	for _, n := range m.nodes {
		if n == nil {
			continue
		}
		for _, t := range n.targets {
			peer := m.nodes[t]
			q := ring.New[envelope](qcap)
			n.out[t], peer.in[n.kind] = q, q
			r := ring.New[envelope](qcap)
			peer.respOut[n.kind], n.respIn[t] = r, r
		}
	}
	for _, n := range m.nodes {
		if n != nil {
			n.prepare()
		}
	}

	m.started.Store(true)
	for _, n := range m.nodes {
		if n != nil {
			n.active.Store(true)
			debug.DropMessage("BUS", "node "+utils.Itoa(int(n.kind))+" active, "+utils.Itoa(len(n.targets))+" routes")
		}
	}
	debug.DropMessage("BUS", utils.Itoa(len(m.reg.entries)-1)+" calls, queue capacity "+utils.Itoa(qcap))
	return nil
}

// validate checks every created node has a route and every route lands on
// a created node.
func (m *Manager) validate() error {
	created := 0
	routed := make([]bool, m.endpoints)
	for _, n := range m.nodes {
		if n == nil {
			continue
		}
		created++
		for _, t := range n.targets {
			if m.nodes[t] == nil {
				return fmt.Errorf("%w: %d -> %d", ErrUnknownTarget, n.kind, t)
			}
			routed[n.kind], routed[t] = true, true
		}
	}
	if created == 0 {
		return ErrNoNodes
	}
	for _, n := range m.nodes {
		if n != nil && !routed[n.kind] {
			return fmt.Errorf("%w: %d", ErrNoRoute, n.kind)
		}
	}
	return nil
}

// Stop deactivates every node. Queued envelopes are abandoned; Push and
// Request return false and Pull does nothing afterwards.
func (m *Manager) Stop() {
	for _, n := range m.nodes {
		if n != nil {
			n.active.Store(false)
		}
	}
}

// Calls lists registered call names in id order.
func (m *Manager) Calls() []string {
	names := make([]string, 0, len(m.reg.entries)-1)
	for _, e := range m.reg.entries[1:] {
		names = append(names, e.name)
	}
	return names
}
