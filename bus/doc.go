// Package bus is the cross-context message bus of the host: typed,
// endpoint-addressed push and request/response calls between a UI context
// and a real-time context, backed by pools reserved before Start.
//
// Wiring happens once, on one goroutine:
//
//	m := bus.NewManager(int(EndpointCount))
//	m.AddCall(PressButtons, 32)
//	m.AddCall(FetchState, 4)
//	ui, _ := m.CreateNode(Ui, Audio)
//	rt, _ := m.CreateNode(Audio, Ui)
//	FetchState.On(rt, func(req FetchRequest) FetchResult { ... })
//	m.Start()
//
// At steady state each node is driven by exactly one goroutine, which issues
// its Push/Request calls and calls Pull periodically. Handlers and response
// callbacks only ever run inside Pull, on the node's own goroutine.
//
// Capacity is checked, not waited for: CanPush/CanRequest are non-blocking
// probes, and pushing after a negative probe is a programming error that
// panics unless the binary is built with the "release" tag.
package bus
