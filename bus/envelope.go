package bus

import "retrohost/debug"

// Endpoint indexes one participant of the bus (e.g. the UI or the audio
// callback). Values run from 0 to the manager's endpoint count - 1.
type Endpoint uint8

// kind tells Pull which thunk of a call entry to run.
type kind uint8

const (
	kindPush kind = iota + 1
	kindRequest
	kindResponse
)

// envelope is the routing header carried by the per-pair queues. The
// payload itself stays resident in the call's slab at slot.
type envelope struct {
	call   uint16   // dense call id, 0 = unregistered sentinel
	kind   kind     // push / request / response
	source Endpoint // node that sent the envelope
	slot   uint32   // payload slot in the call's request or result slab
	token  uint32   // responder token on the requesting node
}

// violation reports a broken usage contract. It panics when assertions are
// enabled and otherwise logs and lets the caller drop the message.
func violation(node Endpoint, call, what string) bool {
	msg := "node " + itoa(int(node)) + " call " + call + ": " + what
	if assertionsEnabled {
		panic("bus: " + msg)
	}
	debug.DropMessage("BUS", msg)
	return false
}
