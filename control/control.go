// control.go — Global control flags shared by the UI loop and the real-time loop
// ============================================================================
// HOST CONTROL ORCHESTRATION
// ============================================================================
//
// Lightweight global signalling between the host's two execution contexts:
//
//   • stop flag: set once on shutdown, polled by the real-time loop and by
//     the pinned consumer draining the audio ring
//   • hot flag: set whenever the UI side pushes work toward the real-time side,
//     cleared by PollCooldown after CooldownPolls idle polls
//
// All accessors use sync/atomic; nothing here blocks or allocates.

package control

import (
	"sync/atomic"

	"retrohost/constants"
)

var (
	stop uint32 // 1 = shutdown requested
	hot  uint32 // 1 = recent UI activity

	idlePolls uint64 // polls since last activity
)

// SignalActivity marks the system hot. Called by the UI side after it pushes
// commands toward the real-time side.
//
//go:nosplit
//go:inline
func SignalActivity() {
	atomic.StoreUint32(&hot, 1)
	atomic.StoreUint64(&idlePolls, 0)
}

// PollCooldown counts one idle poll and clears the hot flag once the
// cooldown budget is spent. Called from the real-time loop.
//
//go:nosplit
//go:inline
func PollCooldown() {
	if atomic.LoadUint32(&hot) == 0 {
		return
	}
	if atomic.AddUint64(&idlePolls, 1) > constants.CooldownPolls {
		atomic.StoreUint32(&hot, 0)
	}
}

// Shutdown requests termination of every loop observing the stop flag.
//
//go:nosplit
//go:inline
func Shutdown() {
	atomic.StoreUint32(&stop, 1)
}

// Stopping reports whether Shutdown has been called.
//
//go:nosplit
//go:inline
func Stopping() bool {
	return atomic.LoadUint32(&stop) != 0
}

// Hot reports whether the UI side signalled activity recently.
//
//go:nosplit
//go:inline
func Hot() bool {
	return atomic.LoadUint32(&hot) != 0
}

// Flags returns the raw stop/hot words for ring.PinnedConsumer.
//
//go:nosplit
//go:inline
func Flags() (*uint32, *uint32) {
	return &stop, &hot
}

// Reset clears all flags. Used when a host subsystem is rewired.
func Reset() {
	atomic.StoreUint32(&stop, 0)
	atomic.StoreUint32(&hot, 0)
	atomic.StoreUint64(&idlePolls, 0)
}
