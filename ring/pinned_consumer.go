// pinned_consumer.go
//
// Low-latency SPSC consumer.
//
//   • Dedicated OS thread pinned to `core` (core < 0 disables pinning).
//   • Stays in hot-spin while new values arrived within hotTimeout or the
//     producer keeps the hot flag at 1.
//   • Otherwise drops to cold-spin: cpuRelax every miss and a short sleep
//     after spinBudget misses.
//   • Exits only when *stop == 1, after draining what is already buffered,
//     and closes `done` exactly once.
//
// The host uses it to drain the interleaved audio ring when no audio device
// callback is available (headless builds).

package ring

import (
	"runtime"
	"sync/atomic"
	"time"
)

const (
	spinBudget = 256                    // polls before cold back-off
	hotTimeout = 250 * time.Millisecond // hot-spin grace
	coldSleep  = 200 * time.Microsecond
)

// PinnedConsumer drains b into fn until *stop is set.
func PinnedConsumer[T any](
	core int,
	b *Buffer[T],
	stop, hot *uint32,
	fn func(T),
	done chan<- struct{},
) {
	go func() {
		// ── thread & affinity ─────────────────────────────
		runtime.LockOSThread()
		setAffinity(core)
		defer func() {
			runtime.UnlockOSThread()
			close(done)
		}()

		last := time.Now()
		miss := 0

		// ── main loop ─────────────────────────────────────
		for {
			if v, ok := b.ReadValue(); ok {
				fn(v)
				last, miss = time.Now(), 0
				continue
			}

			if atomic.LoadUint32(stop) != 0 {
				return
			}

			if atomic.LoadUint32(hot) != 0 || time.Since(last) <= hotTimeout {
				continue
			}

			if miss++; miss >= spinBudget {
				miss = 0
				time.Sleep(coldSleep)
			}
			cpuRelax()
		}
	}()
}
