// ring_atomic_fallback.go
//
// Acquire/release helpers over sync/atomic. Seq-cst is a conservative
// superset of the required order on every architecture Go supports.

package ring

import "sync/atomic"

// loadAcquireUint64 is an acquire load of the cursor.
//
//go:nosplit
func loadAcquireUint64(p *atomic.Uint64) uint64 {
	return p.Load()
}

// storeReleaseUint64 is a release store to the cursor.
//
//go:nosplit
func storeReleaseUint64(p *atomic.Uint64, v uint64) {
	p.Store(v)
}
