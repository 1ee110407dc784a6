// ════════════════════════════════════════════════════════════════════════════════════════════════
// Bounded Chunk Allocator
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: Reserve-then-commit pool allocator shared by the UI and real-time contexts
//
// Description:
//   Bins of fixed-size chunks are declared before the bus starts and materialised by a single
//   Commit. After Commit nothing grows: allocation pops a chunk from a lock-free free list,
//   release pushes it back, from whichever goroutine drops the last Handle.
//
// Features:
//   - One backing slab per bin, sized exactly to the declared requirement
//   - Best-fit bin selection for array requests (smallest chunk that fits)
//   - Exhaustion reported as a boolean, never as an error or a block
//   - Per-chunk generation stamps catch double release of a copied Handle
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package pool

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"unsafe"

	"retrohost/debug"
	"retrohost/utils"
)

var (
	// ErrCommitted is returned by reservations made after Commit.
	ErrCommitted = errors.New("pool: allocator already committed")

	// ErrInvalidReservation is returned for non-positive sizes or counts.
	ErrInvalidReservation = errors.New("pool: chunk size and count must be positive")
)

// chunkAlign keeps every chunk start 8-byte aligned so any Plain element
// type can be viewed over it.
const chunkAlign = 8

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// BINS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// bin is one fixed-size chunk class.
type bin struct {
	size   int    // chunk bytes
	count  int    // declared chunks
	data   []byte // count*size bytes after commit
	free   freeList
	stamp  []atomic.Uint64 // per chunk: generation<<1 | live
	misses atomic.Uint64   // failed allocations
}

// acquire pops a free chunk and stamps a fresh generation on it.
//
//go:nosplit
func (b *bin) acquire() (uint32, uint64, bool) {
	idx, ok := b.free.pop()
	if !ok {
		b.misses.Add(1)
		return 0, 0, false
	}
	gen := b.stamp[idx].Load()>>1 + 1
	b.stamp[idx].Store(gen<<1 | 1)
	return idx, gen, true
}

// release returns chunk idx if gen still owns it.
//
//go:nosplit
func (b *bin) release(idx uint32, gen uint64) {
	if !b.stamp[idx].CompareAndSwap(gen<<1|1, gen<<1) {
		panic("pool: chunk released twice or through a stale handle")
	}
	b.free.push(idx)
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// ALLOCATOR
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Allocator owns every bin and typed slab of one bus.
type Allocator struct {
	reserved  map[int]*bin
	bins      []*bin // ascending chunk size, valid after Commit
	slabs     []Reservable
	committed atomic.Bool
	total     int
}

// NewAllocator returns an empty, uncommitted allocator.
func NewAllocator() *Allocator {
	return &Allocator{reserved: make(map[int]*bin)}
}

// ReserveChunks grows the declared requirement of the bin holding chunks of
// chunkBytes (rounded up to the chunk alignment) by count.
func (a *Allocator) ReserveChunks(chunkBytes, count int) error {
	if a.committed.Load() {
		return ErrCommitted
	}
	if chunkBytes <= 0 || count <= 0 {
		return fmt.Errorf("%w: size=%d count=%d", ErrInvalidReservation, chunkBytes, count)
	}
	size := (chunkBytes + chunkAlign - 1) &^ (chunkAlign - 1)
	b, ok := a.reserved[size]
	if !ok {
		b = &bin{size: size}
		a.reserved[size] = b
	}
	b.count += count
	return nil
}

// ReserveArray reserves count chunks able to hold elems values of T.
func ReserveArray[T Plain](a *Allocator, elems, count int) error {
	var zero T
	return a.ReserveChunks(elems*int(unsafe.Sizeof(zero)), count)
}

// ReserveSlab grows a typed slab by count slots before Commit.
func (a *Allocator) ReserveSlab(s Reservable, count int) error {
	if a.committed.Load() {
		return ErrCommitted
	}
	if count <= 0 {
		return fmt.Errorf("%w: slab %s count=%d", ErrInvalidReservation, s.Name(), count)
	}
	if s.reserve(count) {
		a.slabs = append(a.slabs, s)
	}
	return nil
}

// Commit performs the one real allocation per bin and slab and freezes the
// allocator. Subsequent reservations fail with ErrCommitted.
func (a *Allocator) Commit() error {
	if !a.committed.CompareAndSwap(false, true) {
		return ErrCommitted
	}

	a.bins = make([]*bin, 0, len(a.reserved))
	for _, b := range a.reserved {
		a.bins = append(a.bins, b)
	}
	sort.Slice(a.bins, func(i, j int) bool { return a.bins[i].size < a.bins[j].size })

	for _, b := range a.bins {
		b.data = make([]byte, b.size*b.count)
		b.stamp = make([]atomic.Uint64, b.count)
		b.free.init(b.count)
		a.total += len(b.data)
		debug.DropMessage("POOL", "bin "+utils.Itoa(b.size)+" x"+utils.Itoa(b.count))
	}
	for _, s := range a.slabs {
		n := s.commit()
		debug.DropMessage("POOL", "slab "+s.Name()+" x"+utils.Itoa(n))
	}

	debug.DropMessage("POOL", "total chunk bytes "+utils.Itoa(a.total))
	return nil
}

// Committed reports whether Commit has run.
func (a *Allocator) Committed() bool {
	return a.committed.Load()
}

// find returns the smallest bin whose chunks hold bytes and still have a
// free chunk; when every fitting bin is empty it returns the smallest
// fitting bin so the miss is accounted there.
//
//go:nosplit
func (a *Allocator) find(bytes int) *bin {
	var fit *bin
	for _, b := range a.bins {
		if b.size < bytes {
			continue
		}
		if fit == nil {
			fit = b
		}
		if b.free.available() > 0 {
			return b
		}
	}
	return fit
}

// canAlloc is the untyped capacity probe.
//
//go:nosplit
func (a *Allocator) canAlloc(bytes int) bool {
	if !a.committed.Load() || bytes <= 0 {
		return false
	}
	b := a.find(bytes)
	return b != nil && b.free.available() > 0
}

// CanAlloc reports, without side effects, whether an array of n values of T
// can be allocated right now.
func CanAlloc[T Plain](a *Allocator, n int) bool {
	var zero T
	return a.canAlloc(n * int(unsafe.Sizeof(zero)))
}

// AllocArrayUnique hands out a Handle over n values of T. On exhaustion it
// returns an invalid Handle and false; it never blocks and never touches the
// general heap.
func AllocArrayUnique[T Plain](a *Allocator, n int) (Handle[T], bool) {
	if !a.committed.Load() {
		panic("pool: allocation before Commit")
	}
	var zero T
	bytes := n * int(unsafe.Sizeof(zero))
	if n <= 0 {
		return Handle[T]{}, false
	}
	b := a.find(bytes)
	if b == nil {
		return Handle[T]{}, false
	}
	idx, gen, ok := b.acquire()
	if !ok {
		return Handle[T]{}, false
	}
	base := unsafe.Pointer(&b.data[int(idx)*b.size])
	data := unsafe.Slice((*T)(base), n)
	clear(data)
	return Handle[T]{data: data, bin: b, idx: idx, gen: gen}, true
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// DIAGNOSTICS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// BinStats describes one chunk class.
type BinStats struct {
	ChunkBytes int
	Capacity   int
	Free       int
	Misses     uint64
}

// Stats snapshots every bin. Counts are racy while traffic is in flight.
func (a *Allocator) Stats() []BinStats {
	out := make([]BinStats, 0, len(a.bins))
	for _, b := range a.bins {
		out = append(out, BinStats{
			ChunkBytes: b.size,
			Capacity:   b.count,
			Free:       b.free.available(),
			Misses:     b.misses.Load(),
		})
	}
	return out
}

// TotalBytes is the size of all bin slabs after Commit.
func (a *Allocator) TotalBytes() int {
	return a.total
}
