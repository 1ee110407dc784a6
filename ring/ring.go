// ring.go
// Lock-free single-producer/single-consumer ring buffer of plain values.
// Producer and consumer cursors sit on separate cache lines so the two
// threads never false-share, and the capacity is a power of two so index
// wrap is a mask rather than a division.
//
// Exactly one goroutine may write and exactly one may read at a time.
// Values are copied in and out; T should not hold references the producer
// keeps mutating after the write.

package ring

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Buffer is a fixed-capacity circular buffer dedicated to one producer and
// one consumer.
type Buffer[T any] struct {
	_     cpu.CacheLinePad
	write atomic.Uint64 // producer cursor, monotonically increasing
	_     cpu.CacheLinePad
	read  atomic.Uint64 // consumer cursor, monotonically increasing
	_     cpu.CacheLinePad
	mask  uint64
	buf   []T
}

// New allocates a buffer whose capacity must be a power of two; otherwise it
// panics so that the bit-masking arithmetic stays valid.
func New[T any](capacity int) *Buffer[T] {
	b := new(Buffer[T])
	b.Init(capacity)
	return b
}

// Init (re)allocates the backing storage. It must not race with Write/Read.
func (b *Buffer[T]) Init(capacity int) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic("ring: capacity must be >0 and a power of two")
	}
	b.buf = make([]T, capacity)
	b.mask = uint64(capacity - 1)
	b.write.Store(0)
	b.read.Store(0)
}

// Capacity returns the number of slots.
//
//go:nosplit
func (b *Buffer[T]) Capacity() int {
	return len(b.buf)
}

// WriteAvailable returns how many values the producer can write right now.
//
//go:nosplit
func (b *Buffer[T]) WriteAvailable() int {
	return len(b.buf) - int(b.write.Load()-loadAcquireUint64(&b.read))
}

// ReadAvailable returns how many values the consumer can read right now.
//
//go:nosplit
func (b *Buffer[T]) ReadAvailable() int {
	return int(loadAcquireUint64(&b.write) - b.read.Load())
}

// WriteValue appends one value, returning false if the buffer is full.
//
//go:nosplit
func (b *Buffer[T]) WriteValue(v T) bool {
	w := b.write.Load()
	if w-loadAcquireUint64(&b.read) >= uint64(len(b.buf)) {
		return false // consumer has not yet reclaimed the slot
	}
	b.buf[w&b.mask] = v
	storeReleaseUint64(&b.write, w+1)
	return true
}

// Write copies as many values from src as fit and returns the count.
// Values past capacity are not written; callers check WriteAvailable first.
func (b *Buffer[T]) Write(src []T) int {
	w := b.write.Load()
	free := uint64(len(b.buf)) - (w - loadAcquireUint64(&b.read))
	n := uint64(len(src))
	if n > free {
		n = free
	}
	if n == 0 {
		return 0
	}
	start := w & b.mask
	first := copy(b.buf[start:], src[:n])
	if uint64(first) < n {
		copy(b.buf, src[first:n])
	}
	storeReleaseUint64(&b.write, w+n)
	return int(n)
}

// ReadValue removes one value, or reports false when the buffer is empty.
//
//go:nosplit
func (b *Buffer[T]) ReadValue() (T, bool) {
	var zero T
	r := b.read.Load()
	if loadAcquireUint64(&b.write) == r {
		return zero, false // producer has not yet published
	}
	slot := &b.buf[r&b.mask]
	v := *slot
	*slot = zero // drop references held by the slot
	storeReleaseUint64(&b.read, r+1)
	return v, true
}

// Peek returns the next value without consuming it.
//
//go:nosplit
func (b *Buffer[T]) Peek() (T, bool) {
	var zero T
	r := b.read.Load()
	if loadAcquireUint64(&b.write) == r {
		return zero, false
	}
	return b.buf[r&b.mask], true
}

// Read copies up to len(dst) values into dst and returns the count, which is
// short (possibly zero) when fewer values are available.
func (b *Buffer[T]) Read(dst []T) int {
	r := b.read.Load()
	avail := loadAcquireUint64(&b.write) - r
	n := uint64(len(dst))
	if n > avail {
		n = avail
	}
	if n == 0 {
		return 0
	}
	start := r & b.mask
	first := copy(dst[:n], b.buf[start:])
	if uint64(first) < n {
		copy(dst[first:n], b.buf)
	}
	storeReleaseUint64(&b.read, r+n)
	return int(n)
}

// Clear resets both cursors. Only valid while neither side is active.
func (b *Buffer[T]) Clear() {
	var zero T
	for i := range b.buf {
		b.buf[i] = zero
	}
	b.write.Store(0)
	b.read.Store(0)
}
