package pool

// Plain constrains pool arrays to pointer-free scalar element types, so
// chunk memory never hides Go pointers from the garbage collector.
type Plain interface {
	~byte | ~int8 | ~int16 | ~uint16 | ~int32 | ~uint32 |
		~int64 | ~uint64 | ~int | ~uint | ~float32 | ~float64
}

// Handle is the owning reference to one pool chunk viewed as []T.
//
// Ownership moves with Move: the source is zeroed and the returned value is
// the only owner. Whoever owns the Handle last calls Release, on any
// goroutine. Releasing a zero Handle is a no-op; releasing a stale copy
// panics.
type Handle[T Plain] struct {
	data []T
	bin  *bin
	idx  uint32
	gen  uint64
}

// Valid reports whether h owns a chunk.
func (h *Handle[T]) Valid() bool {
	return h.bin != nil
}

// Slice exposes the chunk. It must not be retained past Release or Move.
func (h *Handle[T]) Slice() []T {
	return h.data
}

// Len is the number of T values requested at allocation.
func (h *Handle[T]) Len() int {
	return len(h.data)
}

// Move transfers ownership to the returned Handle and invalidates h.
func (h *Handle[T]) Move() Handle[T] {
	m := *h
	*h = Handle[T]{}
	return m
}

// Release returns the chunk to its bin and invalidates h.
//
//go:nosplit
func (h *Handle[T]) Release() {
	if h.bin == nil {
		return
	}
	b, idx, gen := h.bin, h.idx, h.gen
	*h = Handle[T]{}
	b.release(idx, gen)
}
