package pool

import "sync/atomic"

// Reservable is a typed slot pool that the Allocator materialises on Commit.
type Reservable interface {
	Name() string
	reserve(count int) (first bool)
	commit() int
}

// Slab is a fixed pool of T slots. Unlike byte chunks, slots may hold Go
// pointers (instance handles, callbacks); slots are zeroed on Release so a
// freed slot never pins the previous payload.
type Slab[T any] struct {
	name  string
	count int
	items []T
	live  []atomic.Bool
	free  freeList
}

// NewSlab returns an empty slab; reserve slots through Allocator.ReserveSlab.
func NewSlab[T any](name string) *Slab[T] {
	return &Slab[T]{name: name}
}

// Name identifies the slab in diagnostics.
func (s *Slab[T]) Name() string { return s.name }

func (s *Slab[T]) reserve(count int) bool {
	first := s.count == 0
	s.count += count
	return first
}

func (s *Slab[T]) commit() int {
	s.items = make([]T, s.count)
	s.live = make([]atomic.Bool, s.count)
	s.free.init(s.count)
	return s.count
}

// Cap is the committed slot count.
func (s *Slab[T]) Cap() int { return len(s.items) }

// Available is the number of free slots (racy under concurrent traffic).
//
//go:nosplit
func (s *Slab[T]) Available() int { return s.free.available() }

// Acquire takes a free slot, or reports false when the slab is exhausted.
//
//go:nosplit
func (s *Slab[T]) Acquire() (uint32, bool) {
	i, ok := s.free.pop()
	if !ok {
		return 0, false
	}
	s.live[i].Store(true)
	return i, true
}

// At returns the slot. Only the current owner of slot i may touch it.
//
//go:nosplit
func (s *Slab[T]) At(i uint32) *T { return &s.items[i] }

// Release zeroes slot i and returns it to the slab.
//
//go:nosplit
func (s *Slab[T]) Release(i uint32) {
	if !s.live[i].CompareAndSwap(true, false) {
		panic("pool: slab slot released twice")
	}
	var zero T
	s.items[i] = zero
	s.free.push(i)
}
