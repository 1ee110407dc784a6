// freelist.go
//
// Lock-free LIFO of chunk indices (Treiber stack). The head word packs a
// 32-bit ABA tag above the 32-bit "index+1" of the top entry, so a pop that
// raced with pop/push/pop of the same index fails its CAS instead of
// corrupting the list. Push and pop may run on any goroutine concurrently.

package pool

import "sync/atomic"

// freeList holds up to len(next) indices. Index 0 is encoded as 1 so that a
// zero low word means empty.
type freeList struct {
	head atomic.Uint64
	size atomic.Int64
	next []atomic.Uint32
}

// init sizes the list for n indices and pushes all of them, lowest on top.
func (f *freeList) init(n int) {
	f.next = make([]atomic.Uint32, n)
	f.head.Store(0)
	f.size.Store(0)
	for i := n - 1; i >= 0; i-- {
		f.push(uint32(i))
	}
}

// push returns index i to the list.
//
//go:nosplit
func (f *freeList) push(i uint32) {
	for {
		old := f.head.Load()
		f.next[i].Store(uint32(old))
		nw := (old>>32+1)<<32 | uint64(i+1)
		if f.head.CompareAndSwap(old, nw) {
			f.size.Add(1)
			return
		}
	}
}

// pop removes the top index, or reports false when the list is empty.
//
//go:nosplit
func (f *freeList) pop() (uint32, bool) {
	for {
		old := f.head.Load()
		top := uint32(old)
		if top == 0 {
			return 0, false
		}
		nxt := f.next[top-1].Load()
		nw := (old>>32+1)<<32 | uint64(nxt)
		if f.head.CompareAndSwap(old, nw) {
			f.size.Add(-1)
			return top - 1, true
		}
	}
}

// available is a racy but never-negative count of free indices.
//
//go:nosplit
func (f *freeList) available() int {
	if n := f.size.Load(); n > 0 {
		return int(n)
	}
	return 0
}
