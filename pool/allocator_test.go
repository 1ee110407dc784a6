// ════════════════════════════════════════════════════════════════════════════════════════════════
// Bounded Chunk Allocator — test suite
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Covers reservation/commit lifecycle, best-fit selection, exhaustion determinism, byte-pattern
// round trips, cross-goroutine release and stale-handle detection.
// ════════════════════════════════════════════════════════════════════════════════════════════════

package pool

import (
	"errors"
	"sync"
	"testing"
)

// ============================================================================
// HELPER FUNCTIONS
// ============================================================================

func committed(t *testing.T, reserve func(a *Allocator)) *Allocator {
	t.Helper()
	a := NewAllocator()
	reserve(a)
	if err := a.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return a
}

func mustPanic(t *testing.T, what string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatalf("%s should panic", what)
		}
	}()
	fn()
}

// ============================================================================
// LIFECYCLE
// ============================================================================

func TestReserveAfterCommitFails(t *testing.T) {
	a := committed(t, func(a *Allocator) { _ = a.ReserveChunks(64, 2) })
	if err := a.ReserveChunks(64, 1); !errors.Is(err, ErrCommitted) {
		t.Fatalf("ReserveChunks after Commit = %v, want ErrCommitted", err)
	}
	if err := a.Commit(); !errors.Is(err, ErrCommitted) {
		t.Fatalf("second Commit = %v, want ErrCommitted", err)
	}
	if err := a.ReserveSlab(NewSlab[int]("late"), 1); !errors.Is(err, ErrCommitted) {
		t.Fatalf("ReserveSlab after Commit = %v", err)
	}
}

func TestInvalidReservation(t *testing.T) {
	a := NewAllocator()
	for _, c := range [][2]int{{0, 1}, {8, 0}, {-1, 4}} {
		if err := a.ReserveChunks(c[0], c[1]); !errors.Is(err, ErrInvalidReservation) {
			t.Fatalf("ReserveChunks(%d,%d) = %v", c[0], c[1], err)
		}
	}
}

func TestReservationsAccumulatePerBin(t *testing.T) {
	a := committed(t, func(a *Allocator) {
		_ = a.ReserveChunks(60, 2) // rounds to 64
		_ = a.ReserveChunks(64, 3)
		_ = ReserveArray[float32](a, 256, 1)
	})
	st := a.Stats()
	if len(st) != 2 {
		t.Fatalf("bins = %d, want 2", len(st))
	}
	if st[0].ChunkBytes != 64 || st[0].Capacity != 5 {
		t.Fatalf("bin0 = %+v", st[0])
	}
	if st[1].ChunkBytes != 1024 || st[1].Capacity != 1 {
		t.Fatalf("bin1 = %+v", st[1])
	}
	if a.TotalBytes() != 64*5+1024 {
		t.Fatalf("TotalBytes = %d", a.TotalBytes())
	}
}

func TestAllocBeforeCommitPanics(t *testing.T) {
	a := NewAllocator()
	_ = a.ReserveChunks(16, 1)
	if CanAlloc[byte](a, 16) {
		t.Fatal("CanAlloc before Commit must be false")
	}
	mustPanic(t, "AllocArrayUnique before Commit", func() { AllocArrayUnique[byte](a, 16) })
}

// ============================================================================
// ALLOCATION
// ============================================================================

func TestExhaustionIsDeterministic(t *testing.T) {
	const k = 4
	a := committed(t, func(a *Allocator) { _ = ReserveArray[byte](a, 32, k) })
	hs := make([]Handle[byte], 0, k)
	for i := 0; i < k; i++ {
		if !CanAlloc[byte](a, 32) {
			t.Fatalf("CanAlloc false before allocation %d", i)
		}
		h, ok := AllocArrayUnique[byte](a, 32)
		if !ok {
			t.Fatalf("allocation %d failed", i)
		}
		hs = append(hs, h)
	}
	if CanAlloc[byte](a, 32) {
		t.Fatal("CanAlloc must be false once the bin is drained")
	}
	if h, ok := AllocArrayUnique[byte](a, 32); ok || h.Valid() {
		t.Fatal("allocation past capacity must fail")
	}
	if a.Stats()[0].Misses != 1 {
		t.Fatalf("misses = %d, want 1", a.Stats()[0].Misses)
	}
	hs[0].Release()
	if !CanAlloc[byte](a, 32) {
		t.Fatal("CanAlloc must recover after a release")
	}
	for i := range hs {
		hs[i].Release()
	}
}

func TestBestFitFallsThroughToLargerBin(t *testing.T) {
	a := committed(t, func(a *Allocator) {
		_ = a.ReserveChunks(16, 1)
		_ = a.ReserveChunks(128, 1)
	})
	small, ok := AllocArrayUnique[byte](a, 10)
	if !ok || small.bin.size != 16 {
		t.Fatal("first request should land in the 16-byte bin")
	}
	spill, ok := AllocArrayUnique[byte](a, 10)
	if !ok || spill.bin.size != 128 {
		t.Fatal("second request should spill into the 128-byte bin")
	}
	if CanAlloc[byte](a, 1) {
		t.Fatal("all bins exhausted")
	}
	if _, ok := AllocArrayUnique[byte](a, 256); ok {
		t.Fatal("request larger than every bin must fail")
	}
	small.Release()
	spill.Release()
}

func TestBytePatternRoundTripAcrossGoroutines(t *testing.T) {
	a := committed(t, func(a *Allocator) { _ = ReserveArray[byte](a, 4096, 2) })
	h, ok := AllocArrayUnique[byte](a, 4000)
	if !ok {
		t.Fatal("alloc failed")
	}
	for i := range h.Slice() {
		h.Slice()[i] = byte(i * 7)
	}

	ch := make(chan Handle[byte], 1)
	ch <- h.Move()
	if h.Valid() {
		t.Fatal("Move must invalidate the source")
	}

	done := make(chan bool)
	go func() {
		got := <-ch
		okPattern := got.Len() == 4000
		for i, v := range got.Slice() {
			if v != byte(i*7) {
				okPattern = false
				break
			}
		}
		got.Release()
		done <- okPattern
	}()
	if !<-done {
		t.Fatal("pattern corrupted across the hand-off")
	}
	if a.Stats()[0].Free != 2 {
		t.Fatal("chunk not returned by the remote release")
	}
}

func TestFreshChunkIsZeroed(t *testing.T) {
	a := committed(t, func(a *Allocator) { _ = ReserveArray[float32](a, 8, 1) })
	h, _ := AllocArrayUnique[float32](a, 8)
	for i := range h.Slice() {
		h.Slice()[i] = 1.5
	}
	h.Release()
	h, _ = AllocArrayUnique[float32](a, 8)
	for _, v := range h.Slice() {
		if v != 0 {
			t.Fatal("reused chunk must be cleared")
		}
	}
	h.Release()
}

func TestStaleCopyReleasePanics(t *testing.T) {
	a := committed(t, func(a *Allocator) { _ = a.ReserveChunks(8, 1) })
	h, _ := AllocArrayUnique[byte](a, 8)
	cp, stale := h, h
	h.Release()
	h.Release() // zero handle: no-op
	mustPanic(t, "release of a stale copy", func() { cp.Release() })

	h2, _ := AllocArrayUnique[byte](a, 8)
	mustPanic(t, "stale copy after reuse", func() { stale.Release() })
	h2.Release()
}

// ============================================================================
// CONCURRENCY
// ============================================================================

func TestConcurrentAllocRelease(t *testing.T) {
	const chunks = 32
	a := committed(t, func(a *Allocator) { _ = ReserveArray[uint32](a, 16, chunks) })

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed uint32) {
			defer wg.Done()
			for i := 0; i < 5000; i++ {
				h, ok := AllocArrayUnique[uint32](a, 16)
				if !ok {
					continue
				}
				s := h.Slice()
				for j := range s {
					s[j] = seed
				}
				for j := range s {
					if s[j] != seed {
						panic("chunk shared between owners")
					}
				}
				h.Release()
			}
		}(uint32(g))
	}
	wg.Wait()
	if st := a.Stats()[0]; st.Free != chunks {
		t.Fatalf("free = %d after quiescence, want %d", st.Free, chunks)
	}
}

func BenchmarkAllocRelease(b *testing.B) {
	a := NewAllocator()
	_ = ReserveArray[float32](a, 1024, 8)
	_ = a.Commit()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		h, _ := AllocArrayUnique[float32](a, 1024)
		h.Release()
	}
}
