package bus

import (
	"errors"
	"sync"
	"testing"
	"time"

	"retrohost/pool"
)

const (
	epA Endpoint = iota
	epB
	epCount
)

// ============================================================================
// HELPER FUNCTIONS
// ============================================================================

// pair wires A <-> B after register ran, leaving handler installation to fn.
func pair(t *testing.T, register func(m *Manager), fn func(a, b *Node)) (*Manager, *Node, *Node) {
	t.Helper()
	m := NewManager(int(epCount))
	register(m)
	a, err := m.CreateNode(epA, epB)
	if err != nil {
		t.Fatalf("CreateNode(A): %v", err)
	}
	b, err := m.CreateNode(epB, epA)
	if err != nil {
		t.Fatalf("CreateNode(B): %v", err)
	}
	if fn != nil {
		fn(a, b)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return m, a, b
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
// PUSH
// ============================================================================

// TestPushCapacityScenario: capacity 4, four pushes, fifth CanPush fails,
// B's pull sees all four in order, CanPush recovers.
func TestPushCapacityScenario(t *testing.T) {
	value := NewPush[int]("value")
	var seen []int
	_, a, b := pair(t,
		func(m *Manager) {
			if err := m.AddCall(value, 4); err != nil {
				t.Fatal(err)
			}
		},
		func(a, b *Node) {
			if err := value.On(b, func(v int) { seen = append(seen, v) }); err != nil {
				t.Fatal(err)
			}
		})

	for i := 1; i <= 4; i++ {
		if !value.CanPush(a) {
			t.Fatalf("CanPush false before push %d", i)
		}
		if !value.Push(a, epB, i*10) {
			t.Fatalf("push %d failed", i)
		}
	}
	if value.CanPush(a) {
		t.Fatal("fifth CanPush must be false")
	}
	if got := b.Pull(); got != 4 {
		t.Fatalf("Pull consumed %d envelopes, want 4", got)
	}
	want := []int{10, 20, 30, 40}
	if len(seen) != len(want) {
		t.Fatalf("handler saw %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("handler saw %v, want %v", seen, want)
		}
	}
	if !value.CanPush(a) || !value.CanPushTo(a, epB) {
		t.Fatal("CanPush must recover after Pull")
	}
}

func TestPullOnlyDrainsItsOwnInbox(t *testing.T) {
	ping := NewPush[string]("ping")
	var got string
	_, a, b := pair(t,
		func(m *Manager) { _ = m.AddCall(ping, 2) },
		func(a, b *Node) { _ = ping.On(b, func(s string) { got = s }) })

	ping.Push(a, epB, "hello")
	if a.Pull() != 0 {
		t.Fatal("sender pull must not see its own outbound traffic")
	}
	if b.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", b.Pending())
	}
	b.Pull()
	if got != "hello" {
		t.Fatalf("got %q", got)
	}
	if b.Pull() != 0 {
		t.Fatal("second pull must find nothing")
	}
}

func TestHandlerMayPushDuringPull(t *testing.T) {
	echo := NewPush[int]("echo")
	var back []int
	_, a, b := pair(t,
		func(m *Manager) { _ = m.AddCall(echo, 1) },
		func(a, b *Node) {
			_ = echo.On(b, func(v int) {
				if echo.CanPush(b) {
					echo.Push(b, epA, v+1)
				}
			})
			_ = echo.On(a, func(v int) { back = append(back, v) })
		})

	echo.Push(a, epB, 1)
	b.Pull() // slot freed before the handler runs, so the echo fits
	a.Pull()
	if len(back) != 1 || back[0] != 2 {
		t.Fatalf("echo = %v", back)
	}
}

func TestBroadcastReachesEveryTarget(t *testing.T) {
	const epC Endpoint = 2
	tick := NewPush[int]("tick")
	m := NewManager(3)
	_ = m.AddCall(tick, 4)
	a, _ := m.CreateNode(epA, epB, epC)
	b, _ := m.CreateNode(epB)
	c, _ := m.CreateNode(epC)
	var nb, nc int
	_ = tick.On(b, func(v int) { nb += v })
	_ = tick.On(c, func(v int) { nc += v })
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	if sent := tick.Broadcast(a, 5); sent != 2 {
		t.Fatalf("Broadcast sent %d, want 2", sent)
	}
	b.Pull()
	c.Pull()
	if nb != 5 || nc != 5 {
		t.Fatalf("b=%d c=%d", nb, nc)
	}
}

// ============================================================================
// REQUEST / RESPONSE
// ============================================================================

// TestRequestRoundTripScenario: capacity 1, payload 7, handler doubles,
// callback runs once and only inside the requester's own Pull.
func TestRequestRoundTripScenario(t *testing.T) {
	double := NewRequest[int, int]("double")
	counter, calls := 0, 0
	_, a, b := pair(t,
		func(m *Manager) { _ = m.AddCall(double, 1) },
		func(a, b *Node) { _ = double.On(b, func(v int) int { return v * 2 }) })

	if !double.CanRequest(a) {
		t.Fatal("CanRequest must be true on a fresh bus")
	}
	ok := double.Request(a, epB, 7, func(v int) {
		counter = v
		calls++
	})
	if !ok {
		t.Fatal("Request failed")
	}
	if calls != 0 {
		t.Fatal("callback must never run inline")
	}
	if double.CanRequest(a) {
		t.Fatal("capacity 1 must be exhausted while the round trip is open")
	}

	a.Pull()
	if calls != 0 {
		t.Fatal("callback must not run before the target handled the request")
	}
	b.Pull()
	if calls != 0 {
		t.Fatal("callback must not run on the target's pull")
	}
	a.Pull()
	if counter != 14 || calls != 1 {
		t.Fatalf("counter=%d calls=%d, want 14 and 1", counter, calls)
	}
	a.Pull()
	if calls != 1 {
		t.Fatal("callback must run exactly once")
	}
	if !double.CanRequest(a) {
		t.Fatal("capacity must be back after delivery")
	}
}

func TestRequestTokensAreRecycled(t *testing.T) {
	echo := NewRequest[string, string]("echo")
	_, a, b := pair(t,
		func(m *Manager) { _ = m.AddCall(echo, 3) },
		func(a, b *Node) { _ = echo.On(b, func(s string) string { return s + "!" }) })

	if a.RemainingRequests() != 3 {
		t.Fatalf("RemainingRequests = %d, want 3", a.RemainingRequests())
	}
	var got []string
	for round := 0; round < 10; round++ {
		for i := 0; i < 3; i++ {
			echo.Request(a, epB, string(rune('a'+i)), func(s string) { got = append(got, s) })
		}
		if a.RemainingRequests() != 0 {
			t.Fatal("all tokens should be taken")
		}
		b.Pull()
		a.Pull()
	}
	if len(got) != 30 || got[0] != "a!" || got[2] != "c!" {
		t.Fatalf("got %d responses, first %v", len(got), got[:3])
	}
	if a.RemainingRequests() != 3 {
		t.Fatal("tokens must be returned")
	}
}

func TestHandlerPanicStillAnswers(t *testing.T) {
	half := NewRequest[int, int]("half")
	explode := true
	_, a, b := pair(t,
		func(m *Manager) { _ = m.AddCall(half, 1) },
		func(a, b *Node) {
			_ = half.On(b, func(v int) int {
				if explode {
					explode = false
					panic("handler failed")
				}
				return v / 2
			})
		})

	got := -1
	if !half.Request(a, epB, 8, func(v int) { got = v }) {
		t.Fatal("first request refused")
	}
	mustPanic(t, "Pull over a panicking handler", func() { b.Pull() })
	a.Pull()
	if got != 0 {
		t.Fatalf("panicked round trip answered %d, want zero value", got)
	}
	if !half.CanRequest(a) || a.RemainingRequests() != 1 {
		t.Fatalf("CanRequest=%v RemainingRequests=%d after recovery", half.CanRequest(a), a.RemainingRequests())
	}

	if !half.Request(a, epB, 8, func(v int) { got = v }) {
		t.Fatal("second request refused")
	}
	b.Pull()
	a.Pull()
	if got != 4 {
		t.Fatalf("got %d, want 4", got)
	}
}

// TestCapacityChecksFromOtherGoroutine reads CanRequest and RemainingRequests
// while the owner issues round trips.
func TestCapacityChecksFromOtherGoroutine(t *testing.T) {
	echo := NewRequest[int, int]("echo")
	_, a, b := pair(t,
		func(m *Manager) { _ = m.AddCall(echo, 2) },
		func(a, b *Node) { _ = echo.On(b, func(v int) int { return v }) })

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			if r := a.RemainingRequests(); r < 0 || r > 2 {
				t.Errorf("RemainingRequests = %d", r)
				return
			}
			_ = echo.CanRequest(a)
		}
	}()

	for i := 0; i < 1000; i++ {
		for echo.CanRequest(a) {
			echo.Request(a, epB, i, nil)
		}
		b.Pull()
		a.Pull()
	}
	close(done)
	wg.Wait()
	if a.RemainingRequests() != 2 {
		t.Fatalf("RemainingRequests = %d, want 2", a.RemainingRequests())
	}
}

func TestTwoWayCallsReserveResponseSlots(t *testing.T) {
	m := NewManager(int(epCount))
	_ = m.AddCall(NewPush[int]("p"), 4)
	_ = m.AddCall(NewRequest[int, int]("r"), 3)
	if m.reg.slots != 4+3+3 || m.reg.responders != 3 {
		t.Fatalf("slots=%d responders=%d", m.reg.slots, m.reg.responders)
	}
	if names := m.Calls(); len(names) != 2 || names[0] != "p" || names[1] != "r" {
		t.Fatalf("Calls = %v", names)
	}
}

// ============================================================================
// HANDLE TRANSFER
// ============================================================================

type frame struct {
	index int
	pix   pool.Handle[byte]
}

func TestHandleMovesAcrossPush(t *testing.T) {
	video := NewPush[frame]("video")
	var got []byte
	m, a, _ := pair(t,
		func(m *Manager) {
			_ = m.AddCall(video, 2)
			_ = pool.ReserveArray[byte](m.Allocator(), 256, 2)
		},
		func(a, b *Node) {
			_ = video.On(b, func(f frame) {
				got = append(got, f.pix.Slice()...)
				f.pix.Release()
			})
		})

	alloc := m.Allocator()
	h, ok := pool.AllocArrayUnique[byte](alloc, 200)
	if !ok {
		t.Fatal("alloc failed")
	}
	for i := range h.Slice() {
		h.Slice()[i] = byte(255 - i)
	}
	if !video.Push(a, epB, frame{index: 1, pix: h.Move()}) {
		t.Fatal("push failed")
	}

	done := make(chan struct{})
	go func() { // B's owner goroutine
		m.Node(epB).Pull()
		close(done)
	}()
	<-done

	if len(got) != 200 {
		t.Fatalf("received %d bytes", len(got))
	}
	for i, v := range got {
		if v != byte(255-i) {
			t.Fatalf("byte %d = %d", i, v)
		}
	}
	for _, st := range alloc.Stats() {
		if st.ChunkBytes == 256 && st.Free != 2 {
			t.Fatal("frame chunk must be back in its bin")
		}
	}
}

// ============================================================================
// WIRING
// ============================================================================

func TestWiringErrors(t *testing.T) {
	c := NewPush[int]("c")

	m := NewManager(int(epCount))
	if err := m.Start(); !errors.Is(err, ErrNoNodes) {
		t.Fatalf("Start without nodes = %v", err)
	}
	if _, err := m.CreateNode(Endpoint(9)); !errors.Is(err, ErrUnknownEndpoint) {
		t.Fatalf("bad kind = %v", err)
	}
	if _, err := m.CreateNode(epA, epA); !errors.Is(err, ErrUnknownEndpoint) {
		t.Fatalf("self route = %v", err)
	}
	if err := m.AddCall(c, 1); err != nil {
		t.Fatal(err)
	}
	if err := m.AddCall(c, 1); !errors.Is(err, ErrDuplicateCall) {
		t.Fatalf("duplicate AddCall = %v", err)
	}

	a, _ := m.CreateNode(epA, epB)
	if err := m.Start(); !errors.Is(err, ErrUnknownTarget) {
		t.Fatalf("route to missing node = %v", err)
	}
	if err := NewPush[int]("never").On(a, func(int) {}); !errors.Is(err, ErrUnregistered) {
		t.Fatalf("On for unregistered call = %v", err)
	}

	m2 := NewManager(int(epCount))
	_, _ = m2.CreateNode(epA)
	if err := m2.Start(); !errors.Is(err, ErrNoRoute) {
		t.Fatalf("isolated node = %v", err)
	}
}

func TestCreateNodeIsIdempotent(t *testing.T) {
	m := NewManager(int(epCount))
	a1, _ := m.CreateNode(epA, epB)
	a2, _ := m.CreateNode(epA, epB)
	if a1 != a2 || len(a1.Targets()) != 1 {
		t.Fatal("CreateNode must return the same node without duplicating routes")
	}
}

func TestFrozenAfterStart(t *testing.T) {
	c := NewPush[int]("c")
	m, a, _ := pair(t, func(m *Manager) { _ = m.AddCall(c, 1) }, nil)
	if err := m.AddCall(NewPush[int]("late"), 1); !errors.Is(err, ErrStarted) {
		t.Fatalf("AddCall after Start = %v", err)
	}
	if _, err := m.CreateNode(epA, epB); !errors.Is(err, ErrStarted) {
		t.Fatalf("CreateNode after Start = %v", err)
	}
	if err := c.On(a, func(int) {}); !errors.Is(err, ErrStarted) {
		t.Fatalf("On after Start = %v", err)
	}
	if err := m.Start(); !errors.Is(err, ErrStarted) {
		t.Fatalf("second Start = %v", err)
	}
	if !m.Allocator().Committed() {
		t.Fatal("Start must commit the allocator")
	}
}

func TestStopDeactivates(t *testing.T) {
	c := NewPush[int]("c")
	m, a, b := pair(t, func(m *Manager) { _ = m.AddCall(c, 1) }, nil)
	m.Stop()
	if a.IsActive() || b.IsActive() {
		t.Fatal("nodes must be inactive after Stop")
	}
	if c.CanPush(a) || c.Push(a, epB, 1) {
		t.Fatal("push after Stop must fail")
	}
	if b.Pull() != 0 {
		t.Fatal("pull after Stop must do nothing")
	}
}

func TestWaitUntilActive(t *testing.T) {
	c := NewPush[int]("c")
	m := NewManager(int(epCount))
	_ = m.AddCall(c, 1)
	a, _ := m.CreateNode(epA, epB)
	_, _ = m.CreateNode(epB)

	errc := make(chan error, 1)
	go func() {
		ctx, cancel := contextWithTimeout(time.Second)
		defer cancel()
		errc <- a.WaitUntilActive(ctx)
	}()
	time.Sleep(5 * time.Millisecond)
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("WaitUntilActive = %v", err)
	}
}

// ============================================================================
// CONCURRENCY
// ============================================================================

// TestConcurrentNodes runs each node on its own goroutine: A streams pushes
// and requests to B, B answers, and every message arrives once and in order.
func TestConcurrentNodes(t *testing.T) {
	const total = 20000
	seq := NewPush[int]("seq")
	sq := NewRequest[int, int]("square")

	var (
		mu       sync.Mutex
		lastSeq  = -1
		ordered  = true
		answered int
		badReply bool
	)
	m, a, b := pair(t,
		func(m *Manager) {
			_ = m.AddCall(seq, 8)
			_ = m.AddCall(sq, 4)
		},
		func(a, b *Node) {
			_ = seq.On(b, func(v int) {
				mu.Lock()
				if v != lastSeq+1 {
					ordered = false
				}
				lastSeq = v
				mu.Unlock()
			})
			_ = sq.On(b, func(v int) int { return v * v })
		})
	defer m.Stop()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() { // B's loop
		defer wg.Done()
		for {
			select {
			case <-stop:
				b.Pull()
				return
			default:
				b.Pull()
			}
		}
	}()

	sent := 0
	for sent < total || answered < total/10 {
		if sent < total && seq.CanPush(a) {
			seq.Push(a, epB, sent)
			if sent%10 == 0 && sq.CanRequest(a) {
				want := sent * sent
				sq.Request(a, epB, sent, func(v int) {
					if v != want {
						badReply = true
					}
					answered++
				})
			} else if sent%10 == 0 {
				answered++ // skipped request, keep the tally comparable
			}
			sent++
		}
		a.Pull()
	}
	close(stop)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if !ordered || lastSeq != total-1 || badReply {
		t.Fatalf("ordered=%v last=%d badReply=%v", ordered, lastSeq, badReply)
	}
}

func BenchmarkPushPull(b *testing.B) {
	c := NewPush[uint64]("bench")
	m := NewManager(int(epCount))
	_ = m.AddCall(c, 64)
	a, _ := m.CreateNode(epA, epB)
	n, _ := m.CreateNode(epB)
	var sink uint64
	_ = c.On(n, func(v uint64) { sink += v })
	_ = m.Start()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		c.Push(a, epB, uint64(i))
		n.Pull()
	}
	_ = sink
}
