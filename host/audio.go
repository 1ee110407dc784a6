package host

import (
	"sync/atomic"

	"retrohost/bus"
	"retrohost/calls"
	"retrohost/constants"
	"retrohost/emu"
	"retrohost/pool"
	"retrohost/ring"
	"retrohost/utils"
)

// buttonQueueDepth holds a few frames of batched edges per system.
var buttonQueueDepth = utils.NextPow2(constants.MaxButtonEventsPerFrame * 4)

// slot is one running system on the real-time side.
type slot struct {
	sys    emu.System
	active bool
	frames uint64

	// pixels is the chunk the next frame renders into.
	pixels pool.Handle[byte]

	// presses queues batched edges; wait counts audio frames until the
	// next one applies.
	presses *ring.Buffer[calls.ButtonPress]
	wait    int

	// sramDue is set while a battery RAM change waits for bus capacity.
	sramDue bool
}

// AudioStats are counters readable from any goroutine.
type AudioStats struct {
	Blocks         atomic.Uint64
	Frames         atomic.Uint64
	DroppedFrames  atomic.Uint64
	DroppedPresses atomic.Uint64
	SramSent       atomic.Uint64
	Systems        atomic.Int32
}

// AudioContext owns every System. All methods except Stats belong to the
// real-time goroutine that calls Process.
type AudioContext struct {
	node  *bus.Node
	alloc *pool.Allocator

	rate      int
	monitor   int // samples per TransmitAudio block
	volume    float32
	rendering bool

	slots [constants.MaxSystems]slot
	count int

	stats AudioStats
}

// NewAudioContext installs the audio-side handlers on m's Audio node. It
// must run before m.Start.
func NewAudioContext(m *bus.Manager, sampleRate, blockFrames int) (*AudioContext, error) {
	n := m.Node(calls.Audio)
	if n == nil {
		return nil, ErrNotWired
	}
	a := &AudioContext{
		node:      n,
		alloc:     m.Allocator(),
		rate:      sampleRate,
		monitor:   blockFrames * constants.AudioChannels,
		volume:    1,
		rendering: true,
	}
	for i := range a.slots {
		a.slots[i].presses = ring.New[calls.ButtonPress](buttonQueueDepth)
	}

	for _, err := range []error{
		calls.LoadRom.On(n, a.onLoadRom),
		calls.SwapSystem.On(n, a.onSwapSystem),
		calls.TakeSystem.On(n, a.onTakeSystem),
		calls.DuplicateSystem.On(n, a.onDuplicateSystem),
		calls.ResetSystem.On(n, a.onResetSystem),
		calls.UpdateProjectSettings.On(n, a.onProjectSettings),
		calls.UpdateSystemSettings.On(n, a.onSystemSettings),
		calls.PressButtons.On(n, a.onPressButtons),
		calls.FetchState.On(n, a.onFetchState),
		calls.SetActive.On(n, a.onSetActive),
		calls.SetSram.On(n, a.onSetSram),
		calls.SetState.On(n, a.onSetState),
		calls.EnableRendering.On(n, a.onEnableRendering),
	} {
		if err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Stats exposes the counters.
func (a *AudioContext) Stats() *AudioStats { return &a.stats }

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// REAL-TIME LOOP
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Process renders one interleaved stereo block into out: it drains the bus,
// applies due button edges, steps every active system, forwards completed
// frames and battery RAM changes to the UI, and sends a monitor copy of the
// mix. It never blocks.
func (a *AudioContext) Process(out []float32) {
	a.node.Pull()
	clear(out)
	frames := len(out) / constants.AudioChannels

	var link byte
	for i := 0; i < a.count; i++ {
		s := &a.slots[i]
		if !s.active {
			continue
		}
		a.applyPresses(s, frames)
		if s.sys.Step(out, a.frameBuffer(s)) {
			a.emitFrame(s)
		}
		if s.sys.SramDirty() {
			s.sramDue = true
		}
		if s.sramDue {
			a.emitSram(s)
		}
		if s.sys.Settings().GameLink {
			link = s.sys.Serial(link)
		}
	}

	if a.volume != 1 {
		for i := range out {
			out[i] *= a.volume
		}
	}
	a.emitMonitor(out, frames)
	a.stats.Blocks.Add(1)
}

// applyPresses releases queued edges whose delay elapsed.
func (a *AudioContext) applyPresses(s *slot, frames int) {
	for s.wait <= 0 {
		p, ok := s.presses.ReadValue()
		if !ok {
			s.wait = 0
			return
		}
		s.sys.SetButton(p.Button, p.Down)
		s.wait += int(p.DurationMs * float32(a.rate) / 1000)
	}
	s.wait -= frames
}

func (a *AudioContext) frameBuffer(s *slot) []byte {
	if !a.rendering {
		return nil
	}
	if !s.pixels.Valid() {
		if !pool.CanAlloc[byte](a.alloc, constants.FrameBytes) {
			return nil
		}
		s.pixels, _ = pool.AllocArrayUnique[byte](a.alloc, constants.FrameBytes)
	}
	return s.pixels.Slice()
}

func (a *AudioContext) emitFrame(s *slot) {
	s.frames++
	a.stats.Frames.Add(1)
	if !s.pixels.Valid() {
		if a.rendering {
			a.stats.DroppedFrames.Add(1)
		}
		return
	}
	// A refused frame keeps its chunk; the next frame overwrites it.
	if !calls.TransmitVideo.CanPushTo(a.node, calls.Ui) {
		a.stats.DroppedFrames.Add(1)
		return
	}
	calls.TransmitVideo.Push(a.node, calls.Ui, calls.VideoFrame{
		System: s.sys.ID(),
		Frame:  s.frames,
		Pixels: s.pixels.Move(),
	})
}

func (a *AudioContext) emitSram(s *slot) {
	if !calls.SramChanged.CanPushTo(a.node, calls.Ui) {
		return
	}
	b, ok := a.blob(s.sys.ID(), constants.MaxSramBytes, s.sys.Sram())
	if !ok {
		return
	}
	calls.SramChanged.Push(a.node, calls.Ui, b)
	s.sramDue = false
	a.stats.SramSent.Add(1)
}

func (a *AudioContext) emitMonitor(out []float32, frames int) {
	if len(out) == 0 || len(out) > a.monitor || !calls.TransmitAudio.CanPushTo(a.node, calls.Ui) {
		return
	}
	if !pool.CanAlloc[float32](a.alloc, a.monitor) {
		return
	}
	h, ok := pool.AllocArrayUnique[float32](a.alloc, a.monitor)
	if !ok {
		return
	}
	copy(h.Slice(), out)
	calls.TransmitAudio.Push(a.node, calls.Ui, calls.AudioBlock{Frames: frames, Samples: h.Move()})
}

// blob copies data into a pool chunk of chunk bytes.
func (a *AudioContext) blob(id emu.ID, chunk int, data []byte) (calls.Blob, bool) {
	if len(data) > chunk {
		return calls.Blob{}, false
	}
	h, ok := pool.AllocArrayUnique[byte](a.alloc, chunk)
	if !ok {
		return calls.Blob{}, false
	}
	n := copy(h.Slice(), data)
	return calls.Blob{System: id, Len: n, Data: h.Move()}, true
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// SYSTEM TABLE
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func (a *AudioContext) find(id emu.ID) int {
	for i := 0; i < a.count; i++ {
		if a.slots[i].sys.ID() == id {
			return i
		}
	}
	return -1
}

func (a *AudioContext) add(sys emu.System) bool {
	if sys == nil || a.count == len(a.slots) || a.find(sys.ID()) >= 0 {
		return false
	}
	sys.SetSampleRate(a.rate)
	s := &a.slots[a.count]
	s.sys, s.active, s.frames, s.wait, s.sramDue = sys, true, 0, 0, false
	s.presses.Clear()
	a.count++
	a.stats.Systems.Store(int32(a.count))
	return true
}

// remove drops slot i, keeping the order of the others.
func (a *AudioContext) remove(i int) emu.System {
	sys := a.slots[i].sys
	a.slots[i].pixels.Release()
	presses := a.slots[i].presses
	copy(a.slots[i:a.count], a.slots[i+1:a.count])
	a.count--
	presses.Clear()
	a.slots[a.count] = slot{presses: presses}
	a.stats.Systems.Store(int32(a.count))
	return sys
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// HANDLERS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func (a *AudioContext) onLoadRom(sys emu.System) bool {
	return a.add(sys)
}

func (a *AudioContext) onSwapSystem(sys emu.System) emu.System {
	i := a.find(sys.ID())
	if i < 0 {
		// Taken since the swap was queued; the new core goes back unused.
		return sys
	}
	s := &a.slots[i]
	old := s.sys
	sys.SetSampleRate(a.rate)
	s.sys, s.wait, s.sramDue = sys, 0, false
	s.presses.Clear()
	return old
}

func (a *AudioContext) onTakeSystem(id emu.ID) emu.System {
	i := a.find(id)
	if i < 0 {
		return nil
	}
	return a.remove(i)
}

func (a *AudioContext) onDuplicateSystem(d calls.Duplicate) bool {
	i := a.find(d.Source)
	if i < 0 || d.Target == 0 {
		return false
	}
	return a.add(a.slots[i].sys.Clone(d.Target))
}

func (a *AudioContext) onResetSystem(id emu.ID) {
	if i := a.find(id); i >= 0 {
		a.slots[i].sys.Reset()
		a.slots[i].presses.Clear()
		a.slots[i].wait = 0
	}
}

func (a *AudioContext) onProjectSettings(p calls.ProjectSettings) {
	if p.MasterVolume >= 0 {
		a.volume = p.MasterVolume
	}
	if p.SampleRate > 0 && p.SampleRate != a.rate {
		a.rate = p.SampleRate
		for i := 0; i < a.count; i++ {
			a.slots[i].sys.SetSampleRate(p.SampleRate)
		}
	}
}

func (a *AudioContext) onSystemSettings(s calls.SystemSettings) {
	if i := a.find(s.System); i >= 0 {
		a.slots[i].sys.Apply(s.Settings)
	}
}

func (a *AudioContext) onPressButtons(bs calls.ButtonStream) {
	i := a.find(bs.System)
	if i < 0 {
		a.stats.DroppedPresses.Add(uint64(bs.Count))
		return
	}
	q := a.slots[i].presses
	for k := 0; k < bs.Count; k++ {
		if !q.WriteValue(bs.Presses[k]) {
			a.stats.DroppedPresses.Add(uint64(bs.Count - k))
			return
		}
	}
}

func (a *AudioContext) onFetchState(req calls.FetchRequest) calls.FetchResult {
	var res calls.FetchResult
	for i := 0; i < a.count && res.Count < len(res.Snapshots); i++ {
		sys := a.slots[i].sys
		if !wanted(&req, sys.ID()) {
			continue
		}
		snap := &res.Snapshots[res.Count]
		snap.System = sys.ID()
		if req.Resources&calls.ResourceState != 0 {
			snap.State, _ = a.blob(sys.ID(), constants.MaxStateBytes, sys.SaveState())
		}
		if req.Resources&calls.ResourceSram != 0 {
			snap.Sram, _ = a.blob(sys.ID(), constants.MaxSramBytes, sys.Sram())
		}
		res.Count++
	}
	return res
}

func wanted(req *calls.FetchRequest, id emu.ID) bool {
	if req.Systems[0] == 0 {
		return true
	}
	for _, s := range req.Systems {
		if s == 0 {
			return false
		}
		if s == id {
			return true
		}
	}
	return false
}

func (a *AudioContext) onSetActive(c calls.ActiveChange) {
	if i := a.find(c.System); i >= 0 {
		a.slots[i].active = c.Active
	}
}

func (a *AudioContext) onSetSram(b calls.Blob) {
	if i := a.find(b.System); i >= 0 {
		a.slots[i].sys.SetSram(b.Bytes())
		a.slots[i].sramDue = false
	}
	b.Data.Release()
}

func (a *AudioContext) onSetState(b calls.Blob) bool {
	defer b.Data.Release()
	i := a.find(b.System)
	if i < 0 {
		return false
	}
	return a.slots[i].sys.LoadState(b.Bytes()) == nil
}

func (a *AudioContext) onEnableRendering(on bool) {
	a.rendering = on
	if !on {
		for i := 0; i < a.count; i++ {
			a.slots[i].pixels.Release()
		}
	}
}
