package host

import (
	"fmt"
	"math"

	"retrohost/bus"
	"retrohost/calls"
	"retrohost/constants"
	"retrohost/debug"
	"retrohost/emu"
	"retrohost/pool"
	"retrohost/store"
)

// SystemInfo is the UI's view of one running system.
type SystemInfo struct {
	ID       emu.ID
	Name     string
	RomKey   string
	Settings emu.Settings
	Active   bool
	Frames   uint64
}

// UiStats are counters of the UI side. Owner goroutine only.
type UiStats struct {
	Frames      uint64
	AudioBlocks uint64
	SramWrites  uint64
	StoreErrors uint64
}

// VideoFunc receives a completed frame. pixels is only valid during the call.
type VideoFunc func(id emu.ID, frame uint64, pixels []byte)

// UiContext proxies user actions into bus calls. Every method belongs to the
// UI goroutine; results of two-way calls arrive inside Update.
type UiContext struct {
	node  *bus.Node
	alloc *pool.Allocator
	store *store.Store // optional

	nextID  emu.ID
	systems []*SystemInfo
	writers map[emu.ID]*ButtonWriter
	onVideo VideoFunc

	peak  float32
	stats UiStats
}

// NewUiContext installs the UI-side handlers on m's Ui node. st may be nil,
// in which case battery RAM is not persisted. It must run before m.Start.
func NewUiContext(m *bus.Manager, st *store.Store) (*UiContext, error) {
	n := m.Node(calls.Ui)
	if n == nil {
		return nil, ErrNotWired
	}
	u := &UiContext{
		node:    n,
		alloc:   m.Allocator(),
		store:   st,
		writers: make(map[emu.ID]*ButtonWriter),
	}
	for _, err := range []error{
		calls.TransmitVideo.On(n, u.onVideoFrame),
		calls.TransmitAudio.On(n, u.onAudioBlock),
		calls.SramChanged.On(n, u.onSramChanged),
	} {
		if err != nil {
			return nil, err
		}
	}
	return u, nil
}

// OnVideo sets the frame callback.
func (u *UiContext) OnVideo(fn VideoFunc) { u.onVideo = fn }

// Update flushes recorded button edges and drains the bus. Call it once per
// UI frame. It returns the number of envelopes consumed.
func (u *UiContext) Update() int {
	for _, w := range u.writers {
		if w.Len() == 0 || !calls.PressButtons.CanPushTo(u.node, calls.Audio) {
			continue
		}
		calls.PressButtons.Push(u.node, calls.Audio, w.Take())
	}
	return u.node.Pull()
}

// Systems snapshots the running systems in load order.
func (u *UiContext) Systems() []SystemInfo {
	out := make([]SystemInfo, len(u.systems))
	for i, s := range u.systems {
		out[i] = *s
	}
	return out
}

// Peak is the absolute peak of the last monitored audio block.
func (u *UiContext) Peak() float32 { return u.peak }

// Stats returns a copy of the counters.
func (u *UiContext) Stats() UiStats { return u.stats }

func (u *UiContext) info(id emu.ID) *SystemInfo {
	for _, s := range u.systems {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func (u *UiContext) known(id emu.ID) error {
	if u.info(id) == nil {
		return fmt.Errorf("%w: %d", ErrUnknownSystem, id)
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// SYSTEM LIFECYCLE
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// boot builds a system for rom, restoring its battery RAM from the store.
func (u *UiContext) boot(id emu.ID, name string, rom []byte) (emu.System, string, error) {
	sys, err := emu.NewPatternSystem(id, name, rom)
	if err != nil {
		return nil, "", err
	}
	key := store.RomKey(rom)
	if u.store != nil {
		data, ok, err := u.store.Get(key, store.KindSram)
		switch {
		case err != nil:
			u.stats.StoreErrors++
			debug.DropError("UI", err)
		case ok:
			sys.SetSram(data)
		}
	}
	return sys, key, nil
}

// LoadRom boots rom as a new system. The system appears in Systems once the
// audio side accepted it. done, if not nil, runs inside a later Update.
func (u *UiContext) LoadRom(name string, rom []byte, done func(emu.ID, bool)) (emu.ID, error) {
	if len(u.systems) >= constants.MaxSystems {
		return 0, ErrTooManySystems
	}
	if !calls.LoadRom.CanRequest(u.node) {
		return 0, ErrBusy
	}
	u.nextID++
	id := u.nextID
	sys, key, err := u.boot(id, name, rom)
	if err != nil {
		return 0, err
	}
	info := &SystemInfo{ID: id, Name: name, RomKey: key, Settings: sys.Settings(), Active: true}
	calls.LoadRom.Request(u.node, calls.Audio, sys, func(ok bool) {
		if ok {
			u.systems = append(u.systems, info)
			u.writers[id] = NewButtonWriter(id)
		}
		if done != nil {
			done(id, ok)
		}
	})
	return id, nil
}

// SwapSystem replaces the core of id with a fresh boot of rom. The old
// system comes back to the UI side and is dropped. If id is taken before the
// swap lands, the fresh core comes back instead and nothing changes.
func (u *UiContext) SwapSystem(id emu.ID, name string, rom []byte) error {
	info := u.info(id)
	if info == nil {
		return fmt.Errorf("%w: %d", ErrUnknownSystem, id)
	}
	if !calls.SwapSystem.CanRequest(u.node) {
		return ErrBusy
	}
	sys, key, err := u.boot(id, name, rom)
	if err != nil {
		return err
	}
	calls.SwapSystem.Request(u.node, calls.Audio, sys, func(old emu.System) {
		if old == nil || old == sys {
			debug.DropMessage("UI", "swap dropped, system gone: "+name)
			return
		}
		info.Name, info.RomKey, info.Frames = name, key, 0
		debug.DropMessage("UI", "swapped out "+old.RomName())
	})
	return nil
}

// TakeSystem removes id from the audio side and hands it to done.
func (u *UiContext) TakeSystem(id emu.ID, done func(emu.System)) error {
	if err := u.known(id); err != nil {
		return err
	}
	if !calls.TakeSystem.CanRequest(u.node) {
		return ErrBusy
	}
	calls.TakeSystem.Request(u.node, calls.Audio, id, func(sys emu.System) {
		for i, s := range u.systems {
			if s.ID == id {
				u.systems = append(u.systems[:i], u.systems[i+1:]...)
				break
			}
		}
		delete(u.writers, id)
		if done != nil {
			done(sys)
		}
	})
	return nil
}

// DuplicateSystem clones id on the audio side under a new id.
func (u *UiContext) DuplicateSystem(id emu.ID) (emu.ID, error) {
	src := u.info(id)
	if src == nil {
		return 0, fmt.Errorf("%w: %d", ErrUnknownSystem, id)
	}
	if len(u.systems) >= constants.MaxSystems {
		return 0, ErrTooManySystems
	}
	if !calls.DuplicateSystem.CanRequest(u.node) {
		return 0, ErrBusy
	}
	u.nextID++
	target := u.nextID
	clone := *src
	clone.ID, clone.Frames = target, 0
	calls.DuplicateSystem.Request(u.node, calls.Audio, calls.Duplicate{Source: id, Target: target}, func(ok bool) {
		if ok {
			u.systems = append(u.systems, &clone)
			u.writers[target] = NewButtonWriter(target)
		}
	})
	return target, nil
}

// ResetSystem restarts id.
func (u *UiContext) ResetSystem(id emu.ID) error {
	if err := u.known(id); err != nil {
		return err
	}
	return u.push(calls.ResetSystem.CanPushTo(u.node, calls.Audio), func() {
		calls.ResetSystem.Push(u.node, calls.Audio, id)
	})
}

// SetActive pauses or resumes id.
func (u *UiContext) SetActive(id emu.ID, active bool) error {
	info := u.info(id)
	if info == nil {
		return fmt.Errorf("%w: %d", ErrUnknownSystem, id)
	}
	return u.push(calls.SetActive.CanPushTo(u.node, calls.Audio), func() {
		calls.SetActive.Push(u.node, calls.Audio, calls.ActiveChange{System: id, Active: active})
		info.Active = active
	})
}

// UpdateSettings changes the options of id.
func (u *UiContext) UpdateSettings(id emu.ID, s emu.Settings) error {
	info := u.info(id)
	if info == nil {
		return fmt.Errorf("%w: %d", ErrUnknownSystem, id)
	}
	return u.push(calls.UpdateSystemSettings.CanPushTo(u.node, calls.Audio), func() {
		calls.UpdateSystemSettings.Push(u.node, calls.Audio, calls.SystemSettings{System: id, Settings: s})
		info.Settings = s
	})
}

// UpdateProjectSettings changes host wide options.
func (u *UiContext) UpdateProjectSettings(p calls.ProjectSettings) error {
	return u.push(calls.UpdateProjectSettings.CanPushTo(u.node, calls.Audio), func() {
		calls.UpdateProjectSettings.Push(u.node, calls.Audio, p)
	})
}

// EnableRendering turns video production on the audio side on or off.
func (u *UiContext) EnableRendering(on bool) error {
	return u.push(calls.EnableRendering.CanPushTo(u.node, calls.Audio), func() {
		calls.EnableRendering.Push(u.node, calls.Audio, on)
	})
}

func (u *UiContext) push(ok bool, send func()) error {
	if !ok {
		return ErrBusy
	}
	send()
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// INPUT
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Buttons returns the writer batching edges for id, or nil.
func (u *UiContext) Buttons(id emu.ID) *ButtonWriter { return u.writers[id] }

// Press taps b on id.
func (u *UiContext) Press(id emu.ID, b emu.Button) error {
	return u.record(id, func(w *ButtonWriter) bool { return w.Press(b) })
}

// Hold presses b on id until Release.
func (u *UiContext) Hold(id emu.ID, b emu.Button) error {
	return u.record(id, func(w *ButtonWriter) bool { return w.Hold(b) })
}

// Release lets go of b on id.
func (u *UiContext) Release(id emu.ID, b emu.Button) error {
	return u.record(id, func(w *ButtonWriter) bool { return w.Release(b) })
}

func (u *UiContext) record(id emu.ID, fn func(*ButtonWriter) bool) error {
	w := u.writers[id]
	if w == nil {
		return fmt.Errorf("%w: %d", ErrUnknownSystem, id)
	}
	if !fn(w) {
		return ErrBusy
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// SNAPSHOTS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// FetchState collects res from the listed systems (all when none are
// given). done runs inside a later Update; the blobs are released after it
// returns.
func (u *UiContext) FetchState(res calls.Resource, done func(*calls.FetchResult), ids ...emu.ID) error {
	if len(ids) > constants.MaxSystems {
		return ErrTooManySystems
	}
	if !calls.FetchState.CanRequest(u.node) {
		return ErrBusy
	}
	req := calls.FetchRequest{Resources: res}
	copy(req.Systems[:], ids)
	calls.FetchState.Request(u.node, calls.Audio, req, func(r calls.FetchResult) {
		defer r.Release()
		if done != nil {
			done(&r)
		}
	})
	return nil
}

// SaveSnapshots fetches every resource of every system and writes it to the
// store. done receives the number of blobs written.
func (u *UiContext) SaveSnapshots(done func(int)) error {
	if u.store == nil {
		return fmt.Errorf("host: no snapshot store configured")
	}
	return u.FetchState(calls.ResourceAll, func(r *calls.FetchResult) {
		written := 0
		for i := 0; i < r.Count; i++ {
			snap := &r.Snapshots[i]
			info := u.info(snap.System)
			if info == nil {
				continue
			}
			if u.persist(info.RomKey, store.KindState, &snap.State) {
				written++
			}
			if u.persist(info.RomKey, store.KindSram, &snap.Sram) {
				written++
			}
		}
		if done != nil {
			done(written)
		}
	})
}

func (u *UiContext) persist(key string, kind store.Kind, b *calls.Blob) bool {
	if u.store == nil || !b.Data.Valid() {
		return false
	}
	if _, err := u.store.Put(key, kind, b.Bytes()); err != nil {
		u.stats.StoreErrors++
		debug.DropError("UI", err)
		return false
	}
	return true
}

// LoadState restores data into id. done receives whether the core accepted it.
func (u *UiContext) LoadState(id emu.ID, data []byte, done func(bool)) error {
	if err := u.known(id); err != nil {
		return err
	}
	if !calls.SetState.CanRequest(u.node) {
		return ErrBusy
	}
	b, err := u.blob(id, constants.MaxStateBytes, data)
	if err != nil {
		return err
	}
	sent := calls.SetState.Request(u.node, calls.Audio, b, func(ok bool) {
		if done != nil {
			done(ok)
		}
	})
	if !sent {
		b.Data.Release()
		return ErrBusy
	}
	return nil
}

// LoadStoredState restores the last saved state of id's ROM.
func (u *UiContext) LoadStoredState(id emu.ID, done func(bool)) error {
	info := u.info(id)
	if info == nil {
		return fmt.Errorf("%w: %d", ErrUnknownSystem, id)
	}
	if u.store == nil {
		return fmt.Errorf("host: no snapshot store configured")
	}
	data, ok, err := u.store.Get(info.RomKey, store.KindState)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("host: no stored state for %s", info.Name)
	}
	return u.LoadState(id, data, done)
}

// SetSram overwrites the battery RAM of id.
func (u *UiContext) SetSram(id emu.ID, data []byte) error {
	if err := u.known(id); err != nil {
		return err
	}
	if !calls.SetSram.CanPushTo(u.node, calls.Audio) {
		return ErrBusy
	}
	b, err := u.blob(id, constants.MaxSramBytes, data)
	if err != nil {
		return err
	}
	if !calls.SetSram.Push(u.node, calls.Audio, b) {
		b.Data.Release()
		return ErrBusy
	}
	return nil
}

func (u *UiContext) blob(id emu.ID, chunk int, data []byte) (calls.Blob, error) {
	if len(data) > chunk {
		return calls.Blob{}, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(data), chunk)
	}
	h, ok := pool.AllocArrayUnique[byte](u.alloc, chunk)
	if !ok {
		return calls.Blob{}, ErrBusy
	}
	n := copy(h.Slice(), data)
	return calls.Blob{System: id, Len: n, Data: h.Move()}, nil
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// HANDLERS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func (u *UiContext) onVideoFrame(f calls.VideoFrame) {
	defer f.Pixels.Release()
	u.stats.Frames++
	if info := u.info(f.System); info != nil {
		info.Frames = f.Frame
	}
	if u.onVideo != nil {
		u.onVideo(f.System, f.Frame, f.Pixels.Slice())
	}
}

func (u *UiContext) onAudioBlock(b calls.AudioBlock) {
	defer b.Samples.Release()
	u.stats.AudioBlocks++
	samples := b.Samples.Slice()
	if n := b.Frames * constants.AudioChannels; n < len(samples) {
		samples = samples[:n]
	}
	var peak float64
	for _, v := range samples {
		peak = math.Max(peak, math.Abs(float64(v)))
	}
	u.peak = float32(peak)
}

func (u *UiContext) onSramChanged(b calls.Blob) {
	defer b.Data.Release()
	info := u.info(b.System)
	if info == nil {
		return
	}
	if u.persist(info.RomKey, store.KindSram, &b) {
		u.stats.SramWrites++
	}
}
