// Package calls is the host's message catalogue: the endpoints of the bus
// and every call exchanged between the UI context and the real-time audio
// context, with their payload types and default in-flight capacities.
package calls

import (
	"fmt"

	"retrohost/bus"
	"retrohost/config"
	"retrohost/constants"
	"retrohost/emu"
	"retrohost/pool"
)

// Endpoints.
const (
	Ui bus.Endpoint = iota
	Audio
	EndpointCount
)

// ───────────────────────────── Payloads ────────────────────────────────────

// ButtonPress is one edge of a batched button stream. The next press starts
// DurationMs after this one.
type ButtonPress struct {
	Button     emu.Button
	Down       bool
	DurationMs float32
}

// ButtonStream carries the presses recorded for one system during one UI
// frame.
type ButtonStream struct {
	System  emu.ID
	Count   int
	Presses [constants.MaxButtonEventsPerFrame]ButtonPress
}

// VideoFrame is a completed RGBA frame. The receiver owns Pixels.
type VideoFrame struct {
	System emu.ID
	Frame  uint64
	Pixels pool.Handle[byte]
}

// AudioBlock is a copy of one mixed output block for monitoring. The
// receiver owns Samples.
type AudioBlock struct {
	Frames  int
	Samples pool.Handle[float32]
}

// Blob is a battery RAM or save state image in a pool chunk of
// constants.MaxSramBytes or constants.MaxStateBytes; Len bytes are valid.
// The receiver owns Data.
type Blob struct {
	System emu.ID
	Len    int
	Data   pool.Handle[byte]
}

// Bytes is the valid part of the blob.
func (b *Blob) Bytes() []byte {
	return b.Data.Slice()[:b.Len]
}

// Resource selects what FetchState collects.
type Resource uint8

const (
	ResourceState Resource = 1 << iota
	ResourceSram
	ResourceAll = ResourceState | ResourceSram
)

// FetchRequest asks for the resources of every listed system; a zero
// Systems entry ends the list, an empty list means every system.
type FetchRequest struct {
	Resources Resource
	Systems   [constants.MaxSystems]emu.ID
}

// Snapshot is one system's answer to a FetchRequest.
type Snapshot struct {
	System emu.ID
	State  Blob
	Sram   Blob
}

// FetchResult holds Count snapshots. The receiver owns every blob.
type FetchResult struct {
	Count     int
	Snapshots [constants.MaxSystems]Snapshot
}

// Release frees every blob of the result.
func (r *FetchResult) Release() {
	for i := 0; i < r.Count; i++ {
		r.Snapshots[i].State.Data.Release()
		r.Snapshots[i].Sram.Data.Release()
	}
}

// Duplicate asks the audio side to clone Source as Target.
type Duplicate struct {
	Source emu.ID
	Target emu.ID
}

// SystemSettings changes one system's options.
type SystemSettings struct {
	System   emu.ID
	Settings emu.Settings
}

// ProjectSettings are host wide.
type ProjectSettings struct {
	MasterVolume float32
	SampleRate   int
}

// ActiveChange pauses or resumes a system.
type ActiveChange struct {
	System emu.ID
	Active bool
}

// ───────────────────────────── Calls ───────────────────────────────────────

var (
	LoadRom               = bus.NewRequest[emu.System, bool]("LoadRom")
	SwapSystem            = bus.NewRequest[emu.System, emu.System]("SwapSystem")
	TakeSystem            = bus.NewRequest[emu.ID, emu.System]("TakeSystem")
	DuplicateSystem       = bus.NewRequest[Duplicate, bool]("DuplicateSystem")
	ResetSystem           = bus.NewPush[emu.ID]("ResetSystem")
	TransmitVideo         = bus.NewPush[VideoFrame]("TransmitVideo")
	TransmitAudio         = bus.NewPush[AudioBlock]("TransmitAudio")
	UpdateProjectSettings = bus.NewPush[ProjectSettings]("UpdateProjectSettings")
	UpdateSystemSettings  = bus.NewPush[SystemSettings]("UpdateSystemSettings")
	PressButtons          = bus.NewPush[ButtonStream]("PressButtons")
	FetchState            = bus.NewRequest[FetchRequest, FetchResult]("FetchState")
	SetActive             = bus.NewPush[ActiveChange]("SetActive")
	SetSram               = bus.NewPush[Blob]("SetSram")
	SetState              = bus.NewRequest[Blob, bool]("SetState")
	EnableRendering       = bus.NewPush[bool]("EnableRendering")
	SramChanged           = bus.NewPush[Blob]("SramChanged")
)

type entry struct {
	call     bus.Call
	capacity int
}

var catalogue = []entry{
	{LoadRom, 4},
	{SwapSystem, 4},
	{TakeSystem, 4},
	{DuplicateSystem, 1},
	{ResetSystem, 4},
	{TransmitVideo, 16},
	{TransmitAudio, 8},
	{UpdateProjectSettings, 4},
	{UpdateSystemSettings, 4},
	{PressButtons, 32},
	{FetchState, 4},
	{SetActive, 4},
	{SetSram, 4},
	{SetState, 4},
	{EnableRendering, 1},
	{SramChanged, 4},
}

// Names lists every call in registration order.
func Names() []string {
	out := make([]string, len(catalogue))
	for i, e := range catalogue {
		out[i] = e.call.Name()
	}
	return out
}

// Register adds every call to m with capacities from cfg, reserves the pool
// chunks their payloads carry, and creates both nodes routed to each other.
func Register(m *bus.Manager, cfg *config.Config) error {
	caps := make(map[string]int, len(catalogue))
	for _, e := range catalogue {
		n := cfg.Capacity(e.call.Name(), e.capacity)
		if err := m.AddCall(e.call, n); err != nil {
			return err
		}
		caps[e.call.Name()] = n
	}

	a := m.Allocator()
	systems := constants.MaxSystems
	reservations := []struct {
		what        string
		bytes, runs int
	}{
		{"video", constants.FrameBytes, caps["TransmitVideo"] + systems},
		{"audio", cfg.BlockFrames * constants.AudioChannels * 4, caps["TransmitAudio"]},
		{"sram", constants.MaxSramBytes, caps["SetSram"] + caps["SramChanged"] + caps["FetchState"]*systems},
		{"state", constants.MaxStateBytes, caps["SetState"] + caps["FetchState"]*systems},
	}
	for _, r := range reservations {
		if err := a.ReserveChunks(r.bytes, r.runs); err != nil {
			return fmt.Errorf("calls: reserve %s chunks: %w", r.what, err)
		}
	}

	if _, err := m.CreateNode(Ui, Audio); err != nil {
		return err
	}
	if _, err := m.CreateNode(Audio, Ui); err != nil {
		return err
	}
	return nil
}
