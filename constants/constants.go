// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: constants.go — compile-time tunables for the bus and the host
//
// Purpose:
//   - Default capacities for message calls and routing queues.
//   - Video/audio geometry shared by the real-time producer and the UI.
//
// ⚠️ No runtime logic here — all values must be compile-time resolvable
// ─────────────────────────────────────────────────────────────────────────────

package constants

// ───────────────────────────── Message bus ─────────────────────────────────

const (
	// DefaultCallCapacity is used when a call is registered with a
	// non-positive in-flight count.
	DefaultCallCapacity = 4

	// MaxCalls bounds the dense call id space (id 0 is the sentinel).
	MaxCalls = 1 << 12

	// MaxEndpoints bounds the number of participants a manager can wire.
	MaxEndpoints = 16
)

// ─────────────────────────── Emulated video ─────────────────────────────────

const (
	// FrameWidth and FrameHeight describe one emulated LCD frame.
	FrameWidth  = 160
	FrameHeight = 144

	// FrameBytes is one RGBA frame.
	FrameBytes = FrameWidth * FrameHeight * 4

	// MaxSystems is the number of emulated instances a host may run.
	MaxSystems = 4

	// VideoFramesInFlight bounds frames queued toward the UI per system.
	VideoFramesInFlight = 4
)

// ─────────────────────────── Emulated audio ─────────────────────────────────

const (
	// SampleRate is the default host audio rate in Hz.
	SampleRate = 48000

	// AudioChannels is interleaved stereo.
	AudioChannels = 2

	// AudioBlockFrames is the number of frames produced per real-time callback.
	AudioBlockFrames = 512

	// AudioRingFrames sizes the sample ring between the producer and the
	// output device (power of two).
	AudioRingFrames = 8192

	// MaxButtonEventsPerFrame bounds a batched button stream.
	MaxButtonEventsPerFrame = 16

	// MaxSramBytes and MaxStateBytes bound snapshot buffers.
	MaxSramBytes  = 128 * 1024
	MaxStateBytes = 512 * 1024
)

// ─────────────────────────── Control timing ─────────────────────────────────

const (
	// CooldownPolls is how many idle polls drop the host from hot to cold spin.
	CooldownPolls = 1 << 16
)
