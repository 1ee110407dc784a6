// Package emu holds the emulated-instance side of the host: the System
// interface the real-time context drives, and PatternSystem, a deterministic
// stand-in core that renders test patterns and tones.
package emu

import "errors"

// Button is one joypad input.
type Button uint8

const (
	ButtonRight Button = iota
	ButtonLeft
	ButtonUp
	ButtonDown
	ButtonA
	ButtonB
	ButtonSelect
	ButtonStart
	ButtonCount
)

var buttonNames = [ButtonCount]string{"right", "left", "up", "down", "a", "b", "select", "start"}

func (b Button) String() string {
	if b < ButtonCount {
		return buttonNames[b]
	}
	return "invalid"
}

// ParseButton maps a lower-case name to a Button.
func ParseButton(name string) (Button, bool) {
	for i, n := range buttonNames {
		if n == name {
			return Button(i), true
		}
	}
	return 0, false
}

// ID identifies a system for the lifetime of the host. Zero is never valid.
type ID uint32

var (
	ErrBadRom   = errors.New("emu: rom image rejected")
	ErrBadState = errors.New("emu: save state rejected")
)

// Settings are the per-system options the UI may change while running.
type Settings struct {
	Volume   float32 // 0..1
	GameLink bool
}

// System is one emulated instance. All methods run on the real-time context
// except Clone and the constructors, which the UI side may call before the
// system is handed over.
type System interface {
	ID() ID
	RomName() string
	Reset()
	SetSampleRate(hz int)
	Apply(s Settings)
	Settings() Settings

	// SetButton changes input state; it takes effect on the next Step.
	SetButton(b Button, down bool)

	// Step renders len(audio)/2 stereo frames into audio (mixing with +=)
	// and reports whether a video frame completed, in which case the frame
	// was written to video (constants.FrameBytes RGBA).
	Step(audio []float32, video []byte) bool

	// Serial exchanges one link byte with a linked peer.
	Serial(in byte) (out byte)

	Sram() []byte
	SetSram(data []byte)
	// SramDirty reports and clears the "battery RAM changed" flag.
	SramDirty() bool

	SaveState() []byte
	LoadState(data []byte) error

	// Clone returns an independent copy with a new id.
	Clone(id ID) System
}

// samplesPerFrame is the audio frame count of one video frame at hz.
func samplesPerFrame(hz int) int {
	// The LCD refreshes at ~59.73 Hz.
	return hz * 100 / 5973
}
