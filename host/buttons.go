package host

import (
	"retrohost/calls"
	"retrohost/constants"
	"retrohost/emu"
)

// defaultDelayMs separates consecutive edges when no duration is given.
const defaultDelayMs = 50

// ButtonWriter records button edges for one system during a UI frame.
// Redundant edges (holding a held button) are ignored. Every method reports
// false when the stream is full.
type ButtonWriter struct {
	stream calls.ButtonStream
	held   [emu.ButtonCount]bool
}

// NewButtonWriter returns a writer for system id.
func NewButtonWriter(id emu.ID) *ButtonWriter {
	w := &ButtonWriter{}
	w.stream.System = id
	return w
}

// Len is the number of recorded edges.
func (w *ButtonWriter) Len() int { return w.stream.Count }

// Full reports whether another edge would be refused.
func (w *ButtonWriter) Full() bool { return w.stream.Count >= constants.MaxButtonEventsPerFrame }

// Press holds and releases b.
func (w *ButtonWriter) Press(b emu.Button) bool {
	if w.stream.Count+2 > constants.MaxButtonEventsPerFrame {
		return false
	}
	return w.Hold(b) && w.Release(b)
}

// Hold presses b and keeps it down.
func (w *ButtonWriter) Hold(b emu.Button) bool { return w.HoldFor(b, -1) }

// HoldFor presses b and delays the next edge by ms (negative = default).
func (w *ButtonWriter) HoldFor(b emu.Button, ms float32) bool {
	return w.edge(b, true, ms)
}

// Release lets go of b.
func (w *ButtonWriter) Release(b emu.Button) bool { return w.ReleaseFor(b, -1) }

// ReleaseFor lets go of b and delays the next edge by ms (negative = default).
func (w *ButtonWriter) ReleaseFor(b emu.Button, ms float32) bool {
	return w.edge(b, false, ms)
}

// ReleaseAll lets go of every held button with no delay in between.
func (w *ButtonWriter) ReleaseAll() bool {
	for b := emu.Button(0); b < emu.ButtonCount; b++ {
		if w.held[b] && !w.ReleaseFor(b, 0) {
			return false
		}
	}
	return true
}

// Delay extends the wait after the last edge.
func (w *ButtonWriter) Delay(ms float32) {
	if w.stream.Count > 0 {
		w.stream.Presses[w.stream.Count-1].DurationMs += ms
	}
}

func (w *ButtonWriter) edge(b emu.Button, down bool, ms float32) bool {
	if b >= emu.ButtonCount {
		return false
	}
	if w.held[b] == down {
		return true
	}
	if w.Full() {
		return false
	}
	if ms < 0 {
		ms = defaultDelayMs
	}
	w.stream.Presses[w.stream.Count] = calls.ButtonPress{Button: b, Down: down, DurationMs: ms}
	w.stream.Count++
	w.held[b] = down
	return true
}

// Take returns the recorded stream and starts a new one. Held state carries
// over.
func (w *ButtonWriter) Take() calls.ButtonStream {
	s := w.stream
	w.stream.Count = 0
	return s
}
