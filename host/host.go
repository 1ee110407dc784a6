// Package host runs emulated systems behind the bus: AudioContext lives on
// the real-time audio callback and owns every System, UiContext lives on the
// UI loop and proxies user actions into bus calls.
package host

import "errors"

var (
	ErrNotWired       = errors.New("host: node missing, run calls.Register first")
	ErrBusy           = errors.New("host: bus capacity exhausted, retry next frame")
	ErrUnknownSystem  = errors.New("host: unknown system")
	ErrTooManySystems = errors.New("host: system limit reached")
	ErrTooLarge       = errors.New("host: blob exceeds its pool chunk")
)
