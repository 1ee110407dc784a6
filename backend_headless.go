//go:build headless

package main

import (
	"runtime"
	"sync/atomic"
	"time"

	"retrohost/constants"
	"retrohost/control"
	"retrohost/debug"
	"retrohost/ring"
	"retrohost/utils"
)

const uiInterval = time.Second / 60

// nullDevice stands in for a sound card: it consumes the interleaved output
// ring and keeps the sample count.
type nullDevice struct {
	samples atomic.Uint64
}

func (d *nullDevice) consume(float32) { d.samples.Add(1) }

// run drives both contexts without a window or an audio device: a locked
// goroutine renders one block per block period into the output ring, a
// pinned consumer drains it, and the calling goroutine is the UI loop.
func run(h *runtimeHost) error {
	block := make([]float32, h.cfg.BlockFrames*constants.AudioChannels)
	out := ring.New[float32](constants.AudioRingFrames * constants.AudioChannels)
	dev := &nullDevice{}

	stop, hot := control.Flags()
	drained := make(chan struct{})
	ring.PinnedConsumer(h.cfg.AudioCore, out, stop, hot, dev.consume, drained)

	period := time.Duration(h.cfg.BlockFrames) * time.Second / time.Duration(h.cfg.SampleRate)
	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		next := time.Now()
		for !control.Stopping() {
			h.audio.Process(block)
			out.Write(block)
			control.PollCooldown()
			next = next.Add(period)
			if d := time.Until(next); d > 0 {
				time.Sleep(d)
			}
		}
	}()

	ticker := time.NewTicker(uiInterval)
	defer ticker.Stop()
	for !control.Stopping() {
		<-ticker.C
		h.tick()
	}

	<-rendered
	<-drained
	debug.DropMessage("HEADLESS", utils.Itoa(int(dev.samples.Load()))+" samples played")
	return nil
}
