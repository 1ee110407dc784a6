// ════════════════════════════════════════════════════════════════════════════════════════════════
// retrohost - Entry Point
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Boots emulated systems behind the message bus and drives them from two
// contexts:
//
//   - the real-time audio callback (oto, or a pinned ticker with -tags headless)
//     owns every system and pulls the Audio node once per block
//   - the UI loop (ebiten, or a 60 Hz ticker with -tags headless) pulls the Ui
//     node, runs the Lua script and shows status
//
// Wiring order: config → manager → calls → contexts → Start.
// ════════════════════════════════════════════════════════════════════════════════════════════════

package main

import (
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"retrohost/bus"
	"retrohost/calls"
	"retrohost/config"
	"retrohost/control"
	"retrohost/debug"
	"retrohost/host"
	"retrohost/script"
	"retrohost/store"
	"retrohost/utils"
)

// demoRom boots when no ROM is configured.
var demoRom = []byte("retrohost pattern demo")

// runtimeHost is everything the backends drive.
type runtimeHost struct {
	cfg    *config.Config
	m      *bus.Manager
	audio  *host.AudioContext
	ui     *host.UiContext
	script *script.Script

	booted bool
	frame  uint64
	status *statusLine
}

func main() {
	cfgPath := flag.String("config", "", "host configuration (JSON)")
	romPath := flag.String("rom", "", "ROM image to boot")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		debug.DropError("CONFIG", err)
		os.Exit(1)
	}
	if *romPath != "" {
		cfg.Rom = *romPath
	}

	var st *store.Store
	if cfg.SnapshotDB != "" {
		if st, err = store.Open(cfg.SnapshotDB); err != nil {
			debug.DropError("STORE", err)
			st = nil
		} else {
			defer st.Close()
		}
	}

	h, err := wire(cfg, st)
	if err != nil {
		debug.DropError("WIRE", err)
		os.Exit(1)
	}
	defer h.m.Stop()

	if cfg.Script != "" {
		h.script = script.New(h.ui)
		if err := h.script.Load(cfg.Script); err != nil {
			debug.DropError("SCRIPT", err)
			h.script.Close()
			h.script = nil
		}
	}
	if h.script != nil {
		defer h.script.Close()
	}

	setupSignalHandling()
	if err := run(h); err != nil {
		debug.DropError("RUN", err)
	}
	control.Shutdown()
	debug.DropMessage("EXIT", utils.Itoa(int(h.audio.Stats().Blocks.Load()))+" audio blocks rendered")
}

// wire builds and starts the bus.
func wire(cfg *config.Config, st *store.Store) (*runtimeHost, error) {
	m := bus.NewManager(int(calls.EndpointCount))
	if err := calls.Register(m, cfg); err != nil {
		return nil, err
	}
	audio, err := host.NewAudioContext(m, cfg.SampleRate, cfg.BlockFrames)
	if err != nil {
		return nil, err
	}
	ui, err := host.NewUiContext(m, st)
	if err != nil {
		return nil, err
	}
	if err := m.Start(); err != nil {
		return nil, err
	}
	return &runtimeHost{cfg: cfg, m: m, audio: audio, ui: ui, status: newStatusLine(cfg.Status)}, nil
}

// boot loads the configured ROM once per instance. It runs on the UI
// goroutine, on the first tick.
func (h *runtimeHost) boot() {
	h.booted = true
	name, rom := "demo", demoRom
	if h.cfg.Rom != "" {
		data, err := os.ReadFile(h.cfg.Rom)
		if err != nil {
			debug.DropError("ROM", err)
		} else {
			name, rom = filepath.Base(h.cfg.Rom), data
		}
	}
	for i := 0; i < h.cfg.Instances; i++ {
		if _, err := h.ui.LoadRom(name, rom, nil); err != nil {
			debug.DropError("ROM", err)
			return
		}
	}
	control.SignalActivity()
}

// tick is one UI frame: script hook, bus drain, status.
func (h *runtimeHost) tick() {
	if !h.booted {
		h.boot()
	}
	h.frame++
	if h.script != nil {
		if err := h.script.Frame(h.frame); err != nil {
			debug.DropError("SCRIPT", err)
		}
	}
	for _, s := range h.ui.Systems() {
		if w := h.ui.Buttons(s.ID); w != nil && w.Len() > 0 {
			control.SignalActivity()
			break
		}
	}
	h.ui.Update()
	h.status.update(h.ui, h.audio.Stats())
}

// setupSignalHandling turns SIGINT/SIGTERM into control.Shutdown.
func setupSignalHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		debug.DropMessage("SIGNAL", "received interrupt, shutting down")
		control.Shutdown()
	}()
}
