//go:build !headless

package main

import (
	"errors"
	"unsafe"

	"github.com/ebitengine/oto/v3"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"retrohost/constants"
	"retrohost/control"
	"retrohost/debug"
	"retrohost/emu"
	"retrohost/host"
)

// keymap binds the keyboard to the selected system's joypad.
var keymap = map[ebiten.Key]emu.Button{
	ebiten.KeyArrowRight: emu.ButtonRight,
	ebiten.KeyArrowLeft:  emu.ButtonLeft,
	ebiten.KeyArrowUp:    emu.ButtonUp,
	ebiten.KeyArrowDown:  emu.ButtonDown,
	ebiten.KeyX:          emu.ButtonA,
	ebiten.KeyZ:          emu.ButtonB,
	ebiten.KeyShiftRight: emu.ButtonSelect,
	ebiten.KeyEnter:      emu.ButtonStart,
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// AUDIO - oto pulls the real-time context
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// otoSource adapts AudioContext.Process to oto's io.Reader. oto calls Read
// from one goroutine, which therefore owns the Audio node.
type otoSource struct {
	audio *host.AudioContext
	block int // samples per Process call
}

func (s *otoSource) Read(p []byte) (int, error) {
	n := len(p) / 4
	if n == 0 {
		return 0, nil
	}
	samples := unsafe.Slice((*float32)(unsafe.Pointer(&p[0])), n)
	for off := 0; off < n; off += s.block {
		end := min(off+s.block, n)
		s.audio.Process(samples[off:end])
	}
	control.PollCooldown()
	return n * 4, nil
}

func startAudio(h *runtimeHost) (*oto.Player, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   h.cfg.SampleRate,
		ChannelCount: constants.AudioChannels,
		Format:       oto.FormatFloat32LE,
	})
	if err != nil {
		return nil, err
	}
	<-ready
	block := h.cfg.BlockFrames * constants.AudioChannels
	player := ctx.NewPlayer(&otoSource{audio: h.audio, block: block})
	player.SetBufferSize(block * 4 * 2)
	player.Play()
	return player, nil
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// VIDEO - ebiten drives the UI context
// ═══════════════════════════════════════════════════════════════════════════════════════════════

type screen struct {
	id     emu.ID
	pixels []byte
	image  *ebiten.Image
	dirty  bool
}

type game struct {
	h        *runtimeHost
	screens  []*screen
	selected int
	overlay  bool
}

func newGame(h *runtimeHost) *game {
	g := &game{h: h}
	h.ui.OnVideo(g.onVideo)
	return g
}

func (g *game) screenFor(id emu.ID) *screen {
	for _, s := range g.screens {
		if s.id == id {
			return s
		}
	}
	s := &screen{id: id, pixels: make([]byte, constants.FrameBytes)}
	g.screens = append(g.screens, s)
	return s
}

// prune drops screens of systems the UI side no longer runs.
func (g *game) prune(systems []host.SystemInfo) {
	kept := g.screens[:0]
	for _, s := range g.screens {
		live := false
		for _, info := range systems {
			if info.ID == s.id {
				live = true
				break
			}
		}
		if live {
			kept = append(kept, s)
		} else if s.image != nil {
			s.image.Deallocate()
		}
	}
	clear(g.screens[len(kept):])
	g.screens = kept
}

// onVideo copies the frame; the pooled pixels go back after the call.
func (g *game) onVideo(id emu.ID, _ uint64, pixels []byte) {
	s := g.screenFor(id)
	copy(s.pixels, pixels)
	s.dirty = true
}

func (g *game) Update() error {
	if control.Stopping() || inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		return ebiten.Termination
	}
	systems := g.h.ui.Systems()
	if len(systems) > 0 {
		if inpututil.IsKeyJustPressed(ebiten.KeyTab) {
			g.selected = (g.selected + 1) % len(systems)
		}
		if g.selected >= len(systems) {
			g.selected = 0
		}
		id := systems[g.selected].ID
		for key, b := range keymap {
			if inpututil.IsKeyJustPressed(key) {
				_ = g.h.ui.Hold(id, b)
			}
			if inpututil.IsKeyJustReleased(key) {
				_ = g.h.ui.Release(id, b)
			}
		}
		if inpututil.IsKeyJustPressed(ebiten.KeyF5) {
			if err := g.h.ui.SaveSnapshots(nil); err != nil {
				debug.DropError("SAVE", err)
			}
		}
		if inpututil.IsKeyJustPressed(ebiten.KeyF9) {
			if err := g.h.ui.LoadStoredState(id, nil); err != nil {
				debug.DropError("LOAD", err)
			}
		}
		if inpututil.IsKeyJustPressed(ebiten.KeyF2) {
			_ = g.h.ui.ResetSystem(id)
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF1) {
		g.overlay = !g.overlay
	}
	g.h.tick()
	g.prune(g.h.ui.Systems())
	return nil
}

func (g *game) Draw(dst *ebiten.Image) {
	for i, s := range g.screens {
		if s.image == nil {
			s.image = ebiten.NewImage(constants.FrameWidth, constants.FrameHeight)
		}
		if s.dirty {
			s.image.WritePixels(s.pixels)
			s.dirty = false
		}
		op := &ebiten.DrawImageOptions{}
		op.GeoM.Translate(float64(i*constants.FrameWidth), 0)
		dst.DrawImage(s.image, op)
	}
	if g.overlay {
		ebitenutil.DebugPrint(dst, formatStatus(g.h.ui.Systems(), g.h.ui.Stats(), g.h.ui.Peak(), g.h.audio.Stats()))
	}
}

func (g *game) Layout(_, _ int) (int, int) {
	n := max(1, len(g.screens))
	return constants.FrameWidth * n, constants.FrameHeight
}

// run starts audio output and blocks in the ebiten loop.
func run(h *runtimeHost) error {
	player, err := startAudio(h)
	if err != nil {
		return err
	}
	defer player.Close()

	ebiten.SetWindowTitle("retrohost")
	ebiten.SetWindowSize(constants.FrameWidth*3*h.cfg.Instances, constants.FrameHeight*3)
	ebiten.SetWindowResizable(true)
	if err := ebiten.RunGame(newGame(h)); err != nil && !errors.Is(err, ebiten.Termination) {
		return err
	}
	return nil
}
