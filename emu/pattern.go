package emu

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"

	"github.com/vmihailenco/msgpack/v5"

	"retrohost/constants"
)

const (
	patternMagic   = "RHPS"
	patternVersion = 1
	sramSize       = 8 * 1024
	baseTone       = 220.0
)

// PatternSystem is a deterministic core: it scrolls a gradient whose tint
// follows the held buttons, plays a square wave whose pitch rises with every
// held button, counts frames into battery RAM while Start is held and echoes
// link bytes incremented by one.
type PatternSystem struct {
	id       ID
	rom      string
	romHash  uint32
	rate     int
	settings Settings

	buttons  uint8
	frame    uint64
	phase    float64
	pending  int // audio frames left in the current video frame
	sram     []byte
	dirty    bool
	lastLink byte
}

// NewPatternSystem boots rom. An empty image is rejected.
func NewPatternSystem(id ID, name string, rom []byte) (*PatternSystem, error) {
	if id == 0 {
		return nil, fmt.Errorf("%w: zero id", ErrBadRom)
	}
	if len(rom) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrBadRom, name)
	}
	var h uint32 = 2166136261
	for _, b := range rom {
		h = (h ^ uint32(b)) * 16777619
	}
	s := &PatternSystem{
		id:       id,
		rom:      name,
		romHash:  h,
		rate:     constants.SampleRate,
		settings: Settings{Volume: 0.25},
		sram:     make([]byte, sramSize),
	}
	s.pending = samplesPerFrame(s.rate)
	return s, nil
}

func (s *PatternSystem) ID() ID { return s.id }
func (s *PatternSystem) RomName() string { return s.rom }
func (s *PatternSystem) Settings() Settings { return s.settings }
func (s *PatternSystem) Apply(set Settings) { s.settings = set }
func (s *PatternSystem) Sram() []byte { return s.sram }
func (s *PatternSystem) Frame() uint64 { return s.frame }
func (s *PatternSystem) Buttons() uint8 { return s.buttons }

// Reset restarts the core; battery RAM survives.
func (s *PatternSystem) Reset() {
	s.buttons, s.frame, s.phase = 0, 0, 0
	s.pending = samplesPerFrame(s.rate)
}

func (s *PatternSystem) SetSampleRate(hz int) {
	if hz > 0 {
		s.rate = hz
		s.pending = samplesPerFrame(hz)
	}
}

func (s *PatternSystem) SetButton(b Button, down bool) {
	if b >= ButtonCount {
		return
	}
	if down {
		s.buttons |= 1 << b
	} else {
		s.buttons &^= 1 << b
	}
}

func (s *PatternSystem) Step(audio []float32, video []byte) bool {
	freq := baseTone * float64(1+bits.OnesCount8(s.buttons))
	step := freq / float64(s.rate)
	vol := s.settings.Volume
	done := false

	for i := 0; i+1 < len(audio); i += 2 {
		v := -vol
		if s.phase < 0.5 {
			v = vol
		}
		audio[i] += v
		audio[i+1] += v
		if s.phase += step; s.phase >= 1 {
			s.phase -= 1
		}
		if s.pending--; s.pending <= 0 {
			s.pending = samplesPerFrame(s.rate)
			s.endFrame(video)
			done = true
		}
	}
	return done
}

func (s *PatternSystem) endFrame(video []byte) {
	s.frame++
	if s.buttons&(1<<ButtonStart) != 0 {
		binary.LittleEndian.PutUint64(s.sram, s.frame)
		s.dirty = true
	}
	if len(video) < constants.FrameBytes {
		return
	}
	tint := s.buttons ^ byte(s.romHash)
	off := int(s.frame)
	for y := 0; y < constants.FrameHeight; y++ {
		row := video[y*constants.FrameWidth*4:]
		for x := 0; x < constants.FrameWidth; x++ {
			p := row[x*4 : x*4+4]
			p[0] = byte(x + off)
			p[1] = byte(y + off)
			p[2] = tint
			p[3] = 0xFF
		}
	}
}

func (s *PatternSystem) Serial(in byte) byte {
	s.lastLink = in
	return in + 1
}

func (s *PatternSystem) SetSram(data []byte) {
	n := copy(s.sram, data)
	clear(s.sram[n:])
	s.dirty = false
}

func (s *PatternSystem) SramDirty() bool {
	d := s.dirty
	s.dirty = false
	return d
}

// savedState is the msgpack layout of a save state.
type savedState struct {
	Magic   string  `msgpack:"m"`
	Version uint16  `msgpack:"v"`
	RomHash uint32  `msgpack:"r"`
	Buttons uint8   `msgpack:"b"`
	Frame   uint64  `msgpack:"f"`
	Phase   float64 `msgpack:"p"`
	Pending int32   `msgpack:"n"`
	Sram    []byte  `msgpack:"s"`
}

func (s *PatternSystem) SaveState() []byte {
	out, err := msgpack.Marshal(&savedState{
		Magic:   patternMagic,
		Version: patternVersion,
		RomHash: s.romHash,
		Buttons: s.buttons,
		Frame:   s.frame,
		Phase:   s.phase,
		Pending: int32(s.pending),
		Sram:    s.sram,
	})
	if err != nil {
		return nil
	}
	return out
}

func (s *PatternSystem) LoadState(data []byte) error {
	var st savedState
	if err := msgpack.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("%w: %v", ErrBadState, err)
	}
	switch {
	case st.Magic != patternMagic:
		return fmt.Errorf("%w: bad magic", ErrBadState)
	case st.Version != patternVersion:
		return fmt.Errorf("%w: version %d", ErrBadState, st.Version)
	case st.RomHash != s.romHash:
		return fmt.Errorf("%w: state belongs to another rom", ErrBadState)
	case len(st.Sram) != sramSize:
		return fmt.Errorf("%w: %d bytes of battery RAM", ErrBadState, len(st.Sram))
	case math.IsNaN(st.Phase) || st.Pending <= 0:
		return fmt.Errorf("%w: corrupt timing", ErrBadState)
	}
	s.buttons, s.frame, s.phase, s.pending = st.Buttons, st.Frame, st.Phase, int(st.Pending)
	copy(s.sram, st.Sram)
	return nil
}

func (s *PatternSystem) Clone(id ID) System {
	c := *s
	c.id = id
	c.sram = append([]byte(nil), s.sram...)
	return &c
}
