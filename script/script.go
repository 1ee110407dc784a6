// Package script runs user Lua on the UI side. Scripts drive the running
// systems through the rp table and may define on_frame(n), which is called
// once per UI frame.
//
//	function on_frame(n)
//	  if n % 60 == 0 then rp.press("a") end
//	end
package script

import (
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"retrohost/debug"
	"retrohost/emu"
	"retrohost/host"
)

// Host is the part of the UI context scripts may drive.
type Host interface {
	Systems() []host.SystemInfo
	Press(id emu.ID, b emu.Button) error
	Hold(id emu.ID, b emu.Button) error
	Release(id emu.ID, b emu.Button) error
	ResetSystem(id emu.ID) error
	SaveSnapshots(done func(int)) error
}

var ErrNoScript = errors.New("script: no script loaded")

const frameHook = "on_frame"

// Script is one Lua state bound to a Host. Not safe for concurrent use.
type Script struct {
	L        *lua.LState
	host     Host
	path     string
	selected int // 0-based index into host.Systems()
}

// New returns a script with the rp table installed and nothing loaded.
func New(h Host) *Script {
	s := &Script{host: h}
	s.open()
	return s
}

func (s *Script) open() {
	s.L = lua.NewState()
	rp := s.L.NewTable()
	s.L.SetFuncs(rp, map[string]lua.LGFunction{
		"press":    s.button((Host).Press),
		"hold":     s.button((Host).Hold),
		"release":  s.button((Host).Release),
		"select":   s.luaSelect,
		"selected": s.luaSelected,
		"systems":  s.luaSystems,
		"reset":    s.luaReset,
		"save":     s.luaSave,
		"log":      s.luaLog,
	})
	s.L.SetGlobal("rp", rp)
}

// Load runs the file at path and remembers it for Reload.
func (s *Script) Load(path string) error {
	if err := s.L.DoFile(path); err != nil {
		return fmt.Errorf("script: %s: %w", path, err)
	}
	s.path = path
	debug.DropMessage("SCRIPT", "loaded "+path)
	return nil
}

// Run executes a chunk of Lua source.
func (s *Script) Run(src string) error {
	if err := s.L.DoString(src); err != nil {
		return fmt.Errorf("script: %w", err)
	}
	return nil
}

// Reload discards the Lua state and runs the last loaded file again.
func (s *Script) Reload() error {
	if s.path == "" {
		return ErrNoScript
	}
	s.L.Close()
	s.open()
	return s.Load(s.path)
}

// Frame calls on_frame(n) when the script defines it.
func (s *Script) Frame(n uint64) error {
	fn := s.L.GetGlobal(frameHook)
	if fn.Type() != lua.LTFunction {
		return nil
	}
	err := s.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, lua.LNumber(n))
	if err != nil {
		return fmt.Errorf("script: %s: %w", frameHook, err)
	}
	return nil
}

// Close releases the Lua state.
func (s *Script) Close() { s.L.Close() }

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// rp TABLE
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// target is the selected system, raising a Lua error when none runs.
func (s *Script) target(L *lua.LState) emu.ID {
	systems := s.host.Systems()
	if len(systems) == 0 {
		L.RaiseError("no system running")
		return 0
	}
	if s.selected >= len(systems) {
		s.selected = len(systems) - 1
	}
	return systems[s.selected].ID
}

func (s *Script) button(fn func(Host, emu.ID, emu.Button) error) lua.LGFunction {
	return func(L *lua.LState) int {
		name := L.CheckString(1)
		b, ok := emu.ParseButton(name)
		if !ok {
			L.ArgError(1, "unknown button "+name)
			return 0
		}
		if err := fn(s.host, s.target(L), b); err != nil {
			L.RaiseError("%s", err.Error())
		}
		return 0
	}
}

func (s *Script) luaSelect(L *lua.LState) int {
	idx := L.CheckInt(1)
	if idx < 1 || idx > len(s.host.Systems()) {
		L.ArgError(1, "system index out of range")
		return 0
	}
	s.selected = idx - 1
	return 0
}

func (s *Script) luaSelected(L *lua.LState) int {
	L.Push(lua.LNumber(s.selected + 1))
	return 1
}

func (s *Script) luaSystems(L *lua.LState) int {
	list := L.NewTable()
	for _, info := range s.host.Systems() {
		t := L.NewTable()
		t.RawSetString("id", lua.LNumber(info.ID))
		t.RawSetString("name", lua.LString(info.Name))
		t.RawSetString("frames", lua.LNumber(info.Frames))
		t.RawSetString("active", lua.LBool(info.Active))
		list.Append(t)
	}
	L.Push(list)
	return 1
}

func (s *Script) luaReset(L *lua.LState) int {
	if err := s.host.ResetSystem(s.target(L)); err != nil {
		L.RaiseError("%s", err.Error())
	}
	return 0
}

// rp.save([fn]) fetches and stores every snapshot; fn(count) runs once the
// snapshots were written.
func (s *Script) luaSave(L *lua.LState) int {
	cb := L.OptFunction(1, nil)
	err := s.host.SaveSnapshots(func(n int) {
		// A Reload in between closed L.
		if cb == nil || L != s.L {
			return
		}
		if err := L.CallByParam(lua.P{Fn: cb, NRet: 0, Protect: true}, lua.LNumber(n)); err != nil {
			debug.DropError("SCRIPT", err)
		}
	})
	if err != nil {
		L.RaiseError("%s", err.Error())
	}
	return 0
}

func (s *Script) luaLog(L *lua.LState) int {
	debug.DropMessage("LUA", L.CheckString(1))
	return 0
}
