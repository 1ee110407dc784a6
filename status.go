package main

import (
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"retrohost/host"
	"retrohost/utils"
)

const (
	statusEvery    = 500 * time.Millisecond
	statusEveryLog = 5 * time.Second
)

// statusLine prints a one-line summary: rewritten in place on a terminal,
// appended periodically otherwise.
type statusLine struct {
	enabled bool
	tty     bool
	width   int
	last    time.Time
}

func newStatusLine(enabled bool) *statusLine {
	fd := int(os.Stdout.Fd())
	s := &statusLine{enabled: enabled, tty: term.IsTerminal(fd), width: 80}
	if s.tty {
		if w, _, err := term.GetSize(fd); err == nil && w > 0 {
			s.width = w
		}
	}
	return s
}

func (s *statusLine) update(ui *host.UiContext, audio *host.AudioStats) {
	if !s.enabled {
		return
	}
	every := statusEveryLog
	if s.tty {
		every = statusEvery
	}
	now := time.Now()
	if now.Sub(s.last) < every {
		return
	}
	s.last = now

	line := formatStatus(ui.Systems(), ui.Stats(), ui.Peak(), audio)
	if !s.tty {
		utils.PrintInfo(line + "\n")
		return
	}
	if len(line) > s.width-1 {
		line = line[:s.width-1]
	}
	utils.PrintInfo("\r" + line + strings.Repeat(" ", s.width-1-len(line)))
}

func formatStatus(systems []host.SystemInfo, ui host.UiStats, peak float32, audio *host.AudioStats) string {
	var b strings.Builder
	b.WriteString("systems ")
	b.WriteString(utils.Itoa(len(systems)))
	b.WriteString(" | frames ")
	b.WriteString(utils.Itoa(int(ui.Frames)))
	b.WriteString(" | dropped ")
	b.WriteString(utils.Itoa(int(audio.DroppedFrames.Load())))
	b.WriteString(" | blocks ")
	b.WriteString(utils.Itoa(int(audio.Blocks.Load())))
	b.WriteString(" | peak ")
	b.WriteString(utils.Itoa(int(peak * 100)))
	b.WriteString("%")
	for _, s := range systems {
		b.WriteString(" | ")
		b.WriteString(s.Name)
		if !s.Active {
			b.WriteString(" (paused)")
		}
	}
	return b.String()
}
