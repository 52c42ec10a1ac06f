package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/advisorsim/pkg/types"
)

const (
	meterWidth  = 20
	redrawEvery = 100 * time.Millisecond
)

// console renders conversation output on a terminal. During a voice call
// the last line is a status line holding the microphone level and the
// caption being transcribed; finished captions are committed above it.
type console struct {
	out   io.Writer
	voice func() bool

	mu      sync.Mutex
	botName string
	level   float64
	caption *types.ChatTurn
	status  bool // a status line is drawn
	drawn   time.Time
}

func newConsole(out io.Writer) *console {
	return &console{out: out, voice: func() bool { return false }, botName: "Client"}
}

// SetBotName sets the label of persona lines.
func (c *console) SetBotName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name == "" {
		name = "Client"
	}
	c.botName = name
}

// Level updates the microphone meter. Redraws are throttled except for the
// silent level sent when a call closes.
func (c *console) Level(level float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.level = level
	if level == 0 {
		c.commitLocked()
		c.clearLocked()
		return
	}
	if time.Since(c.drawn) < redrawEvery {
		return
	}
	c.drawLocked()
}

// Turn shows a transcript turn. Outside voice calls only persona lines are
// printed, since the advisor's own lines are already on screen.
func (c *console) Turn(turn types.ChatTurn) {
	voice := c.voice()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !voice {
		if turn.Sender != types.SenderBot {
			return
		}
		c.commitLocked()
		c.clearLocked()
		fmt.Fprintln(c.out, c.labelLocked(turn))
		return
	}
	if c.caption != nil && c.caption.ID != turn.ID {
		c.commitLocked()
	}
	c.caption = &turn
	c.drawLocked()
}

// Printf prints a message above any status line.
func (c *console) Printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commitLocked()
	c.clearLocked()
	fmt.Fprintf(c.out, format, args...)
}

func (c *console) labelLocked(turn types.ChatTurn) string {
	who := "Vous"
	if turn.Sender == types.SenderBot {
		who = c.botName
	}
	return who + " : " + strings.TrimSpace(turn.Text)
}

// commitLocked prints the pending caption on its own line.
func (c *console) commitLocked() {
	if c.caption == nil {
		return
	}
	c.clearLocked()
	fmt.Fprintln(c.out, c.labelLocked(*c.caption))
	c.caption = nil
}

func (c *console) clearLocked() {
	if c.status {
		fmt.Fprint(c.out, "\r\033[K")
		c.status = false
	}
}

func (c *console) drawLocked() {
	line := "🎙 " + meter(c.level)
	if c.caption != nil {
		line += "  " + c.labelLocked(*c.caption)
	}
	fmt.Fprint(c.out, "\r\033[K"+line)
	c.status = true
	c.drawn = time.Now()
}

// meter renders level in [0,1] as a bar of [meterWidth] cells.
func meter(level float64) string {
	n := int(level*meterWidth + 0.5)
	n = max(0, min(meterWidth, n))
	return "[" + strings.Repeat("█", n) + strings.Repeat("·", meterWidth-n) + "]"
}
