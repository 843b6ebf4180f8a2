package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/srg/roomsense/internal/codec"
	"github.com/srg/roomsense/internal/profile"
	"github.com/srg/roomsense/internal/session"
)

var monitorFormats = []string{"text", "json"}

// consoleSink prints session notifications for a human, or as JSON lines.
type consoleSink struct {
	mu     sync.Mutex
	out    io.Writer
	format string
	now    func() time.Time

	phase, role, warn, bad *color.Color
}

// newConsoleSink colours text output only when out is a terminal.
func newConsoleSink(out io.Writer, format string) *consoleSink {
	c := &consoleSink{
		out:    out,
		format: format,
		now:    time.Now,
		phase:  color.New(color.FgCyan, color.Bold),
		role:   color.New(color.FgGreen),
		warn:   color.New(color.FgYellow),
		bad:    color.New(color.FgRed, color.Bold),
	}
	if !isTerminal(out) {
		for _, col := range []*color.Color{c.phase, c.role, c.warn, c.bad} {
			col.DisableColor()
		}
	}
	return c
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

type consoleLine struct {
	Time    string        `json:"time"`
	Type    string        `json:"type"`
	State   string        `json:"state,omitempty"`
	Role    string        `json:"role,omitempty"`
	Index   *uint64       `json:"index,omitempty"`
	Values  codec.Reading `json:"values,omitempty"`
	Kind    string        `json:"kind,omitempty"`
	Message string        `json:"message,omitempty"`
}

func (c *consoleSink) emit(line consoleLine, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.format == "json" {
		line.Time = c.now().Format(time.RFC3339Nano)
		data, err := json.Marshal(line)
		if err != nil {
			return
		}
		fmt.Fprintln(c.out, string(data))
		return
	}
	fmt.Fprintln(c.out, text)
}

func (c *consoleSink) OnSessionStateChanged(state session.State, message string) {
	col := c.phase
	if state.Is(session.PhaseFailed) {
		col = c.bad
	}
	c.emit(
		consoleLine{Type: "state", State: state.String(), Message: message},
		fmt.Sprintf("%s %s", col.Sprintf("[%s]", state), message),
	)
}

func (c *consoleSink) OnReadingDecoded(role profile.Role, reading codec.Reading, index uint64) {
	c.emit(
		consoleLine{Type: "reading", Role: role.Name, Index: &index, Values: reading},
		fmt.Sprintf("%s #%d %s", c.role.Sprintf("%-12s", role.Name), index, reading),
	)
}

func (c *consoleSink) OnDiagnostic(d session.Diagnostic) {
	c.emit(
		consoleLine{Type: "diagnostic", Kind: d.Kind.String(), Role: d.Role.Name, Message: d.Message},
		c.warn.Sprintf("! %s", d),
	)
}

var _ session.Sink = (*consoleSink)(nil)
