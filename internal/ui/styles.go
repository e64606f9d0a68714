package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/alfredjeanlab/uinotify/internal/model"
)

// ANSI256 color codes.
const (
	colorAccent = 74  // blue
	colorMuted  = 245 // gray
	colorWarn   = 214 // orange
)

// Printer renders CLI output, with or without color.
type Printer struct {
	Color bool
}

func (p Printer) paint(code int, s string) string {
	if !p.Color {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// Accent renders s in the accent color.
func (p Printer) Accent(s string) string { return p.paint(colorAccent, s) }

// Muted renders s in gray.
func (p Printer) Muted(s string) string { return p.paint(colorMuted, s) }

// Warn renders s in orange.
func (p Printer) Warn(s string) string { return p.paint(colorWarn, s) }

// Notification formats n as one line:
//
//	15:04:05.000 topic node/id {"payload":...}
func (p Printer) Notification(n model.Notification) string {
	var b strings.Builder
	b.WriteString(p.Muted(n.CreationTime.Local().Format("15:04:05.000")))
	b.WriteByte(' ')
	b.WriteString(p.Accent(n.Topic))
	b.WriteByte(' ')
	b.WriteString(p.Muted(shortNode(n.NodeID) + "/" + n.ID))
	if len(n.Payload) > 0 {
		b.WriteByte(' ')
		b.Write(n.Payload)
	}
	return b.String()
}

// Duration formats d in whole seconds, e.g. "12s".
func (p Printer) Duration(d time.Duration) string {
	return fmt.Sprintf("%ds", int64(d/time.Second))
}

// shortNode keeps node hashes readable.
func shortNode(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
