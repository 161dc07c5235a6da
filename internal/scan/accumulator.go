// Package scan assembles scanner keystrokes into scans and strips the framing
// scanners wrap around their payload.
package scan

import (
	"context"
	"strings"

	"openqr/internal/keystroke"
)

// TriggerMode selects which trigger key completes a scan.
type TriggerMode int

const (
	// TriggerPrimary completes a scan on Enter.
	TriggerPrimary TriggerMode = iota
	// TriggerSecondary completes a scan on Tab.
	TriggerSecondary
)

// ParseTriggerMode maps a configured mode string to a TriggerMode.
// "secondary" and "tab" select Tab; anything else selects Enter.
func ParseTriggerMode(s string) TriggerMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "secondary", "tab":
		return TriggerSecondary
	default:
		return TriggerPrimary
	}
}

func (m TriggerMode) String() string {
	if m == TriggerSecondary {
		return "secondary"
	}
	return "primary"
}

// live returns the message kind that flushes the buffer in this mode.
func (m TriggerMode) live() keystroke.Kind {
	if m == TriggerSecondary {
		return keystroke.KindSecondary
	}
	return keystroke.KindPrimary
}

// Accumulator buffers characters until the live trigger key arrives.
// It is not safe for concurrent use; one goroutine owns it.
type Accumulator struct {
	mode TriggerMode
	buf  strings.Builder
}

// NewAccumulator creates an idle accumulator for mode.
func NewAccumulator(mode TriggerMode) *Accumulator {
	return &Accumulator{mode: mode}
}

// Mode returns the trigger mode.
func (a *Accumulator) Mode() TriggerMode { return a.mode }

// Pending returns the buffered, not yet flushed text.
func (a *Accumulator) Pending() string { return a.buf.String() }

// Push feeds one message. It returns the completed scan and true when msg is
// the live trigger and the buffer was non-empty. The inactive trigger neither
// flushes nor clears.
func (a *Accumulator) Push(msg keystroke.Message) (string, bool) {
	switch msg.Kind {
	case keystroke.KindChar:
		a.buf.WriteRune(msg.Char)
	case a.mode.live():
		if a.buf.Len() == 0 {
			return "", false
		}
		out := a.buf.String()
		a.buf.Reset()
		return out, true
	}
	return "", false
}

// Run consumes messages until the channel is closed or ctx is done, calling
// emit for each completed scan. Text still buffered when the channel closes
// is discarded.
func (a *Accumulator) Run(ctx context.Context, in <-chan keystroke.Message, emit func(string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			if out, ok := a.Push(msg); ok {
				emit(out)
			}
		}
	}
}
