// Package keystroke captures system-wide key-down events from a hardware
// scanner that emulates a keyboard and turns them into Messages.
//
// Capture is passive: events are observed, never modified, swallowed or
// injected. Two source variants exist, selected per platform:
//   - macOS: a listen-only CGEventTap bound to the calling thread's run loop
//     (requires Accessibility permission)
//   - Linux, Windows: a process-wide hook that is started once and then
//     re-pointed at new sinks (evdev on Linux, WH_KEYBOARD_LL on Windows)
package keystroke

import (
	"errors"
	"sync/atomic"
)

// Kind distinguishes the variants of a Message.
type Kind uint8

const (
	// KindChar carries a printable character.
	KindChar Kind = iota + 1
	// KindPrimary is the primary trigger key (Enter).
	KindPrimary
	// KindSecondary is the secondary trigger key (Tab).
	KindSecondary
)

func (k Kind) String() string {
	switch k {
	case KindChar:
		return "char"
	case KindPrimary:
		return "primary"
	case KindSecondary:
		return "secondary"
	default:
		return "unknown"
	}
}

// Message is a normalized key event sent from a Source to its consumer.
type Message struct {
	Kind Kind
	Char rune
}

// Char returns a character message.
func Char(r rune) Message { return Message{Kind: KindChar, Char: r} }

// Primary returns a primary trigger message.
func Primary() Message { return Message{Kind: KindPrimary} }

// Secondary returns a secondary trigger message.
func Secondary() Message { return Message{Kind: KindSecondary} }

// Source is a platform keyboard event source.
type Source interface {
	// Start runs the OS event loop and blocks until Stop is called or setup
	// fails. Events are forwarded to sink only while active is true, and are
	// never dropped. A Start whose active flag is already false when it would
	// register returns nil at once, so a Stop that raced ahead of it still
	// wins. The sink is closed once Start has returned.
	Start(active *atomic.Bool, sink chan<- Message) error

	// Stop terminates a running Start. Safe to call from any goroutine.
	Stop()

	// Available reports whether capture can work with current permissions.
	Available() (bool, string)
}

// New creates the Source for the current platform.
func New() Source {
	return newPlatformSource()
}

var (
	// ErrNotAvailable is returned when no capture mechanism exists for this platform.
	ErrNotAvailable = errors.New("keyboard capture not available on this platform")

	// ErrSetupFailed is returned when the OS tap or hook could not be installed.
	ErrSetupFailed = errors.New("keyboard listener setup failed")

	// ErrAlreadyRunning is returned when a listener is started twice.
	ErrAlreadyRunning = errors.New("listener already running")
)
