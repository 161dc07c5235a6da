//go:build darwin

package keystroke

/*
#cgo LDFLAGS: -framework ApplicationServices -framework CoreFoundation

#include <ApplicationServices/ApplicationServices.h>

CFMachPortRef openqrCreateTap(void);
CFRunLoopSourceRef openqrAttachTap(CFMachPortRef tap, CFRunLoopRef loop);
void openqrRunLoopOnce(double seconds);
void openqrReleaseTap(CFMachPortRef tap, CFRunLoopSourceRef source);
int openqrAccessibilityTrusted(void);
*/
import "C"

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"unicode/utf16"
)

// tapContext is the single live tap. The C callback has no Go handle of its
// own, so the context is reachable through tapMu/current.
type tapContext struct {
	active  *atomic.Bool
	q       *queue
	loop    C.CFRunLoopRef
	stopped atomic.Bool
}

var (
	tapMu   sync.Mutex
	current *tapContext
)

// runLoopSlice bounds how long the run loop blocks before re-checking for a
// Stop that raced with the first CFRunLoopRunInMode call.
const runLoopSlice = 0.5

// TapSource is the CGEventTap event source.
type TapSource struct{}

func newPlatformSource() Source {
	return &TapSource{}
}

// Available reports whether the process holds Accessibility permission.
func (t *TapSource) Available() (bool, string) {
	if C.openqrAccessibilityTrusted() == 1 {
		return true, "CGEventTap available"
	}
	return false, "Accessibility permission required. Open System Settings > Privacy & Security > Accessibility and add this application."
}

// Start installs a listen-only keyboard tap on the calling thread's run loop
// and blocks until Stop. If active is already false no tap is created and
// Start returns at once. The sink is closed once Start has returned.
func (t *TapSource) Start(active *atomic.Bool, sink chan<- Message) error {
	// The tap, its run loop source and the run loop must stay on one thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	tapMu.Lock()
	if !active.Load() {
		tapMu.Unlock()
		close(sink)
		return nil
	}
	if current != nil {
		tapMu.Unlock()
		close(sink)
		return ErrAlreadyRunning
	}

	loop := C.CFRunLoopGetCurrent()
	tap := C.openqrCreateTap()
	if tap == 0 {
		tapMu.Unlock()
		close(sink)
		return fmt.Errorf("%w: failed to create event tap, grant Accessibility permission in System Settings > Privacy & Security > Accessibility", ErrSetupFailed)
	}
	source := C.openqrAttachTap(tap, loop)
	if source == 0 {
		C.openqrReleaseTap(tap, 0)
		tapMu.Unlock()
		close(sink)
		return fmt.Errorf("%w: failed to create run loop source", ErrSetupFailed)
	}

	ctx := &tapContext{active: active, q: newQueue(sink), loop: loop}
	current = ctx
	tapMu.Unlock()

	for !ctx.stopped.Load() {
		C.openqrRunLoopOnce(C.double(runLoopSlice))
	}

	C.openqrReleaseTap(tap, source)

	tapMu.Lock()
	current = nil
	tapMu.Unlock()
	ctx.q.close()
	return nil
}

// Stop stops the run loop of the live tap, if any.
func (t *TapSource) Stop() {
	tapMu.Lock()
	defer tapMu.Unlock()
	if current == nil {
		return
	}
	current.stopped.Store(true)
	C.CFRunLoopStop(current.loop)
}

//export goKeyDown
func goKeyDown(code C.longlong, unit C.ushort, length C.int) {
	tapMu.Lock()
	defer tapMu.Unlock()

	ctx := current
	if ctx == nil || ctx.stopped.Load() || !ctx.active.Load() {
		return
	}

	var ch rune
	hasChar := false
	if length == 1 && !utf16.IsSurrogate(rune(unit)) {
		ch = rune(unit)
		hasChar = true
	}

	msg, ok := Translate(DarwinKeymap, int(code), ch, hasChar)
	if !ok {
		return
	}
	ctx.q.push(msg)
}

var _ Source = (*TapSource)(nil)
