//go:build windows

package keystroke

import (
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	whKeyboardLL = 13
	wmKeyDown    = 0x0100
	wmSysKeyDown = 0x0104
	hcAction     = 0

	vkShift   = 0x10
	vkControl = 0x11
	vkMenu    = 0x12
	vkCapital = 0x14

	// toUnicodeNoStateChange keeps ToUnicode from disturbing dead-key state
	// of the focused application.
	toUnicodeNoStateChange = 0x4
)

var (
	user32               = windows.NewLazySystemDLL("user32.dll")
	procSetWindowsHookEx = user32.NewProc("SetWindowsHookExW")
	procCallNextHookEx   = user32.NewProc("CallNextHookEx")
	procGetMessage       = user32.NewProc("GetMessageW")
	procGetKeyState      = user32.NewProc("GetKeyState")
	procToUnicode        = user32.NewProc("ToUnicode")
)

// kbdllHookStruct mirrors KBDLLHOOKSTRUCT.
type kbdllHookStruct struct {
	VkCode      uint32
	ScanCode    uint32
	Flags       uint32
	Time        uint32
	DwExtraInfo uintptr
}

type msg struct {
	Hwnd    windows.Handle
	Message uint32
	WParam  uintptr
	LParam  uintptr
	Time    uint32
	Pt      struct{ X, Y int32 }
}

// llHook is a WH_KEYBOARD_LL hook. Windows delivers low-level hook callbacks
// to the thread that installed the hook, so run pumps messages on a locked
// OS thread for the life of the process.
type llHook struct{}

func newPlatformSource() Source {
	return newHookSource(&llHook{})
}

func (l *llHook) available() (bool, string) {
	if err := procSetWindowsHookEx.Find(); err != nil {
		return false, fmt.Sprintf("SetWindowsHookExW unavailable: %v", err)
	}
	return true, "WH_KEYBOARD_LL hook available"
}

func (l *llHook) run(deliver func(Message)) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var hook uintptr
	callback := windows.NewCallback(func(nCode int, wParam uintptr, lParam uintptr) uintptr {
		if nCode == hcAction && (wParam == wmKeyDown || wParam == wmSysKeyDown) {
			kb := (*kbdllHookStruct)(unsafe.Pointer(lParam))
			ch, hasChar := translateVK(kb.VkCode, kb.ScanCode)
			if m, ok := Translate(WindowsKeymap, int(kb.VkCode), ch, hasChar); ok {
				deliver(m)
			}
		}
		ret, _, _ := procCallNextHookEx.Call(hook, uintptr(nCode), wParam, lParam)
		return ret
	})

	h, _, err := procSetWindowsHookEx.Call(whKeyboardLL, callback, 0, 0)
	if h == 0 {
		return fmt.Errorf("SetWindowsHookExW: %w", err)
	}
	hook = h

	var m msg
	for {
		r, _, err := procGetMessage.Call(uintptr(unsafe.Pointer(&m)), 0, 0, 0)
		switch int32(r) {
		case -1:
			return fmt.Errorf("GetMessageW: %w", err)
		case 0:
			return errors.New("keyboard hook message loop ended")
		}
	}
}

// translateVK converts a virtual key to the character it produces with the
// current Shift and Caps Lock state.
func translateVK(vk, scan uint32) (rune, bool) {
	var state [256]byte
	if keyDown(vkShift) {
		state[vkShift] = 0x80
	}
	if keyDown(vkControl) {
		state[vkControl] = 0x80
	}
	if keyDown(vkMenu) {
		state[vkMenu] = 0x80
	}
	if toggled(vkCapital) {
		state[vkCapital] = 0x01
	}

	var buf [4]uint16
	n, _, _ := procToUnicode.Call(
		uintptr(vk),
		uintptr(scan),
		uintptr(unsafe.Pointer(&state[0])),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(len(buf)),
		toUnicodeNoStateChange,
	)
	if int32(n) != 1 {
		return 0, false
	}
	return rune(buf[0]), true
}

func keyDown(vk int) bool {
	r, _, _ := procGetKeyState.Call(uintptr(vk))
	return uint16(r)&0x8000 != 0
}

func toggled(vk int) bool {
	r, _, _ := procGetKeyState.Call(uintptr(vk))
	return uint16(r)&0x0001 != 0
}
