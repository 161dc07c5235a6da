package keystroke

import "unicode"

// Keymap lists the platform key codes that act as trigger keys.
type Keymap struct {
	Primary   []int
	Secondary []int
}

// DarwinKeymap holds the macOS virtual key codes for Return, keypad Enter and Tab.
var DarwinKeymap = Keymap{
	Primary:   []int{0x24, 0x4C},
	Secondary: []int{0x30},
}

// EvdevKeymap holds the Linux input codes for KEY_ENTER, KEY_KPENTER and KEY_TAB.
var EvdevKeymap = Keymap{
	Primary:   []int{28, 96},
	Secondary: []int{15},
}

// WindowsKeymap holds the Windows virtual key codes for VK_RETURN and VK_TAB.
var WindowsKeymap = Keymap{
	Primary:   []int{0x0D},
	Secondary: []int{0x09},
}

// Translate maps a raw key code and its translated character to a Message.
// Trigger codes win over any character the OS attached to the event.
// The second return value is false for events that should be ignored:
// modifiers, unmapped keys and control characters.
func Translate(km Keymap, code int, ch rune, hasChar bool) (Message, bool) {
	for _, c := range km.Primary {
		if c == code {
			return Primary(), true
		}
	}
	for _, c := range km.Secondary {
		if c == code {
			return Secondary(), true
		}
	}
	if !hasChar || unicode.IsControl(ch) || ch == unicode.ReplacementChar {
		return Message{}, false
	}
	return Char(ch), true
}
