package keystroke

// Linux input event constants from linux/input-event-codes.h.
const (
	evKey = 0x01

	keyRelease = 0
	keyPress   = 1

	keyLeftShift  = 42
	keyRightShift = 54
)

// usLayout maps evdev key codes to the unshifted and shifted characters of a
// US keyboard. Scanners in HID keyboard mode emulate this layout.
var usLayout = map[uint16][2]rune{
	2: {'1', '!'}, 3: {'2', '@'}, 4: {'3', '#'}, 5: {'4', '$'}, 6: {'5', '%'},
	7: {'6', '^'}, 8: {'7', '&'}, 9: {'8', '*'}, 10: {'9', '('}, 11: {'0', ')'},
	12: {'-', '_'}, 13: {'=', '+'},
	16: {'q', 'Q'}, 17: {'w', 'W'}, 18: {'e', 'E'}, 19: {'r', 'R'}, 20: {'t', 'T'},
	21: {'y', 'Y'}, 22: {'u', 'U'}, 23: {'i', 'I'}, 24: {'o', 'O'}, 25: {'p', 'P'},
	26: {'[', '{'}, 27: {']', '}'},
	30: {'a', 'A'}, 31: {'s', 'S'}, 32: {'d', 'D'}, 33: {'f', 'F'}, 34: {'g', 'G'},
	35: {'h', 'H'}, 36: {'j', 'J'}, 37: {'k', 'K'}, 38: {'l', 'L'},
	39: {';', ':'}, 40: {'\'', '"'}, 41: {'`', '~'}, 43: {'\\', '|'},
	44: {'z', 'Z'}, 45: {'x', 'X'}, 46: {'c', 'C'}, 47: {'v', 'V'}, 48: {'b', 'B'},
	49: {'n', 'N'}, 50: {'m', 'M'},
	51: {',', '<'}, 52: {'.', '>'}, 53: {'/', '?'},
	55: {'*', '*'}, 57: {' ', ' '},
	71: {'7', '7'}, 72: {'8', '8'}, 73: {'9', '9'}, 74: {'-', '-'},
	75: {'4', '4'}, 76: {'5', '5'}, 77: {'6', '6'}, 78: {'+', '+'},
	79: {'1', '1'}, 80: {'2', '2'}, 81: {'3', '3'}, 82: {'0', '0'}, 83: {'.', '.'},
	98: {'/', '/'},
}

// evdevDecoder turns a stream of raw evdev events from one device into
// Messages, tracking Shift so characters come out as the scanner meant them.
type evdevDecoder struct {
	leftShift  bool
	rightShift bool
}

// feed consumes one input event. It returns a Message for key-down events that
// map to a character or trigger key.
func (d *evdevDecoder) feed(typ, code uint16, value int32) (Message, bool) {
	if typ != evKey {
		return Message{}, false
	}

	switch code {
	case keyLeftShift:
		d.leftShift = value != keyRelease
		return Message{}, false
	case keyRightShift:
		d.rightShift = value != keyRelease
		return Message{}, false
	}

	if value != keyPress {
		return Message{}, false
	}

	var ch rune
	chars, hasChar := usLayout[code]
	if hasChar {
		ch = chars[0]
		if d.leftShift || d.rightShift {
			ch = chars[1]
		}
	}
	return Translate(EvdevKeymap, int(code), ch, hasChar)
}
