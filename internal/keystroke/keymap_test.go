package keystroke

import "testing"

func TestTranslateDarwin(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		ch      rune
		hasChar bool
		want    Message
		ok      bool
	}{
		{"return", 0x24, 0, false, Primary(), true},
		{"keypad enter", 0x4C, 0, false, Primary(), true},
		{"return ignores unicode", 0x24, '\r', true, Primary(), true},
		{"tab", 0x30, '\t', true, Secondary(), true},
		{"letter", 0x04, 'h', true, Char('h'), true},
		{"shifted letter", 0x04, 'H', true, Char('H'), true},
		{"colon via shifted semicolon", 0x29, ':', true, Char(':'), true},
		{"digit", 0x12, '1', true, Char('1'), true},
		{"slash", 0x2C, '/', true, Char('/'), true},
		{"dot", 0x2F, '.', true, Char('.'), true},
		{"no unicode", 0xFF, 0, false, Message{}, false},
		{"escape is control", 0x35, '\x1b', true, Message{}, false},
		{"replacement char", 0x00, '�', true, Message{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Translate(DarwinKeymap, tt.code, tt.ch, tt.hasChar)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestTranslateWindowsTriggers(t *testing.T) {
	if m, ok := Translate(WindowsKeymap, 0x0D, '\r', true); !ok || m.Kind != KindPrimary {
		t.Errorf("VK_RETURN: got %+v, %v", m, ok)
	}
	if m, ok := Translate(WindowsKeymap, 0x09, '\t', true); !ok || m.Kind != KindSecondary {
		t.Errorf("VK_TAB: got %+v, %v", m, ok)
	}
	if _, ok := Translate(WindowsKeymap, 0x10, 0, false); ok {
		t.Error("VK_SHIFT should be ignored")
	}
}

func TestKindString(t *testing.T) {
	if KindChar.String() != "char" || KindPrimary.String() != "primary" || KindSecondary.String() != "secondary" {
		t.Error("unexpected kind names")
	}
	if Kind(0).String() != "unknown" {
		t.Error("zero kind should be unknown")
	}
}

func TestEvdevDecoder(t *testing.T) {
	var d evdevDecoder

	press := func(code uint16) (Message, bool) { return d.feed(evKey, code, keyPress) }
	release := func(code uint16) { d.feed(evKey, code, keyRelease) }

	if m, ok := press(35); !ok || m != Char('h') {
		t.Errorf("h: got %+v, %v", m, ok)
	}
	release(35)

	d.feed(evKey, keyLeftShift, keyPress)
	if m, ok := press(39); !ok || m != Char(':') {
		t.Errorf("shift+semicolon: got %+v, %v", m, ok)
	}
	if m, ok := press(23); !ok || m != Char('I') {
		t.Errorf("shift+i: got %+v, %v", m, ok)
	}
	d.feed(evKey, keyLeftShift, keyRelease)

	if m, ok := press(53); !ok || m != Char('/') {
		t.Errorf("slash: got %+v, %v", m, ok)
	}
	if m, ok := press(28); !ok || m != Primary() {
		t.Errorf("enter: got %+v, %v", m, ok)
	}
	if m, ok := press(96); !ok || m != Primary() {
		t.Errorf("keypad enter: got %+v, %v", m, ok)
	}
	if m, ok := press(15); !ok || m != Secondary() {
		t.Errorf("tab: got %+v, %v", m, ok)
	}

	// Modifiers, releases, repeats and non-key events are ignored.
	if _, ok := press(29); ok {
		t.Error("left ctrl should be ignored")
	}
	if _, ok := d.feed(evKey, 30, 2); ok {
		t.Error("autorepeat should be ignored")
	}
	if _, ok := d.feed(0x04, 30, keyPress); ok {
		t.Error("EV_MSC should be ignored")
	}
}
