package scan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openqr/internal/config"
	"openqr/internal/keystroke"
)

func chars(s string) []keystroke.Message {
	out := make([]keystroke.Message, 0, len(s))
	for _, r := range s {
		out = append(out, keystroke.Char(r))
	}
	return out
}

func pushAll(a *Accumulator, msgs []keystroke.Message) []string {
	var out []string
	for _, m := range msgs {
		if s, ok := a.Push(m); ok {
			out = append(out, s)
		}
	}
	return out
}

func TestParseTriggerMode(t *testing.T) {
	assert.Equal(t, TriggerSecondary, ParseTriggerMode("secondary"))
	assert.Equal(t, TriggerSecondary, ParseTriggerMode(" Tab "))
	assert.Equal(t, TriggerPrimary, ParseTriggerMode("primary"))
	assert.Equal(t, TriggerPrimary, ParseTriggerMode(""))
	assert.Equal(t, TriggerPrimary, ParseTriggerMode("whatever"))
	assert.Equal(t, "secondary", TriggerSecondary.String())
}

func TestAccumulatorPrimary(t *testing.T) {
	a := NewAccumulator(TriggerPrimary)
	msgs := append(chars("https://a.io"), keystroke.Primary())

	got := pushAll(a, msgs)
	assert.Equal(t, []string{"https://a.io"}, got)
	assert.Empty(t, a.Pending())
}

func TestAccumulatorSecondarySwallowsPrimary(t *testing.T) {
	a := NewAccumulator(TriggerSecondary)
	msgs := []keystroke.Message{
		keystroke.Char('h'), keystroke.Primary(), keystroke.Char('i'), keystroke.Secondary(),
	}
	assert.Equal(t, []string{"hi"}, pushAll(a, msgs))
}

func TestAccumulatorPrimaryIgnoresSecondary(t *testing.T) {
	a := NewAccumulator(TriggerPrimary)
	msgs := []keystroke.Message{
		keystroke.Char('a'), keystroke.Secondary(), keystroke.Char('b'), keystroke.Primary(),
	}
	assert.Equal(t, []string{"ab"}, pushAll(a, msgs))
}

func TestAccumulatorIdleTriggerIsNoop(t *testing.T) {
	a := NewAccumulator(TriggerPrimary)
	msgs := []keystroke.Message{
		keystroke.Primary(), keystroke.Primary(), keystroke.Char('x'), keystroke.Primary(), keystroke.Primary(),
	}
	assert.Equal(t, []string{"x"}, pushAll(a, msgs))
}

func TestAccumulatorMultipleScans(t *testing.T) {
	a := NewAccumulator(TriggerPrimary)
	var msgs []keystroke.Message
	msgs = append(msgs, chars("one")...)
	msgs = append(msgs, keystroke.Primary())
	msgs = append(msgs, chars("two")...)
	msgs = append(msgs, keystroke.Primary())
	msgs = append(msgs, chars("tail")...)

	assert.Equal(t, []string{"one", "two"}, pushAll(a, msgs))
	assert.Equal(t, "tail", a.Pending())
}

func TestAccumulatorRun(t *testing.T) {
	a := NewAccumulator(TriggerPrimary)
	in := make(chan keystroke.Message, 32)
	for _, m := range chars("QR:x.io") {
		in <- m
	}
	in <- keystroke.Primary()
	in <- keystroke.Char('z')
	close(in)

	var got []string
	done := make(chan struct{})
	go func() {
		a.Run(context.Background(), in, func(s string) { got = append(got, s) })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after channel close")
	}
	assert.Equal(t, []string{"QR:x.io"}, got)
}

func TestAccumulatorRunCancel(t *testing.T) {
	a := NewAccumulator(TriggerPrimary)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx, make(chan keystroke.Message), func(string) {})
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run ignored cancellation")
	}
}

func ptr(s string) *string { return &s }

func TestNormalize(t *testing.T) {
	none := config.Framing{Mode: config.FramingNone}
	enter := config.Framing{Mode: config.FramingEnter}

	tests := []struct {
		name   string
		raw    string
		prefix config.Framing
		suffix config.Framing
		want   string
	}{
		{"default prefix and enter", "QR:https://EVIL.com\n", config.Framing{Mode: "default"}, enter, "https://EVIL.com"},
		{"crlf", "https://a.io\r\n", none, enter, "https://a.io"},
		{"newline alias", "https://a.io\n", none, config.Framing{Mode: "newline"}, "https://a.io"},
		{"tab", "https://a.io\t", none, config.Framing{Mode: "tab"}, "https://a.io"},
		{"custom both", "<<x.io>>", config.Framing{Mode: "custom", Value: ptr("<<")}, config.Framing{Mode: "custom", Value: ptr(">>")}, "x.io"},
		{"prefix stripped once", "QR:QR:x.io", config.Framing{Mode: "default"}, none, "QR:x.io"},
		{"suffix stripped once", "x.io!!", none, config.Framing{Mode: "custom", Value: ptr("!")}, "x.io!"},
		{"prefix absent", "x.io", config.Framing{Mode: "default"}, none, "x.io"},
		{"prefix not at start", "aQR:x.io", config.Framing{Mode: "default"}, none, "aQR:x.io"},
		{"custom without value", "QR:x.io", config.Framing{Mode: "custom"}, none, "QR:x.io"},
		{"unknown mode", "QR:x.io\n", config.Framing{Mode: "weird"}, config.Framing{Mode: "weird"}, "QR:x.io"},
		{"whitespace trimmed", "  x.io  ", none, none, "x.io"},
		{"mode case insensitive", "QR:x.io", config.Framing{Mode: "DEFAULT"}, none, "x.io"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.raw, tt.prefix, tt.suffix))
		})
	}
}

func TestStripSuffixEnterOrder(t *testing.T) {
	// LF is removed before CR, so a lone CR is also stripped.
	require.Equal(t, "x", StripSuffix("x\r", config.Framing{Mode: config.FramingEnter}))
	require.Equal(t, "x\n", StripSuffix("x\n\r", config.Framing{Mode: config.FramingEnter}))
}
