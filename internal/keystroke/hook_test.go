//go:build !darwin

package keystroke

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeHook records how often it was installed and lets the test deliver keys.
type fakeHook struct {
	mu      sync.Mutex
	runs    int
	deliver func(Message)
	fail    error
	ready   chan struct{}
	block   chan struct{}
}

func newFakeHook() *fakeHook {
	return &fakeHook{ready: make(chan struct{}, 4), block: make(chan struct{})}
}

func (f *fakeHook) run(deliver func(Message)) error {
	f.mu.Lock()
	f.runs++
	err := f.fail
	f.deliver = deliver
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.ready <- struct{}{}
	<-f.block
	return nil
}

func (f *fakeHook) available() (bool, string) { return true, "fake" }

func (f *fakeHook) send(m Message) {
	f.mu.Lock()
	d := f.deliver
	f.mu.Unlock()
	d(m)
}

func (f *fakeHook) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

func waitReady(t *testing.T, f *fakeHook) {
	t.Helper()
	select {
	case <-f.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("hook never started")
	}
}

func startAsync(src *HookSource, active *atomic.Bool, sink chan<- Message) <-chan error {
	done := make(chan error, 1)
	go func() { done <- src.Start(active, sink) }()
	return done
}

func waitReturn(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
		return nil
	}
}

func TestHookSourceInstallsOnce(t *testing.T) {
	fh := newFakeHook()
	defer close(fh.block)
	src := newHookSource(fh)

	var active1 atomic.Bool
	active1.Store(true)
	sink1 := make(chan Message, 8)
	done1 := startAsync(src, &active1, sink1)
	waitReady(t, fh)

	fh.send(Char('a'))
	if m := <-sink1; m != Char('a') {
		t.Fatalf("got %+v", m)
	}

	// A second Start rebinds and ends the first.
	var active2 atomic.Bool
	active2.Store(true)
	sink2 := make(chan Message, 8)
	done2 := startAsync(src, &active2, sink2)
	if err := waitReturn(t, done1); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if fh.runCount() != 1 {
		t.Fatalf("hook installed %d times", fh.runCount())
	}

	// The replaced sink is closed so its consumer exits.
	if _, ok := <-sink1; ok {
		t.Error("old sink should be closed")
	}

	fh.send(Char('b'))
	if m := <-sink2; m != Char('b') {
		t.Fatalf("got %+v", m)
	}

	src.Stop()
	if err := waitReturn(t, done2); err != nil {
		t.Fatalf("second Start: %v", err)
	}
}

func TestHookSourceStopDetaches(t *testing.T) {
	fh := newFakeHook()
	defer close(fh.block)
	src := newHookSource(fh)

	var active atomic.Bool
	active.Store(true)
	sink := make(chan Message, 8)
	done := startAsync(src, &active, sink)
	waitReady(t, fh)

	src.Stop()
	if err := waitReturn(t, done); err != nil {
		t.Fatalf("Start returned %v", err)
	}
	if _, ok := <-sink; ok {
		t.Fatal("sink should be closed after Stop")
	}

	// Deliveries after Stop go nowhere and do not panic.
	fh.send(Char('x'))
}

func TestHookSourceStopBeforeStart(t *testing.T) {
	fh := newFakeHook()
	defer close(fh.block)
	src := newHookSource(fh)

	// A listener stopped before its Start ran clears the flag first.
	var active atomic.Bool
	src.Stop()

	sink := make(chan Message, 1)
	if err := waitReturn(t, startAsync(src, &active, sink)); err != nil {
		t.Fatalf("Start returned %v", err)
	}
	if _, ok := <-sink; ok {
		t.Error("sink should be closed")
	}
	if fh.runCount() != 0 {
		t.Errorf("hook installed for a stopped listener")
	}
}

func TestHookSourceInactiveSuppresses(t *testing.T) {
	fh := newFakeHook()
	defer close(fh.block)
	src := newHookSource(fh)

	var active atomic.Bool
	active.Store(true)
	sink := make(chan Message, 8)
	startAsync(src, &active, sink)
	waitReady(t, fh)
	defer src.Stop()

	active.Store(false)
	fh.send(Char('x'))
	active.Store(true)
	fh.send(Char('y'))

	if m := <-sink; m != Char('y') {
		t.Errorf("got %+v, want y", m)
	}
	select {
	case m := <-sink:
		t.Errorf("unexpected message %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHookSourceSetupFailureAllowsRetry(t *testing.T) {
	fh := newFakeHook()
	defer close(fh.block)
	fh.fail = errors.New("permission denied")
	src := newHookSource(fh)

	var active atomic.Bool
	active.Store(true)
	sink := make(chan Message, 1)
	err := src.Start(&active, sink)
	if !errors.Is(err, ErrSetupFailed) {
		t.Fatalf("expected ErrSetupFailed, got %v", err)
	}
	if _, ok := <-sink; ok {
		t.Error("sink should be closed after setup failure")
	}

	fh.mu.Lock()
	fh.fail = nil
	fh.mu.Unlock()

	sink2 := make(chan Message, 1)
	startAsync(src, &active, sink2)
	waitReady(t, fh)
	defer src.Stop()
	if fh.runCount() != 2 {
		t.Errorf("expected retry to reinstall hook, runs=%d", fh.runCount())
	}
}

func TestHookSourceKeepsEveryKeyWhileConsumerStalls(t *testing.T) {
	fh := newFakeHook()
	defer close(fh.block)
	src := newHookSource(fh)

	var active atomic.Bool
	active.Store(true)
	sink := make(chan Message, 1)
	startAsync(src, &active, sink)
	waitReady(t, fh)
	defer src.Stop()

	text := strings.Repeat("x", 250) + "https://evil.com"
	sent := make(chan struct{})
	go func() {
		for _, r := range text {
			fh.send(Char(r))
		}
		fh.send(Primary())
		close(sent)
	}()
	select {
	case <-sent:
	case <-time.After(2 * time.Second):
		t.Fatal("hook callback blocked on a stalled consumer")
	}

	var got strings.Builder
	for {
		m := <-sink
		if m.Kind == KindPrimary {
			break
		}
		got.WriteRune(m.Char)
	}
	if got.String() != text {
		t.Fatalf("lost keys: got %d chars, tail %q", got.Len(), got.String()[max(0, got.Len()-16):])
	}
}
