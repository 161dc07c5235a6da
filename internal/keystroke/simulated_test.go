package keystroke

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSimulatedSourceLifecycle(t *testing.T) {
	src := NewSimulated()
	var active atomic.Bool
	active.Store(true)
	sink := make(chan Message, 16)

	done := make(chan error, 1)
	go func() { done <- src.Start(&active, sink) }()

	select {
	case <-src.Started():
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not begin")
	}

	if n := src.Type("hi"); n != 2 {
		t.Fatalf("Type forwarded %d", n)
	}
	src.Feed(Primary())

	active.Store(false)
	if n := src.Feed(Char('z')); n != 0 {
		t.Errorf("inactive source forwarded %d", n)
	}

	src.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not unblock Start")
	}

	var got []Message
	for m := range sink {
		got = append(got, m)
	}
	want := []Message{Char('h'), Char('i'), Primary()}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestSimulatedSourceSetupFailure(t *testing.T) {
	src := NewSimulated()
	src.FailSetup(ErrSetupFailed)

	var active atomic.Bool
	sink := make(chan Message, 1)
	if err := src.Start(&active, sink); !errors.Is(err, ErrSetupFailed) {
		t.Fatalf("expected ErrSetupFailed, got %v", err)
	}
	if _, ok := <-sink; ok {
		t.Error("sink should be closed")
	}
}

func TestSimulatedSourceFeedWithoutStart(t *testing.T) {
	src := NewSimulated()
	if n := src.Feed(Char('a')); n != 0 {
		t.Errorf("expected 0 forwarded, got %d", n)
	}
	src.Stop()
}

func TestSimulatedSourceStopBeforeStart(t *testing.T) {
	src := NewSimulated()
	var active atomic.Bool
	src.Stop()

	sink := make(chan Message, 1)
	if err := src.Start(&active, sink); err != nil {
		t.Fatalf("Start returned %v", err)
	}
	if _, ok := <-sink; ok {
		t.Error("sink should be closed")
	}

	// The next cycle is unaffected.
	active.Store(true)
	sink2 := make(chan Message, 1)
	done := make(chan error, 1)
	go func() { done <- src.Start(&active, sink2) }()
	select {
	case <-src.Started():
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not begin")
	}
	src.Stop()
	if err := <-done; err != nil {
		t.Fatalf("Start returned %v", err)
	}
}
