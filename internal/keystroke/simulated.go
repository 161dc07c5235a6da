package keystroke

import (
	"sync"
	"sync/atomic"
)

// SimulatedSource is a Source that does not hook the real keyboard. Start
// blocks like a real event loop until Stop; Feed injects messages as if they
// had been typed.
type SimulatedSource struct {
	mu      sync.Mutex
	active  *atomic.Bool
	sink    chan<- Message
	done    chan struct{}
	setup   error
	started chan struct{}
}

// NewSimulated creates a simulated source.
func NewSimulated() *SimulatedSource {
	return &SimulatedSource{started: make(chan struct{}, 1)}
}

// FailSetup makes the next Start return err without blocking.
func (s *SimulatedSource) FailSetup(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setup = err
}

// Start blocks until Stop. It returns at once if active is already false.
// The sink is closed when Start returns.
func (s *SimulatedSource) Start(active *atomic.Bool, sink chan<- Message) error {
	s.mu.Lock()
	if s.setup != nil {
		err := s.setup
		s.setup = nil
		s.mu.Unlock()
		close(sink)
		return err
	}
	if !active.Load() {
		s.mu.Unlock()
		close(sink)
		return nil
	}
	if s.done != nil {
		s.mu.Unlock()
		close(sink)
		return ErrAlreadyRunning
	}
	done := make(chan struct{})
	s.active, s.sink, s.done = active, sink, done
	s.mu.Unlock()

	select {
	case s.started <- struct{}{}:
	default:
	}

	<-done
	close(sink)
	return nil
}

// Stop unblocks Start.
func (s *SimulatedSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		close(s.done)
		s.active, s.sink, s.done = nil, nil, nil
	}
}

// Started is signalled each time Start begins blocking.
func (s *SimulatedSource) Started() <-chan struct{} {
	return s.started
}

// Feed delivers messages to the current sink while the active flag is set.
// It reports how many were forwarded.
func (s *SimulatedSource) Feed(msgs ...Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sink == nil || s.done == nil || s.active == nil {
		return 0
	}
	n := 0
	for _, m := range msgs {
		if !s.active.Load() {
			continue
		}
		s.sink <- m
		n++
	}
	return n
}

// Type feeds each rune of text as a character message.
func (s *SimulatedSource) Type(text string) int {
	msgs := make([]Message, 0, len(text))
	for _, r := range text {
		msgs = append(msgs, Char(r))
	}
	return s.Feed(msgs...)
}

// Available always succeeds.
func (s *SimulatedSource) Available() (bool, string) {
	return true, "simulated source (for testing)"
}

var _ Source = (*SimulatedSource)(nil)
