//go:build !darwin

package keystroke

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// rawHook is the OS-specific part of the generic hook variant. run blocks for
// the life of the process, calling deliver for every key-down it observes. It
// returns only if the hook cannot be installed or its loop dies.
type rawHook interface {
	run(deliver func(Message)) error
	available() (bool, string)
}

// HookSource is the generic-hook event source. The underlying OS hook cannot
// be unregistered, so it is installed at most once per process on its own
// goroutine; every Start just points the hook at a new active flag and sink.
type HookSource struct {
	hook rawHook

	spawned atomic.Bool
	failed  chan error

	mu  sync.Mutex
	cur *binding
}

// binding is the destination of one Start call.
type binding struct {
	active *atomic.Bool
	q      *queue
	done   chan struct{}
	once   sync.Once
}

func (b *binding) close() {
	b.once.Do(func() {
		close(b.done)
		b.q.close()
	})
}

func newHookSource(h rawHook) *HookSource {
	return &HookSource{hook: h, failed: make(chan error, 1)}
}

// Available reports whether the OS hook can be installed.
func (h *HookSource) Available() (bool, string) {
	return h.hook.available()
}

// Start binds active and sink as the current destination, installing the OS
// hook on first use, and blocks until Stop, a later Start or a hook failure.
// If active is already false nothing is bound and Start returns at once. The
// sink is closed once Start has returned.
func (h *HookSource) Start(active *atomic.Bool, sink chan<- Message) error {
	b := h.bind(active, sink)
	if b == nil {
		return nil
	}

	if !h.spawned.Swap(true) {
		go h.install()
	}

	select {
	case <-b.done:
		return nil
	case err := <-h.failed:
		h.spawned.Store(false)
		h.unbind(b)
		return fmt.Errorf("%w: %w", ErrSetupFailed, err)
	}
}

// install runs the OS hook. A failure is reported to the Start that is
// waiting, or to the next one, which then allows a reinstall.
func (h *HookSource) install() {
	if err := h.hook.run(h.deliver); err != nil {
		h.failed <- err
	}
}

// Stop detaches the current sink and ends the Start that bound it. The OS
// hook keeps running but delivers nowhere until the next Start.
func (h *HookSource) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cur != nil {
		h.cur.close()
		h.cur = nil
	}
}

func (h *HookSource) bind(active *atomic.Bool, sink chan<- Message) *binding {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !active.Load() {
		close(sink)
		return nil
	}
	if h.cur != nil {
		h.cur.close()
	}
	h.cur = &binding{active: active, q: newQueue(sink), done: make(chan struct{})}
	return h.cur
}

func (h *HookSource) unbind(b *binding) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cur == b {
		h.cur = nil
	}
	b.close()
}

func (h *HookSource) deliver(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cur == nil || !h.cur.active.Load() {
		return
	}
	h.cur.q.push(msg)
}

var _ Source = (*HookSource)(nil)
