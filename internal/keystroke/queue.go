package keystroke

import "sync"

// queue forwards messages to a sink in order without ever blocking the
// producer. OS callbacks push into it; messages wait in memory while the
// consumer is busy instead of being lost.
type queue struct {
	mu      sync.Mutex
	pending []Message

	wake chan struct{}
	quit chan struct{}
	once sync.Once
}

// newQueue starts forwarding to sink. The sink is closed after close.
func newQueue(sink chan<- Message) *queue {
	q := &queue{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
	}
	go q.run(sink)
	return q
}

func (q *queue) push(m Message) {
	q.mu.Lock()
	q.pending = append(q.pending, m)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// close stops forwarding. Messages not yet delivered are discarded.
func (q *queue) close() {
	q.once.Do(func() { close(q.quit) })
}

func (q *queue) run(sink chan<- Message) {
	defer close(sink)
	for {
		select {
		case <-q.quit:
			return
		case <-q.wake:
		}

		for {
			q.mu.Lock()
			batch := q.pending
			q.pending = nil
			q.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, m := range batch {
				select {
				case sink <- m:
				case <-q.quit:
					return
				}
			}
		}
	}
}
