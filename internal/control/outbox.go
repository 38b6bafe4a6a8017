package control

import "sync"

// outbox is the unbounded FIFO of comments waiting to be written. push never
// blocks; the forwarder is woken through a one-slot notify channel.
type outbox struct {
	mu     sync.Mutex
	items  []string
	closed bool
	notify chan struct{}
}

func newOutbox() *outbox {
	return &outbox{notify: make(chan struct{}, 1)}
}

func (q *outbox) push(text string) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrSessionClosed
	}
	q.items = append(q.items, text)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *outbox) ready() <-chan struct{} {
	return q.notify
}

func (q *outbox) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(q.items) == 0 {
		return "", false
	}
	text := q.items[0]
	q.items[0] = ""
	q.items = q.items[1:]
	return text, true
}

// close rejects further pushes and returns the number of discarded items.
func (q *outbox) close() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	n := len(q.items)
	q.items = nil
	return n
}
