package schedule

import "sync"

// Mailbox is an unbounded FIFO. Put never blocks, so producers that hold their
// own locks (players, transports, timers) can always deliver to an actor.
type Mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	notify chan struct{}
	done   chan struct{}
	closed bool
}

// NewMailbox creates an empty mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Put appends an item. It reports false once the mailbox is closed.
func (m *Mailbox[T]) Put(item T) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, item)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return true
}

// Ready is signalled whenever items may be available.
func (m *Mailbox[T]) Ready() <-chan struct{} {
	return m.notify
}

// Done is closed when the mailbox is closed.
func (m *Mailbox[T]) Done() <-chan struct{} {
	return m.done
}

// Drain removes and returns all queued items in order.
func (m *Mailbox[T]) Drain() []T {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.items
	m.items = nil
	return items
}

// Close rejects further puts. Items already queued remain drainable.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	close(m.done)
}

// Closed reports whether Close was called.
func (m *Mailbox[T]) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
