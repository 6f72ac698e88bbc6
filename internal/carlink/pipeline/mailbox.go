package pipeline

import (
	"sync"
)

// Mailbox is an ordered, unbounded, one-way message queue. Post never
// blocks the sender; items are delivered on Receive in the order they
// were posted. It is the only way worker contexts talk to each other.
type Mailbox[T any] struct {
	mu     sync.Mutex
	queue  []T
	closed bool

	signal chan struct{}
	out    chan T
	done   chan struct{}
	once   sync.Once
}

// NewMailbox creates a mailbox and starts its delivery goroutine.
func NewMailbox[T any]() *Mailbox[T] {
	m := &Mailbox[T]{
		signal: make(chan struct{}, 1),
		out:    make(chan T),
		done:   make(chan struct{}),
	}
	go m.deliver()
	return m
}

// Post enqueues v. It returns false once the mailbox is closed.
func (m *Mailbox[T]) Post(v T) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, v)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

// Receive returns the delivery channel. It is closed after Close.
func (m *Mailbox[T]) Receive() <-chan T {
	return m.out
}

// Len returns the number of undelivered items.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Close stops the mailbox. Items not yet delivered are dropped.
func (m *Mailbox[T]) Close() {
	m.once.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.queue = nil
		m.mu.Unlock()
		close(m.done)
	})
}

func (m *Mailbox[T]) deliver() {
	defer close(m.out)

	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}
		if len(m.queue) == 0 {
			m.mu.Unlock()
			select {
			case <-m.signal:
				continue
			case <-m.done:
				return
			}
		}
		v := m.queue[0]
		var zero T
		m.queue[0] = zero
		m.queue = m.queue[1:]
		m.mu.Unlock()

		select {
		case m.out <- v:
		case <-m.done:
			return
		}
	}
}
