package comm

import (
	"context"
	"sync"
)

type msgKey struct {
	src, tag int
}

// mailbox holds delivered but not yet received messages for one rank.
// Messages with the same (src, tag) are received in delivery order.
type mailbox struct {
	mu      sync.Mutex
	queues  map[msgKey][][]float64
	waiters map[msgKey]chan struct{}
	closed  bool
}

func newMailbox() *mailbox {
	return &mailbox{
		queues:  make(map[msgKey][][]float64),
		waiters: make(map[msgKey]chan struct{}),
	}
}

// put takes ownership of data
func (m *mailbox) put(src, tag int, data []float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	k := msgKey{src, tag}
	m.queues[k] = append(m.queues[k], data)
	if w, ok := m.waiters[k]; ok {
		close(w)
		delete(m.waiters, k)
	}
	return nil
}

func (m *mailbox) take(ctx context.Context, src, tag int) ([]float64, error) {
	k := msgKey{src, tag}
	for {
		m.mu.Lock()
		if q := m.queues[k]; len(q) > 0 {
			data := q[0]
			if len(q) == 1 {
				delete(m.queues, k)
			} else {
				m.queues[k] = q[1:]
			}
			m.mu.Unlock()
			return data, nil
		}
		if m.closed {
			m.mu.Unlock()
			return nil, ErrClosed
		}
		w, ok := m.waiters[k]
		if !ok {
			w = make(chan struct{})
			m.waiters[k] = w
		}
		m.mu.Unlock()

		select {
		case <-w:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// pending returns the number of queued messages
func (m *mailbox) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, q := range m.queues {
		n += len(q)
	}
	return n
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for k, w := range m.waiters {
		close(w)
		delete(m.waiters, k)
	}
}
