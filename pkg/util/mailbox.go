package util

import "sync"

// Mailbox is an unbounded FIFO of closures. Post never blocks, so callbacks
// can be delivered from any goroutine, including the one running the box.
type Mailbox struct {
	mu    sync.Mutex
	queue []func()
	ready chan struct{}
}

func NewMailbox() *Mailbox {
	return &Mailbox{ready: make(chan struct{}, 1)}
}

func (m *Mailbox) Post(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

func (m *Mailbox) drain() []func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue
	m.queue = nil
	return q
}

// Run executes posted closures in order until quit is closed
func (m *Mailbox) Run(quit <-chan struct{}) {
	for {
		select {
		case <-quit:
			return
		case <-m.ready:
			for _, fn := range m.drain() {
				fn()
			}
		}
	}
}
