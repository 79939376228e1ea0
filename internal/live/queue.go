package live

import (
	"errors"
	"sync"
)

// DefaultQueueSize bounds each observer's outbound buffer.
const DefaultQueueSize = 16

var (
	// ErrQueueFull reports a slow observer whose buffer is exhausted.
	ErrQueueFull = errors.New("live observer: queue full")
	// ErrObserverClosed reports a send to a closed observer.
	ErrObserverClosed = errors.New("live observer: closed")
)

// QueueObserver buffers messages for a transport writer goroutine.
type QueueObserver struct {
	mu     sync.Mutex
	ch     chan []byte
	closed bool
}

// NewQueueObserver constructs an observer with a bounded queue.
func NewQueueObserver(size int) *QueueObserver {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &QueueObserver{ch: make(chan []byte, size)}
}

// Send enqueues payload without blocking.
func (q *QueueObserver) Send(payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrObserverClosed
	}
	select {
	case q.ch <- payload:
		return nil
	default:
		return ErrQueueFull
	}
}

// C returns the receive side; it is closed by Close.
func (q *QueueObserver) C() <-chan []byte {
	return q.ch
}

// Close closes the queue once.
func (q *QueueObserver) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
