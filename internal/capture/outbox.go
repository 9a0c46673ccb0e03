package capture

import (
	"sync"
	"sync/atomic"
)

// Outbox is a bounded queue of encoded audio chunks between the capture
// goroutine and the transport send loop. When full, Push evicts the oldest
// chunk so the newest audio always gets through and the producer never
// blocks.
type Outbox struct {
	ch      chan string
	mu      sync.Mutex // serialises evict-then-send
	dropped atomic.Int64
}

// NewOutbox returns an Outbox holding at most depth chunks. depth < 1 is
// treated as 1.
func NewOutbox(depth int) *Outbox {
	return &Outbox{ch: make(chan string, max(depth, 1))}
}

// Push enqueues chunk without blocking. It reports whether an older chunk was
// evicted to make room.
func (o *Outbox) Push(chunk string) (evicted bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for {
		select {
		case o.ch <- chunk:
			return evicted
		default:
		}
		select {
		case <-o.ch:
			evicted = true
			o.dropped.Add(1)
		default:
		}
	}
}

// C returns the receive side for the send loop.
func (o *Outbox) C() <-chan string { return o.ch }

// Dropped returns the number of chunks evicted so far.
func (o *Outbox) Dropped() int64 { return o.dropped.Load() }
