package testing

import (
	"sync"
)

// PipeEnd is one side of an in-memory datagram pipe. It stands in for
// the UDP socket in link-layer tests: one Send is one datagram, datagrams
// may be dropped by an installed loss function, and delivery preserves
// send order (reordering is exercised by draining and re-sending out of
// order, which the message-oriented API makes trivial).
type PipeEnd struct {
	mu     sync.Mutex
	peer   *PipeEnd
	queue  [][]byte
	loss   func(pkt []byte) bool
	closed bool
}

// NewPipe returns two connected pipe ends. A datagram sent on one end
// becomes receivable on the other.
func NewPipe() (*PipeEnd, *PipeEnd) {
	a := &PipeEnd{}
	b := &PipeEnd{}
	a.peer = b
	b.peer = a
	return a, b
}

// SetLoss installs a loss function consulted for every datagram sent
// from this end; returning true drops the datagram silently. Passing nil
// restores lossless delivery.
func (e *PipeEnd) SetLoss(fn func(pkt []byte) bool) {
	e.mu.Lock()
	e.loss = fn
	e.mu.Unlock()
}

// Send delivers one datagram to the peer's queue. The packet is copied,
// so callers may reuse their buffer. Sending on a closed pipe reports
// false.
func (e *PipeEnd) Send(pkt []byte) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	drop := e.loss != nil && e.loss(pkt)
	e.mu.Unlock()
	if drop {
		return true
	}

	buf := make([]byte, len(pkt))
	copy(buf, pkt)

	peer := e.peer
	peer.mu.Lock()
	defer peer.mu.Unlock()
	if peer.closed {
		return false
	}
	peer.queue = append(peer.queue, buf)
	return true
}

// Recv pops the oldest queued datagram, reporting false when the queue
// is empty. It never blocks: the core's logic task is driven explicitly
// in tests, so an empty queue means "no packet arrived this tick".
func (e *PipeEnd) Recv() ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return nil, false
	}
	pkt := e.queue[0]
	e.queue = e.queue[1:]
	return pkt, true
}

// Pending returns the number of queued datagrams awaiting Recv.
func (e *PipeEnd) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Close marks both ends closed and discards queued datagrams.
func (e *PipeEnd) Close() {
	for _, end := range []*PipeEnd{e, e.peer} {
		end.mu.Lock()
		end.closed = true
		end.queue = nil
		end.mu.Unlock()
	}
}
