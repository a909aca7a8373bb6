package room

import (
	"sync"
	"sync/atomic"

	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/protocol"
)

// outboundQueue is the FIFO between everything that wants to talk to a peer
// (its own request handling, broadcasts from other peers) and the single
// connection writer draining it.
//
// Enqueue never blocks. A limit of 0 means unbounded.
type outboundQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	closed   bool

	limit int
	msgs  []protocol.Message

	drops atomic.Uint64
}

func newOutboundQueue(limit int) *outboundQueue {
	q := &outboundQueue{limit: limit}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

func (q *outboundQueue) DropCount() uint64 {
	return q.drops.Load()
}

func (q *outboundQueue) Enqueue(msg protocol.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.drops.Add(1)
		return ErrPeerDisconnected
	}
	if q.limit > 0 && len(q.msgs) >= q.limit {
		q.drops.Add(1)
		return ErrPeerQueueFull
	}
	q.msgs = append(q.msgs, msg)
	q.notEmpty.Signal()
	return nil
}

// Dequeue blocks until a message is available or the queue is closed. Closing
// discards anything still queued.
func (q *outboundQueue) Dequeue() (protocol.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.msgs) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if q.closed || len(q.msgs) == 0 {
		return protocol.Message{}, false
	}
	msg := q.msgs[0]
	q.msgs[0] = protocol.Message{}
	q.msgs = q.msgs[1:]
	return msg, true
}

func (q *outboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}

func (q *outboundQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.msgs = nil
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}
