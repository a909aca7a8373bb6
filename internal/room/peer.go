package room

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/engine"
	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/protocol"
)

// Peer is one connected participant. It exclusively owns the transports,
// producers and consumers it created; they are released by Close.
type Peer struct {
	id     string
	userID string
	queue  *outboundQueue

	mu         sync.RWMutex
	transports map[string]engine.Transport
	producers  map[string]engine.Producer
	consumers  map[string]engine.Consumer
	closed     bool
}

// NewPeer creates a peer with a fresh id. An empty userID is replaced by a
// random one. queueLimit bounds the outbound queue; 0 means unbounded.
func NewPeer(userID string, queueLimit int) *Peer {
	if userID == "" {
		userID = uuid.NewString()
	}
	return &Peer{
		id:         uuid.NewString(),
		userID:     userID,
		queue:      newOutboundQueue(queueLimit),
		transports: make(map[string]engine.Transport),
		producers:  make(map[string]engine.Producer),
		consumers:  make(map[string]engine.Consumer),
	}
}

func (p *Peer) ID() string     { return p.id }
func (p *Peer) UserID() string { return p.userID }

// Send queues msg for the connection writer. It fails once the peer is
// closed or its queue is full.
func (p *Peer) Send(msg protocol.Message) error {
	return p.queue.Enqueue(msg)
}

// Next blocks until an outbound message is available. It returns false once
// the peer is closed.
func (p *Peer) Next() (protocol.Message, bool) {
	return p.queue.Dequeue()
}

// Pending is the number of queued outbound messages.
func (p *Peer) Pending() int { return p.queue.Len() }

// Dropped counts messages refused by Send.
func (p *Peer) Dropped() uint64 { return p.queue.DropCount() }

func (p *Peer) Closed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

func (p *Peer) Transport(id string) (engine.Transport, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.transports[id]
	if !ok {
		return nil, notFound(ErrTransportNotFound, id)
	}
	return t, nil
}

func (p *Peer) Producer(id string) (engine.Producer, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pr, ok := p.producers[id]
	if !ok {
		return nil, notFound(ErrProducerNotFound, id)
	}
	return pr, nil
}

func (p *Peer) Consumer(id string) (engine.Consumer, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.consumers[id]
	if !ok {
		return nil, notFound(ErrConsumerNotFound, id)
	}
	return c, nil
}

func (p *Peer) hasProducer(id string) (engine.Producer, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pr, ok := p.producers[id]
	return pr, ok
}

// ProducerIDs returns the peer's producer ids in sorted order.
func (p *Peer) ProducerIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.producers))
	for id := range p.producers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p *Peer) Counts() (transports, producers, consumers int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.transports), len(p.producers), len(p.consumers)
}

func (p *Peer) addTransport(t engine.Transport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPeerDisconnected
	}
	p.transports[t.ID()] = t
	return nil
}

func (p *Peer) addProducer(pr engine.Producer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPeerDisconnected
	}
	p.producers[pr.ID()] = pr
	return nil
}

func (p *Peer) addConsumer(c engine.Consumer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPeerDisconnected
	}
	p.consumers[c.ID()] = c
	return nil
}

// closeConsumersOf releases every consumer bound to producerID.
func (p *Peer) closeConsumersOf(producerID string) error {
	p.mu.Lock()
	var doomed []engine.Consumer
	for id, c := range p.consumers {
		if c.ProducerID() == producerID {
			doomed = append(doomed, c)
			delete(p.consumers, id)
		}
	}
	p.mu.Unlock()

	var errs []error
	for _, c := range doomed {
		errs = append(errs, ignoreClosed(c.Close()))
	}
	return errors.Join(errs...)
}

// Close releases consumers, then producers, then transports, and finally
// stops the outbound queue. Calling it again is a no-op.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	consumers, producers, transports := p.consumers, p.producers, p.transports
	p.consumers = make(map[string]engine.Consumer)
	p.producers = make(map[string]engine.Producer)
	p.transports = make(map[string]engine.Transport)
	p.mu.Unlock()

	var errs []error
	for _, c := range consumers {
		errs = append(errs, ignoreClosed(c.Close()))
	}
	for _, pr := range producers {
		errs = append(errs, ignoreClosed(pr.Close()))
	}
	for _, t := range transports {
		errs = append(errs, ignoreClosed(t.Close()))
	}
	p.queue.Close()
	return errors.Join(errs...)
}

func ignoreClosed(err error) error {
	if errors.Is(err, engine.ErrClosed) {
		return nil
	}
	return err
}
