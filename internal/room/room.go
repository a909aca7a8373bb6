package room

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/engine"
	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/events"
	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/protocol"
)

// Room groups peers sharing one router. Producers created by any peer are
// announced to every other peer and may be consumed by any of them.
type Room struct {
	id        string
	workerID  string
	router    engine.Router
	createdAt time.Time

	logger  *slog.Logger
	events  events.Publisher
	metrics *metrics.Metrics

	mu     sync.RWMutex
	peers  map[string]*Peer
	closed bool
}

func newRoom(id string, worker engine.Worker, router engine.Router, logger *slog.Logger, pub events.Publisher, m *metrics.Metrics) *Room {
	return &Room{
		id:        id,
		workerID:  worker.ID(),
		router:    router,
		createdAt: time.Now(),
		logger:    logger.With("room_id", id),
		events:    pub,
		metrics:   m,
		peers:     make(map[string]*Peer),
	}
}

func (r *Room) ID() string                              { return r.id }
func (r *Room) WorkerID() string                        { return r.workerID }
func (r *Room) RouterID() string                        { return r.router.ID() }
func (r *Room) CreatedAt() time.Time                    { return r.createdAt }
func (r *Room) RTPCapabilities() engine.RTPCapabilities { return r.router.RTPCapabilities() }

func (r *Room) PeerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

func (r *Room) Peer(id string) (*Peer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	if !ok {
		return nil, notFound(ErrPeerNotFound, id)
	}
	return p, nil
}

// Peers returns a snapshot of the room's peers ordered by id.
func (r *Room) Peers() []*Peer {
	r.mu.RLock()
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (r *Room) others(excludeID string) []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Peer, 0, len(r.peers))
	for id, p := range r.peers {
		if id != excludeID {
			out = append(out, p)
		}
	}
	return out
}

func (r *Room) AddPeer(p *Peer) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRoomClosed
	}
	r.peers[p.id] = p
	r.mu.Unlock()

	r.metrics.PeerJoined()
	r.events.Publish(events.Event{Type: events.PeerJoined, RoomID: r.id, PeerID: p.id, UserID: p.userID})
	r.logger.Info("peer joined", "peer_id", p.id, "user_id", p.userID)
	return nil
}

// RemovePeer closes the peer's media resources and tells everyone left that
// its producers are gone. Consumers of those producers held by the remaining
// peers are released. Removing an unknown peer is a no-op.
func (r *Room) RemovePeer(peerID string) {
	r.mu.Lock()
	p, ok := r.peers[peerID]
	if ok {
		delete(r.peers, peerID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	producerIDs := p.ProducerIDs()
	if err := p.Close(); err != nil {
		r.metrics.Inc(metrics.EventEngineCloseFailed)
		r.logger.Warn("peer close failed", "peer_id", peerID, "err", err)
	}
	r.metrics.PeerLeft()

	remaining := r.others(peerID)
	for _, producerID := range producerIDs {
		for _, other := range remaining {
			if err := other.closeConsumersOf(producerID); err != nil {
				r.logger.Warn("consumer close failed", "peer_id", other.id, "producer_id", producerID, "err", err)
			}
		}
		msg, err := protocol.NewNotification(protocol.NotificationProducerClosed, protocol.ProducerClosed{ProducerID: producerID})
		if err != nil {
			r.logger.Error("encode producerClosed", "err", err)
			continue
		}
		r.sendAll(remaining, msg)
		r.events.Publish(events.Event{Type: events.ProducerClosed, RoomID: r.id, PeerID: peerID, UserID: p.userID, ProducerID: producerID})
	}

	r.events.Publish(events.Event{Type: events.PeerLeft, RoomID: r.id, PeerID: peerID, UserID: p.userID})
	r.logger.Info("peer left", "peer_id", peerID, "user_id", p.userID, "producers", len(producerIDs))
}

// BroadcastToOthers sends msg to every peer except senderID. Delivery
// failures are logged and do not affect other recipients.
func (r *Room) BroadcastToOthers(senderID string, msg protocol.Message) {
	r.sendAll(r.others(senderID), msg)
}

func (r *Room) BroadcastToAll(msg protocol.Message) {
	r.sendAll(r.others(""), msg)
}

func (r *Room) sendAll(peers []*Peer, msg protocol.Message) {
	for _, p := range peers {
		if err := p.Send(msg); err != nil {
			r.metrics.Inc(metrics.EventBroadcastFailed)
			if errors.Is(err, ErrPeerQueueFull) {
				r.metrics.Inc(metrics.EventPeerQueueFull)
			}
			r.logger.Warn("broadcast send failed", "peer_id", p.id, "method", msg.Method, "err", err)
		}
	}
}

func (r *Room) CreateWebRTCTransport(ctx context.Context, peerID string, opts engine.WebRTCTransportOptions) (engine.Transport, error) {
	p, err := r.Peer(peerID)
	if err != nil {
		return nil, err
	}
	t, err := r.router.CreateWebRTCTransport(ctx, opts)
	if err != nil {
		return nil, engineErr(ErrTransport, err)
	}
	if err := p.addTransport(t); err != nil {
		_ = t.Close()
		return nil, err
	}
	r.logger.Debug("transport created", "peer_id", peerID, "transport_id", t.ID(), "producing", opts.Producing, "consuming", opts.Consuming)
	return t, nil
}

func (r *Room) ConnectTransport(ctx context.Context, peerID, transportID string, params engine.TransportConnectParams) error {
	p, err := r.Peer(peerID)
	if err != nil {
		return err
	}
	t, err := p.Transport(transportID)
	if err != nil {
		return err
	}
	if err := t.Connect(ctx, params); err != nil {
		return engineErr(ErrTransport, err)
	}
	return nil
}

// CreateProducer starts a producer on one of the peer's transports and
// announces it to every other peer.
func (r *Room) CreateProducer(ctx context.Context, peerID, transportID string, opts engine.ProducerOptions) (engine.Producer, error) {
	p, err := r.Peer(peerID)
	if err != nil {
		return nil, err
	}
	t, err := p.Transport(transportID)
	if err != nil {
		return nil, err
	}
	pr, err := t.Produce(ctx, opts)
	if err != nil {
		return nil, engineErr(ErrProducer, err)
	}
	if err := p.addProducer(pr); err != nil {
		_ = pr.Close()
		return nil, err
	}

	msg, err := protocol.NewNotification(protocol.NotificationNewProducer, protocol.NewProducer{
		ID:     pr.ID(),
		UserID: p.userID,
		Kind:   pr.Kind().Label(),
	})
	if err != nil {
		return nil, err
	}
	r.BroadcastToOthers(peerID, msg)
	r.events.Publish(events.Event{Type: events.ProducerCreated, RoomID: r.id, PeerID: peerID, UserID: p.userID, ProducerID: pr.ID(), Kind: pr.Kind().Label()})
	r.logger.Info("producer created", "peer_id", peerID, "producer_id", pr.ID(), "kind", pr.Kind())
	return pr, nil
}

// findProducer looks the producer up across every peer in the room.
func (r *Room) findProducer(producerID string) (engine.Producer, bool) {
	for _, p := range r.others("") {
		if pr, ok := p.hasProducer(producerID); ok {
			return pr, true
		}
	}
	return nil, false
}

func (r *Room) CreateConsumer(ctx context.Context, peerID, transportID, producerID string, caps engine.RTPCapabilities) (engine.Consumer, error) {
	p, err := r.Peer(peerID)
	if err != nil {
		return nil, err
	}
	t, err := p.Transport(transportID)
	if err != nil {
		return nil, err
	}
	if _, ok := r.findProducer(producerID); !ok {
		return nil, notFound(ErrProducerNotFound, producerID)
	}
	if !r.router.CanConsume(producerID, caps) {
		return nil, engineErr(ErrConsumer, errors.New("cannot consume"))
	}
	c, err := t.Consume(ctx, engine.ConsumerOptions{ProducerID: producerID, RTPCapabilities: caps})
	if err != nil {
		return nil, engineErr(ErrConsumer, err)
	}
	if err := p.addConsumer(c); err != nil {
		_ = c.Close()
		return nil, err
	}
	r.logger.Debug("consumer created", "peer_id", peerID, "consumer_id", c.ID(), "producer_id", producerID)
	return c, nil
}

func (r *Room) PauseProducer(ctx context.Context, peerID, producerID string) error {
	pr, err := r.ownProducer(peerID, producerID)
	if err != nil {
		return err
	}
	if err := pr.Pause(ctx); err != nil {
		return engineErr(ErrProducer, err)
	}
	return nil
}

func (r *Room) ResumeProducer(ctx context.Context, peerID, producerID string) error {
	pr, err := r.ownProducer(peerID, producerID)
	if err != nil {
		return err
	}
	if err := pr.Resume(ctx); err != nil {
		return engineErr(ErrProducer, err)
	}
	return nil
}

func (r *Room) ownProducer(peerID, producerID string) (engine.Producer, error) {
	p, err := r.Peer(peerID)
	if err != nil {
		return nil, err
	}
	return p.Producer(producerID)
}

// closeIfEmpty marks the room closed when it has no peers. A closed room
// refuses AddPeer.
func (r *Room) closeIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || len(r.peers) != 0 {
		return false
	}
	r.closed = true
	return true
}

// close removes every remaining peer and releases the router.
func (r *Room) close() {
	r.mu.Lock()
	r.closed = true
	ids := make([]string, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.RemovePeer(id)
	}
	if err := ignoreClosed(r.router.Close()); err != nil {
		r.metrics.Inc(metrics.EventEngineCloseFailed)
		r.logger.Warn("router close failed", "router_id", r.router.ID(), "err", err)
	}
}
