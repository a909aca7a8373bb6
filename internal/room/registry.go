package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/engine"
	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/events"
	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/metrics"
)

type RegistryConfig struct {
	// Codecs is the media codec list every new room's router is created with.
	Codecs []engine.RTPCodecCapability
	// CloseEmptyRooms releases a room's router once its last peer leaves.
	CloseEmptyRooms bool

	Logger  *slog.Logger
	Events  events.Publisher
	Metrics *metrics.Metrics
}

// Registry maps room ids to rooms, creating them on first use. Each room's
// router lives on a worker taken from the pool in round-robin order.
type Registry struct {
	pool *engine.Pool
	cfg  RegistryConfig

	mu    sync.RWMutex
	rooms map[string]*Room

	creating singleflight.Group
}

func NewRegistry(pool *engine.Pool, cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Events == nil {
		cfg.Events = events.Nop{}
	}
	if len(cfg.Codecs) == 0 {
		cfg.Codecs = engine.DefaultMediaCodecs()
	}
	return &Registry{
		pool:  pool,
		cfg:   cfg,
		rooms: make(map[string]*Room),
	}
}

func (r *Registry) Get(id string) (*Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[id]
	if !ok {
		return nil, notFound(ErrRoomNotFound, id)
	}
	return rm, nil
}

// GetOrCreate returns the room for id, creating it if needed. Concurrent
// callers for the same id share one creation.
func (r *Registry) GetOrCreate(ctx context.Context, id string) (*Room, error) {
	if rm, err := r.Get(id); err == nil {
		return rm, nil
	}
	v, err, _ := r.creating.Do(id, func() (any, error) {
		if rm, err := r.Get(id); err == nil {
			return rm, nil
		}
		worker := r.pool.Acquire()
		router, err := worker.CreateRouter(ctx, r.cfg.Codecs)
		if err != nil {
			return nil, fmt.Errorf("create router for room %q on worker %s: %w", id, worker.ID(), err)
		}
		rm := newRoom(id, worker, router, r.cfg.Logger, r.cfg.Events, r.cfg.Metrics)

		r.mu.Lock()
		r.rooms[id] = rm
		r.mu.Unlock()

		r.cfg.Metrics.RoomOpened()
		r.cfg.Events.Publish(events.Event{Type: events.RoomCreated, RoomID: id})
		r.cfg.Logger.Info("room created", "room_id", id, "worker_id", worker.ID(), "router_id", router.ID())
		return rm, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Room), nil
}

// joinAttempts bounds Join: one try plus one retry after losing a race with
// empty-room collection.
const joinAttempts = 2

// Join adds p to room id, creating the room if needed.
func (r *Registry) Join(ctx context.Context, id string, p *Peer) (*Room, error) {
	var err error
	for attempt := 0; attempt < joinAttempts; attempt++ {
		var rm *Room
		rm, err = r.GetOrCreate(ctx, id)
		if err != nil {
			return nil, err
		}
		err = rm.AddPeer(p)
		if err == nil {
			return rm, nil
		}
		if !errors.Is(err, ErrRoomClosed) {
			return nil, err
		}
		// The room was collected while empty but Leave may not have unmapped
		// it yet. Unmap it here so the retry builds a fresh room.
		r.remove(rm)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return nil, err
}

// Leave removes the peer from rm and, when configured, collects rm if it is
// now empty.
func (r *Registry) Leave(rm *Room, peerID string) {
	rm.RemovePeer(peerID)
	if !r.cfg.CloseEmptyRooms || !rm.closeIfEmpty() {
		return
	}
	r.remove(rm)
	rm.close()
	r.cfg.Events.Publish(events.Event{Type: events.RoomClosed, RoomID: rm.id})
	r.cfg.Logger.Info("room closed", "room_id", rm.id, "reason", "empty")
}

func (r *Registry) remove(rm *Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[rm.id] == rm {
		delete(r.rooms, rm.id)
		r.cfg.Metrics.RoomClosed()
	}
}

// Rooms returns a snapshot of every room ordered by id.
func (r *Registry) Rooms() []*Room {
	r.mu.RLock()
	out := make([]*Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		out = append(out, rm)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Close closes every room. The pool is owned by the caller.
func (r *Registry) Close() {
	for _, rm := range r.Rooms() {
		r.remove(rm)
		rm.close()
		r.cfg.Events.Publish(events.Event{Type: events.RoomClosed, RoomID: rm.id})
	}
}
