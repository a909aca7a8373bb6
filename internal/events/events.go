// Package events publishes room lifecycle events (rooms opening and closing,
// peers joining and leaving, producers appearing and disappearing) to an
// external sink.
//
// Publishing is fire-and-forget: the signaling path never waits on the sink.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/metrics"
)

type Type string

const (
	RoomCreated     Type = "roomCreated"
	RoomClosed      Type = "roomClosed"
	PeerJoined      Type = "peerJoined"
	PeerLeft        Type = "peerLeft"
	ProducerCreated Type = "producerCreated"
	ProducerClosed  Type = "producerClosed"
)

type Event struct {
	Type       Type      `json:"type"`
	RoomID     string    `json:"roomId"`
	PeerID     string    `json:"peerId,omitempty"`
	UserID     string    `json:"userId,omitempty"`
	ProducerID string    `json:"producerId,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	Time       time.Time `json:"time"`
}

// Publisher accepts events without blocking.
type Publisher interface {
	Publish(Event)
}

// Sink delivers a single event. Implementations may block.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

type Nop struct{}

func (Nop) Publish(Event) {}

// Async decouples publishers from a Sink with a bounded buffer. Events that
// do not fit are dropped and counted.
type Async struct {
	sink        Sink
	logger      *slog.Logger
	metrics     *metrics.Metrics
	sendTimeout time.Duration

	mu     sync.RWMutex
	ch     chan Event
	closed bool
	done   chan struct{}
}

type AsyncConfig struct {
	Buffer      int
	SendTimeout time.Duration
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

func NewAsync(sink Sink, cfg AsyncConfig) *Async {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	a := &Async{
		sink:        sink,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		sendTimeout: cfg.SendTimeout,
		ch:          make(chan Event, cfg.Buffer),
		done:        make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.metrics.Inc(metrics.EventEventsDropped)
		return
	}
	select {
	case a.ch <- e:
	default:
		a.metrics.Inc(metrics.EventEventsDropped)
	}
}

func (a *Async) run() {
	defer close(a.done)
	for e := range a.ch {
		ctx, cancel := context.WithTimeout(context.Background(), a.sendTimeout)
		err := a.sink.Send(ctx, e)
		cancel()
		if err != nil {
			a.metrics.Inc(metrics.EventEventsFailed)
			a.logger.Warn("room event publish failed", "type", e.Type, "room_id", e.RoomID, "err", err)
		}
	}
}

// Close flushes buffered events and closes the sink.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.ch)
	a.mu.Unlock()

	<-a.done
	return a.sink.Close()
}

// Recorder keeps every published event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of type t in publish order.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
