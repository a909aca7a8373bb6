// Package engine defines the capability surface the gateway needs from a media
// engine (workers, routers, transports, producers and consumers) together with
// the JSON shapes those resources are described with on the signaling wire.
//
// The session-coordination layer only ever talks to these interfaces; the
// pion-backed implementation lives in engine/pionengine and an in-memory one
// for tests in engine/enginetest.
package engine

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrClosed is returned by engine resources that have already been released.
// Callers tearing resources down treat it as success.
var ErrClosed = errors.New("engine: resource closed")

type Engine interface {
	CreateWorker(ctx context.Context) (Worker, error)
}

// Worker is an engine process (or process-like unit) that hosts routers.
type Worker interface {
	ID() string
	CreateRouter(ctx context.Context, codecs []RTPCodecCapability) (Router, error)
	Close() error
}

// Router owns the media capability set of a room. Its capabilities are fixed
// at creation time.
type Router interface {
	ID() string
	RTPCapabilities() RTPCapabilities
	// CanConsume reports whether a consumer with caps can receive the given
	// producer's media.
	CanConsume(producerID string, caps RTPCapabilities) bool
	CreateWebRTCTransport(ctx context.Context, opts WebRTCTransportOptions) (Transport, error)
	Close() error
}

type Transport interface {
	ID() string
	ICEParameters() ICEParameters
	ICECandidates() []ICECandidate
	DTLSParameters() DTLSParameters
	// SCTPParameters is nil when SCTP was not enabled for the transport.
	SCTPParameters() *SCTPParameters

	Connect(ctx context.Context, params TransportConnectParams) error
	Produce(ctx context.Context, opts ProducerOptions) (Producer, error)
	Consume(ctx context.Context, opts ConsumerOptions) (Consumer, error)
	Close() error
}

type Producer interface {
	ID() string
	Kind() MediaKind
	RTPParameters() RTPParameters
	Paused() bool
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Close() error
}

type Consumer interface {
	ID() string
	ProducerID() string
	Kind() MediaKind
	RTPParameters() RTPParameters
	Close() error
}

// ListenInfo is one local address a transport may bind to. AnnouncedIP, when
// set, replaces IP in the candidates handed to clients.
type ListenInfo struct {
	IP          string `json:"ip" yaml:"ip"`
	AnnouncedIP string `json:"announcedIp,omitempty" yaml:"announcedIp"`
}

type WebRTCTransportOptions struct {
	ListenInfos []ListenInfo
	EnableUDP   bool
	// EnableTCP adds passive ICE-TCP candidates where the engine accepts
	// ICE-TCP. UDP candidates keep the higher priority.
	EnableTCP  bool
	EnableSCTP bool
	// NumSCTPStreams is the client's requested stream count; zero values use
	// engine defaults.
	NumSCTPStreams SCTPStreams

	// Producing and Consuming are client hints about the transport direction.
	Producing bool
	Consuming bool
}

type TransportConnectParams struct {
	DTLSParameters DTLSParameters
	// ICEParameters are the remote ICE credentials. Engines that need them to
	// start connectivity checks only start once they are known.
	ICEParameters *ICEParameters
}

type ProducerOptions struct {
	Kind          MediaKind
	RTPParameters RTPParameters
	AppData       json.RawMessage
	Paused        bool
}

type ConsumerOptions struct {
	ProducerID      string
	RTPCapabilities RTPCapabilities
	Paused          bool
}
