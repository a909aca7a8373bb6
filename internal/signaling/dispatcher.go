package signaling

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/engine"
	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/protocol"
	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/room"
)

// TransportDefaults are the server-side settings applied to every WebRTC
// transport a client asks for.
type TransportDefaults struct {
	ListenInfos []engine.ListenInfo
	EnableUDP   bool
	EnableTCP   bool
	// EnableSCTP allows clients that send sctpCapabilities to get a data
	// channel association on their transport.
	EnableSCTP bool
}

// DefaultTransport listens on every IPv4 interface over UDP and TCP.
func DefaultTransport() TransportDefaults {
	return TransportDefaults{
		ListenInfos: []engine.ListenInfo{{IP: "0.0.0.0"}},
		EnableUDP:   true,
		EnableTCP:   true,
		EnableSCTP:  true,
	}
}

// Dispatcher maps decoded signaling requests onto room operations.
type Dispatcher struct {
	transport TransportDefaults
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func NewDispatcher(transport TransportDefaults, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{transport: transport, logger: logger, metrics: m}
}

// Dispatch runs msg on behalf of peer. The returned message is the response
// owed to the client; ok is false for notifications, which are executed but
// never answered.
func (d *Dispatcher) Dispatch(ctx context.Context, rm *room.Room, peer *room.Peer, msg protocol.Message) (resp protocol.Message, ok bool) {
	start := time.Now()

	payload, err := d.handle(ctx, rm, peer, msg)
	result := "ok"
	if err != nil {
		result = errorResult(err)
		d.logger.Warn("signaling request failed",
			"room_id", rm.ID(),
			"peer_id", peer.ID(),
			"method", msg.Method,
			"err", err,
		)
	}
	d.metrics.ObserveRequest(metricMethod(msg.Method), result, time.Since(start))

	if !msg.IsRequest() {
		return protocol.Message{}, false
	}
	if err != nil {
		return protocol.NewErrorResponse(msg.RequestID(), err.Error()), true
	}
	resp, err = protocol.NewResponse(msg.RequestID(), payload)
	if err != nil {
		return protocol.NewErrorResponse(msg.RequestID(), err.Error()), true
	}
	return resp, true
}

func (d *Dispatcher) handle(ctx context.Context, rm *room.Room, peer *room.Peer, msg protocol.Message) (any, error) {
	req, err := protocol.DecodeRequest(msg)
	if err != nil {
		return nil, err
	}

	switch r := req.(type) {
	case protocol.GetRouterRTPCapabilitiesRequest:
		return rm.RTPCapabilities(), nil

	case protocol.CreateWebRTCTransportRequest:
		t, err := rm.CreateWebRTCTransport(ctx, peer.ID(), d.transportOptions(r))
		if err != nil {
			return nil, err
		}
		return protocol.TransportCreated{
			ID:             t.ID(),
			ICEParameters:  t.ICEParameters(),
			ICECandidates:  t.ICECandidates(),
			DTLSParameters: t.DTLSParameters(),
			SCTPParameters: t.SCTPParameters(),
		}, nil

	case protocol.ConnectTransportRequest:
		err := rm.ConnectTransport(ctx, peer.ID(), r.TransportID, engine.TransportConnectParams{
			DTLSParameters: r.DTLSParameters,
			ICEParameters:  r.ICEParameters,
		})
		if err != nil {
			return nil, err
		}
		return protocol.Empty{}, nil

	case protocol.ProduceRequest:
		p, err := rm.CreateProducer(ctx, peer.ID(), r.TransportID, engine.ProducerOptions{
			Kind:          r.MediaKind,
			RTPParameters: r.RTPParameters,
			AppData:       r.AppData,
		})
		if err != nil {
			return nil, err
		}
		return protocol.Produced{ID: p.ID()}, nil

	case protocol.ConsumeRequest:
		c, err := rm.CreateConsumer(ctx, peer.ID(), r.TransportID, r.ProducerID, r.RTPCapabilities)
		if err != nil {
			return nil, err
		}
		return protocol.Consumed{
			ID:            c.ID(),
			ProducerID:    c.ProducerID(),
			Kind:          c.Kind().Label(),
			RTPParameters: c.RTPParameters(),
		}, nil

	case protocol.PauseProducerRequest:
		if err := rm.PauseProducer(ctx, peer.ID(), r.ProducerID); err != nil {
			return nil, err
		}
		return protocol.Empty{}, nil

	case protocol.ResumeProducerRequest:
		if err := rm.ResumeProducer(ctx, peer.ID(), r.ProducerID); err != nil {
			return nil, err
		}
		return protocol.Empty{}, nil
	}
	return nil, &protocol.UnknownMethodError{Method: msg.Method}
}

func (d *Dispatcher) transportOptions(r protocol.CreateWebRTCTransportRequest) engine.WebRTCTransportOptions {
	opts := engine.WebRTCTransportOptions{
		ListenInfos: d.transport.ListenInfos,
		EnableUDP:   d.transport.EnableUDP,
		EnableTCP:   d.transport.EnableTCP,
		Producing:   r.Producing == nil || *r.Producing,
		Consuming:   r.Consuming == nil || *r.Consuming,
	}
	if d.transport.EnableSCTP && r.SCTPCapabilities != nil {
		opts.EnableSCTP = true
		opts.NumSCTPStreams = r.SCTPCapabilities.NumStreams
	}
	return opts
}

func errorResult(err error) string {
	var unknown *protocol.UnknownMethodError
	switch {
	case errors.As(err, &unknown):
		return "unknown_method"
	case errors.Is(err, protocol.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, room.ErrPeerNotFound),
		errors.Is(err, room.ErrTransportNotFound),
		errors.Is(err, room.ErrProducerNotFound),
		errors.Is(err, room.ErrConsumerNotFound):
		return "not_found"
	case errors.Is(err, room.ErrTransport),
		errors.Is(err, room.ErrProducer),
		errors.Is(err, room.ErrConsumer):
		return "engine_error"
	}
	return "error"
}

// metricMethod bounds the method label to the known set.
func metricMethod(method string) string {
	switch method {
	case protocol.MethodGetRouterRTPCapabilities,
		protocol.MethodCreateWebRTCTransport,
		protocol.MethodConnectTransport,
		protocol.MethodProduce,
		protocol.MethodConsume,
		protocol.MethodPauseProducer,
		protocol.MethodResumeProducer:
		return method
	}
	return "unknown"
}
