package pionengine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/engine"
)

const rtpBufferSize = 1500

// Producer receives one RTP stream from its transport and republishes it on a
// local track every consumer's sender is bound to.
type Producer struct {
	transport *Transport
	id        string
	kind      engine.MediaKind
	params    engine.RTPParameters
	codec     engine.RTPCodecCapability
	logger    *slog.Logger

	local *webrtc.TrackLocalStaticRTP

	paused atomic.Bool

	mu        sync.Mutex
	receiver  *webrtc.RTPReceiver
	consumers map[string]*Consumer
	closed    bool
}

func (t *Transport) Produce(ctx context.Context, opts engine.ProducerOptions) (engine.Producer, error) {
	r := t.router
	if err := r.caps.CheckProducible(opts.Kind, opts.RTPParameters); err != nil {
		return nil, err
	}
	codec, ok := primaryCodec(opts.Kind, opts.RTPParameters, r.caps)
	if !ok {
		return nil, fmt.Errorf("no router codec for %s producer", opts.Kind)
	}

	id := uuid.NewString()
	local, err := webrtc.NewTrackLocalStaticRTP(toPionCapability(codec), id, t.id)
	if err != nil {
		return nil, fmt.Errorf("new local track: %w", err)
	}
	p := &Producer{
		transport: t,
		id:        id,
		kind:      opts.Kind,
		params:    opts.RTPParameters,
		codec:     codec,
		logger:    t.logger.With("producer_id", id),
		local:     local,
		consumers: make(map[string]*Consumer),
	}
	p.paused.Store(opts.Paused)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, engine.ErrClosed
	}
	t.producers[id] = p
	t.mu.Unlock()

	r.mu.Lock()
	r.producers[id] = p
	r.mu.Unlock()

	if ssrc, ok := primarySSRC(opts.RTPParameters); ok {
		go p.receive(ssrc)
	} else {
		p.logger.Warn("producer has no ssrc; media will not be forwarded")
	}
	return p, nil
}

// primaryCodec returns the router codec matching the producer's first media
// codec.
func primaryCodec(kind engine.MediaKind, params engine.RTPParameters, caps engine.RTPCapabilities) (engine.RTPCodecCapability, bool) {
	for _, c := range params.Codecs {
		if found, ok := caps.FindCodec(c.Capability(kind)); ok {
			return found, true
		}
	}
	return engine.RTPCodecCapability{}, false
}

func primarySSRC(params engine.RTPParameters) (uint32, bool) {
	for _, enc := range params.Encodings {
		if enc.SSRC != 0 {
			return enc.SSRC, true
		}
	}
	return 0, false
}

func (p *Producer) receive(ssrc uint32) {
	t := p.transport
	if !t.waitReady() {
		return
	}
	receiver, err := t.api.NewRTPReceiver(codecType(p.kind), t.dtls)
	if err != nil {
		p.logger.Warn("new rtp receiver failed", "err", err)
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = receiver.Stop()
		return
	}
	p.receiver = receiver
	p.mu.Unlock()

	err = receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				SSRC:        webrtc.SSRC(ssrc),
				PayloadType: webrtc.PayloadType(p.params.Codecs[0].PayloadType),
			},
		}},
	})
	if err != nil {
		p.logger.Warn("rtp receive failed", "ssrc", ssrc, "err", err)
		return
	}

	remote := receiver.Track()
	buf := make([]byte, rtpBufferSize)
	for {
		n, _, err := remote.Read(buf)
		if err != nil {
			return
		}
		if p.paused.Load() {
			continue
		}
		if _, err := p.local.Write(buf[:n]); err != nil {
			p.logger.Debug("rtp forward failed", "err", err)
		}
	}
}

func (p *Producer) ID() string                          { return p.id }
func (p *Producer) Kind() engine.MediaKind              { return p.kind }
func (p *Producer) RTPParameters() engine.RTPParameters { return p.params }
func (p *Producer) Paused() bool                        { return p.paused.Load() }

func (p *Producer) Pause(ctx context.Context) error {
	return p.setPaused(true)
}

func (p *Producer) Resume(ctx context.Context) error {
	return p.setPaused(false)
}

func (p *Producer) setPaused(paused bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return engine.ErrClosed
	}
	p.paused.Store(paused)
	return nil
}

// Close stops receiving and closes every consumer of the producer.
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return engine.ErrClosed
	}
	p.closed = true
	receiver := p.receiver
	consumers := make([]*Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		consumers = append(consumers, c)
	}
	p.mu.Unlock()

	for _, c := range consumers {
		_ = c.Close()
	}

	t := p.transport
	t.mu.Lock()
	delete(t.producers, p.id)
	t.mu.Unlock()
	r := t.router
	r.mu.Lock()
	delete(r.producers, p.id)
	r.mu.Unlock()

	if receiver != nil {
		return receiver.Stop()
	}
	return nil
}

func (p *Producer) addConsumer(c *Consumer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return engine.ErrClosed
	}
	p.consumers[c.id] = c
	return nil
}

func (p *Producer) removeConsumer(id string) {
	p.mu.Lock()
	delete(p.consumers, id)
	p.mu.Unlock()
}

// Consumer sends a producer's media to its transport's client.
type Consumer struct {
	transport *Transport
	producer  *Producer
	id        string
	params    engine.RTPParameters
	logger    *slog.Logger

	sender *webrtc.RTPSender

	mu     sync.Mutex
	closed bool
}

func (t *Transport) Consume(ctx context.Context, opts engine.ConsumerOptions) (engine.Consumer, error) {
	r := t.router
	p, ok := r.producer(opts.ProducerID)
	if !ok {
		return nil, fmt.Errorf("producer %q not found", opts.ProducerID)
	}
	id := uuid.NewString()
	ssrc := rand.Uint32()
	params, err := engine.ConsumerParameters(p.kind, p.params, r.caps, opts.RTPCapabilities, ssrc, t.id)
	if err != nil {
		return nil, err
	}
	sender, err := t.api.NewRTPSender(p.local, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("new rtp sender: %w", err)
	}
	c := &Consumer{
		transport: t,
		producer:  p,
		id:        id,
		params:    params,
		logger:    t.logger.With("consumer_id", id, "producer_id", p.id),
		sender:    sender,
	}
	if err := p.addConsumer(c); err != nil {
		_ = sender.Stop()
		return nil, err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		p.removeConsumer(id)
		_ = sender.Stop()
		return nil, engine.ErrClosed
	}
	t.consumers[id] = c
	t.mu.Unlock()

	go c.send(ssrc, params.Codecs[0].PayloadType)
	return c, nil
}

func (c *Consumer) send(ssrc uint32, pt uint8) {
	if !c.transport.waitReady() {
		return
	}
	err := c.sender.Send(webrtc.RTPSendParameters{
		Encodings: []webrtc.RTPEncodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				SSRC:        webrtc.SSRC(ssrc),
				PayloadType: webrtc.PayloadType(pt),
			},
		}},
	})
	if err != nil {
		c.logger.Warn("rtp send failed", "err", err)
		return
	}
	// Drain RTCP so interceptors keep running.
	buf := make([]byte, rtpBufferSize)
	for {
		if _, _, err := c.sender.Read(buf); err != nil {
			return
		}
	}
}

func (c *Consumer) ID() string                          { return c.id }
func (c *Consumer) ProducerID() string                  { return c.producer.id }
func (c *Consumer) Kind() engine.MediaKind              { return c.producer.kind }
func (c *Consumer) RTPParameters() engine.RTPParameters { return c.params }

func (c *Consumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return engine.ErrClosed
	}
	c.closed = true
	c.mu.Unlock()

	c.producer.removeConsumer(c.id)
	t := c.transport
	t.mu.Lock()
	delete(t.consumers, c.id)
	t.mu.Unlock()
	return c.sender.Stop()
}
