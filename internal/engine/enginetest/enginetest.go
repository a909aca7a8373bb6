// Package enginetest provides an in-memory engine.Engine for tests. It keeps
// the bookkeeping a real engine does (routers know their producers,
// transports own their producers and consumers) without any networking, and
// lets tests inject failures per operation.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/engine"
)

type Op string

const (
	OpCreateWorker    Op = "createWorker"
	OpCreateRouter    Op = "createRouter"
	OpCreateTransport Op = "createTransport"
	OpConnect         Op = "connect"
	OpProduce         Op = "produce"
	OpConsume         Op = "consume"
	OpPause           Op = "pause"
	OpResume          Op = "resume"
)

type Engine struct {
	mu       sync.Mutex
	failures map[Op]error
	workers  []*Worker

	seq atomic.Uint64
}

func New() *Engine {
	return &Engine{failures: make(map[Op]error)}
}

// Fail makes every subsequent call of op return err. A nil err clears it.
func (e *Engine) Fail(op Op, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.failures, op)
		return
	}
	e.failures[op] = err
}

func (e *Engine) failure(op Op) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failures[op]
}

func (e *Engine) nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, e.seq.Add(1))
}

func (e *Engine) Workers() []*Worker {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Worker(nil), e.workers...)
}

func (e *Engine) CreateWorker(ctx context.Context) (engine.Worker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.failure(OpCreateWorker); err != nil {
		return nil, err
	}
	w := &Worker{eng: e, id: e.nextID("worker")}
	e.mu.Lock()
	e.workers = append(e.workers, w)
	e.mu.Unlock()
	return w, nil
}

type Worker struct {
	eng *Engine
	id  string

	mu      sync.Mutex
	routers []*Router
	closed  bool
}

func (w *Worker) ID() string { return w.id }

func (w *Worker) Routers() []*Router {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*Router(nil), w.routers...)
}

func (w *Worker) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *Worker) CreateRouter(ctx context.Context, codecs []engine.RTPCodecCapability) (engine.Router, error) {
	if err := w.eng.failure(OpCreateRouter); err != nil {
		return nil, err
	}
	caps, err := engine.RouterCapabilities(codecs)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, engine.ErrClosed
	}
	r := &Router{
		eng:       w.eng,
		id:        w.eng.nextID("router"),
		caps:      caps,
		producers: make(map[string]*Producer),
	}
	w.routers = append(w.routers, r)
	return r, nil
}

func (w *Worker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return engine.ErrClosed
	}
	w.closed = true
	routers := w.routers
	w.mu.Unlock()

	for _, r := range routers {
		_ = r.Close()
	}
	return nil
}

type Router struct {
	eng  *Engine
	id   string
	caps engine.RTPCapabilities

	mu         sync.Mutex
	producers  map[string]*Producer
	transports []*Transport
	closed     bool
}

func (r *Router) ID() string                              { return r.id }
func (r *Router) RTPCapabilities() engine.RTPCapabilities { return r.caps }

func (r *Router) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// ProducerCount is the number of live producers known to the router.
func (r *Router) ProducerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.producers)
}

func (r *Router) producer(id string) (*Producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[id]
	return p, ok
}

func (r *Router) CanConsume(producerID string, caps engine.RTPCapabilities) bool {
	p, ok := r.producer(producerID)
	if !ok {
		return false
	}
	return engine.CanConsume(p.kind, p.params, caps)
}

func (r *Router) CreateWebRTCTransport(ctx context.Context, opts engine.WebRTCTransportOptions) (engine.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.eng.failure(OpCreateTransport); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, engine.ErrClosed
	}

	n := r.eng.seq.Add(1)
	t := &Transport{
		router: r,
		id:     fmt.Sprintf("transport-%d", n),
		opts:   opts,
		ice: engine.ICEParameters{
			UsernameFragment: fmt.Sprintf("ufrag%d", n),
			Password:         fmt.Sprintf("password%d", n),
			ICELite:          true,
		},
		dtls: engine.DTLSParameters{
			Role:         "auto",
			Fingerprints: []engine.DTLSFingerprint{{Algorithm: "sha-256", Value: fmt.Sprintf("%064X", n)}},
		},
		producers: make(map[string]*Producer),
		consumers: make(map[string]*Consumer),
	}
	ip := "127.0.0.1"
	if len(opts.ListenInfos) > 0 {
		ip = opts.ListenInfos[0].IP
		if opts.ListenInfos[0].AnnouncedIP != "" {
			ip = opts.ListenInfos[0].AnnouncedIP
		}
	}
	t.candidates = []engine.ICECandidate{{
		Foundation: "udpcandidate",
		Priority:   1076302079,
		IP:         ip,
		Address:    ip,
		Protocol:   "udp",
		Port:       uint16(40000 + n%10000),
		Type:       "host",
	}}
	if opts.EnableSCTP {
		t.sctp = &engine.SCTPParameters{Port: 5000, OS: 1024, MIS: 1024, MaxMessageSize: 262144}
	}
	r.transports = append(r.transports, t)
	return t, nil
}

func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return engine.ErrClosed
	}
	r.closed = true
	transports := r.transports
	r.mu.Unlock()

	for _, t := range transports {
		_ = t.Close()
	}
	return nil
}

type Transport struct {
	router *Router
	id     string
	opts   engine.WebRTCTransportOptions

	ice        engine.ICEParameters
	candidates []engine.ICECandidate
	dtls       engine.DTLSParameters
	sctp       *engine.SCTPParameters

	mu         sync.Mutex
	remoteDTLS *engine.DTLSParameters
	producers  map[string]*Producer
	consumers  map[string]*Consumer
	closed     bool
}

func (t *Transport) ID() string                            { return t.id }
func (t *Transport) ICEParameters() engine.ICEParameters   { return t.ice }
func (t *Transport) ICECandidates() []engine.ICECandidate  { return append([]engine.ICECandidate(nil), t.candidates...) }
func (t *Transport) DTLSParameters() engine.DTLSParameters { return t.dtls }
func (t *Transport) SCTPParameters() *engine.SCTPParameters {
	if t.sctp == nil {
		return nil
	}
	cp := *t.sctp
	return &cp
}

// Options returns the options the transport was created with.
func (t *Transport) Options() engine.WebRTCTransportOptions { return t.opts }

// RemoteDTLSParameters returns what Connect was called with, if anything.
func (t *Transport) RemoteDTLSParameters() (engine.DTLSParameters, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remoteDTLS == nil {
		return engine.DTLSParameters{}, false
	}
	return *t.remoteDTLS, true
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) Connect(ctx context.Context, params engine.TransportConnectParams) error {
	if err := t.router.eng.failure(OpConnect); err != nil {
		return err
	}
	if err := params.DTLSParameters.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return engine.ErrClosed
	}
	if t.remoteDTLS != nil {
		return errors.New("connect() already called")
	}
	dtls := params.DTLSParameters
	t.remoteDTLS = &dtls
	return nil
}

func (t *Transport) Produce(ctx context.Context, opts engine.ProducerOptions) (engine.Producer, error) {
	if err := t.router.eng.failure(OpProduce); err != nil {
		return nil, err
	}
	if err := t.router.caps.CheckProducible(opts.Kind, opts.RTPParameters); err != nil {
		return nil, err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, engine.ErrClosed
	}
	p := &Producer{
		transport: t,
		id:        t.router.eng.nextID("producer"),
		kind:      opts.Kind,
		params:    opts.RTPParameters,
		paused:    opts.Paused,
	}
	t.producers[p.id] = p
	t.mu.Unlock()

	t.router.mu.Lock()
	t.router.producers[p.id] = p
	t.router.mu.Unlock()
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, opts engine.ConsumerOptions) (engine.Consumer, error) {
	if err := t.router.eng.failure(OpConsume); err != nil {
		return nil, err
	}
	p, ok := t.router.producer(opts.ProducerID)
	if !ok {
		return nil, fmt.Errorf("producer %q not found", opts.ProducerID)
	}
	n := t.router.eng.seq.Add(1)
	params, err := engine.ConsumerParameters(p.kind, p.params, t.router.caps, opts.RTPCapabilities, uint32(100000+n), t.id)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, engine.ErrClosed
	}
	c := &Consumer{
		transport:  t,
		id:         fmt.Sprintf("consumer-%d", n),
		producerID: p.id,
		kind:       p.kind,
		params:     params,
	}
	t.consumers[c.id] = c
	return c, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return engine.ErrClosed
	}
	t.closed = true
	producers := make([]*Producer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	consumers := make([]*Consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	t.mu.Unlock()

	for _, c := range consumers {
		_ = c.Close()
	}
	for _, p := range producers {
		_ = p.Close()
	}
	return nil
}

type Producer struct {
	transport *Transport
	id        string
	kind      engine.MediaKind
	params    engine.RTPParameters

	mu     sync.Mutex
	paused bool
	closed bool
}

func (p *Producer) ID() string                          { return p.id }
func (p *Producer) Kind() engine.MediaKind              { return p.kind }
func (p *Producer) RTPParameters() engine.RTPParameters { return p.params }

func (p *Producer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Producer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Producer) Pause(ctx context.Context) error {
	return p.setPaused(OpPause, true)
}

func (p *Producer) Resume(ctx context.Context) error {
	return p.setPaused(OpResume, false)
}

func (p *Producer) setPaused(op Op, paused bool) error {
	if err := p.transport.router.eng.failure(op); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return engine.ErrClosed
	}
	p.paused = paused
	return nil
}

func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return engine.ErrClosed
	}
	p.closed = true
	p.mu.Unlock()

	r := p.transport.router
	r.mu.Lock()
	delete(r.producers, p.id)
	r.mu.Unlock()
	return nil
}

type Consumer struct {
	transport  *Transport
	id         string
	producerID string
	kind       engine.MediaKind
	params     engine.RTPParameters

	mu     sync.Mutex
	closed bool
}

func (c *Consumer) ID() string                          { return c.id }
func (c *Consumer) ProducerID() string                  { return c.producerID }
func (c *Consumer) Kind() engine.MediaKind              { return c.kind }
func (c *Consumer) RTPParameters() engine.RTPParameters { return c.params }

func (c *Consumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return engine.ErrClosed
	}
	c.closed = true
	return nil
}
