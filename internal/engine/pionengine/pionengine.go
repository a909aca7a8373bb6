// Package pionengine implements engine.Engine on pion's ORTC objects. Every
// transport is an ICE-lite gatherer, ICE transport and DTLS transport (plus
// SCTP when requested) with its own setting and media engines, so listen
// addresses and codecs are applied per transport.
package pionengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/ice/v4"
	"github.com/pion/logging"
	"github.com/pion/transport/v4"
	"github.com/pion/transport/v4/stdnet"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/engine"
)

const (
	defaultGatherTimeout = 5 * time.Second

	iceTCPReadBufferSize  = 8
	iceTCPWriteBufferSize = 4 << 20
)

type Config struct {
	// RTCMinPort and RTCMaxPort bound the UDP ports transports bind to. Both
	// zero leaves the choice to the OS.
	RTCMinPort uint16
	RTCMaxPort uint16

	// GatherTimeout bounds host candidate gathering per transport.
	GatherTimeout time.Duration

	// Net is the network transports gather candidates on. Nil uses the host
	// network.
	Net transport.Net

	// ICETCPListenAddr, when set, is a TCP address shared by every
	// transport for ICE-TCP. Transports created with EnableTCP then also
	// offer passive TCP candidates on it.
	ICETCPListenAddr string

	// ConfigureSettings, when set, runs last on every transport's setting
	// engine.
	ConfigureSettings func(*webrtc.SettingEngine)

	Logger        *slog.Logger
	LoggerFactory logging.LoggerFactory
}

type Engine struct {
	cfg Config

	tcpMux    *ice.TCPMuxDefault
	closeOnce sync.Once
	closeErr  error
}

func New(cfg Config) (*Engine, error) {
	if cfg.RTCMinPort > cfg.RTCMaxPort {
		return nil, fmt.Errorf("rtc min port %d > max port %d", cfg.RTCMinPort, cfg.RTCMaxPort)
	}
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = defaultGatherTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LoggerFactory == nil {
		cfg.LoggerFactory = &LoggerFactory{Logger: cfg.Logger, Level: logging.LogLevelWarn}
	}
	if cfg.Net == nil {
		n, err := stdnet.NewNet()
		if err != nil {
			return nil, fmt.Errorf("host network: %w", err)
		}
		cfg.Net = n
	}

	e := &Engine{cfg: cfg}
	if cfg.ICETCPListenAddr != "" {
		ln, err := net.Listen("tcp", cfg.ICETCPListenAddr)
		if err != nil {
			return nil, fmt.Errorf("listen ice tcp: %w", err)
		}
		e.tcpMux = ice.NewTCPMuxDefault(ice.TCPMuxParams{
			Listener:        ln,
			Logger:          cfg.LoggerFactory.NewLogger("ice-tcp"),
			ReadBufferSize:  iceTCPReadBufferSize,
			WriteBufferSize: iceTCPWriteBufferSize,
		})
		cfg.Logger.Info("ice-tcp listening", "addr", ln.Addr().String())
	}
	return e, nil
}

// ICETCPAddr is the shared ICE-TCP listener address, or nil when ICE-TCP is
// off.
func (e *Engine) ICETCPAddr() net.Addr {
	if e.tcpMux == nil {
		return nil
	}
	return e.tcpMux.LocalAddr()
}

// Close releases the ICE-TCP listener. Workers are closed by their owner.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		if e.tcpMux != nil {
			e.closeErr = e.tcpMux.Close()
		}
	})
	return e.closeErr
}

func (e *Engine) CreateWorker(ctx context.Context) (engine.Worker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	return &Worker{
		engine:  e,
		id:      id,
		logger:  e.cfg.Logger.With("worker_id", id),
		routers: make(map[string]*Router),
	}, nil
}

// settingEngine builds the network settings of transport t. Every packet
// t's sockets read passes through t.observeSTUN first.
func (e *Engine) settingEngine(t *Transport, opts engine.WebRTCTransportOptions) (webrtc.SettingEngine, error) {
	se := webrtc.SettingEngine{LoggerFactory: e.cfg.LoggerFactory}
	se.SetLite(true)
	se.SetNet(&observedNet{Net: e.cfg.Net, observe: t.observeSTUN})
	se.SetICEBindingRequestHandler(t.nominate)
	if e.cfg.RTCMinPort != 0 || e.cfg.RTCMaxPort != 0 {
		if err := se.SetEphemeralUDPPortRange(e.cfg.RTCMinPort, e.cfg.RTCMaxPort); err != nil {
			return se, fmt.Errorf("set ephemeral udp port range: %w", err)
		}
	}
	networks := []webrtc.NetworkType{webrtc.NetworkTypeUDP4, webrtc.NetworkTypeUDP6}
	if opts.EnableTCP && e.tcpMux != nil {
		networks = append(networks, webrtc.NetworkTypeTCP4, webrtc.NetworkTypeTCP6)
		se.SetICETCPMux(&observedTCPMux{TCPMux: e.tcpMux, observe: t.observeSTUN})
	}
	se.SetNetworkTypes(networks)
	if err := applyListenInfos(&se, opts.ListenInfos); err != nil {
		return se, err
	}
	if e.cfg.ConfigureSettings != nil {
		e.cfg.ConfigureSettings(&se)
	}
	return se, nil
}

// Worker is a logical grouping of routers. pion runs in-process, so a worker
// owns no OS process; it exists to spread rooms and to tear them down
// together.
type Worker struct {
	engine *Engine
	id     string
	logger *slog.Logger

	mu      sync.Mutex
	routers map[string]*Router
	closed  bool
}

func (w *Worker) ID() string { return w.id }

func (w *Worker) CreateRouter(ctx context.Context, codecs []engine.RTPCodecCapability) (engine.Router, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	caps, err := engine.RouterCapabilities(codecs)
	if err != nil {
		return nil, err
	}
	// Fail fast on codecs pion cannot register.
	if _, err := newMediaEngine(caps); err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, engine.ErrClosed
	}
	id := uuid.NewString()
	r := &Router{
		worker:     w,
		id:         id,
		caps:       caps,
		logger:     w.logger.With("router_id", id),
		producers:  make(map[string]*Producer),
		transports: make(map[string]*Transport),
	}
	w.routers[id] = r
	return r, nil
}

func (w *Worker) removeRouter(id string) {
	w.mu.Lock()
	delete(w.routers, id)
	w.mu.Unlock()
}

func (w *Worker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return engine.ErrClosed
	}
	w.closed = true
	routers := make([]*Router, 0, len(w.routers))
	for _, r := range w.routers {
		routers = append(routers, r)
	}
	w.mu.Unlock()

	var errs []error
	for _, r := range routers {
		if err := r.Close(); err != nil && !errors.Is(err, engine.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Router struct {
	worker *Worker
	id     string
	caps   engine.RTPCapabilities
	logger *slog.Logger

	mu         sync.Mutex
	producers  map[string]*Producer
	transports map[string]*Transport
	closed     bool
}

func (r *Router) ID() string                              { return r.id }
func (r *Router) RTPCapabilities() engine.RTPCapabilities { return r.caps }

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

func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return engine.ErrClosed
	}
	r.closed = true
	transports := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.mu.Unlock()

	var errs []error
	for _, t := range transports {
		if err := t.Close(); err != nil && !errors.Is(err, engine.ErrClosed) {
			errs = append(errs, err)
		}
	}
	r.worker.removeRouter(r.id)
	return errors.Join(errs...)
}
