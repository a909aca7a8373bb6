package pionengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/ice/v4"
	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/engine"
)

const (
	sctpPort           = 5000
	defaultSCTPStreams = 1024

	// placeholderRemotePassword stands in for the ICE password of a client
	// that connected with DTLS parameters only. Checks sent with it go
	// unanswered, so such a client's pair is selected by its nomination.
	placeholderRemotePassword = "unknown"
)

var (
	errAlreadyConnected = errors.New("connect() already called")
	errNoUDP            = errors.New("UDP must be enabled")
)

// Transport is one client's ICE + DTLS association.
type Transport struct {
	router *Router
	id     string
	api    *webrtc.API
	logger *slog.Logger

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
	sctp     *webrtc.SCTPTransport

	iceParams  engine.ICEParameters
	candidates []engine.ICECandidate
	dtlsParams engine.DTLSParameters
	sctpParams *engine.SCTPParameters

	// ready is closed once DTLS is established; done once the transport is
	// closed.
	ready chan struct{}
	done  chan struct{}

	// armed is set once iceParams is; observeSTUN ignores traffic before.
	armed      atomic.Bool
	ufragKnown atomic.Bool
	selected   atomic.Pointer[ice.CandidatePair]

	mu         sync.Mutex
	connected  bool
	started    bool
	remoteICE  webrtc.ICEParameters
	remoteDTLS webrtc.DTLSParameters
	producers map[string]*Producer
	consumers map[string]*Consumer
	closed    bool
}

func (r *Router) CreateWebRTCTransport(ctx context.Context, opts engine.WebRTCTransportOptions) (engine.Transport, error) {
	if !opts.EnableUDP {
		return nil, errNoUDP
	}
	id := uuid.NewString()
	t := &Transport{
		router:    r,
		id:        id,
		logger:    r.logger.With("transport_id", id),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
		producers: make(map[string]*Producer),
		consumers: make(map[string]*Consumer),
	}

	se, err := r.worker.engine.settingEngine(t, opts)
	if err != nil {
		return nil, err
	}
	me, err := newMediaEngine(r.caps)
	if err != nil {
		return nil, err
	}
	t.api = webrtc.NewAPI(webrtc.WithSettingEngine(se), webrtc.WithMediaEngine(me))

	if err := t.setup(ctx, opts); err != nil {
		t.teardown()
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		t.teardown()
		return nil, engine.ErrClosed
	}
	r.transports[id] = t
	r.mu.Unlock()
	return t, nil
}

func (t *Transport) setup(ctx context.Context, opts engine.WebRTCTransportOptions) error {
	gatherer, err := t.api.NewICEGatherer(webrtc.ICEGatherOptions{})
	if err != nil {
		return fmt.Errorf("new ice gatherer: %w", err)
	}
	t.gatherer = gatherer

	gathered := make(chan struct{})
	var once sync.Once
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			once.Do(func() { close(gathered) })
		}
	})
	if err := gatherer.Gather(); err != nil {
		return fmt.Errorf("gather candidates: %w", err)
	}
	timeout := time.NewTimer(t.router.worker.engine.cfg.GatherTimeout)
	defer timeout.Stop()
	select {
	case <-gathered:
	case <-timeout.C:
		t.logger.Warn("candidate gathering timed out; using candidates found so far")
	case <-ctx.Done():
		return ctx.Err()
	}

	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		return fmt.Errorf("local ice parameters: %w", err)
	}
	t.iceParams = fromPionICEParameters(iceParams)
	t.iceParams.ICELite = true
	t.armed.Store(true)

	cands, err := gatherer.GetLocalCandidates()
	if err != nil {
		return fmt.Errorf("local ice candidates: %w", err)
	}
	if len(cands) == 0 {
		return errors.New("no ice candidates gathered")
	}
	for _, c := range cands {
		t.candidates = append(t.candidates, fromPionCandidate(c))
	}

	t.ice = t.api.NewICETransport(gatherer)
	dtls, err := t.api.NewDTLSTransport(t.ice, nil)
	if err != nil {
		return fmt.Errorf("new dtls transport: %w", err)
	}
	t.dtls = dtls
	dtlsParams, err := dtls.GetLocalParameters()
	if err != nil {
		return fmt.Errorf("local dtls parameters: %w", err)
	}
	t.dtlsParams = FromPionDTLSParameters(dtlsParams)

	if opts.EnableSCTP {
		t.sctp = t.api.NewSCTPTransport(dtls)
		t.sctpParams = &engine.SCTPParameters{
			Port:           sctpPort,
			OS:             streamsOrDefault(opts.NumSCTPStreams.OS),
			MIS:            streamsOrDefault(opts.NumSCTPStreams.MIS),
			MaxMessageSize: t.sctp.GetCapabilities().MaxMessageSize,
		}
	}
	return nil
}

func streamsOrDefault(n uint16) uint16 {
	if n == 0 {
		return defaultSCTPStreams
	}
	return n
}

func (t *Transport) ID() string                            { return t.id }
func (t *Transport) ICEParameters() engine.ICEParameters   { return t.iceParams }
func (t *Transport) DTLSParameters() engine.DTLSParameters { return t.dtlsParams }
func (t *Transport) ICECandidates() []engine.ICECandidate {
	return append([]engine.ICECandidate(nil), t.candidates...)
}

func (t *Transport) SCTPParameters() *engine.SCTPParameters {
	if t.sctpParams == nil {
		return nil
	}
	cp := *t.sctpParams
	return &cp
}

// Connect records the client's parameters and starts ICE and DTLS in the
// background. The handshake needs the client to act on the response, so
// Connect must not wait for it.
//
// ICE parameters are optional. Without them ICE starts once the first
// authenticated binding request names the client's username fragment.
func (t *Transport) Connect(ctx context.Context, params engine.TransportConnectParams) error {
	if err := params.DTLSParameters.Validate(); err != nil {
		return err
	}
	if params.ICEParameters != nil {
		if err := params.ICEParameters.Validate(); err != nil {
			return err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return engine.ErrClosed
	}
	if t.connected {
		return errAlreadyConnected
	}
	t.connected = true
	t.remoteDTLS = toPionDTLSParameters(params.DTLSParameters)
	if params.ICEParameters != nil {
		t.remoteICE = toPionICEParameters(*params.ICEParameters)
		t.ufragKnown.Store(true)
	}
	t.startLocked()
	return nil
}

// startLocked starts the handshake once the client connected and its
// username fragment is known. t.mu must be held.
func (t *Transport) startLocked() {
	if t.closed || t.started || !t.connected || !t.ufragKnown.Load() {
		return
	}
	t.started = true
	go t.start(t.remoteICE, t.remoteDTLS)
}

// observeSTUN learns the client's username fragment from the first binding
// request that authenticates with this transport's ICE password.
func (t *Transport) observeSTUN(b []byte) {
	if !t.armed.Load() || t.ufragKnown.Load() || !stun.IsMessage(b) {
		return
	}
	m := &stun.Message{Raw: append([]byte(nil), b...)}
	if err := m.Decode(); err != nil || m.Type != stun.BindingRequest {
		return
	}
	var username stun.Username
	if err := username.GetFrom(m); err != nil {
		return
	}
	local, remote, ok := strings.Cut(string(username), ":")
	if !ok || remote == "" || local != t.iceParams.UsernameFragment {
		return
	}
	if err := stun.NewShortTermIntegrity(t.iceParams.Password).Check(m); err != nil {
		return
	}
	t.learnRemoteUfrag(remote)
}

func (t *Transport) learnRemoteUfrag(ufrag string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ufragKnown.Load() {
		return
	}
	t.remoteICE = webrtc.ICEParameters{UsernameFragment: ufrag, Password: placeholderRemotePassword}
	t.ufragKnown.Store(true)
	t.logger.Debug("remote ice username fragment learned from binding request")
	t.startLocked()
}

// nominate selects the pair a client nominates with USE-CANDIDATE.
func (t *Transport) nominate(m *stun.Message, _, _ ice.Candidate, pair *ice.CandidatePair) bool {
	if !m.Contains(stun.AttrUseCandidate) {
		return false
	}
	return t.selected.Swap(pair) != pair
}

func (t *Transport) start(remoteICE webrtc.ICEParameters, remoteDTLS webrtc.DTLSParameters) {
	role := webrtc.ICERoleControlled
	if err := t.ice.Start(t.gatherer, remoteICE, &role); err != nil {
		t.logger.Warn("ice start failed", "err", err)
		return
	}
	if err := t.dtls.Start(remoteDTLS); err != nil {
		t.logger.Warn("dtls start failed", "err", err)
		return
	}
	if t.sctp != nil {
		if err := t.sctp.Start(webrtc.SCTPCapabilities{MaxMessageSize: t.sctpParams.MaxMessageSize}); err != nil {
			t.logger.Warn("sctp start failed", "err", err)
		}
	}
	close(t.ready)
	t.logger.Debug("transport connected")
}

// Connected reports whether the DTLS handshake has completed.
func (t *Transport) Connected() bool {
	select {
	case <-t.ready:
		return true
	default:
		return false
	}
}

// waitReady blocks until DTLS is established. It returns false if the
// transport closes first.
func (t *Transport) waitReady() bool {
	select {
	case <-t.ready:
		return true
	case <-t.done:
		return false
	}
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return engine.ErrClosed
	}
	t.closed = true
	consumers := make([]*Consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	producers := make([]*Producer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	t.mu.Unlock()

	for _, c := range consumers {
		_ = c.Close()
	}
	for _, p := range producers {
		_ = p.Close()
	}

	r := t.router
	r.mu.Lock()
	delete(r.transports, t.id)
	r.mu.Unlock()
	return t.teardown()
}

func (t *Transport) teardown() error {
	select {
	case <-t.done:
		return nil
	default:
		close(t.done)
	}
	var errs []error
	if t.sctp != nil {
		errs = append(errs, t.sctp.Stop())
	}
	if t.dtls != nil {
		errs = append(errs, t.dtls.Stop())
	}
	if t.ice != nil {
		errs = append(errs, t.ice.Stop())
	}
	if t.gatherer != nil {
		errs = append(errs, t.gatherer.Close())
	}
	return errors.Join(errs...)
}
