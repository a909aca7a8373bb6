package signaling

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/room"
)

const (
	DefaultRoomID = "default"

	maxRoomIDLength = 128
)

// Config wires together the runtime dependencies for the signaling service.
type Config struct {
	Registry *room.Registry
	Logger   *slog.Logger
	Metrics  *metrics.Metrics

	Transport TransportDefaults

	// AllowedOrigins restricts browser origins on the upgrade request. Empty
	// means same-host only.
	AllowedOrigins []string

	// DefaultRoom is joined when the client names no room.
	DefaultRoom string

	// PeerQueueLimit bounds each peer's outbound queue. Zero is unbounded.
	PeerQueueLimit int

	// WebSocket keepalive. A zero idle timeout disables both.
	SignalingWSIdleTimeout  time.Duration
	SignalingWSPingInterval time.Duration

	// WebSocket inbound signaling hardening.
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
}

// Server implements the gateway's WebSocket signaling surface.
//
// Endpoints:
//   - GET /ws         : join the room named by ?room=, or the default room
//   - GET /ws/{room}  : join the named room
type Server struct {
	registry   *room.Registry
	dispatcher *Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Metrics
	cfg        Config

	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*wsConn]struct{}
	closed bool
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultRoom == "" {
		cfg.DefaultRoom = DefaultRoomID
	}
	if len(cfg.Transport.ListenInfos) == 0 {
		cfg.Transport = DefaultTransport()
	}
	s := &Server{
		registry:   cfg.Registry,
		dispatcher: NewDispatcher(cfg.Transport, logger, cfg.Metrics),
		logger:     logger,
		metrics:    cfg.Metrics,
		cfg:        cfg,
		conns:      make(map[*wsConn]struct{}),
	}
	policy := origin.NewPolicy(cfg.AllowedOrigins)
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if policy.CheckOrigin(r) {
				return true
			}
			s.metrics.Inc(metrics.EventSignalingOrigin)
			return false
		},
	}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /ws/{room}", s.handleWebSocket)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Close ends every open signaling connection. Each connection leaves its room
// on the way out.
func (s *Server) Close() {
	s.mu.Lock()
	conns := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.closed = true
	s.mu.Unlock()

	for _, c := range conns {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		c.Close()
	}
}

// ConnectionCount reports the number of open signaling connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) maxMessageBytes() int64 {
	if s.cfg.MaxSignalingMessageBytes <= 0 {
		return 64 * 1024
	}
	return s.cfg.MaxSignalingMessageBytes
}

func (s *Server) maxMessagesPerSecond() int {
	if s.cfg.MaxSignalingMessagesPerSecond <= 0 {
		return 50
	}
	return s.cfg.MaxSignalingMessagesPerSecond
}

// roomID resolves the room for r: the path value, then ?room=, then the
// default room.
func (s *Server) roomID(r *http.Request) string {
	if id := strings.TrimSpace(r.PathValue("room")); id != "" {
		return id
	}
	if id := strings.TrimSpace(r.URL.Query().Get("room")); id != "" {
		return id
	}
	return s.cfg.DefaultRoom
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		http.Error(w, "room registry not configured", http.StatusInternalServerError)
		return
	}
	roomID := s.roomID(r)
	if len(roomID) > maxRoomIDLength {
		http.Error(w, "room id too long", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	peer := room.NewPeer(strings.TrimSpace(r.URL.Query().Get("userId")), s.cfg.PeerQueueLimit)
	logger := s.logger.With("room_id", roomID, "peer_id", peer.ID(), "user_id", peer.UserID())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rm, err := s.registry.Join(ctx, roomID, peer)
	if err != nil {
		logger.Error("join room failed", "err", err)
		_ = peer.Close()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "room unavailable"), time.Now().Add(wsWriteWait))
		_ = conn.Close()
		return
	}

	c := &wsConn{
		srv:    s,
		conn:   conn,
		peer:   peer,
		room:   rm,
		logger: logger,
		limiter: ratelimit.PerSecond(
			ratelimit.RealClock{},
			s.maxMessagesPerSecond(),
		),
		idleTimeout:  s.cfg.SignalingWSIdleTimeout,
		pingInterval: s.cfg.SignalingWSPingInterval,
		done:         make(chan struct{}),
	}
	if !s.track(c) {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		c.Close()
		s.registry.Leave(rm, peer.ID())
		return
	}
	defer s.untrack(c)

	logger.Info("signaling connection opened", "remote_addr", r.RemoteAddr)
	c.run(ctx)
}

func (s *Server) track(c *wsConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	s.metrics.ConnectionOpened()
	return true
}

func (s *Server) untrack(c *wsConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[c]; ok {
		delete(s.conns, c)
		s.metrics.ConnectionClosed()
	}
}
