package signaling

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/protocol"
	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/room"
)

const wsWriteWait = 1 * time.Second

// wsConn serves one signaling WebSocket for one peer. The read loop owns all
// reads; writes of queued frames happen on the writer goroutine, while pings
// and close frames go through writeMu from any goroutine.
type wsConn struct {
	srv    *Server
	conn   *websocket.Conn
	peer   *room.Peer
	room   *room.Room
	logger *slog.Logger

	limiter      *ratelimit.TokenBucket
	idleTimeout  time.Duration
	pingInterval time.Duration

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsConn) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.conn.SetReadLimit(c.srv.maxMessageBytes())
	c.extendReadDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()
	if c.idleTimeout > 0 && c.pingInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.pingLoop()
		}()
	}

	c.readLoop(ctx)

	// Leaving closes the peer's queue, which stops the writer.
	c.srv.registry.Leave(c.room, c.peer.ID())
	close(c.done)
	c.Close()
	wg.Wait()

	c.logger.Info("signaling connection closed", "dropped", c.peer.Dropped())
}

func (c *wsConn) readLoop(ctx context.Context) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			switch {
			case isTimeout(err):
				c.closeWith(websocket.CloseNormalClosure, "idle timeout")
			case errors.Is(err, websocket.ErrReadLimit):
				c.closeWith(websocket.CloseMessageTooBig, "message too large")
			case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				c.logger.Debug("signaling read failed", "err", err)
			}
			return
		}
		c.extendReadDeadline()

		// Rate limit after reading so the close frame is not lost behind unread
		// bytes in the receive buffer.
		if c.limiter != nil && !c.limiter.Allow(1) {
			c.srv.metrics.Inc(metrics.EventSignalingRateLimit)
			c.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			c.srv.metrics.Inc(metrics.EventSignalingBadFrame)
			c.closeWith(websocket.CloseUnsupportedData, "expected text message")
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			c.srv.metrics.Inc(metrics.EventSignalingBadFrame)
			c.logger.Warn("malformed signaling frame", "err", err)
			c.closeWith(websocket.CloseUnsupportedData, "bad message")
			return
		}

		resp, ok := c.srv.dispatcher.Dispatch(ctx, c.room, c.peer, msg)
		if !ok {
			continue
		}
		if err := c.peer.Send(resp); err != nil {
			if errors.Is(err, room.ErrPeerQueueFull) {
				c.srv.metrics.Inc(metrics.EventPeerQueueFull)
			}
			c.logger.Warn("dropping signaling response", "method", msg.Method, "err", err)
		}
	}
}

// writeLoop drains the peer's outbound queue until it is closed or a write
// fails. A failed write tears the socket down so the read loop exits too.
func (c *wsConn) writeLoop() {
	for {
		msg, ok := c.peer.Next()
		if !ok {
			return
		}
		if err := c.send(msg); err != nil {
			c.logger.Debug("signaling write failed", "err", err)
			_ = c.conn.Close()
			return
		}
	}
}

func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *wsConn) extendReadDeadline() {
	if c.idleTimeout <= 0 {
		return
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
}

func (c *wsConn) send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) closeWith(code int, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func (c *wsConn) Close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
