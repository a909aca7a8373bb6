package signaling

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestWebSocketSignaling_IdleTimeoutClosesWithoutPong(t *testing.T) {
	idleTimeout := 500 * time.Millisecond
	pingInterval := 50 * time.Millisecond

	g := newTestGateway(t, Config{
		SignalingWSIdleTimeout:  idleTimeout,
		SignalingWSPingInterval: pingInterval,
	})
	c := g.dial(t, "/ws")

	pingSeen := make(chan struct{}, 1)
	c.ws.SetPingHandler(func(string) error {
		select {
		case pingSeen <- struct{}{}:
		default:
		}
		// Intentionally do not respond with pong.
		return nil
	})

	errCh := make(chan error, 1)
	go func() {
		_, _, err := c.ws.ReadMessage()
		errCh <- err
	}()

	select {
	case <-pingSeen:
	case err := <-errCh:
		t.Fatalf("connection closed before receiving ping: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for server ping")
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected server to close the websocket")
		}
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			t.Fatalf("expected close normal closure, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for server to close idle websocket")
	}

	waitFor(t, "idle peer removal", func() bool { return g.srv.ConnectionCount() == 0 })
}

func TestWebSocketSignaling_PongKeepsConnectionOpenBeyondIdleTimeout(t *testing.T) {
	idleTimeout := 500 * time.Millisecond
	pingInterval := 50 * time.Millisecond

	g := newTestGateway(t, Config{
		SignalingWSIdleTimeout:  idleTimeout,
		SignalingWSPingInterval: pingInterval,
	})
	c := g.dial(t, "/ws")

	pingSeen := make(chan struct{}, 1)
	c.ws.SetPingHandler(func(appData string) error {
		select {
		case pingSeen <- struct{}{}:
		default:
		}
		// Respond with pong so the server extends the read deadline.
		return c.ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(1*time.Second))
	})

	errCh := make(chan error, 1)
	go func() {
		_, _, err := c.ws.ReadMessage()
		errCh <- err
	}()

	select {
	case <-pingSeen:
	case err := <-errCh:
		t.Fatalf("connection closed before receiving ping: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for server ping")
	}

	// Wait longer than the idle timeout. The read goroutine will process ping
	// frames and respond with pong.
	time.Sleep(idleTimeout + 2*pingInterval)

	select {
	case err := <-errCh:
		t.Fatalf("unexpected close before idle timeout elapsed: %v", err)
	default:
	}

	_ = c.ws.Close()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for read goroutine to exit")
	}
}
