package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/engine"
	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/engine/enginetest"
	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/room"
)

func testConfig() config.Config {
	return config.Config{
		ListenAddr:      "127.0.0.1:0",
		LogFormat:       config.LogFormatText,
		LogLevel:        slog.LevelInfo,
		ShutdownTimeout: 2 * time.Second,
		Mode:            config.ModeDev,
	}
}

func startTestServer(t *testing.T, srv *Server) (baseURL string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-errCh
	})

	return "http://" + ln.Addr().String()
}

func newTestServer(cfg config.Config) *Server {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, log, BuildInfo{Commit: "abc", BuildTime: "time"})
}

func getJSON(t *testing.T, url string, wantStatus int, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("status=%d, want %d", resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
}

func TestHealthzReadyzVersion(t *testing.T) {
	baseURL := startTestServer(t, newTestServer(testConfig()))

	t.Run("healthz", func(t *testing.T) {
		var body map[string]any
		getJSON(t, baseURL+"/healthz", http.StatusOK, &body)
		if body["ok"] != true {
			t.Fatalf("body=%v, want ok=true", body)
		}
	})

	t.Run("readyz", func(t *testing.T) {
		getJSON(t, baseURL+"/readyz", http.StatusOK, nil)
	})

	t.Run("version", func(t *testing.T) {
		var got BuildInfo
		getJSON(t, baseURL+"/version", http.StatusOK, &got)
		want := BuildInfo{Commit: "abc", BuildTime: "time"}
		if got != want {
			t.Fatalf("got=%+v, want=%+v", got, want)
		}
	})
}

func TestReadyzHonorsReadinessCheck(t *testing.T) {
	srv := newTestServer(testConfig())
	srv.SetReadinessCheck(func() error { return errors.New("no media workers") })
	baseURL := startTestServer(t, srv)

	var body map[string]any
	getJSON(t, baseURL+"/readyz", http.StatusServiceUnavailable, &body)
	if body["error"] != "no media workers" {
		t.Fatalf("body=%v", body)
	}
}

func TestOriginPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://app.example.com"}
	h := newTestServer(cfg).Handler()

	t.Run("rejects cross origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status=%d, want 403", rec.Code)
		}
	})

	t.Run("sets cors headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("Origin", "https://app.example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status=%d, want 200", rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
			t.Fatalf("Access-Control-Allow-Origin=%q", got)
		}
	})

	t.Run("answers preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/ws", nil)
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Access-Control-Request-Method", "GET")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status=%d, want 204", rec.Code)
		}
	})

	t.Run("no origin passes", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status=%d, want 200", rec.Code)
		}
		if rec.Header().Get("X-Request-ID") == "" {
			t.Fatalf("missing X-Request-ID")
		}
	})
}

func TestWebSocketUpgradeThroughMiddleware(t *testing.T) {
	srv := newTestServer(testConfig())
	upgrader := websocket.Upgrader{}
	srv.Mux().HandleFunc("GET /echo", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.WriteMessage(mt, msg)
	})
	baseURL := startTestServer(t, srv)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(baseURL, "http")+"/echo", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	if err := ws.WriteMessage(websocket.TextMessage, []byte("hi")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := ws.ReadMessage()
	if err != nil || string(msg) != "hi" {
		t.Fatalf("echo=%q err=%v", msg, err)
	}
}

func TestRoomsHandler(t *testing.T) {
	pool, err := engine.NewPool(context.Background(), enginetest.New(), 1)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	reg := room.NewRegistry(pool, room.RegistryConfig{})
	t.Cleanup(func() {
		reg.Close()
		_ = pool.Close()
	})
	if _, err := reg.Join(context.Background(), "b", room.NewPeer("bob", 0)); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := reg.Join(context.Background(), "a", room.NewPeer("alice", 0)); err != nil {
		t.Fatalf("join: %v", err)
	}

	rec := httptest.NewRecorder()
	RoomsHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	var body struct {
		Rooms []roomSummary `json:"rooms"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Rooms) != 2 || body.Rooms[0].ID != "a" || body.Rooms[1].ID != "b" {
		t.Fatalf("rooms=%+v", body.Rooms)
	}
	if len(body.Rooms[0].Peers) != 1 || body.Rooms[0].Peers[0].UserID != "alice" {
		t.Fatalf("peers=%+v", body.Rooms[0].Peers)
	}
}
