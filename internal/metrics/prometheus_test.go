package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusHandler_ExposesEvents(t *testing.T) {
	m := New()
	m.Inc("foo")
	m.Add("bar", 2)
	m.Inc(`quote"back\slash`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()

	PrometheusHandler(m).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusOK)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "# TYPE aero_media_gateway_events_total counter") {
		t.Fatalf("missing TYPE header: %s", body)
	}
	if !strings.Contains(body, `aero_media_gateway_events_total{event="bar"} 2`) {
		t.Fatalf("missing bar counter: %s", body)
	}
	if !strings.Contains(body, `aero_media_gateway_events_total{event="foo"} 1`) {
		t.Fatalf("missing foo counter: %s", body)
	}
	if !strings.Contains(body, `aero_media_gateway_events_total{event="quote\"back\\slash"} 1`) {
		t.Fatalf("missing escaped counter: %s", body)
	}
}

func TestMetrics_GetReadsCounter(t *testing.T) {
	m := New()
	if got := m.Get(EventPeerQueueFull); got != 0 {
		t.Fatalf("initial=%d, want 0", got)
	}
	m.Inc(EventPeerQueueFull)
	m.Add(EventPeerQueueFull, 4)
	if got := m.Get(EventPeerQueueFull); got != 5 {
		t.Fatalf("count=%d, want 5", got)
	}
}

func TestMetrics_Gauges(t *testing.T) {
	m := New()
	m.RoomOpened()
	m.RoomOpened()
	m.RoomClosed()
	m.PeerJoined()

	if got := testutil.ToFloat64(m.rooms); got != 1 {
		t.Fatalf("rooms=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.peers); got != 1 {
		t.Fatalf("peers=%v, want 1", got)
	}

	m.ObserveRequest("produce", "ok", 3*time.Millisecond)
	m.ObserveRequest("produce", "error", time.Millisecond)
	if got := testutil.ToFloat64(m.requests.WithLabelValues("produce", "ok")); got != 1 {
		t.Fatalf("produce ok=%v, want 1", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Inc("x")
	m.PeerJoined()
	m.ObserveRequest("produce", "ok", time.Second)
	if got := m.Get("x"); got != 0 {
		t.Fatalf("nil Get=%d, want 0", got)
	}

	rr := httptest.NewRecorder()
	PrometheusHandler(nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusInternalServerError)
	}
}
