package room

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/engine"
	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/engine/enginetest"
	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/events"
	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/protocol"
)

type testEnv struct {
	eng      *enginetest.Engine
	pool     *engine.Pool
	registry *Registry
	events   *events.Recorder
	metrics  *metrics.Metrics
}

func newTestEnv(t *testing.T, workers int, closeEmpty bool) *testEnv {
	t.Helper()
	eng := enginetest.New()
	pool, err := engine.NewPool(context.Background(), eng, workers)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	rec := &events.Recorder{}
	m := metrics.New()
	reg := NewRegistry(pool, RegistryConfig{CloseEmptyRooms: closeEmpty, Events: rec, Metrics: m})
	t.Cleanup(func() {
		reg.Close()
		_ = pool.Close()
	})
	return &testEnv{eng: eng, pool: pool, registry: reg, events: rec, metrics: m}
}

func (e *testEnv) join(t *testing.T, roomID, userID string) (*Room, *Peer) {
	t.Helper()
	p := NewPeer(userID, 0)
	rm, err := e.registry.Join(context.Background(), roomID, p)
	if err != nil {
		t.Fatalf("join %s: %v", roomID, err)
	}
	return rm, p
}

// drain returns every message queued for p without blocking.
func drain(p *Peer) []protocol.Message {
	var out []protocol.Message
	for p.Pending() > 0 {
		msg, ok := p.Next()
		if !ok {
			break
		}
		out = append(out, msg)
	}
	return out
}

func vp8Params() engine.RTPParameters {
	return engine.RTPParameters{
		Codecs: []engine.RTPCodecParameters{{MimeType: "video/VP8", PayloadType: 96, ClockRate: 90000}},
	}
}

func opusParams() engine.RTPParameters {
	return engine.RTPParameters{
		Codecs: []engine.RTPCodecParameters{{MimeType: "audio/opus", PayloadType: 111, ClockRate: 48000, Channels: 2}},
	}
}

func mustTransport(t *testing.T, rm *Room, p *Peer) engine.Transport {
	t.Helper()
	tr, err := rm.CreateWebRTCTransport(context.Background(), p.ID(), engine.WebRTCTransportOptions{
		ListenInfos: []engine.ListenInfo{{IP: "0.0.0.0", AnnouncedIP: "203.0.113.7"}},
		EnableUDP:   true,
		EnableTCP:   true,
		EnableSCTP:  true,
	})
	if err != nil {
		t.Fatalf("create transport: %v", err)
	}
	return tr
}

func mustProduce(t *testing.T, rm *Room, p *Peer, tr engine.Transport, kind engine.MediaKind, params engine.RTPParameters) engine.Producer {
	t.Helper()
	pr, err := rm.CreateProducer(context.Background(), p.ID(), tr.ID(), engine.ProducerOptions{Kind: kind, RTPParameters: params})
	if err != nil {
		t.Fatalf("produce: %v", err)
	}
	return pr
}

func TestCreateProducer_NotifiesOthersExactlyOnce(t *testing.T) {
	env := newTestEnv(t, 1, false)
	rm, alice := env.join(t, "r1", "alice")
	_, bob := env.join(t, "r1", "bob")
	_, carol := env.join(t, "r1", "carol")

	tr := mustTransport(t, rm, alice)
	pr := mustProduce(t, rm, alice, tr, engine.MediaKindVideo, vp8Params())

	if got := drain(alice); len(got) != 0 {
		t.Fatalf("producer owner got %d messages, want 0", len(got))
	}
	for _, p := range []*Peer{bob, carol} {
		msgs := drain(p)
		if len(msgs) != 1 {
			t.Fatalf("%s got %d messages, want 1", p.UserID(), len(msgs))
		}
		msg := msgs[0]
		if !msg.IsNotification() || msg.Method != protocol.NotificationNewProducer {
			t.Fatalf("unexpected message %+v", msg)
		}
		var np protocol.NewProducer
		if err := protocol.DecodeData(msg.Data, &np); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if np.ID != pr.ID() || np.UserID != "alice" || np.Kind != "Video" {
			t.Fatalf("newProducer=%+v", np)
		}
	}

	created := env.events.OfType(events.ProducerCreated)
	if len(created) != 1 || created[0].ProducerID != pr.ID() {
		t.Fatalf("producerCreated events=%+v", created)
	}
}

func TestRemovePeer_NotifiesPerProducerAndClosesConsumers(t *testing.T) {
	env := newTestEnv(t, 1, false)
	rm, alice := env.join(t, "r1", "alice")
	_, bob := env.join(t, "r1", "bob")

	aliceTr := mustTransport(t, rm, alice)
	audio := mustProduce(t, rm, alice, aliceTr, engine.MediaKindAudio, opusParams())
	video := mustProduce(t, rm, alice, aliceTr, engine.MediaKindVideo, vp8Params())

	bobTr := mustTransport(t, rm, bob)
	c, err := rm.CreateConsumer(context.Background(), bob.ID(), bobTr.ID(), video.ID(), rm.RTPCapabilities())
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	drain(bob)

	env.registry.Leave(rm, alice.ID())

	msgs := drain(bob)
	if len(msgs) != 2 {
		t.Fatalf("bob got %d messages, want 2", len(msgs))
	}
	closed := map[string]bool{}
	for _, msg := range msgs {
		if msg.Method != protocol.NotificationProducerClosed {
			t.Fatalf("method=%q, want %q", msg.Method, protocol.NotificationProducerClosed)
		}
		var pc protocol.ProducerClosed
		if err := protocol.DecodeData(msg.Data, &pc); err != nil {
			t.Fatalf("decode: %v", err)
		}
		closed[pc.ProducerID] = true
	}
	if !closed[audio.ID()] || !closed[video.ID()] {
		t.Fatalf("closed=%v, want both producers", closed)
	}

	if _, err := bob.Consumer(c.ID()); !errors.Is(err, ErrConsumerNotFound) {
		t.Fatalf("bob consumer err=%v, want %v", err, ErrConsumerNotFound)
	}
	if !c.(*enginetest.Consumer).Closed() {
		t.Fatalf("consumer of departed producer not closed")
	}
	if !audio.(*enginetest.Producer).Closed() || !aliceTr.(*enginetest.Transport).Closed() {
		t.Fatalf("alice's resources not released")
	}
	if !alice.Closed() {
		t.Fatalf("alice not closed")
	}
	if _, ok := alice.Next(); ok {
		t.Fatalf("closed peer still yields messages")
	}
	if rm.PeerCount() != 1 {
		t.Fatalf("peers=%d, want 1", rm.PeerCount())
	}

	// Leaving twice is harmless.
	env.registry.Leave(rm, alice.ID())
	if got := drain(bob); len(got) != 0 {
		t.Fatalf("second leave sent %d messages", len(got))
	}
}

func TestCreateConsumer_Errors(t *testing.T) {
	env := newTestEnv(t, 1, false)
	rm, alice := env.join(t, "r1", "alice")
	_, bob := env.join(t, "r1", "bob")
	aliceTr := mustTransport(t, rm, alice)
	video := mustProduce(t, rm, alice, aliceTr, engine.MediaKindVideo, vp8Params())
	bobTr := mustTransport(t, rm, bob)
	ctx := context.Background()

	if _, err := rm.CreateConsumer(ctx, bob.ID(), bobTr.ID(), "missing", rm.RTPCapabilities()); !errors.Is(err, ErrProducerNotFound) {
		t.Fatalf("unknown producer err=%v, want %v", err, ErrProducerNotFound)
	}
	if _, err := rm.CreateConsumer(ctx, bob.ID(), "missing", video.ID(), rm.RTPCapabilities()); !errors.Is(err, ErrTransportNotFound) {
		t.Fatalf("unknown transport err=%v, want %v", err, ErrTransportNotFound)
	}
	if _, err := rm.CreateConsumer(ctx, "ghost", bobTr.ID(), video.ID(), rm.RTPCapabilities()); !errors.Is(err, ErrPeerNotFound) {
		t.Fatalf("unknown peer err=%v, want %v", err, ErrPeerNotFound)
	}

	audioOnly := engine.RTPCapabilities{Codecs: []engine.RTPCodecCapability{{Kind: engine.MediaKindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2}}}
	if _, err := rm.CreateConsumer(ctx, bob.ID(), bobTr.ID(), video.ID(), audioOnly); !errors.Is(err, ErrConsumer) {
		t.Fatalf("incompatible caps err=%v, want %v", err, ErrConsumer)
	}

	env.eng.Fail(enginetest.OpConsume, errors.New("engine exploded"))
	_, err := rm.CreateConsumer(ctx, bob.ID(), bobTr.ID(), video.ID(), rm.RTPCapabilities())
	if !errors.Is(err, ErrConsumer) {
		t.Fatalf("engine failure err=%v, want %v", err, ErrConsumer)
	}
	if err.Error() != "consumer error: engine exploded" {
		t.Fatalf("err text=%q", err.Error())
	}
}

func TestCreateProducer_Errors(t *testing.T) {
	env := newTestEnv(t, 1, false)
	rm, alice := env.join(t, "r1", "alice")
	_, bob := env.join(t, "r1", "bob")
	tr := mustTransport(t, rm, alice)
	ctx := context.Background()

	if _, err := rm.CreateProducer(ctx, alice.ID(), "nope", engine.ProducerOptions{Kind: engine.MediaKindVideo, RTPParameters: vp8Params()}); !errors.Is(err, ErrTransportNotFound) {
		t.Fatalf("err=%v, want %v", err, ErrTransportNotFound)
	}
	_, err := rm.CreateProducer(ctx, alice.ID(), tr.ID(), engine.ProducerOptions{Kind: engine.MediaKindAudio, RTPParameters: vp8Params()})
	if !errors.Is(err, ErrProducer) {
		t.Fatalf("kind mismatch err=%v, want %v", err, ErrProducer)
	}
	if got := drain(bob); len(got) != 0 {
		t.Fatalf("failed produce notified %d messages", len(got))
	}
}

func TestPauseResumeProducer_OwnerOnly(t *testing.T) {
	env := newTestEnv(t, 1, false)
	rm, alice := env.join(t, "r1", "alice")
	_, bob := env.join(t, "r1", "bob")
	tr := mustTransport(t, rm, alice)
	pr := mustProduce(t, rm, alice, tr, engine.MediaKindVideo, vp8Params())
	ctx := context.Background()

	if err := rm.PauseProducer(ctx, alice.ID(), pr.ID()); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !pr.Paused() {
		t.Fatalf("producer not paused")
	}
	if err := rm.ResumeProducer(ctx, alice.ID(), pr.ID()); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if pr.Paused() {
		t.Fatalf("producer still paused")
	}
	if err := rm.PauseProducer(ctx, bob.ID(), pr.ID()); !errors.Is(err, ErrProducerNotFound) {
		t.Fatalf("foreign pause err=%v, want %v", err, ErrProducerNotFound)
	}
	env.eng.Fail(enginetest.OpPause, errors.New("stuck"))
	if err := rm.PauseProducer(ctx, alice.ID(), pr.ID()); !errors.Is(err, ErrProducer) {
		t.Fatalf("engine pause err=%v, want %v", err, ErrProducer)
	}
}

func TestConnectTransport(t *testing.T) {
	env := newTestEnv(t, 1, false)
	rm, alice := env.join(t, "r1", "alice")
	tr := mustTransport(t, rm, alice)
	ctx := context.Background()

	dtls := engine.DTLSParameters{Role: "client", Fingerprints: []engine.DTLSFingerprint{{Algorithm: "sha-256", Value: "AA:BB"}}}
	if err := rm.ConnectTransport(ctx, alice.ID(), tr.ID(), engine.TransportConnectParams{DTLSParameters: dtls}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	got, ok := tr.(*enginetest.Transport).RemoteDTLSParameters()
	if !ok || got.Role != "client" {
		t.Fatalf("remote dtls=%+v ok=%v", got, ok)
	}
	if err := rm.ConnectTransport(ctx, alice.ID(), tr.ID(), engine.TransportConnectParams{DTLSParameters: dtls}); !errors.Is(err, ErrTransport) {
		t.Fatalf("second connect err=%v, want %v", err, ErrTransport)
	}
	if err := rm.ConnectTransport(ctx, alice.ID(), "nope", engine.TransportConnectParams{DTLSParameters: dtls}); !errors.Is(err, ErrTransportNotFound) {
		t.Fatalf("unknown transport err=%v, want %v", err, ErrTransportNotFound)
	}
}

func TestCreateWebRTCTransport_PassesOptionsAndWrapsErrors(t *testing.T) {
	env := newTestEnv(t, 1, false)
	rm, alice := env.join(t, "r1", "alice")
	tr := mustTransport(t, rm, alice)

	opts := tr.(*enginetest.Transport).Options()
	if !opts.EnableUDP || !opts.EnableTCP || !opts.EnableSCTP {
		t.Fatalf("options=%+v", opts)
	}
	if cands := tr.ICECandidates(); len(cands) != 1 || cands[0].IP != "203.0.113.7" {
		t.Fatalf("candidates=%+v, want announced ip", cands)
	}
	if tr.SCTPParameters() == nil {
		t.Fatalf("expected sctp parameters")
	}

	env.eng.Fail(enginetest.OpCreateTransport, errors.New("no ports"))
	if _, err := rm.CreateWebRTCTransport(context.Background(), alice.ID(), engine.WebRTCTransportOptions{}); !errors.Is(err, ErrTransport) {
		t.Fatalf("err=%v, want %v", err, ErrTransport)
	}
}

func TestBroadcast_FullQueueDoesNotBlockOthers(t *testing.T) {
	env := newTestEnv(t, 1, false)
	rm, alice := env.join(t, "r1", "alice")
	slow := NewPeer("slow", 1)
	if err := rm.AddPeer(slow); err != nil {
		t.Fatalf("add peer: %v", err)
	}
	_, fast := env.join(t, "r1", "fast")

	for i := 0; i < 3; i++ {
		msg, err := protocol.NewNotification(protocol.NotificationProducerClosed, protocol.ProducerClosed{ProducerID: "x"})
		if err != nil {
			t.Fatalf("notification: %v", err)
		}
		rm.BroadcastToOthers(alice.ID(), msg)
	}
	if got := len(drain(fast)); got != 3 {
		t.Fatalf("fast got %d, want 3", got)
	}
	if got := slow.Dropped(); got != 2 {
		t.Fatalf("slow dropped=%d, want 2", got)
	}
	if got := env.metrics.Get(metrics.EventPeerQueueFull); got != 2 {
		t.Fatalf("queue full metric=%d, want 2", got)
	}
	if got := len(drain(alice)); got != 0 {
		t.Fatalf("sender got %d, want 0", got)
	}
}

func TestRegistry_ConcurrentGetOrCreateBuildsOneRouter(t *testing.T) {
	env := newTestEnv(t, 2, false)

	const n = 32
	rooms := make([]*Room, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rm, err := env.registry.GetOrCreate(context.Background(), "shared")
			if err != nil {
				t.Errorf("get or create: %v", err)
				return
			}
			rooms[i] = rm
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if rooms[i] != rooms[0] {
			t.Fatalf("caller %d got a different room", i)
		}
	}
	routers := 0
	for _, w := range env.eng.Workers() {
		routers += len(w.Routers())
	}
	if routers != 1 {
		t.Fatalf("routers=%d, want 1", routers)
	}
	if got := len(env.events.OfType(events.RoomCreated)); got != 1 {
		t.Fatalf("roomCreated events=%d, want 1", got)
	}
}

func TestRegistry_RoomsSpreadAcrossWorkers(t *testing.T) {
	env := newTestEnv(t, 2, false)
	a, _ := env.join(t, "a", "")
	b, _ := env.join(t, "b", "")
	if a.WorkerID() == b.WorkerID() {
		t.Fatalf("rooms share worker %s", a.WorkerID())
	}
	if _, err := env.registry.Get("c"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("err=%v, want %v", err, ErrRoomNotFound)
	}
	if got := env.registry.Rooms(); len(got) != 2 || got[0].ID() != "a" || got[1].ID() != "b" {
		t.Fatalf("rooms=%v", got)
	}
}

func TestRegistry_RouterFailureSurfaces(t *testing.T) {
	env := newTestEnv(t, 1, false)
	env.eng.Fail(enginetest.OpCreateRouter, errors.New("no router"))
	if _, err := env.registry.Join(context.Background(), "r", NewPeer("", 0)); err == nil {
		t.Fatalf("expected router failure")
	}
	if env.registry.Len() != 0 {
		t.Fatalf("failed room was registered")
	}
}

func TestRegistry_KeepsEmptyRoomsByDefault(t *testing.T) {
	env := newTestEnv(t, 1, false)
	rm, p := env.join(t, "r", "")
	env.registry.Leave(rm, p.ID())
	if got, err := env.registry.Get("r"); err != nil || got != rm {
		t.Fatalf("room gone after last peer left: %v", err)
	}
}

func TestRegistry_ClosesEmptyRoomsWhenConfigured(t *testing.T) {
	env := newTestEnv(t, 1, true)
	rm, p := env.join(t, "r", "")
	env.registry.Leave(rm, p.ID())

	if _, err := env.registry.Get("r"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("err=%v, want %v", err, ErrRoomNotFound)
	}
	router := env.eng.Workers()[0].Routers()[0]
	if !router.Closed() {
		t.Fatalf("router not closed")
	}
	if err := rm.AddPeer(NewPeer("", 0)); !errors.Is(err, ErrRoomClosed) {
		t.Fatalf("add to closed room err=%v, want %v", err, ErrRoomClosed)
	}

	rm2, _ := env.join(t, "r", "")
	if rm2 == rm {
		t.Fatalf("expected a fresh room")
	}
	if got := len(env.events.OfType(events.RoomClosed)); got != 1 {
		t.Fatalf("roomClosed events=%d, want 1", got)
	}
}

func TestRegistry_JoinReplacesCollectedRoomStillMapped(t *testing.T) {
	env := newTestEnv(t, 1, true)
	rm, p := env.join(t, "r", "")

	// Leave is midway: the room is marked closed but still mapped.
	rm.RemovePeer(p.ID())
	if !rm.closeIfEmpty() {
		t.Fatalf("closeIfEmpty=false for an empty room")
	}

	done := make(chan struct{})
	var (
		rm2 *Room
		err error
	)
	go func() {
		defer close(done)
		rm2, err = env.registry.Join(context.Background(), "r", NewPeer("", 0))
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("join did not return while a collected room was mapped")
	}
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if rm2 == rm {
		t.Fatalf("joined the collected room")
	}
	if got, err := env.registry.Get("r"); err != nil || got != rm2 {
		t.Fatalf("registered room=%p err=%v, want %p", got, err, rm2)
	}

	// The rest of Leave must not unmap the replacement.
	env.registry.remove(rm)
	if got, err := env.registry.Get("r"); err != nil || got != rm2 {
		t.Fatalf("replacement unmapped: room=%p err=%v", got, err)
	}
}
