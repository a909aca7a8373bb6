package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/engine"
	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/events"
	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/room"
	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/signaling"
)

// gateway owns every long-lived component. Close tears them down in
// dependency order: connections, rooms, event sink, then workers.
type gateway struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	pool      *engine.Pool
	events    *events.Async
	registry  *room.Registry
	signaling *signaling.Server
	http      *httpserver.Server

	closing   atomic.Bool
	closeOnce sync.Once
}

// dialEvents is replaced in tests.
var dialEvents = func(url, exchange string) (events.Sink, error) {
	return events.DialAMQP(url, exchange)
}

func newGateway(ctx context.Context, cfg config.Config, logger *slog.Logger, eng engine.Engine, build httpserver.BuildInfo) (*gateway, error) {
	m := metrics.New()

	pool, err := engine.NewPool(ctx, eng, cfg.NumWorkers)
	if err != nil {
		return nil, fmt.Errorf("create media workers: %w", err)
	}
	logger.Info("media workers ready", "count", pool.Len())

	gw := &gateway{logger: logger, metrics: m, pool: pool}

	var publisher events.Publisher = events.Nop{}
	if cfg.AMQPURL != "" {
		sink, err := dialEvents(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			_ = pool.Close()
			return nil, fmt.Errorf("connect room event sink: %w", err)
		}
		gw.events = events.NewAsync(sink, events.AsyncConfig{Logger: logger, Metrics: m})
		publisher = gw.events
		logger.Info("publishing room events", "exchange", cfg.AMQPExchange)
	}

	gw.registry = room.NewRegistry(pool, room.RegistryConfig{
		Codecs:          cfg.Codecs,
		CloseEmptyRooms: cfg.CloseEmptyRooms,
		Logger:          logger,
		Events:          publisher,
		Metrics:         m,
	})

	gw.signaling = signaling.NewServer(signaling.Config{
		Registry: gw.registry,
		Logger:   logger,
		Metrics:  m,
		Transport: signaling.TransportDefaults{
			ListenInfos: cfg.ListenInfos(),
			EnableUDP:   true,
			EnableTCP:   cfg.RTCTCPPort != 0,
			EnableSCTP:  true,
		},
		AllowedOrigins:                cfg.AllowedOrigins,
		DefaultRoom:                   cfg.DefaultRoom,
		PeerQueueLimit:                cfg.PeerQueueLimit,
		SignalingWSIdleTimeout:        cfg.SignalingWSIdleTimeout,
		SignalingWSPingInterval:       cfg.SignalingWSPingInterval,
		MaxSignalingMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
	})

	gw.http = httpserver.New(cfg, logger, build)
	gw.http.SetReadinessCheck(gw.readiness)
	gw.signaling.RegisterRoutes(gw.http.Mux())
	gw.http.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))
	gw.http.Mux().Handle("GET /rooms", httpserver.RoomsHandler(gw.registry))

	return gw, nil
}

func (gw *gateway) readiness() error {
	if gw.closing.Load() {
		return errors.New("shutting down")
	}
	if gw.pool.Len() == 0 {
		return errors.New("no media workers")
	}
	return nil
}

func (gw *gateway) Close() {
	gw.closeOnce.Do(func() {
		gw.closing.Store(true)
		gw.signaling.Close()
		gw.registry.Close()
		if gw.events != nil {
			if err := gw.events.Close(); err != nil {
				gw.logger.Warn("close room event sink", "err", err)
			}
		}
		if err := gw.pool.Close(); err != nil {
			gw.logger.Warn("close media workers", "err", err)
		}
	})
}
