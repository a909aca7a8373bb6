package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strconv"
	"syscall"

	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/engine/pionengine"
	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/httpserver"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting aero-media-gateway",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"num_workers", cfg.NumWorkers,
		"rtc_min_port", cfg.RTCMinPort,
		"rtc_max_port", cfg.RTCMaxPort,
		"rtc_tcp_port", cfg.RTCTCPPort,
		"listen_ip", cfg.ListenIP.String(),
		"announced_ip", cfg.AnnouncedIP,
		"extra_listen_ips", len(cfg.ExtraListenIPs),
		"codecs", len(cfg.Codecs),
		"default_room", cfg.DefaultRoom,
		"close_empty_rooms", cfg.CloseEmptyRooms,
		"amqp_enabled", cfg.AMQPURL != "",
	)

	logStartupWarnings(logger, cfg)

	var iceTCPAddr string
	if cfg.RTCTCPPort != 0 {
		iceTCPAddr = net.JoinHostPort(cfg.ListenIP.String(), strconv.Itoa(int(cfg.RTCTCPPort)))
	}
	eng, err := pionengine.New(pionengine.Config{
		RTCMinPort:       cfg.RTCMinPort,
		RTCMaxPort:       cfg.RTCMaxPort,
		ICETCPListenAddr: iceTCPAddr,
		Logger:           logger,
		LoggerFactory: &pionengine.LoggerFactory{
			Logger: logger,
			Level:  cfg.EngineLogLevel,
			Tags:   cfg.EngineLogTags,
		},
	})
	if err != nil {
		logger.Error("failed to configure media engine", "err", err)
		os.Exit(2)
	}
	defer eng.Close()

	commit, buildTime := resolveBuildInfo(buildCommit, buildTime)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := newGateway(ctx, cfg, logger, eng, httpserver.BuildInfo{Commit: commit, BuildTime: buildTime})
	if err != nil {
		logger.Error("failed to start gateway", "err", err)
		os.Exit(1)
	}
	defer gw.Close()

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			gw.Close()
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Hijacked WebSockets are not tracked by http.Server.Shutdown, so the
	// signaling connections are closed explicitly.
	gw.signaling.Close()
	if err := gw.http.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		gw.Close()
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values but fall back to the Go build info
	// (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
