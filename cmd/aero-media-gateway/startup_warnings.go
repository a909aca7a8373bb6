package main

import (
	"log/slog"
	"net/url"
	"slices"
	"strings"

	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/config"
)

func logStartupWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if slices.Contains(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if config.IsUnspecifiedIP(cfg.ListenIP) && cfg.AnnouncedIP == "" {
		logger.Warn("startup warning: listen IP is unspecified and no announced IP is set (ICE candidates will advertise an unreachable address)",
			"warning_code", "announced_ip_unset",
			"listen_ip", cfg.ListenIP.String(),
			"mode", cfg.Mode,
		)
	}

	if size := cfg.RTCPortRangeSize(); size < config.RecommendedRTCPortRangeSize {
		logger.Warn("startup warning: RTC port range is small (each WebRTC transport binds its own port)",
			"warning_code", "rtc_port_range_small",
			"rtc_min_port", cfg.RTCMinPort,
			"rtc_max_port", cfg.RTCMaxPort,
			"rtc_port_range_size", size,
			"recommended_min_size", config.RecommendedRTCPortRangeSize,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.PeerQueueLimit == 0 {
		logger.Warn("startup security warning: PEER_QUEUE_LIMIT is 0 (unbounded) while --mode=prod",
			"warning_code", "peer_queue_unbounded_in_prod",
			"peer_queue_limit", cfg.PeerQueueLimit,
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxSignalingMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (weakens signaling DoS hardening)",
			"warning_code", "max_signaling_message_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && strings.HasPrefix(cfg.AMQPURL, "amqp://") {
		logger.Warn("startup security warning: AMQP URL is not TLS (broker credentials are sent in cleartext)",
			"warning_code", "amqp_without_tls",
			"amqp_host", safeURLHost(cfg.AMQPURL),
			"mode", cfg.Mode,
		)
	}
}

// safeURLHost returns the host of raw without credentials, for logging.
func safeURLHost(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return u.Host
}
