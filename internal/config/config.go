package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/logging"

	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/engine"
	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/engine/pionengine"
	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/origin"
)

const (
	envVarListenAddr      = "AERO_MEDIA_GATEWAY_LISTEN_ADDR"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"
	envVarLogFormat       = "AERO_MEDIA_GATEWAY_LOG_FORMAT"
	envVarLogLevel        = "AERO_MEDIA_GATEWAY_LOG_LEVEL"
	envVarShutdownTimeout = "AERO_MEDIA_GATEWAY_SHUTDOWN_TIMEOUT"
	envVarMode            = "AERO_MEDIA_GATEWAY_MODE"

	// Media engine.
	envVarNumWorkers     = "AERO_MEDIA_GATEWAY_NUM_WORKERS"
	envVarEngineLogLevel = "AERO_MEDIA_GATEWAY_ENGINE_LOG_LEVEL"
	envVarEngineLogTags  = "AERO_MEDIA_GATEWAY_ENGINE_LOG_TAGS"
	envVarRTCMinPort     = "AERO_MEDIA_GATEWAY_RTC_MIN_PORT"
	envVarRTCMaxPort     = "AERO_MEDIA_GATEWAY_RTC_MAX_PORT"
	envVarRTCTCPPort     = "AERO_MEDIA_GATEWAY_RTC_TCP_PORT"
	envVarListenIP       = "AERO_MEDIA_GATEWAY_LISTEN_IP"
	envVarAnnouncedIP    = "AERO_MEDIA_GATEWAY_ANNOUNCED_IP"
	// envVarExtraListenIPs is a comma-separated list of ip or ip/announcedIp
	// entries added after the primary listen IP.
	envVarExtraListenIPs = "AERO_MEDIA_GATEWAY_EXTRA_LISTEN_IPS"
	envVarCodecsFile     = "AERO_MEDIA_GATEWAY_CODECS_FILE"

	// Rooms.
	envVarDefaultRoom     = "AERO_MEDIA_GATEWAY_DEFAULT_ROOM"
	envVarPeerQueueLimit  = "AERO_MEDIA_GATEWAY_PEER_QUEUE_LIMIT"
	envVarCloseEmptyRooms = "AERO_MEDIA_GATEWAY_CLOSE_EMPTY_ROOMS"

	// Signaling WebSocket hardening.
	envVarSignalingWSIdleTimeout        = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval       = "SIGNALING_WS_PING_INTERVAL"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"

	// Room event publishing.
	envVarAMQPURL      = "AERO_MEDIA_GATEWAY_AMQP_URL"
	envVarAMQPExchange = "AERO_MEDIA_GATEWAY_AMQP_EXCHANGE"

	DefaultListenAddr     = "127.0.0.1:3000"
	DefaultShutdown       = 15 * time.Second
	DefaultMode           = ModeDev
	DefaultNumWorkers     = 1
	DefaultEngineLogLevel = "warn"
	DefaultEngineLogTags  = "info"
	DefaultRTCMinPort     = 10000
	DefaultRTCMaxPort     = 10100
	DefaultListenIP       = "0.0.0.0"
	DefaultRoom           = "default"
	DefaultPeerQueueLimit = 1024
	DefaultAMQPExchange   = "aero.media-gateway"

	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingWSPingInterval       = 20 * time.Second
	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50
)

// RecommendedRTCPortRangeSize is a conservative minimum. Every transport
// binds its own UDP port, so a narrow range caps concurrent transports.
const RecommendedRTCPortRangeSize = 100

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	Mode            Mode

	// Media engine.
	NumWorkers     int
	EngineLogLevel logging.LogLevel
	// EngineLogTags are the engine log scopes logged at EngineLogLevel; other
	// scopes only log errors.
	EngineLogTags []string
	RTCMinPort    uint16
	RTCMaxPort    uint16
	// RTCTCPPort is the shared ICE-TCP port; 0 disables ICE-TCP.
	RTCTCPPort uint16

	// ListenIP is the primary local address transports bind to. AnnouncedIP,
	// when set, is advertised in its place to clients behind NAT.
	ListenIP       net.IP
	AnnouncedIP    string
	ExtraListenIPs []engine.ListenInfo

	// Codecs is the router codec list, from CodecsFile or the built-in default.
	CodecsFile string
	Codecs     []engine.RTPCodecCapability

	// Rooms.
	DefaultRoom     string
	PeerQueueLimit  int
	CloseEmptyRooms bool

	// Signaling WebSocket hardening.
	SignalingWSIdleTimeout  time.Duration
	SignalingWSPingInterval time.Duration

	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int

	// Room events are published to AMQPExchange when AMQPURL is set.
	AMQPURL      string
	AMQPExchange string
}

// ListenInfos returns every configured transport listen address, primary
// first.
func (c Config) ListenInfos() []engine.ListenInfo {
	out := make([]engine.ListenInfo, 0, 1+len(c.ExtraListenIPs))
	out = append(out, engine.ListenInfo{IP: c.ListenIP.String(), AnnouncedIP: c.AnnouncedIP})
	return append(out, c.ExtraListenIPs...)
}

// RTCPortRangeSize is the number of ports in [RTCMinPort, RTCMaxPort].
func (c Config) RTCPortRangeSize() int {
	if c.RTCMaxPort < c.RTCMinPort {
		return 0
	}
	return int(c.RTCMaxPort) - int(c.RTCMinPort) + 1
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")
	engineLogLevelStr := envOrDefault(lookup, envVarEngineLogLevel, DefaultEngineLogLevel)
	engineLogTagsStr := envOrDefault(lookup, envVarEngineLogTags, DefaultEngineLogTags)
	listenIPStr := envOrDefault(lookup, envVarListenIP, DefaultListenIP)
	announcedIP := envOrDefault(lookup, envVarAnnouncedIP, "")
	extraListenIPsStr := envOrDefault(lookup, envVarExtraListenIPs, "")
	codecsFile := envOrDefault(lookup, envVarCodecsFile, "")
	defaultRoom := envOrDefault(lookup, envVarDefaultRoom, DefaultRoom)
	amqpURL := envOrDefault(lookup, envVarAMQPURL, "")
	amqpExchange := envOrDefault(lookup, envVarAMQPExchange, DefaultAMQPExchange)

	numWorkers, err := envIntOrDefault(lookup, envVarNumWorkers, DefaultNumWorkers)
	if err != nil {
		return Config{}, err
	}
	rtcMinPort, err := envIntOrDefault(lookup, envVarRTCMinPort, DefaultRTCMinPort)
	if err != nil {
		return Config{}, err
	}
	rtcMaxPort, err := envIntOrDefault(lookup, envVarRTCMaxPort, DefaultRTCMaxPort)
	if err != nil {
		return Config{}, err
	}
	rtcTCPPort, err := envIntOrDefault(lookup, envVarRTCTCPPort, 0)
	if err != nil {
		return Config{}, err
	}
	peerQueueLimit, err := envIntOrDefault(lookup, envVarPeerQueueLimit, DefaultPeerQueueLimit)
	if err != nil {
		return Config{}, err
	}
	closeEmptyRooms, err := envBoolOrDefault(lookup, envVarCloseEmptyRooms, false)
	if err != nil {
		return Config{}, err
	}

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	signalingWSIdleTimeout, err := envDurationOrDefault(lookup, envVarSignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	signalingWSPingInterval, err := envDurationOrDefault(lookup, envVarSignalingWSPingInterval, DefaultSignalingWSPingInterval)
	if err != nil {
		return Config{}, err
	}

	maxSignalingMessageBytes := DefaultMaxSignalingMessageBytes
	if raw, ok := lookup(envVarMaxSignalingMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxSignalingMessageBytes, raw, err)
		}
		maxSignalingMessageBytes = n
	}
	maxSignalingMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("aero-media-gateway", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port)")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+envVarAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")

	fs.IntVar(&numWorkers, "num-workers", numWorkers, "Number of media engine workers (env "+envVarNumWorkers+")")
	fs.StringVar(&engineLogLevelStr, "engine-log-level", engineLogLevelStr, "Media engine log level: none, error, warn, info, debug, trace (env "+envVarEngineLogLevel+")")
	fs.StringVar(&engineLogTagsStr, "engine-log-tags", engineLogTagsStr, "Comma-separated media engine log scopes (env "+envVarEngineLogTags+")")
	fs.IntVar(&rtcMinPort, "rtc-min-port", rtcMinPort, "Min UDP port for media transports (env "+envVarRTCMinPort+")")
	fs.IntVar(&rtcMaxPort, "rtc-max-port", rtcMaxPort, "Max UDP port for media transports (env "+envVarRTCMaxPort+")")
	fs.IntVar(&rtcTCPPort, "rtc-tcp-port", rtcTCPPort, "Shared ICE-TCP port for media transports (0 = UDP only; env "+envVarRTCTCPPort+")")
	fs.StringVar(&listenIPStr, "listen-ip", listenIPStr, "Local IP media transports bind to (env "+envVarListenIP+")")
	fs.StringVar(&announcedIP, "announced-ip", announcedIP, "Public IP advertised in ICE candidates (env "+envVarAnnouncedIP+")")
	fs.StringVar(&extraListenIPsStr, "extra-listen-ips", extraListenIPsStr, "Comma-separated additional ip or ip/announcedIp listen entries (env "+envVarExtraListenIPs+")")
	fs.StringVar(&codecsFile, "codecs-file", codecsFile, "YAML or JSONC router codec list (env "+envVarCodecsFile+")")

	fs.StringVar(&defaultRoom, "default-room", defaultRoom, "Room joined when a client names none (env "+envVarDefaultRoom+")")
	fs.IntVar(&peerQueueLimit, "peer-queue-limit", peerQueueLimit, "Max queued outbound messages per peer (0 = unbounded; env "+envVarPeerQueueLimit+")")
	fs.BoolVar(&closeEmptyRooms, "close-empty-rooms", closeEmptyRooms, "Close a room and its router when its last peer leaves (env "+envVarCloseEmptyRooms+")")

	fs.DurationVar(&signalingWSIdleTimeout, "signaling-ws-idle-timeout", signalingWSIdleTimeout, "Close idle signaling WebSocket connections after this duration (env "+envVarSignalingWSIdleTimeout+")")
	fs.DurationVar(&signalingWSPingInterval, "signaling-ws-ping-interval", signalingWSPingInterval, "Send ping frames on signaling WebSocket connections at this interval (must be < --signaling-ws-idle-timeout; env "+envVarSignalingWSPingInterval+")")
	fs.Int64Var(&maxSignalingMessageBytes, "max-signaling-message-bytes", maxSignalingMessageBytes, "Max inbound signaling message size in bytes (env "+envVarMaxSignalingMessageBytes+")")
	fs.IntVar(&maxSignalingMessagesPerSecond, "max-signaling-messages-per-second", maxSignalingMessagesPerSecond, "Max inbound signaling messages per second per connection (env "+envVarMaxSignalingMessagesPerSecond+")")

	fs.StringVar(&amqpURL, "amqp-url", amqpURL, "AMQP broker URL for room events (empty = disabled; env "+envVarAMQPURL+")")
	fs.StringVar(&amqpExchange, "amqp-exchange", amqpExchange, "AMQP topic exchange for room events (env "+envVarAMQPExchange+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	if !envLogFormatSet && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !envLogLevelSet && !setFlags["log-level"] {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}

	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	engineLogLevel, err := pionengine.ParseLogLevel(engineLogLevelStr)
	if err != nil {
		return Config{}, fmt.Errorf("%s/--engine-log-level: %w", envVarEngineLogLevel, err)
	}

	if listenAddr == "" {
		return Config{}, fmt.Errorf("listen address must not be empty")
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0")
	}
	if numWorkers <= 0 {
		return Config{}, fmt.Errorf("%s/--num-workers must be > 0", envVarNumWorkers)
	}
	minPort, err := parsePortInt(rtcMinPort)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--rtc-min-port: %w", envVarRTCMinPort, err)
	}
	maxPort, err := parsePortInt(rtcMaxPort)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--rtc-max-port: %w", envVarRTCMaxPort, err)
	}
	if minPort > maxPort {
		return Config{}, fmt.Errorf("%s/--rtc-min-port (%d) must be <= %s/--rtc-max-port (%d)", envVarRTCMinPort, minPort, envVarRTCMaxPort, maxPort)
	}
	var tcpPort uint16
	if rtcTCPPort != 0 {
		if tcpPort, err = parsePortInt(rtcTCPPort); err != nil {
			return Config{}, fmt.Errorf("invalid %s/--rtc-tcp-port: %w", envVarRTCTCPPort, err)
		}
	}

	listenIP := net.ParseIP(strings.TrimSpace(listenIPStr))
	if listenIP == nil {
		return Config{}, fmt.Errorf("invalid %s/--listen-ip %q", envVarListenIP, listenIPStr)
	}
	announcedIP = strings.TrimSpace(announcedIP)
	if announcedIP != "" {
		ip := net.ParseIP(announcedIP)
		if ip == nil {
			return Config{}, fmt.Errorf("invalid %s/--announced-ip %q (expected a literal IP)", envVarAnnouncedIP, announcedIP)
		}
		announcedIP = ip.String()
	}
	extraListenIPs, err := parseListenInfos(extraListenIPsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--extra-listen-ips: %w", envVarExtraListenIPs, err)
	}
	listenInfos := append([]engine.ListenInfo{{IP: listenIP.String(), AnnouncedIP: announcedIP}}, extraListenIPs...)
	if err := engine.ValidateListenInfos(listenInfos); err != nil {
		return Config{}, fmt.Errorf("invalid %s and %s combination: %w", envVarAnnouncedIP, envVarExtraListenIPs, err)
	}

	codecs := engine.DefaultMediaCodecs()
	if strings.TrimSpace(codecsFile) != "" {
		codecs, err = LoadCodecs(codecsFile)
		if err != nil {
			return Config{}, err
		}
	}

	defaultRoom = strings.TrimSpace(defaultRoom)
	if defaultRoom == "" {
		return Config{}, fmt.Errorf("%s/--default-room must not be empty", envVarDefaultRoom)
	}
	if peerQueueLimit < 0 {
		return Config{}, fmt.Errorf("%s/--peer-queue-limit must be >= 0 (0 = unbounded)", envVarPeerQueueLimit)
	}

	if signalingWSIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-ws-idle-timeout must be > 0", envVarSignalingWSIdleTimeout)
	}
	if signalingWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-ws-ping-interval must be > 0", envVarSignalingWSPingInterval)
	}
	if signalingWSPingInterval >= signalingWSIdleTimeout {
		return Config{}, fmt.Errorf("%s/--signaling-ws-ping-interval must be < %s/--signaling-ws-idle-timeout", envVarSignalingWSPingInterval, envVarSignalingWSIdleTimeout)
	}
	if maxSignalingMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-message-bytes must be > 0", envVarMaxSignalingMessageBytes)
	}
	if maxSignalingMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-messages-per-second must be > 0", envVarMaxSignalingMessagesPerSecond)
	}

	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--allowed-origins: %w", envVarAllowedOrigins, err)
	}

	amqpURL = strings.TrimSpace(amqpURL)
	if amqpURL != "" && !strings.HasPrefix(amqpURL, "amqp://") && !strings.HasPrefix(amqpURL, "amqps://") {
		return Config{}, fmt.Errorf("invalid %s/--amqp-url: expected amqp:// or amqps:// URL", envVarAMQPURL)
	}
	if amqpURL != "" && strings.TrimSpace(amqpExchange) == "" {
		return Config{}, fmt.Errorf("%s/--amqp-exchange must not be empty when an AMQP URL is set", envVarAMQPExchange)
	}

	return Config{
		ListenAddr:      listenAddr,
		AllowedOrigins:  allowedOrigins,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,
		Mode:            mode,

		NumWorkers:     numWorkers,
		EngineLogLevel: engineLogLevel,
		EngineLogTags:  splitList(engineLogTagsStr),
		RTCMinPort:     minPort,
		RTCMaxPort:     maxPort,
		RTCTCPPort:     tcpPort,
		ListenIP:       listenIP,
		AnnouncedIP:    announcedIP,
		ExtraListenIPs: extraListenIPs,
		CodecsFile:     codecsFile,
		Codecs:         codecs,

		DefaultRoom:     defaultRoom,
		PeerQueueLimit:  peerQueueLimit,
		CloseEmptyRooms: closeEmptyRooms,

		SignalingWSIdleTimeout:        signalingWSIdleTimeout,
		SignalingWSPingInterval:       signalingWSPingInterval,
		MaxSignalingMessageBytes:      maxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: maxSignalingMessagesPerSecond,

		AMQPURL:      amqpURL,
		AMQPExchange: strings.TrimSpace(amqpExchange),
	}, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envBoolOrDefault(lookup func(string) (string, bool), key string, fallback bool) (bool, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func IsUnspecifiedIP(ip net.IP) bool {
	return ip == nil || ip.Equal(net.IPv4zero) || ip.Equal(net.IPv6zero)
}

func parseAllowedOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if entry == "*" {
			out = append(out, entry)
			continue
		}

		normalizedOrigin, _, ok := origin.NormalizeHeader(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalizedOrigin)
	}

	return out, nil
}

func parsePortInt(v int) (uint16, error) {
	if v <= 0 || v > 65535 {
		return 0, fmt.Errorf("port %d out of range (1-65535)", v)
	}
	return uint16(v), nil
}

// parseListenInfos parses "ip" and "ip/announcedIp" entries.
func parseListenInfos(s string) ([]engine.ListenInfo, error) {
	var out []engine.ListenInfo
	for _, entry := range splitList(s) {
		local, announced, hasAnnounced := strings.Cut(entry, "/")
		ip := net.ParseIP(strings.TrimSpace(local))
		if ip == nil {
			return nil, fmt.Errorf("invalid IP %q", local)
		}
		info := engine.ListenInfo{IP: ip.String()}
		if hasAnnounced {
			aip := net.ParseIP(strings.TrimSpace(announced))
			if aip == nil {
				return nil, fmt.Errorf("invalid announced IP %q", announced)
			}
			info.AnnouncedIP = aip.String()
		}
		out = append(out, info)
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, raw := range strings.Split(s, ",") {
		if raw = strings.TrimSpace(raw); raw != "" {
			out = append(out, raw)
		}
	}
	return out
}
