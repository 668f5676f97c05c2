// Package config loads runtime configuration for the lancall binaries from
// flags and environment variables. Flags win over env vars; env vars win over
// defaults.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	EnvUsername   = "LANCALL_USERNAME"
	EnvSignalURL  = "LANCALL_SIGNAL_URL"
	EnvListenAddr = "LANCALL_LISTEN_ADDR"
	EnvDataDir    = "LANCALL_DATA_DIR"
	EnvMode       = "LANCALL_MODE"
	EnvLogFormat  = "LANCALL_LOG_FORMAT"
	EnvLogLevel   = "LANCALL_LOG_LEVEL"

	EnvSTUNServers     = "LANCALL_STUN_SERVERS"
	EnvShutdownTimeout = "LANCALL_SHUTDOWN_TIMEOUT"

	// Signaling hub hardening knobs.
	EnvMaxSignalMessageBytes      = "LANCALL_MAX_SIGNAL_MESSAGE_BYTES"
	EnvMaxSignalMessagesPerSecond = "LANCALL_MAX_SIGNAL_MESSAGES_PER_SECOND"
	EnvRegisterTimeout            = "LANCALL_REGISTER_TIMEOUT"

	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultSignalURL       = "ws://127.0.0.1:8080/ws"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultRegisterTimeout = 5 * time.Second

	DefaultMaxSignalMessageBytes      = 64 * 1024
	DefaultMaxSignalMessagesPerSecond = 50
)

// DefaultSTUNServers are used when LANCALL_STUN_SERVERS is unset. Host
// candidates alone are usually enough on a LAN; STUN covers the routed case.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

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
	// Username identifies this endpoint to the signaling hub and to peers.
	Username string

	// SignalURL is the WebSocket URL of the signaling hub (client side).
	SignalURL string

	// ListenAddr is the HTTP listen address of the signaling hub (server side).
	ListenAddr string

	// DataDir holds persistent state (message history database).
	DataDir string

	Mode      Mode
	LogFormat LogFormat
	LogLevel  slog.Level

	STUNServers     []string
	ShutdownTimeout time.Duration

	MaxSignalMessageBytes      int64
	MaxSignalMessagesPerSecond int
	RegisterTimeout            time.Duration
}

// PeerConnectionICEServers maps the configured STUN URLs to pion's ICE server
// list.
func (c Config) PeerConnectionICEServers() []webrtc.ICEServer {
	if len(c.STUNServers) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: c.STUNServers}}
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	fs := flag.NewFlagSet("lancall", flag.ContinueOnError)

	username := fs.String("username", envOrDefault(lookup, EnvUsername, ""), "username announced to the signaling hub")
	signalURL := fs.String("signal-url", envOrDefault(lookup, EnvSignalURL, DefaultSignalURL), "signaling hub WebSocket URL")
	listenAddr := fs.String("listen-addr", envOrDefault(lookup, EnvListenAddr, DefaultListenAddr), "signaling hub listen address")
	dataDir := fs.String("data-dir", envOrDefault(lookup, EnvDataDir, defaultDataDir(lookup)), "directory for persistent state")
	modeRaw := fs.String("mode", envOrDefault(lookup, EnvMode, string(ModeDev)), "dev or prod")
	logFormatRaw := fs.String("log-format", envOrDefault(lookup, EnvLogFormat, ""), "log format: text or json (default depends on mode)")
	logLevelRaw := fs.String("log-level", envOrDefault(lookup, EnvLogLevel, ""), "log level: debug, info, warn, error (default depends on mode)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(*modeRaw)
	if err != nil {
		return Config{}, err
	}

	logFormat, err := parseLogFormat(defaultIfEmpty(*logFormatRaw, defaultLogFormatForMode(mode)))
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(defaultIfEmpty(*logLevelRaw, defaultLogLevelForMode(mode)))
	if err != nil {
		return Config{}, err
	}

	stunServers, err := parseSTUNServers(envOrDefault(lookup, EnvSTUNServers, ""))
	if err != nil {
		return Config{}, err
	}

	shutdownTimeout, err := envDurationOrDefault(lookup, EnvShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	registerTimeout, err := envDurationOrDefault(lookup, EnvRegisterTimeout, DefaultRegisterTimeout)
	if err != nil {
		return Config{}, err
	}

	maxMessageBytes, err := envIntOrDefault(lookup, EnvMaxSignalMessageBytes, DefaultMaxSignalMessageBytes)
	if err != nil {
		return Config{}, err
	}
	maxMessagesPerSecond, err := envIntOrDefault(lookup, EnvMaxSignalMessagesPerSecond, DefaultMaxSignalMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Username:   *username,
		SignalURL:  *signalURL,
		ListenAddr: *listenAddr,
		DataDir:    *dataDir,
		Mode:       mode,
		LogFormat:  logFormat,
		LogLevel:   logLevel,

		STUNServers:     stunServers,
		ShutdownTimeout: shutdownTimeout,

		MaxSignalMessageBytes:      int64(maxMessageBytes),
		MaxSignalMessagesPerSecond: maxMessagesPerSecond,
		RegisterTimeout:            registerTimeout,
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.SignalURL != "" {
		u, err := url.Parse(c.SignalURL)
		if err != nil {
			return fmt.Errorf("invalid signal url %q: %w", c.SignalURL, err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("signal url %q must use ws:// or wss://", c.SignalURL)
		}
	}
	if c.MaxSignalMessageBytes <= 0 {
		return fmt.Errorf("%s must be positive", EnvMaxSignalMessageBytes)
	}
	if c.MaxSignalMessagesPerSecond <= 0 {
		return fmt.Errorf("%s must be positive", EnvMaxSignalMessagesPerSecond)
	}
	return nil
}

// NewLogger builds the process-wide slog logger from the configured format
// and level.
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

func defaultDataDir(lookup func(string) (string, bool)) string {
	if home, ok := lookup("HOME"); ok && home != "" {
		return home + "/.lancall"
	}
	return ".lancall"
}

func defaultIfEmpty(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, raw, err)
	}
	return v, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, raw, err)
	}
	return d, nil
}

func parseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeDev:
		return ModeDev, nil
	case ModeProd, "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("unsupported mode %q (want dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch LogFormat(strings.ToLower(strings.TrimSpace(raw))) {
	case LogFormatText:
		return LogFormatText, nil
	case LogFormatJSON:
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported log format %q (want text or json)", raw)
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
		return 0, fmt.Errorf("unsupported log level %q", raw)
	}
}

func defaultLogFormatForMode(mode Mode) string {
	if mode == ModeProd {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func defaultLogLevelForMode(mode Mode) string {
	if mode == ModeProd {
		return "info"
	}
	return "debug"
}

func parseSTUNServers(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return DefaultSTUNServers, nil
	}
	var servers []string
	for _, part := range strings.Split(raw, ",") {
		s := strings.TrimSpace(part)
		if s == "" {
			continue
		}
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "stuns:") {
			return nil, fmt.Errorf("invalid STUN server %q (want stun: or stuns: URL)", s)
		}
		servers = append(servers, s)
	}
	if len(servers) == 0 {
		return DefaultSTUNServers, nil
	}
	return servers, nil
}
