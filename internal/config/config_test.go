package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func noEnv(string) (string, bool) { return "", false }

func TestDefaultsDev(t *testing.T) {
	cfg, err := load(noEnv, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("logLevel=%v, want debug", cfg.LogLevel)
	}
	if cfg.SignalURL != DefaultSignalURL {
		t.Fatalf("signalURL=%q, want %q", cfg.SignalURL, DefaultSignalURL)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("listenAddr=%q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.MaxSignalMessageBytes != DefaultMaxSignalMessageBytes {
		t.Fatalf("maxSignalMessageBytes=%d, want %d", cfg.MaxSignalMessageBytes, DefaultMaxSignalMessageBytes)
	}
	if cfg.MaxSignalMessagesPerSecond != DefaultMaxSignalMessagesPerSecond {
		t.Fatalf("maxSignalMessagesPerSecond=%d, want %d", cfg.MaxSignalMessagesPerSecond, DefaultMaxSignalMessagesPerSecond)
	}
	if len(cfg.STUNServers) == 0 {
		t.Fatalf("expected default STUN servers, got none")
	}
}

func TestDefaultsProdWhenModeFlagSet(t *testing.T) {
	cfg, err := load(noEnv, []string{"--mode", "prod"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeProd)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatJSON)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("logLevel=%v, want info", cfg.LogLevel)
	}
}

func TestFlagsWinOverEnv(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		EnvUsername:  "env-user",
		EnvSignalURL: "ws://env.example:9/ws",
	}), []string{"--username", "flag-user", "--signal-url", "ws://flag.example:9/ws"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Username != "flag-user" {
		t.Fatalf("username=%q, want flag-user", cfg.Username)
	}
	if cfg.SignalURL != "ws://flag.example:9/ws" {
		t.Fatalf("signalURL=%q, want flag value", cfg.SignalURL)
	}
}

func TestEnvOverrides(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		EnvMaxSignalMessageBytes:      "1024",
		EnvMaxSignalMessagesPerSecond: "5",
		EnvShutdownTimeout:            "3s",
		EnvSTUNServers:                "stun:stun.example.net:3478, stun:stun2.example.net:3478",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxSignalMessageBytes != 1024 {
		t.Fatalf("maxSignalMessageBytes=%d, want 1024", cfg.MaxSignalMessageBytes)
	}
	if cfg.MaxSignalMessagesPerSecond != 5 {
		t.Fatalf("maxSignalMessagesPerSecond=%d, want 5", cfg.MaxSignalMessagesPerSecond)
	}
	if cfg.ShutdownTimeout != 3*time.Second {
		t.Fatalf("shutdownTimeout=%v, want 3s", cfg.ShutdownTimeout)
	}
	if len(cfg.STUNServers) != 2 || cfg.STUNServers[0] != "stun:stun.example.net:3478" {
		t.Fatalf("stunServers=%v, want two parsed entries", cfg.STUNServers)
	}
}

func TestInvalidSignalURLScheme(t *testing.T) {
	_, err := load(noEnv, []string{"--signal-url", "http://example.com/ws"})
	if err == nil || !strings.Contains(err.Error(), "ws://") {
		t.Fatalf("expected ws:// scheme error, got %v", err)
	}
}

func TestInvalidSTUNServerRejected(t *testing.T) {
	_, err := load(lookupMap(map[string]string{
		EnvSTUNServers: "turn:turn.example.net:3478",
	}), nil)
	if err == nil {
		t.Fatalf("expected error for non-STUN URL")
	}
}

func TestPeerConnectionICEServers(t *testing.T) {
	cfg := Config{STUNServers: []string{"stun:stun.example.net:3478"}}
	servers := cfg.PeerConnectionICEServers()
	if len(servers) != 1 || len(servers[0].URLs) != 1 {
		t.Fatalf("unexpected ICE servers: %+v", servers)
	}

	if got := (Config{}).PeerConnectionICEServers(); got != nil {
		t.Fatalf("expected nil ICE servers for empty config, got %+v", got)
	}
}
