package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// Gemini upstream.
	GeminiAPIKey   string
	GeminiEndpoint string
	DefaultModel   string

	// Shared-token auth for /live. Empty disables the check.
	AuthToken string

	// Origin allowlist for WebSocket upgrades. Empty => any origin.
	AllowedOrigins map[string]struct{}

	// Live WebSocket limits.
	LiveMaxMessageBytes int64
	LiveWSPingInterval  time.Duration
	LiveWSWriteTimeout  time.Duration
	LiveWSReadTimeout   time.Duration
	LiveOutboundQueue   int

	// Upstream reconnection.
	ReconnectMaxAttempts int
	ReconnectDelay       time.Duration

	// Server-side voice activity gate, applied to inbound audio frames.
	VADEnabled        bool
	VADEnterThreshold float64
	VADHysteresis     float64
	VADKeepAlive      time.Duration

	// Turn history. Empty dir => in-memory only.
	HistoryDir string

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                 envOr("LIVEGW_ADDR", ":8080"),
		GeminiAPIKey:         strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiEndpoint:       envOr("LIVEGW_GEMINI_ENDPOINT", ""),
		DefaultModel:         envOr("LIVEGW_DEFAULT_MODEL", "gemini-2.0-flash-live-001"),
		AuthToken:            strings.TrimSpace(os.Getenv("LIVEGW_AUTH_TOKEN")),
		AllowedOrigins:       make(map[string]struct{}),
		LiveMaxMessageBytes:  envInt64Or("LIVEGW_LIVE_MAX_MESSAGE_BYTES", 1<<20),
		LiveWSPingInterval:   envDurationOr("LIVEGW_LIVE_WS_PING_INTERVAL", 20*time.Second),
		LiveWSWriteTimeout:   envDurationOr("LIVEGW_LIVE_WS_WRITE_TIMEOUT", 5*time.Second),
		LiveWSReadTimeout:    envDurationOr("LIVEGW_LIVE_WS_READ_TIMEOUT", 0),
		LiveOutboundQueue:    envIntOr("LIVEGW_LIVE_OUTBOUND_QUEUE", 128),
		ReconnectMaxAttempts: envIntOr("LIVEGW_RECONNECT_MAX_ATTEMPTS", 3),
		ReconnectDelay:       envDurationOr("LIVEGW_RECONNECT_DELAY", 2*time.Second),
		VADEnabled:           envBoolOr("LIVEGW_VAD_ENABLED", false),
		VADEnterThreshold:    envFloat64Or("LIVEGW_VAD_ENTER_THRESHOLD", 900),
		VADHysteresis:        envFloat64Or("LIVEGW_VAD_HYSTERESIS", 200),
		VADKeepAlive:         envDurationOr("LIVEGW_VAD_KEEPALIVE", 2500*time.Millisecond),
		HistoryDir:           envOr("LIVEGW_HISTORY_DIR", ""),
		ReadHeaderTimeout:    envDurationOr("LIVEGW_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:  envDurationOr("LIVEGW_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("LIVEGW_ALLOWED_ORIGINS")) {
		cfg.AllowedOrigins[origin] = struct{}{}
	}

	if cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("GEMINI_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.DefaultModel) == "" {
		return Config{}, fmt.Errorf("LIVEGW_DEFAULT_MODEL must not be empty")
	}
	if cfg.LiveMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("LIVEGW_LIVE_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.LiveWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("LIVEGW_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("LIVEGW_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.LiveWSReadTimeout < 0 {
		return Config{}, fmt.Errorf("LIVEGW_LIVE_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.LiveOutboundQueue <= 0 {
		return Config{}, fmt.Errorf("LIVEGW_LIVE_OUTBOUND_QUEUE must be > 0")
	}
	if cfg.ReconnectMaxAttempts <= 0 {
		return Config{}, fmt.Errorf("LIVEGW_RECONNECT_MAX_ATTEMPTS must be > 0")
	}
	if cfg.ReconnectDelay < 0 {
		return Config{}, fmt.Errorf("LIVEGW_RECONNECT_DELAY must be >= 0")
	}
	if cfg.VADEnterThreshold <= 0 {
		return Config{}, fmt.Errorf("LIVEGW_VAD_ENTER_THRESHOLD must be > 0")
	}
	if cfg.VADHysteresis < 0 {
		return Config{}, fmt.Errorf("LIVEGW_VAD_HYSTERESIS must be >= 0")
	}
	if cfg.VADHysteresis >= cfg.VADEnterThreshold {
		return Config{}, fmt.Errorf("LIVEGW_VAD_HYSTERESIS must be < LIVEGW_VAD_ENTER_THRESHOLD")
	}
	if cfg.VADKeepAlive < 0 {
		return Config{}, fmt.Errorf("LIVEGW_VAD_KEEPALIVE must be >= 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("LIVEGW_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("LIVEGW_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
