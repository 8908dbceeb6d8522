package realtime

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

var ErrConfig = errors.New("invalid realtime config")

// Config controls the WebSocket gateway.
type Config struct {
	// OriginRequired rejects handshakes without an Origin header.
	OriginRequired bool
	AllowedOrigins []string

	// InsecureSkipVerify disables websocket.Accept's origin check. Dev only.
	InsecureSkipVerify bool

	MaxFrameBytes int64
	WriteTimeout  time.Duration
	ReadIdle      time.Duration

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration
	MaxPingFailures  int

	// Inbound frames per connection: RateEvents per RateWindow.
	RateEvents int
	RateWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		OriginRequired:   true,
		AllowedOrigins:   []string{"http://localhost", "http://127.0.0.1"},
		MaxFrameBytes:    64 << 10,
		WriteTimeout:     5 * time.Second,
		ReadIdle:         5 * time.Minute,
		HeartbeatEvery:   25 * time.Second,
		HeartbeatTimeout: 5 * time.Second,
		MaxPingFailures:  3,
		RateEvents:       30,
		RateWindow:       10 * time.Second,
	}
}

// LoadConfigFromEnv overlays PARLEY_WS_* onto DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	var err error

	if cfg.OriginRequired, err = envBool("PARLEY_WS_ORIGIN_REQUIRED", cfg.OriginRequired); err != nil {
		return Config{}, err
	}
	if cfg.InsecureSkipVerify, err = envBool("PARLEY_WS_DEV_INSECURE", cfg.InsecureSkipVerify); err != nil {
		return Config{}, err
	}
	if raw, ok := os.LookupEnv("PARLEY_WS_ALLOWED_ORIGINS"); ok {
		cfg.AllowedOrigins = splitCSV(raw)
	}
	if cfg.WriteTimeout, err = envDuration("PARLEY_WS_WRITE_TIMEOUT", cfg.WriteTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ReadIdle, err = envDuration("PARLEY_WS_READ_IDLE_TIMEOUT", cfg.ReadIdle); err != nil {
		return Config{}, err
	}
	if cfg.HeartbeatEvery, err = envDuration("PARLEY_WS_HEARTBEAT_INTERVAL", cfg.HeartbeatEvery); err != nil {
		return Config{}, err
	}
	if cfg.HeartbeatTimeout, err = envDuration("PARLEY_WS_HEARTBEAT_TIMEOUT", cfg.HeartbeatTimeout); err != nil {
		return Config{}, err
	}
	if cfg.RateEvents, err = envInt("PARLEY_WS_RATE_EVENTS", cfg.RateEvents); err != nil {
		return Config{}, err
	}
	if cfg.RateWindow, err = envDuration("PARLEY_WS_RATE_WINDOW", cfg.RateWindow); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func splitCSV(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func envBool(key string, def bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", ErrConfig, key)
	}
	return v, nil
}

func envInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", ErrConfig, key)
	}
	return v, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive duration", ErrConfig, key)
	}
	return v, nil
}
