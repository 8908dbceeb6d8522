package chat

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config bounds a single turn.
type Config struct {
	DefaultModel  string
	SystemPrompt  string
	TitleRunes    int
	MaxInputRunes int

	// HistoryLimit caps the earlier messages handed to the generator.
	HistoryLimit int

	// Partial content is written every PersistEvery accepted fragments or
	// after PersistInterval, whichever comes first.
	PersistEvery    int
	PersistInterval time.Duration

	MaxDuration     time.Duration
	FinalizeTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		DefaultModel:    "gpt-4o-mini",
		TitleRunes:      80,
		MaxInputRunes:   16000,
		HistoryLimit:    20,
		PersistEvery:    16,
		PersistInterval: time.Second,
		MaxDuration:     2 * time.Minute,
		FinalizeTimeout: 5 * time.Second,
	}
}

// LoadConfigFromEnv overlays PARLEY_CHAT_* onto DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	var err error

	cfg.DefaultModel = envString("PARLEY_CHAT_DEFAULT_MODEL", cfg.DefaultModel)
	cfg.SystemPrompt = envString("PARLEY_CHAT_SYSTEM_PROMPT", cfg.SystemPrompt)
	if cfg.MaxInputRunes, err = envInt("PARLEY_CHAT_MAX_INPUT_RUNES", cfg.MaxInputRunes); err != nil {
		return Config{}, err
	}
	if cfg.HistoryLimit, err = envInt("PARLEY_CHAT_HISTORY_LIMIT", cfg.HistoryLimit); err != nil {
		return Config{}, err
	}
	if cfg.PersistEvery, err = envInt("PARLEY_CHAT_PERSIST_EVERY", cfg.PersistEvery); err != nil {
		return Config{}, err
	}
	if cfg.PersistInterval, err = envDuration("PARLEY_CHAT_PERSIST_INTERVAL", cfg.PersistInterval); err != nil {
		return Config{}, err
	}
	if cfg.MaxDuration, err = envDuration("PARLEY_CHAT_MAX_DURATION", cfg.MaxDuration); err != nil {
		return Config{}, err
	}
	if cfg.FinalizeTimeout, err = envDuration("PARLEY_CHAT_FINALIZE_TIMEOUT", cfg.FinalizeTimeout); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch {
	case c.DefaultModel == "":
		return fmt.Errorf("%w: empty default model", ErrConfig)
	case c.TitleRunes <= 0 || c.MaxInputRunes <= 0:
		return fmt.Errorf("%w: rune limits must be positive", ErrConfig)
	case c.PersistEvery <= 0 || c.PersistInterval <= 0:
		return fmt.Errorf("%w: persistence cadence must be positive", ErrConfig)
	case c.MaxDuration <= 0 || c.FinalizeTimeout <= 0:
		return fmt.Errorf("%w: timeouts must be positive", ErrConfig)
	case c.HistoryLimit < 0:
		return fmt.Errorf("%w: negative history limit", ErrConfig)
	}
	return nil
}

// LLMConfig selects and configures the Generator.
type LLMConfig struct {
	// Provider is "echo" or "openai".
	Provider  string
	BaseURL   string
	APIKey    string
	Model     string
	Timeout   time.Duration
	EchoDelay time.Duration
}

func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:  "echo",
		BaseURL:   "https://api.openai.com/v1",
		Timeout:   2 * time.Minute,
		EchoDelay: 40 * time.Millisecond,
	}
}

// LoadLLMConfigFromEnv reads PARLEY_LLM_*.
func LoadLLMConfigFromEnv() (LLMConfig, error) {
	cfg := DefaultLLMConfig()
	var err error

	cfg.Provider = strings.ToLower(envString("PARLEY_LLM_PROVIDER", cfg.Provider))
	cfg.BaseURL = strings.TrimRight(envString("PARLEY_LLM_BASE_URL", cfg.BaseURL), "/")
	cfg.APIKey = os.Getenv("PARLEY_LLM_API_KEY")
	cfg.Model = envString("PARLEY_LLM_MODEL", cfg.Model)
	if cfg.Timeout, err = envDuration("PARLEY_LLM_TIMEOUT", cfg.Timeout); err != nil {
		return LLMConfig{}, err
	}
	if cfg.EchoDelay, err = envDuration("PARLEY_LLM_ECHO_DELAY", cfg.EchoDelay); err != nil {
		return LLMConfig{}, err
	}

	switch cfg.Provider {
	case "echo":
	case "openai":
		if cfg.APIKey == "" {
			return LLMConfig{}, fmt.Errorf("%w: PARLEY_LLM_API_KEY is required for the openai provider", ErrConfig)
		}
	default:
		return LLMConfig{}, fmt.Errorf("%w: unknown PARLEY_LLM_PROVIDER %q", ErrConfig, cfg.Provider)
	}
	return cfg, nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", ErrConfig, key)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a duration", ErrConfig, key)
	}
	return d, nil
}
