// Package assistant – config.go defines all configuration structures for
// the SoulBot assistant.
package assistant

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/soulpath/soulbot/pkg/soulbot/channels/telegram"
)

// Config holds all assistant configuration.
type Config struct {
	// Name is the assistant name shown in responses.
	Name string `yaml:"name"`

	// Model is the LLM model to use.
	Model string `yaml:"model"`

	// API configures the LLM provider endpoint.
	API APIConfig `yaml:"api"`

	// Telegram configures the chat transport.
	Telegram telegram.Config `yaml:"telegram"`

	// Database is the path to the SQLite session database.
	Database string `yaml:"database"`

	// Logging configures the slog output.
	Logging LoggingConfig `yaml:"logging"`

	// Engine configures the conversation engine.
	Engine EngineConfig `yaml:"engine"`

	// Activity configures the optional activity-history collaborator.
	Activity ActivityConfig `yaml:"activity"`

	// Sweeper configures the stale-session sweep and check-in nudges.
	Sweeper SweeperConfig `yaml:"sweeper"`

	// Admins lists user IDs allowed to run admin commands (/topic).
	Admins []string `yaml:"admins"`
}

// APIConfig configures the LLM provider endpoint.
type APIConfig struct {
	// BaseURL is the OpenAI-compatible API base URL.
	BaseURL string `yaml:"base_url"`

	// APIKey is the provider API key. Prefer the keyring or the
	// SOULBOT_API_KEY environment variable over this plaintext field.
	APIKey string `yaml:"api_key"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
}

// EngineConfig tunes the conversation engine.
type EngineConfig struct {
	// HistoryWindow is the number of recent turns included in each
	// generation request (sliding window, oldest dropped).
	HistoryWindow int `yaml:"history_window"`

	// TurnTimeoutSeconds bounds each generation call.
	TurnTimeoutSeconds int `yaml:"turn_timeout_seconds"`

	// CacheSize is the per-user history cache capacity (LRU).
	CacheSize int `yaml:"cache_size"`
}

// TurnTimeout returns the per-turn deadline as a duration.
func (c EngineConfig) TurnTimeout() time.Duration {
	return time.Duration(c.TurnTimeoutSeconds) * time.Second
}

// ActivityConfig configures the activity-history collaborator. When
// BaseURL is empty the collaborator is absent and readiness analysis
// degrades to session history only.
type ActivityConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the request deadline as a duration.
func (c ActivityConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SweeperConfig configures the nightly maintenance jobs.
type SweeperConfig struct {
	Enabled bool `yaml:"enabled"`

	// SweepCron is the cron expression for the stale-session sweep.
	SweepCron string `yaml:"sweep_cron"`

	// NudgeCron is the cron expression for the diagnostic check-in nudge.
	NudgeCron string `yaml:"nudge_cron"`

	// IdleTTLHours is how long an active session may go without turns
	// before the sweep auto-completes it.
	IdleTTLHours int `yaml:"idle_ttl_hours"`
}

// IdleTTL returns the idle threshold as a duration.
func (c SweeperConfig) IdleTTL() time.Duration {
	return time.Duration(c.IdleTTLHours) * time.Hour
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:     "SoulBot",
		Model:    "gpt-4o-mini",
		Database: "./data/soulbot.db",
		API: APIConfig{
			BaseURL: "https://api.openai.com/v1",
		},
		Telegram: telegram.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Engine: EngineConfig{
			HistoryWindow:      10,
			TurnTimeoutSeconds: 45,
			CacheSize:          512,
		},
		Activity: ActivityConfig{
			TimeoutSeconds: 10,
		},
		Sweeper: SweeperConfig{
			Enabled:      true,
			SweepCron:    "0 4 * * *",
			NudgeCron:    "0 11 * * *",
			IdleTTLHours: 48,
		},
	}
}

// LoadConfigFromFile reads and parses a YAML configuration file.
// .env files are loaded first (godotenv does not overwrite variables
// already present in the environment).
func LoadConfigFromFile(path string) (*Config, error) {
	loadEnvFiles(filepath.Dir(path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML bytes into a Config, starting from defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	if cfg.Engine.HistoryWindow <= 0 {
		cfg.Engine.HistoryWindow = 10
	}
	if cfg.Engine.TurnTimeoutSeconds <= 0 {
		cfg.Engine.TurnTimeoutSeconds = 45
	}
	if cfg.Engine.CacheSize <= 0 {
		cfg.Engine.CacheSize = 512
	}
	return cfg, nil
}

// loadEnvFiles loads .env from the config directory and the working
// directory. Missing files are ignored.
func loadEnvFiles(configDir string) {
	for _, f := range []string{filepath.Join(configDir, ".env"), ".env"} {
		_ = godotenv.Load(f)
	}
}

// IsAdmin reports whether the user may run admin commands.
func (c *Config) IsAdmin(userID string) bool {
	for _, admin := range c.Admins {
		if admin == userID {
			return true
		}
	}
	return false
}
