// Package assistant – keyring.go provides secure credential storage using
// the operating system's native keyring (Linux: Secret Service/GNOME
// Keyring, macOS: Keychain, Windows: Credential Manager).
//
// Priority for resolving secrets:
//  1. OS keyring (encrypted by the OS, requires user session)
//  2. Environment variable (SOULBOT_API_KEY / SOULBOT_TELEGRAM_TOKEN)
//  3. .env file (loaded by godotenv during config load)
//  4. config.yaml value (least secure — plaintext on disk)
package assistant

import (
	"log/slog"
	"os"

	"github.com/zalando/go-keyring"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "soulbot"

	keyringAPIKey        = "api_key"
	keyringTelegramToken = "telegram_token"
)

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring.
// Returns empty string if not found.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// ResolveSecrets fills in the API key and Telegram token using the
// priority chain keyring → env → config, updating cfg in place.
func ResolveSecrets(cfg *Config, logger *slog.Logger) {
	if v := GetKeyring(keyringAPIKey); v != "" {
		cfg.API.APIKey = v
		logger.Debug("API key resolved from keyring")
	} else if v := os.Getenv("SOULBOT_API_KEY"); v != "" {
		cfg.API.APIKey = v
	} else if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.API.APIKey = v
	}

	if v := GetKeyring(keyringTelegramToken); v != "" {
		cfg.Telegram.Token = v
		logger.Debug("Telegram token resolved from keyring")
	} else if v := os.Getenv("SOULBOT_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}

	if cfg.API.APIKey == "" {
		logger.Warn("no LLM API key configured; generation calls will fail")
	}
}
