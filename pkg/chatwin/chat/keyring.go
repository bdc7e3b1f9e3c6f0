// keyring.go resolves the LLM API key through the credential chain and
// provides OS-keyring storage (Linux: Secret Service/GNOME Keyring, macOS:
// Keychain, Windows: Credential Manager).
//
// Priority for resolving the key:
//  1. Encrypted vault (.chatwin.vault — AES-256-GCM + Argon2, needs master password)
//  2. OS keyring
//  3. Environment variable (CHATWIN_API_KEY, OPENAI_API_KEY)
//  4. .env file (loaded by godotenv)
//  5. config.yaml value (least secure — plaintext on disk)
package chat

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/zalando/go-keyring"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "chatwin"

	// keyringAPIKey is the key name for the LLM API key.
	keyringAPIKey = "api_key"
)

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring. Returns empty string
// if not found.
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

// ResolveAPIKey walks the credential chain and returns the first API key it
// finds, or "" when none is configured.
func ResolveAPIKey(cfg *Config, logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}

	// Unlocked vault first (most secure).
	vault := NewVault(VaultFile)
	if vault.Exists() && vault.IsUnlocked() {
		if key, err := vault.Get(keyringAPIKey); err == nil && key != "" {
			return key
		}
	}

	if key := GetKeyring(keyringAPIKey); key != "" {
		return key
	}

	if key := os.Getenv("CHATWIN_API_KEY"); key != "" {
		return key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return key
	}

	// .env file, silently ignored if absent.
	if err := godotenv.Load(); err == nil {
		if key := os.Getenv("CHATWIN_API_KEY"); key != "" {
			return key
		}
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			return key
		}
	}

	if cfg.API.APIKey != "" {
		logger.Warn("API key read from config file; prefer 'chatwin config set-key' or CHATWIN_API_KEY")
		return cfg.API.APIKey
	}

	return ""
}
