package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/zalando/go-keyring"
)

const (
	// KeyringService is the service name in the OS keychain.
	KeyringService = "GraphLoad"

	// KeyringNeo4jPasswordItem is the key for the Neo4j password.
	KeyringNeo4jPasswordItem = "neo4j-password"
)

// KeyringManager handles secure credential storage in the OS keychain.
type KeyringManager struct {
	logger *slog.Logger
}

// NewKeyringManager creates a new keyring manager.
func NewKeyringManager() *KeyringManager {
	return &KeyringManager{
		logger: slog.Default().With("component", "keyring"),
	}
}

// SaveNeo4jPassword stores the Neo4j password securely in the OS keychain:
// - macOS: Keychain Access.app → "GraphLoad" → "neo4j-password"
// - Windows: Credential Manager → "GraphLoad"
// - Linux: Secret Service (requires libsecret)
func (km *KeyringManager) SaveNeo4jPassword(password string) error {
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}

	if err := keyring.Set(KeyringService, KeyringNeo4jPasswordItem, password); err != nil {
		km.logger.Error("failed to save neo4j password to keychain", "error", err)
		return fmt.Errorf("failed to save to OS keychain: %w", err)
	}

	km.logger.Info("neo4j password saved to keychain", "service", KeyringService)
	return nil
}

// GetNeo4jPassword retrieves the Neo4j password from the OS keychain.
func (km *KeyringManager) GetNeo4jPassword() (string, error) {
	password, err := keyring.Get(KeyringService, KeyringNeo4jPasswordItem)
	if err == keyring.ErrNotFound {
		return "", nil
	}
	if err != nil {
		km.logger.Error("failed to get neo4j password from keychain", "error", err)
		return "", fmt.Errorf("failed to read from OS keychain: %w", err)
	}

	km.logger.Debug("neo4j password retrieved from keychain")
	return password, nil
}

// DeleteNeo4jPassword removes the Neo4j password from the OS keychain.
func (km *KeyringManager) DeleteNeo4jPassword() error {
	err := keyring.Delete(KeyringService, KeyringNeo4jPasswordItem)
	if err == keyring.ErrNotFound {
		return nil
	}
	if err != nil {
		km.logger.Error("failed to delete neo4j password from keychain", "error", err)
		return fmt.Errorf("failed to delete from OS keychain: %w", err)
	}

	km.logger.Info("neo4j password deleted from keychain")
	return nil
}

// IsAvailable checks if the OS keychain is reachable.
// Returns false on headless systems (CI) where no Secret Service runs.
func (km *KeyringManager) IsAvailable() bool {
	_, err := keyring.Get(KeyringService, "test-availability")
	if err == keyring.ErrNotFound {
		return true
	}
	if err != nil {
		km.logger.Debug("keychain not available", "error", err)
		return false
	}
	return true
}

// PasswordSourceInfo describes where the Neo4j password came from.
type PasswordSourceInfo struct {
	Source      string // "env", "keychain", "config", "env_file", "none"
	Secure      bool
	Recommended string
}

// GetPasswordSource determines where the Neo4j password is coming from.
func (km *KeyringManager) GetPasswordSource(cfg *Config) PasswordSourceInfo {
	if os.Getenv("NEO_PASSWORD") != "" {
		return PasswordSourceInfo{
			Source:      "env",
			Secure:      true,
			Recommended: "Using NEO_PASSWORD environment variable (good for CI)",
		}
	}

	if pw, _ := km.GetNeo4jPassword(); pw != "" {
		return PasswordSourceInfo{
			Source:      "keychain",
			Secure:      true,
			Recommended: "Stored securely in OS keychain",
		}
	}

	if cfg.Neo4j.Password != "" {
		return PasswordSourceInfo{
			Source:      "config",
			Secure:      false,
			Recommended: "Plaintext storage detected; consider moving to the OS keychain",
		}
	}

	if _, err := os.Stat(".env"); err == nil {
		return PasswordSourceInfo{
			Source:      "env_file",
			Secure:      false,
			Recommended: "Using .env file (fine for development, prefer keychain otherwise)",
		}
	}

	return PasswordSourceInfo{
		Source:      "none",
		Secure:      false,
		Recommended: "No password configured; pass --password, set NEO_PASSWORD, or run the interactive prompt",
	}
}

// MaskPassword masks a password for display, e.g. in confirmation prompts.
func MaskPassword(password string) string {
	if password == "" {
		return "(not set)"
	}
	return "********"
}
