package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ccdi-dataloader/graphload/internal/errors"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// CredentialManager resolves the Neo4j password using a priority chain:
// Environment Variable (NEO_PASSWORD) → Keychain → Config File → Interactive Prompt.
type CredentialManager struct {
	mode       DeploymentMode
	keyring    *KeyringManager
	configPath string
}

// Credentials holds credentials persisted outside the OS keychain.
type Credentials struct {
	Neo4jPassword string `yaml:"neo4j_password"`
}

// NewCredentialManager creates a new credential manager.
func NewCredentialManager() *CredentialManager {
	mode := DetectMode()
	homeDir, _ := os.UserHomeDir()
	configPath := filepath.Join(homeDir, ".config", "graphload", "credentials.yaml")

	return &CredentialManager{
		mode:       mode,
		keyring:    NewKeyringManager(),
		configPath: configPath,
	}
}

// GetNeo4jPassword retrieves the Neo4j password using the priority chain.
// flagValue is whatever --password supplied on the command line, which always wins.
func (cm *CredentialManager) GetNeo4jPassword(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}

	if pw := os.Getenv("NEO_PASSWORD"); pw != "" {
		return pw, nil
	}

	if cm.keyring.IsAvailable() {
		if pw, err := cm.keyring.GetNeo4jPassword(); err == nil && pw != "" {
			return pw, nil
		}
	}

	if creds, err := cm.loadConfigFile(); err == nil && creds.Neo4jPassword != "" {
		return creds.Neo4jPassword, nil
	}

	if cm.mode.AllowsInteractivePrompts() && isInteractive() {
		fmt.Println("\nNeo4j password not found.")
		return cm.promptForPassword()
	}

	return "", errors.ConfigErrorf(
		"NEO_PASSWORD not found. Set it via:\n"+
			"  1. --password flag\n"+
			"  2. Environment variable: export NEO_PASSWORD=...\n"+
			"  3. Config file: %s", cm.configPath)
}

// SaveCredentials saves credentials to keychain (preferred) or config file (fallback).
func (cm *CredentialManager) SaveCredentials(creds Credentials) error {
	if cm.keyring.IsAvailable() {
		if creds.Neo4jPassword != "" {
			if err := cm.keyring.SaveNeo4jPassword(creds.Neo4jPassword); err != nil {
				return errors.Wrap(err, errors.ErrorTypeConfig, errors.SeverityHigh,
					"failed to save neo4j password to keychain")
			}
		}
		return nil
	}

	return cm.saveConfigFile(creds)
}

// loadConfigFile loads credentials from the config file.
func (cm *CredentialManager) loadConfigFile() (*Credentials, error) {
	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return nil, err
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, err
	}

	return &creds, nil
}

// saveConfigFile saves credentials to the config file with restrictive permissions.
func (cm *CredentialManager) saveConfigFile(creds Credentials) error {
	dir := filepath.Dir(cm.configPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(creds)
	if err != nil {
		return err
	}

	return os.WriteFile(cm.configPath, data, 0600)
}

// promptForPassword prompts the user for the Neo4j password.
func (cm *CredentialManager) promptForPassword() (string, error) {
	fmt.Print("Enter Neo4j password: ")
	pw, err := cm.readSecurely()
	if err != nil {
		return "", err
	}

	if pw == "" {
		return "", errors.ConfigError("neo4j password is required")
	}

	if cm.keyring.IsAvailable() {
		if err := cm.keyring.SaveNeo4jPassword(pw); err == nil {
			fmt.Println("Saved to keychain")
		}
	} else {
		creds := Credentials{Neo4jPassword: pw}
		if err := cm.saveConfigFile(creds); err == nil {
			fmt.Printf("Saved to %s\n", cm.configPath)
		}
	}

	return pw, nil
}

// readSecurely reads a password from stdin without echoing it.
func (cm *CredentialManager) readSecurely() (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		bytes, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(bytes)), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// isInteractive returns true if stdin is a terminal (not piped).
func isInteractive() bool {
	return term.IsTerminal(int(syscall.Stdin))
}

// GetMode returns the current deployment mode.
func (cm *CredentialManager) GetMode() DeploymentMode {
	return cm.mode
}

// GetConfigPath returns the path to the credentials file.
func (cm *CredentialManager) GetConfigPath() string {
	return cm.configPath
}

// HasCredentials checks whether a Neo4j password is configured anywhere in the chain.
func (cm *CredentialManager) HasCredentials() bool {
	if os.Getenv("NEO_PASSWORD") != "" {
		return true
	}

	if cm.keyring.IsAvailable() {
		if pw, err := cm.keyring.GetNeo4jPassword(); err == nil && pw != "" {
			return true
		}
	}

	if creds, err := cm.loadConfigFile(); err == nil && creds.Neo4jPassword != "" {
		return true
	}

	return false
}
