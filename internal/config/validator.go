package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ccdi-dataloader/graphload/internal/errors"
)

// ValidationContext specifies what configuration is required for a command.
type ValidationContext string

const (
	// ValidationContextLoad is required by the load command: a reachable
	// Neo4j target plus a coherent loader configuration.
	ValidationContextLoad ValidationContext = "load"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// AddError adds an error to the validation result.
func (vr *ValidationResult) AddError(format string, args ...interface{}) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, fmt.Sprintf(format, args...))
}

// AddWarning adds a warning to the validation result.
func (vr *ValidationResult) AddWarning(format string, args ...interface{}) {
	vr.Warnings = append(vr.Warnings, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are any errors.
func (vr *ValidationResult) HasErrors() bool {
	return !vr.Valid || len(vr.Errors) > 0
}

// Error returns a formatted error message.
func (vr *ValidationResult) Error() string {
	if !vr.HasErrors() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Configuration validation failed:\n")
	for _, err := range vr.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err))
	}

	if len(vr.Warnings) > 0 {
		sb.WriteString("\nWarnings:\n")
		for _, warn := range vr.Warnings {
			sb.WriteString(fmt.Sprintf("  ! %s\n", warn))
		}
	}

	return sb.String()
}

// Validate validates configuration for the given context with auto-detected mode.
func (c *Config) Validate(ctx ValidationContext) *ValidationResult {
	mode := DetectMode()
	return c.ValidateWithMode(ctx, mode)
}

// ValidateWithMode validates configuration for the given context and deployment mode.
func (c *Config) ValidateWithMode(ctx ValidationContext, mode DeploymentMode) *ValidationResult {
	result := &ValidationResult{Valid: true}

	switch ctx {
	case ValidationContextLoad:
		c.validateNeo4j(result, mode)
		c.validateLoader(result)
	}

	return result
}

// ValidateOrFatal validates configuration and panics (caught at the CLI boundary) if invalid.
func (c *Config) ValidateOrFatal(ctx ValidationContext) {
	mode := DetectMode()
	c.ValidateOrFatalWithMode(ctx, mode)
}

// ValidateOrFatalWithMode validates configuration with an explicit mode and panics if invalid.
func (c *Config) ValidateOrFatalWithMode(ctx ValidationContext, mode DeploymentMode) {
	result := c.ValidateWithMode(ctx, mode)
	if result.HasErrors() {
		fmt.Println(result.Error())
		fmt.Printf("\nDeployment mode: %s (%s)\n", mode, mode.Description())
		panic(errors.ConfigError(result.Error()))
	}

	if len(result.Warnings) > 0 {
		fmt.Println("Configuration warnings:")
		for _, warn := range result.Warnings {
			fmt.Printf("  ! %s\n", warn)
		}
		fmt.Printf("\nDeployment mode: %s\n", mode)
	}
}

func (c *Config) validateNeo4j(result *ValidationResult, mode DeploymentMode) {
	if c.Neo4j.URI == "" {
		result.AddError("neo4j URI is required but not set")
	} else if _, err := url.Parse(c.Neo4j.URI); err != nil {
		result.AddError("neo4j URI is invalid: %v", err)
	} else if strings.Contains(c.Neo4j.URI, "localhost") && mode.RequiresSecureCredentials() {
		result.AddError("neo4j URI uses localhost. In %s mode (%s), provide a remote database URI.", mode, mode.Description())
	}

	if c.Neo4j.User == "" {
		result.AddError("neo4j user is required but not set")
	}

	if c.Neo4j.Password == "" {
		result.AddError("neo4j password is required but not set; use --password, NEO_PASSWORD, or the keychain")
	} else if mode.RequiresSecureCredentials() {
		insecure := []string{"neo4j", "password", "changeme"}
		for _, p := range insecure {
			if c.Neo4j.Password == p {
				result.AddError("neo4j password is an insecure default (%s); not allowed in %s mode", p, mode)
			}
		}
	}

	if c.Neo4j.Database == "" {
		result.AddWarning("neo4j database is not set, will use 'neo4j' as default")
	}
}

func (c *Config) validateLoader(result *ValidationResult) {
	if c.Loader.Dataset == "" {
		result.AddError("dataset directory is required but not set")
	}

	if len(c.Loader.SchemaFiles) == 0 {
		result.AddError("at least one schema file is required but none were set")
	}

	if c.Loader.PropFile == "" {
		result.AddError("a properties file is required but not set")
	}

	switch c.Loader.Mode {
	case "upsert", "new", "delete":
	case "":
		result.AddError("loading mode is required (upsert, new, or delete)")
	default:
		result.AddError("loading mode %q is not one of upsert, new, delete", c.Loader.Mode)
	}

	if c.Loader.SplitTransactions && c.Loader.NoBackup {
		result.AddError("split-transaction loads require a backup; --no-backup cannot be combined with --split-transactions")
	}

	if c.Loader.MaxViolations <= 0 {
		result.AddWarning("max-violations is not set, will use default (100)")
	}
}

// RequireNeo4j checks that Neo4j configuration is valid and returns an error if not.
func (c *Config) RequireNeo4j() error {
	result := &ValidationResult{Valid: true}
	c.validateNeo4j(result, DetectMode())

	if result.HasErrors() {
		return errors.ConfigError(result.Error())
	}

	return nil
}
