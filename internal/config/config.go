package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration settings for a load run.
type Config struct {
	// Mode is the deployment context ("development", "packaged", "ci").
	Mode string `yaml:"mode"`

	Neo4j   Neo4jConfig   `yaml:"neo4j"`
	Loader  LoaderConfig  `yaml:"loader"`
	History HistoryConfig `yaml:"history"`
}

// Neo4jConfig describes how to reach the target graph database.
type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// LoaderConfig mirrors the original dataloader's BentoConfig, minus the
// object-store/queue/search-index fields that are out of scope.
type LoaderConfig struct {
	Dataset           string   `yaml:"dataset"`            // directory containing *.txt/*.tsv input files
	SchemaFiles       []string `yaml:"schema_files"`        // YAML model documents, applied in order
	PropFile          string   `yaml:"prop_file"`           // YAML properties document (id_fields, indexes, save_parent_id)
	Mode              string   `yaml:"loading_mode"`        // "upsert" | "new" | "delete"
	CheatMode         bool     `yaml:"cheat_mode"`          // skip the validation pass
	DryRun            bool     `yaml:"dry_run"`             // validate and plan only, write nothing
	WipeDB            bool     `yaml:"wipe_db"`             // detach-delete the graph before loading
	NoBackup          bool     `yaml:"no_backup"`           // skip the pre-load backup (rejected with split transactions)
	Yes               bool     `yaml:"yes"`                 // skip interactive confirmations
	MaxViolations     int      `yaml:"max_violations"`      // validation short-circuit threshold per file
	SplitTransactions bool     `yaml:"split_transactions"`  // commit every 1000 rows instead of once per pass
	BackupFolder      string   `yaml:"backup_folder"`       // where neo4j-admin dumps are written
	RelPropDelimiter  string   `yaml:"rel_prop_delimiter"`  // default "$"
	ListDelimiter     string   `yaml:"list_delimiter"`      // default ";"
	StrictOneToOne    bool     `yaml:"strict_one_to_one"`   // fail instead of warn-and-replace on one-to-one re-parenting
	Plugins           []PluginSpec `yaml:"plugins"`
}

// PluginSpec names a registered Plugin Port implementation and its params.
type PluginSpec struct {
	Name   string         `yaml:"name"`
	Params map[string]any `yaml:"params"`
}

// HistoryConfig controls the local Load History Ledger.
type HistoryConfig struct {
	Path    string `yaml:"path"`
	Enabled bool   `yaml:"enabled"`
}

// Default returns default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Mode: "development",
		Neo4j: Neo4jConfig{
			URI:      "neo4j://localhost:7687",
			User:     "neo4j",
			Database: "neo4j",
		},
		Loader: LoaderConfig{
			Mode:             "upsert",
			MaxViolations:    100,
			RelPropDelimiter: "$",
			ListDelimiter:    ";",
			BackupFolder:     filepath.Join(homeDir, ".config", "graphload", "backups"),
		},
		History: HistoryConfig{
			Path:    filepath.Join(homeDir, ".config", "graphload", "history.db"),
			Enabled: true,
		},
	}
}

// Load loads configuration from file, .env, and environment variables.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("mode", cfg.Mode)
	v.SetDefault("neo4j", cfg.Neo4j)
	v.SetDefault("loader", cfg.Loader)
	v.SetDefault("history", cfg.History)

	v.SetEnvPrefix("GRAPHLOAD")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".graphload")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".config", "graphload"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// loadEnvFiles loads .env files in order of precedence.
func loadEnvFiles() {
	envFiles := []string{".env.local", ".env"}
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			godotenv.Load(file)
		}
	}

	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".config", "graphload", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		godotenv.Load(homeEnvFile)
	}
}

// applyEnvOverrides applies environment variable overrides to config.
// NEO_PASSWORD matches the original loader's env var name exactly, per spec §6.
func applyEnvOverrides(cfg *Config) {
	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		cfg.Neo4j.URI = uri
	}
	if user := os.Getenv("NEO4J_USER"); user != "" {
		cfg.Neo4j.User = user
	}
	if pass := os.Getenv("NEO_PASSWORD"); pass != "" {
		cfg.Neo4j.Password = pass
	} else if cfg.Neo4j.Password == "" {
		km := NewKeyringManager()
		if km.IsAvailable() {
			if pw, err := km.GetNeo4jPassword(); err == nil && pw != "" {
				cfg.Neo4j.Password = pw
			}
		}
	}
	if db := os.Getenv("NEO4J_DATABASE"); db != "" {
		cfg.Neo4j.Database = db
	}

	if dataset := os.Getenv("GRAPHLOAD_DATASET"); dataset != "" {
		cfg.Loader.Dataset = expandPath(dataset)
	}
	if mode := os.Getenv("GRAPHLOAD_MODE"); mode != "" {
		cfg.Loader.Mode = mode
	}
	if mv := os.Getenv("GRAPHLOAD_MAX_VIOLATIONS"); mv != "" {
		if n, err := strconv.Atoi(mv); err == nil {
			cfg.Loader.MaxViolations = n
		}
	}
	if backupFolder := os.Getenv("GRAPHLOAD_BACKUP_FOLDER"); backupFolder != "" {
		cfg.Loader.BackupFolder = expandPath(backupFolder)
	}

	if historyPath := os.Getenv("GRAPHLOAD_HISTORY_PATH"); historyPath != "" {
		cfg.History.Path = expandPath(historyPath)
	}

	if mode := os.Getenv("GRAPHLOAD_DEPLOY_MODE"); mode != "" {
		cfg.Mode = mode
	}
}

// expandPath expands ~ to the home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Save writes configuration to file.
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	v.Set("mode", c.Mode)
	v.Set("neo4j", c.Neo4j)
	v.Set("loader", c.Loader)
	v.Set("history", c.History)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
