package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ccdi-dataloader/graphload/internal/config"
	"github.com/ccdi-dataloader/graphload/internal/graph"
	"github.com/ccdi-dataloader/graphload/internal/history"
	"github.com/ccdi-dataloader/graphload/internal/load"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Validate a dataset and project it into Neo4j",
	Long: `load runs the full projection pipeline over a directory of
tab-separated data files: it validates every file against the schema,
takes a pre-load backup, then writes nodes and edges to Neo4j.

Examples:
  graphload load --dataset ./clinical-data --schema model.yaml --prop-file properties.yaml
  graphload load --dataset ./clinical-data --schema model.yaml --prop-file properties.yaml --mode delete
  graphload load --dataset ./clinical-data --schema model.yaml --prop-file properties.yaml --dry-run`,
	RunE: runLoad,
}

func init() {
	loadCmd.Flags().String("uri", "", "Neo4j connection URI (overrides config)")
	loadCmd.Flags().String("user", "", "Neo4j username (overrides config)")
	loadCmd.Flags().String("password", "", "Neo4j password (overrides NEO_PASSWORD and the keychain)")
	loadCmd.Flags().String("database", "", "Neo4j database name (overrides config)")

	loadCmd.Flags().StringArray("schema", nil, "schema model YAML file (repeatable, applied in order)")
	loadCmd.Flags().String("prop-file", "", "schema properties YAML file")
	loadCmd.Flags().String("dataset", "", "directory containing *.txt/*.tsv input files")

	loadCmd.Flags().String("mode", "upsert", "loading mode: upsert, new, or delete")
	loadCmd.Flags().Bool("cheat-mode", false, "skip the file validation pass")
	loadCmd.Flags().Bool("dry-run", false, "validate and plan only, write nothing")
	loadCmd.Flags().Bool("wipe-db", false, "detach-delete the entire graph before loading")
	loadCmd.Flags().Bool("no-backup", false, "skip the pre-load backup (rejected together with --split-transactions)")
	loadCmd.Flags().String("backup-folder", "", "directory neo4j-admin writes the pre-load dump to")
	loadCmd.Flags().Bool("split-transactions", false, "commit every 1000 rows instead of once per pass")
	loadCmd.Flags().Int("max-violations", 0, "validation short-circuit threshold per file (0 = use config default)")
	loadCmd.Flags().Bool("strict-one-to-one", false, "reject instead of warn-and-replace on one-to-one re-parenting")
	loadCmd.Flags().Bool("yes", false, "skip interactive confirmations")
	loadCmd.Flags().StringArray("plugin", nil, "registered plugin name to run during the edge pass (repeatable)")
	loadCmd.Flags().String("validation-log", "", "path to write the validation log to (default: <dataset>/validation.log)")
}

func runLoad(cmd *cobra.Command, args []string) error {
	cfg := loadConfigOrDefault()
	applyLoadFlags(cmd, cfg)

	mode := config.DetectMode()
	result := cfg.Validate(config.ValidationContextLoad)
	if result.HasErrors() {
		return fmt.Errorf("%s", result.Error())
	}
	for _, w := range result.Warnings {
		logger.Warn(w)
	}

	cm := config.NewCredentialManager()
	flagPassword, _ := cmd.Flags().GetString("password")
	password, err := cm.GetNeo4jPassword(flagPassword)
	if err != nil {
		return err
	}
	cfg.Neo4j.Password = password

	if !cfg.Loader.Yes && !cfg.Loader.DryRun && mode.AllowsInteractivePrompts() {
		if cfg.Loader.Mode == "delete" {
			fmt.Printf("About to delete nodes matching %s against %s. Continue? [y/N] ", cfg.Loader.Dataset, cfg.Neo4j.URI)
			var answer string
			fmt.Scanln(&answer)
			if answer != "y" && answer != "Y" {
				fmt.Println("Aborted.")
				return nil
			}
		}
	}

	ctx := context.Background()

	fmt.Printf("graphload (mode=%s, deployment=%s)\n", cfg.Loader.Mode, mode)
	fmt.Printf("  dataset:    %s\n", cfg.Loader.Dataset)
	fmt.Printf("  schema:     %v\n", cfg.Loader.SchemaFiles)
	fmt.Printf("  properties: %s\n", cfg.Loader.PropFile)
	fmt.Printf("  target:     %s\n", cfg.Neo4j.URI)

	fmt.Printf("\n[1/3] Connecting to history ledger...\n")
	ledgerPath := cfg.History.Path
	if ledgerPath == "" {
		ledgerPath = history.DefaultPath()
	}
	ledger, err := history.Open(ledgerPath, logger)
	if err != nil {
		logger.WithError(err).Warn("failed to open load history ledger; continuing without it")
	} else {
		defer ledger.Close()
	}

	fmt.Printf("\n[2/3] Connecting to Neo4j at %s...\n", cfg.Neo4j.URI)
	backend, err := graph.NewNeo4jBackend(ctx, cfg.Neo4j.URI, cfg.Neo4j.User, cfg.Neo4j.Password, cfg.Neo4j.Database)
	if err != nil {
		return fmt.Errorf("neo4j connection failed: %w", err)
	}
	defer backend.Close(ctx)
	fmt.Printf("  connected\n")

	fmt.Printf("\n[3/3] Running load...\n")
	startTime := time.Now()

	validationLogFlag, _ := cmd.Flags().GetString("validation-log")
	validationLogPath := pathOrDefault(validationLogFlag, cfg.Loader.Dataset, "validation.log")
	pluginParams := make(map[string]map[string]any, len(cfg.Loader.Plugins))
	var pluginNames []string
	for _, p := range cfg.Loader.Plugins {
		pluginNames = append(pluginNames, p.Name)
		pluginParams[p.Name] = p.Params
	}

	orch := load.NewOrchestrator(backend, ledger, logger)
	runResult, err := orch.Run(ctx, load.Options{
		Dataset:           cfg.Loader.Dataset,
		SchemaFiles:       cfg.Loader.SchemaFiles,
		PropFile:          cfg.Loader.PropFile,
		Mode:              graph.LoadMode(cfg.Loader.Mode),
		CheatMode:         cfg.Loader.CheatMode,
		DryRun:            cfg.Loader.DryRun,
		WipeDB:            cfg.Loader.WipeDB,
		NoBackup:          cfg.Loader.NoBackup,
		BackupFolder:      cfg.Loader.BackupFolder,
		SplitTransactions: cfg.Loader.SplitTransactions,
		MaxViolations:     cfg.Loader.MaxViolations,
		StrictOneToOne:    cfg.Loader.StrictOneToOne,
		ValidationLogPath: validationLogPath,
		PluginNames:       pluginNames,
		PluginParams:      pluginParams,
	})
	if err != nil {
		if runResult != nil && runResult.Aborted {
			fmt.Printf("\n✗ Load aborted: %s\n", runResult.AbortReason)
			fmt.Printf("  validation log: %s\n", validationLogPath)
		}
		return err
	}

	duration := time.Since(startTime)
	fmt.Printf("\n✓ Load complete in %v\n", duration)
	fmt.Printf("  files loaded: %d\n", runResult.FilesLoaded)
	for label, n := range runResult.Counters.Created {
		fmt.Printf("  created %-20s %d\n", label, n)
	}
	for label, n := range runResult.Counters.Updated {
		fmt.Printf("  updated %-20s %d\n", label, n)
	}
	for label, n := range runResult.Counters.Deleted {
		fmt.Printf("  deleted %-20s %d\n", label, n)
	}
	if runResult.PluginCounters != nil && runResult.PluginCounters.NodesCreated > 0 {
		fmt.Printf("  plugin-synthesized nodes: %d\n", runResult.PluginCounters.NodesCreated)
	}

	return nil
}

func applyLoadFlags(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetString("uri"); v != "" {
		cfg.Neo4j.URI = v
	}
	if v, _ := cmd.Flags().GetString("user"); v != "" {
		cfg.Neo4j.User = v
	}
	if v, _ := cmd.Flags().GetString("database"); v != "" {
		cfg.Neo4j.Database = v
	}
	if v, _ := cmd.Flags().GetStringArray("schema"); len(v) > 0 {
		cfg.Loader.SchemaFiles = v
	}
	if v, _ := cmd.Flags().GetString("prop-file"); v != "" {
		cfg.Loader.PropFile = v
	}
	if v, _ := cmd.Flags().GetString("dataset"); v != "" {
		cfg.Loader.Dataset = v
	}
	if v, _ := cmd.Flags().GetString("mode"); v != "" {
		cfg.Loader.Mode = v
	}
	if v, _ := cmd.Flags().GetBool("cheat-mode"); v {
		cfg.Loader.CheatMode = v
	}
	if v, _ := cmd.Flags().GetBool("dry-run"); v {
		cfg.Loader.DryRun = v
	}
	if v, _ := cmd.Flags().GetBool("wipe-db"); v {
		cfg.Loader.WipeDB = v
	}
	if v, _ := cmd.Flags().GetBool("no-backup"); v {
		cfg.Loader.NoBackup = v
	}
	if v, _ := cmd.Flags().GetString("backup-folder"); v != "" {
		cfg.Loader.BackupFolder = v
	}
	if v, _ := cmd.Flags().GetBool("split-transactions"); v {
		cfg.Loader.SplitTransactions = v
	}
	if v, _ := cmd.Flags().GetInt("max-violations"); v > 0 {
		cfg.Loader.MaxViolations = v
	}
	if v, _ := cmd.Flags().GetBool("strict-one-to-one"); v {
		cfg.Loader.StrictOneToOne = v
	}
	if v, _ := cmd.Flags().GetBool("yes"); v {
		cfg.Loader.Yes = v
	}
	if names, _ := cmd.Flags().GetStringArray("plugin"); len(names) > 0 {
		for _, name := range names {
			cfg.Loader.Plugins = append(cfg.Loader.Plugins, config.PluginSpec{Name: name})
		}
	}
}

func pathOrDefault(path, dir, name string) string {
	if path != "" {
		return path
	}
	return filepath.Join(dir, name)
}
