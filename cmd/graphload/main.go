package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ccdi-dataloader/graphload/internal/config"
	"github.com/ccdi-dataloader/graphload/internal/logging"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	cfgFile string
	verbose bool
	logger  *logrus.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "graphload",
	Short:   "Project tab-separated biomedical data files into a Neo4j property graph",
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = logrus.New()
		if verbose {
			logger.SetLevel(logrus.DebugLevel)
		} else {
			logger.SetLevel(logrus.InfoLevel)
		}
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

		// The Graph Writer and its supporting packages log through slog.Default();
		// install a rotating file handler so that plumbing survives past stdout.
		logCfg := logging.DefaultConfig(verbose)
		if fileLogger, err := logging.NewLogger(logCfg); err == nil {
			slog.SetDefault(fileLogger.SlogLogger())
		} else {
			logger.WithError(err).Warn("failed to initialize file logging; graph package logs to stdout only")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .graphload/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.SetVersionTemplate(`graphload {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)

	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(historyCmd)
}

func loadConfigOrDefault() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		logger.WithError(err).Warn("failed to load config, using defaults")
		cfg = config.Default()
	}
	return cfg
}
