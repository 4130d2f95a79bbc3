// =============================================================================
// Blood Test Parser - Root Command
// =============================================================================
//
// This file defines the root command for the Cobra CLI. The root command is
// the base command that all other commands are attached to.
//
// COBRA CLI STRUCTURE:
//   rootCmd (bloodtest)
//   ├── processCmd    (bloodtest process)
//   ├── parseCmd      (bloodtest parse)
//   ├── validateCmd   (bloodtest validate)
//   ├── unresolvedCmd (bloodtest unresolved)
//   └── versionCmd    (bloodtest version)
//
// CONFIGURATION:
//   The root command is responsible for:
//   1. Setting up global flags (--config, --verbose)
//   2. Loading the configuration shared by every subcommand
//   3. Setting up logging
//
// =============================================================================

package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/blood-test-parser/internal/alias"
	"github.com/ginjaninja78/blood-test-parser/internal/config"
	"github.com/ginjaninja78/blood-test-parser/internal/history"
	"github.com/ginjaninja78/blood-test-parser/pkg/utils"
)

// =============================================================================
// GLOBAL VARIABLES
// =============================================================================

// cfgFile holds the path to the main configuration file.
// This can be overridden using the --config flag.
var cfgFile string

// verbose enables debug logging when set to true.
var verbose bool

// =============================================================================
// ROOT COMMAND DEFINITION
// =============================================================================

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "bloodtest",
	Short: "Blood Test Parser - Merge scanned lab reports into a results spreadsheet",
	Long: `Blood Test Parser reads scanned blood test reports (or saved OCR text),
finds the result dates and test rows, standardizes test names through an
alias table and merges the values into a results spreadsheet.

Key Features:
  - Tesseract OCR tuned for tabular lab reports
  - Deterministic test-name standardization with a configurable alias table
  - Non-destructive merging: existing template values are never overwritten
  - Review logs listing every conflict, unresolved name and unparsed line
  - CSV, XLSX and XML output

Example Usage:
  bloodtest process                       # Process all documents in the input directory
  bloodtest process --file scan.png       # Process one document
  bloodtest parse dump.txt                # Inspect how an OCR dump is parsed
  bloodtest validate                      # Check configuration, aliases and template
  bloodtest unresolved                    # Names the alias table is missing`,

	SilenceUsage: true,

	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// =============================================================================
// EXECUTE FUNCTION
// =============================================================================

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// =============================================================================
// INITIALIZATION
// =============================================================================

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"config.yaml",
		"Path to the main configuration file",
	)

	rootCmd.PersistentFlags().BoolVarP(
		&verbose,
		"verbose",
		"v",
		false,
		"Enable verbose output for debugging",
	)
}

// =============================================================================
// SHARED SETUP
// =============================================================================

// loadConfig loads the configuration file. When --config was not given and
// the default file does not exist, built-in defaults are used.
func loadConfig(cmd *cobra.Command) (*config.MainConfig, error) {
	if !cmd.Flags().Changed("config") && !utils.FileExists(cfgFile) {
		return config.Default(), nil
	}
	cfg, err := config.LoadMainConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the text logger for a command. The returned function
// closes the log file, if any.
func newLogger(cfg *config.MainConfig) (*slog.Logger, func(), error) {
	level := parseLevel(cfg.LogLevel)
	if verbose {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stderr
	closer := func() {}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
		closer = func() { f.Close() }
	}

	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger, closer, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadStandardizer loads the alias table named in the configuration.
func loadStandardizer(cfg *config.MainConfig, logger *slog.Logger) (*alias.Standardizer, error) {
	table, err := alias.Load(cfg.AliasFile, cfg.NameRules)
	if err != nil {
		return nil, err
	}
	source := cfg.AliasFile
	if source == "" {
		source = "built-in"
	}
	logger.Debug("alias.loaded", "source", source, "entries", table.Len(), "canonicals", len(table.Canonicals()))
	for _, c := range table.Collisions() {
		logger.Warn("alias.fold_collision", "key", c.Key, "canonicals", strings.Join(c.Canonicals, ","))
	}
	return alias.NewStandardizer(table, logger), nil
}

// openHistory opens the history store, or returns nil when it is disabled.
func openHistory(ctx context.Context, cfg *config.MainConfig, logger *slog.Logger) (*history.Store, error) {
	if cfg.HistoryDB == "" {
		return nil, nil
	}
	store, err := history.Open(ctx, cfg.HistoryDB, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}
	return store, nil
}
