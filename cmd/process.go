// =============================================================================
// Blood Test Parser - Process Command
// =============================================================================
//
// This file defines the 'process' command, the main command for merging
// scanned reports into the results spreadsheet.
//
// COMMAND USAGE:
//   bloodtest process [flags]
//
// FLAGS:
//   --file      : Process a single document instead of the input directory
//   --dry-run   : Parse and merge, but write nothing
//   --template  : Override template_path
//   --sheet     : Override sheet_name
//   --format    : Override output_format (csv, xlsx, xml)
//
// PROCESSING PIPELINE:
//   1. Load configuration, alias table and history store
//   2. Discover documents (images and .txt OCR dumps) in the input directory
//   3. Process documents concurrently, at most max_concurrency at a time
//   4. Print results and write the processing summary
//
// =============================================================================

package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/blood-test-parser/internal/config"
	"github.com/ginjaninja78/blood-test-parser/internal/converter"
	"github.com/ginjaninja78/blood-test-parser/internal/ocr"
	"github.com/ginjaninja78/blood-test-parser/pkg/utils"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

// dryRun parses and merges without writing anything.
var dryRun bool

// filePath is the path to a single document to process.
var filePath string

var (
	templateOverride string
	sheetOverride    string
	formatOverride   string
)

// =============================================================================
// PROCESS COMMAND DEFINITION
// =============================================================================

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process scanned reports and merge them into the results spreadsheet",
	Long: `The process command scans the input directory for documents (PNG, JPEG,
TIFF, BMP, GIF, WebP and PNM images, or .txt OCR dumps), extracts the result
table of each one and merges it into a copy of the template.

Documents are processed concurrently. Each document is independent: a failed
OCR run or an unreadable template aborts only that document.

On successful processing:
  - The merged table is placed in the output directory
  - A review log is written next to it when anything needs attention
  - The input is moved to the input archive (archive_inputs: true)

On error:
  - The input remains in the input directory
  - Processing continues with other documents (continue_on_error: true)`,

	RunE: func(cmd *cobra.Command, args []string) error {
		return runProcess(cmd)
	},
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Parse and merge without writing output, logs or archives")
	processCmd.Flags().StringVar(&filePath, "file", "", "Path to a single document to process")
	processCmd.Flags().StringVar(&templateOverride, "template", "", "Template spreadsheet (.xlsx or .csv), overrides template_path")
	processCmd.Flags().StringVar(&sheetOverride, "sheet", "", "Template worksheet name, overrides sheet_name")
	processCmd.Flags().StringVar(&formatOverride, "format", "", "Output format (csv, xlsx, xml), overrides output_format")
}

// =============================================================================
// MAIN PROCESSING FUNCTION
// =============================================================================

func runProcess(cmd *cobra.Command) error {
	startTime := time.Now()
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	// =========================================================================
	// STEP 1: LOAD CONFIGURATION
	// =========================================================================

	fmt.Fprintln(out, "=== Blood Test Parser ===")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyOverrides(cfg); err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	if !dryRun {
		if err := cfg.EnsureDirectories(); err != nil {
			return err
		}
	}

	std, err := loadStandardizer(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to load alias table: %w", err)
	}

	var conv *converter.Converter
	{
		store, err := openHistory(ctx, cfg, logger)
		if err != nil {
			return err
		}
		if store != nil {
			defer store.Close()
		}
		conv = converter.New(cfg, std, ocr.NewExtractor(cfg.OCR, logger), store, logger)
	}

	// =========================================================================
	// STEP 2: DISCOVER INPUT FILES
	// =========================================================================

	var inputFiles []string
	if filePath != "" {
		inputFiles = []string{filePath}
	} else {
		fm := utils.NewFileManager(cfg.InputDir, cfg.OutputDir, cfg.InputArchiveDir, cfg.DebugDir)
		inputFiles, err = fm.DiscoverInputFiles(ocr.IsSupported)
		if err != nil {
			return fmt.Errorf("failed to discover input files: %w", err)
		}
	}

	if len(inputFiles) == 0 {
		fmt.Fprintln(out, "No documents found in the input directory.")
		return nil
	}
	fmt.Fprintf(out, "Found %d document(s) to process\n", len(inputFiles))
	if dryRun {
		fmt.Fprintln(out, "Dry run: nothing will be written")
	}

	// =========================================================================
	// STEP 3: PROCESS FILES CONCURRENTLY
	// =========================================================================

	results := processAll(ctx, conv, cfg, inputFiles, converter.RunOptions{DryRun: dryRun})

	// =========================================================================
	// STEP 4: COLLECT RESULTS AND GENERATE SUMMARY
	// =========================================================================

	summary := utils.ProcessingSummary{StartTime: startTime, TotalFiles: len(inputFiles)}
	for _, result := range results {
		name := filepath.Base(result.FilePath)
		if !result.Success {
			summary.FailedFiles++
			summary.FailedFilesList = append(summary.FailedFilesList, utils.FailedFileInfo{
				InputFile:    result.FilePath,
				ErrorMessage: result.Error.Error(),
			})
			fmt.Fprintf(out, "  ✗ %s: %v\n", name, result.Error)
			continue
		}

		summary.SuccessfulFiles++
		issues := 0
		if r := result.Report; r != nil {
			issues = r.IssueCount()
			summary.CellsWritten += r.CellsWritten
			summary.Conflicts += len(r.Conflicts)
			summary.Unresolved += len(r.Unresolved)
		}
		summary.TotalResults += result.Stats.Results
		summary.ProcessedFiles = append(summary.ProcessedFiles, utils.ProcessedFileInfo{
			InputFile:   result.FilePath,
			OutputFile:  result.OutputFile,
			ReviewLog:   result.ReviewLog,
			ArchivePath: result.ArchivePath,
			DateColumns: result.Stats.DateColumns,
			Results:     result.Stats.Results,
			Issues:      issues,
			ProcessTime: result.Stats.ProcessingTime,
		})

		target := result.OutputFile
		if target == "" {
			target = "(dry run)"
		}
		fmt.Fprintf(out, "  ✓ %s -> %s (%d result(s), %d issue(s))\n", name, target, result.Stats.Results, issues)
	}
	summary.EndTime = time.Now()

	fmt.Fprintln(out, "\n=== Processing Complete ===")
	fmt.Fprintf(out, "Total documents: %d\n", summary.TotalFiles)
	fmt.Fprintf(out, "Successful:      %d\n", summary.SuccessfulFiles)
	fmt.Fprintf(out, "Failed:          %d\n", summary.FailedFiles)
	fmt.Fprintf(out, "Cells written:   %d\n", summary.CellsWritten)
	fmt.Fprintf(out, "Conflicts:       %d\n", summary.Conflicts)
	fmt.Fprintf(out, "Time elapsed:    %s\n", summary.EndTime.Sub(startTime))

	if !dryRun && len(inputFiles) > 1 {
		path, err := utils.WriteSummaryLog(summary, cfg.OutputDir)
		if err != nil {
			logger.Warn("summary.write_failed", "error", err)
		} else {
			fmt.Fprintf(out, "Summary:         %s\n", path)
		}
	}

	if summary.FailedFiles > 0 {
		return fmt.Errorf("%d of %d document(s) failed", summary.FailedFiles, summary.TotalFiles)
	}
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// applyOverrides applies command-line overrides on top of the configuration.
func applyOverrides(cfg *config.MainConfig) error {
	if templateOverride != "" {
		cfg.TemplatePath = templateOverride
	}
	if sheetOverride != "" {
		cfg.SheetName = sheetOverride
	}
	if formatOverride != "" {
		switch formatOverride {
		case "csv", "xlsx", "xml":
			cfg.OutputFormat = formatOverride
		default:
			return fmt.Errorf("unsupported --format %q (want csv, xlsx or xml)", formatOverride)
		}
	}
	return nil
}

// documentRunner processes one document. *converter.Converter implements it.
type documentRunner interface {
	Run(ctx context.Context, path string, opts converter.RunOptions) converter.Result
}

// processAll runs every document through the converter, at most
// cfg.MaxConcurrency at a time. Results are returned in input order.
// When continue_on_error is off, the first failure cancels documents that
// have not started yet.
func processAll(ctx context.Context, conv documentRunner, cfg *config.MainConfig, files []string, opts converter.RunOptions) []converter.Result {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	sem := make(chan struct{}, cfg.MaxConcurrency)
	results := make([]converter.Result, len(files))

	for i, file := range files {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = converter.Result{FilePath: path, Error: fmt.Errorf("skipped: %w", ctx.Err())}
				return
			}
			defer func() { <-sem }()

			if err := ctx.Err(); err != nil {
				results[i] = converter.Result{FilePath: path, Error: fmt.Errorf("skipped: %w", err)}
				return
			}

			results[i] = conv.Run(ctx, path, opts)
			if !results[i].Success && !cfg.ContinuesOnError() {
				cancel()
			}
		}(i, file)
	}

	wg.Wait()
	return results
}
