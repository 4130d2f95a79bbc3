// =============================================================================
// Blood Test Parser - Converter Module
// =============================================================================
//
// This module contains the document pipeline. It orchestrates one scanned
// report from OCR to the merged output table.
//
// CONVERSION PIPELINE:
//   1. Extract raw text (tesseract, or a saved .txt dump)
//   2. Write debug dumps of the raw text and normalized lines
//   3. Normalize, detect date columns, parse rows, resolve test names
//   4. Read the template (each document gets its own copy)
//   5. Merge the results into the template
//   6. Check merged values
//   7. Write the output table and the review log
//   8. Archive the input and record the run in the history store
//
// CONCURRENCY:
//   A single document is processed sequentially. A Converter holds no
//   per-document state, so one instance may process many documents from
//   several goroutines at once.
//
// =============================================================================

package converter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ginjaninja78/blood-test-parser/internal/alias"
	"github.com/ginjaninja78/blood-test-parser/internal/config"
	"github.com/ginjaninja78/blood-test-parser/internal/exporter"
	"github.com/ginjaninja78/blood-test-parser/internal/history"
	"github.com/ginjaninja78/blood-test-parser/internal/merger"
	"github.com/ginjaninja78/blood-test-parser/internal/ocr"
	"github.com/ginjaninja78/blood-test-parser/internal/template"
	"github.com/ginjaninja78/blood-test-parser/internal/types"
	"github.com/ginjaninja78/blood-test-parser/internal/validation"
	"github.com/ginjaninja78/blood-test-parser/pkg/utils"
)

// =============================================================================
// RESULT STRUCTURE
// =============================================================================

// Result represents the outcome of processing a single document.
type Result struct {
	// FilePath is the path to the input document.
	FilePath string

	// OutputFile is the path to the merged table.
	// Empty if processing failed or in dry-run mode.
	OutputFile string

	// ReviewLog is the path to the review log, empty when nothing needed review.
	ReviewLog string

	// ArchivePath is where the input was moved, empty when not archived.
	ArchivePath string

	// DebugFiles are the OCR dumps written for this document.
	DebugFiles []string

	// RunID identifies the run in the history store.
	RunID string

	// Success indicates whether the processing was successful.
	Success bool

	// Error contains the error if processing failed.
	Error error

	// Table is the merged output table.
	Table *types.Table

	// Report collects every non-fatal issue.
	Report *types.Report

	// Findings are value checks on the merged table.
	Findings []*validation.ValidationError

	// Stats contains processing statistics.
	Stats ProcessingStats
}

// ProcessingStats contains statistics about the processing.
type ProcessingStats struct {
	OCRMethod   string
	OCRTime     time.Duration
	Lines       int
	DateColumns int
	Results     int
	Unparsed    int

	// ProcessingTime is the time taken to process the document.
	ProcessingTime time.Duration
}

// =============================================================================
// CONVERTER STRUCTURE
// =============================================================================

// RunOptions adjust a single Run.
type RunOptions struct {
	// DryRun parses and merges but writes nothing: no output, review log,
	// debug dump, archive move or history entry.
	DryRun bool
}

// Converter processes documents.
type Converter struct {
	cfg       *config.MainConfig
	engine    *Engine
	ocr       ocr.Provider
	templates *template.Reader
	merger    *merger.Merger
	exporter  *exporter.Exporter
	validator *validation.Validator
	files     *utils.FileManager
	history   *history.Store
	logger    *slog.Logger
}

// =============================================================================
// CONSTRUCTOR
// =============================================================================

// New creates a new Converter.
//
// PARAMETERS:
//   - cfg: The application configuration.
//   - std: The name standardizer, shared read-only across documents.
//   - provider: The OCR provider.
//   - store: The history store, or nil to disable history.
//   - logger: Structured logger (nil uses slog.Default()).
//
// RETURNS:
//   - A new Converter instance.
func New(cfg *config.MainConfig, std *alias.Standardizer, provider ocr.Provider, store *history.Store, logger *slog.Logger) *Converter {
	if logger == nil {
		logger = slog.Default()
	}
	engine := NewEngine(cfg, std, logger)

	files := utils.NewFileManager(cfg.InputDir, cfg.OutputDir, cfg.InputArchiveDir, cfg.DebugDir)
	files.ArchiveOnSuccess = cfg.ArchiveInputs
	files.UseTimestampSubdirs = cfg.ArchiveByDate

	return &Converter{
		cfg:       cfg,
		engine:    engine,
		ocr:       provider,
		templates: template.NewReader(engine.Detector(), logger),
		merger:    merger.NewMerger(std, cfg.DateHeaderLayout, logger),
		exporter:  exporter.New(logger),
		validator: validation.NewValidatorWithOptions(std, validation.ValidationOptions{Placeholders: cfg.PlaceholderValues}),
		files:     files,
		history:   store,
		logger:    logger,
	}
}

// Engine returns the text pipeline.
func (c *Converter) Engine() *Engine {
	return c.engine
}

// =============================================================================
// MAIN PROCESSING FUNCTION
// =============================================================================

// Run executes the pipeline for one document.
//
// RETURNS:
//   - A Result struct containing the outcome of the processing.
//     Result.Error is set for fatal problems only (OCR, template, output);
//     everything else is in Result.Report.
func (c *Converter) Run(ctx context.Context, path string, opts RunOptions) (result Result) {
	startTime := time.Now()
	result = Result{FilePath: path}
	logger := c.logger.With("input", filepath.Base(path))

	defer func() {
		result.Stats.ProcessingTime = time.Since(startTime)
		if !opts.DryRun {
			c.record(ctx, &result, startTime)
		}
	}()

	// =========================================================================
	// STEP 1: EXTRACT TEXT
	// =========================================================================

	logger.Info("document.start", "dry_run", opts.DryRun)

	text, err := c.ocr.Extract(ctx, path)
	if err != nil {
		result.Error = fmt.Errorf("failed to extract text: %w", err)
		return result
	}
	result.Stats.OCRMethod = text.Method
	result.Stats.OCRTime = text.Duration

	// =========================================================================
	// STEP 2-3: PARSE
	// =========================================================================

	parsed := c.engine.Parse(text.Text)
	result.Stats.Lines = len(parsed.Lines)
	result.Stats.DateColumns = len(parsed.Detection.Columns)
	result.Stats.Results = len(parsed.Results)
	result.Stats.Unparsed = len(parsed.Unparsed)

	if !opts.DryRun {
		debug, err := c.files.WriteDebugDump(path, text.Text, parsed.Lines)
		if err != nil {
			// Debug output must never fail a document.
			logger.Warn("debug.dump_failed", "error", err)
		}
		result.DebugFiles = debug
	}

	// =========================================================================
	// STEP 4: READ TEMPLATE
	// =========================================================================

	tmpl, err := c.templates.Read(c.cfg.TemplatePath, c.cfg.SheetName)
	if err != nil {
		result.Error = fmt.Errorf("failed to read template: %w", err)
		return result
	}

	// =========================================================================
	// STEP 5: MERGE
	// =========================================================================

	table, report := c.merger.Merge(tmpl, parsed.Detection.Columns, parsed.Results)
	report.NoDates = parsed.NoDates
	report.Unparsed = parsed.Unparsed
	report.Ambiguous = parsed.Ambiguous
	report.StoppedAt = parsed.StoppedAt
	report.Skipped = parsed.Skipped
	result.Table = table
	result.Report = report

	// =========================================================================
	// STEP 6: CHECK VALUES
	// =========================================================================

	checks := c.validator.ValidateValues(table)
	result.Findings = checks.Errors
	for _, f := range checks.Errors {
		logger.Warn("validation.finding", "rule", f.Rule, "subject", f.Subject, "value", f.Value)
	}

	if opts.DryRun {
		result.Success = true
		logger.Info("document.dry_run", "summary", merger.Summary(report))
		return result
	}

	// =========================================================================
	// STEP 7: WRITE OUTPUT
	// =========================================================================

	outputPath, err := c.writeOutput(path, table)
	if err != nil {
		result.Error = fmt.Errorf("failed to write output: %w", err)
		return result
	}
	result.OutputFile = outputPath

	reviewPath := strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ".review.txt"
	result.ReviewLog, err = utils.WriteReviewLog(utils.ReviewLog{
		InputFile:  path,
		OutputFile: outputPath,
		Report:     report,
		Findings:   formatFindings(checks.Errors),
	}, reviewPath)
	if err != nil {
		logger.Warn("review_log.failed", "error", err)
	}

	// =========================================================================
	// STEP 8: ARCHIVE
	// =========================================================================

	if c.cfg.ArchiveInputs {
		archived, err := c.files.ArchiveInputFile(path)
		if err != nil {
			// Log the error but don't fail the processing.
			logger.Warn("archive.failed", "error", err)
		} else {
			result.ArchivePath = archived
		}
	}

	result.Success = true
	logger.Info("document.done",
		"output", outputPath,
		"review_log", result.ReviewLog,
		"summary", merger.Summary(report),
	)
	return result
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// writeOutput exports the merged table to the output directory.
func (c *Converter) writeOutput(inputPath string, table *types.Table) (string, error) {
	original := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	name := utils.GenerateOutputFileName(
		c.cfg.OutputNameFormat,
		map[string]string{"original": original},
		exporter.Extension(c.cfg.OutputFormat),
	)
	if err := os.MkdirAll(c.cfg.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	outputPath, err := utils.ReserveFile(c.cfg.OutputDir, name)
	if err != nil {
		return "", err
	}

	if err := c.exporter.Export(table, c.cfg.OutputFormat, outputPath); err != nil {
		os.Remove(outputPath)
		return "", err
	}
	return outputPath, nil
}

// record stores the run in the history store. History failures are logged
// and never change the document result.
func (c *Converter) record(ctx context.Context, result *Result, start time.Time) {
	if c.history == nil {
		return
	}

	run := history.Run{
		Input:      result.FilePath,
		Output:     result.OutputFile,
		StartedAt:  start,
		FinishedAt: start.Add(result.Stats.ProcessingTime),
		Status:     history.StatusOK,
		Dates:      result.Stats.DateColumns,
		Results:    result.Stats.Results,
	}
	if result.Error != nil {
		run.Status = history.StatusFailed
		run.Error = result.Error.Error()
	}
	if r := result.Report; r != nil {
		run.CellsWritten = r.CellsWritten
		run.RowsAdded = r.RowsAdded
		run.ColumnsAdded = r.ColumnsAdded
		run.Conflicts = len(r.Conflicts)
		run.Unplaced = len(r.Unplaced)
		run.Ambiguous = len(r.Ambiguous)
		run.Unresolved = r.Unresolved
	}

	id, err := c.history.RecordRun(ctx, run)
	if err != nil {
		c.logger.Warn("history.record_failed", "input", result.FilePath, "error", err)
		return
	}
	result.RunID = id
}

func formatFindings(findings []*validation.ValidationError) []string {
	out := make([]string, len(findings))
	for i, f := range findings {
		out[i] = f.Error()
	}
	return out
}
