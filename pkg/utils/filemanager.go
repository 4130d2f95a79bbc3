// =============================================================================
// Blood Test Parser - File Manager Utility
// =============================================================================
//
// This module provides file management utilities for the parser, including:
//   - Input discovery (scanned images and OCR text dumps)
//   - Input archival after successful processing
//   - Output file naming
//   - Review logs, processing summaries and debug dumps
//
// ARCHIVAL STRATEGY:
//   - Inputs are moved to input_archive after successful processing
//   - Failed inputs remain in their original location
//   - An archived name that already exists gets a timestamp suffix
//
// =============================================================================

package utils

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ginjaninja78/blood-test-parser/internal/types"
)

// =============================================================================
// FILE MANAGER
// =============================================================================

// FileManager handles file operations for the parser.
type FileManager struct {
	// InputDir is the directory scanned for documents.
	InputDir string

	// OutputDir receives merged tables and logs.
	OutputDir string

	// InputArchiveDir receives processed inputs.
	InputArchiveDir string

	// DebugDir receives OCR dumps. Empty disables dumps.
	DebugDir string

	// UseTimestampSubdirs creates date-based subdirectories in the archive.
	// Example: input_archive/2024/01/15/report.png
	UseTimestampSubdirs bool

	// ArchiveOnSuccess determines whether inputs are moved after success.
	ArchiveOnSuccess bool
}

// NewFileManager creates a new FileManager with the specified directories.
func NewFileManager(inputDir, outputDir, inputArchiveDir, debugDir string) *FileManager {
	return &FileManager{
		InputDir:        inputDir,
		OutputDir:       outputDir,
		InputArchiveDir: inputArchiveDir,
		DebugDir:        debugDir,
	}
}

// =============================================================================
// FILE DISCOVERY
// =============================================================================

// DiscoverInputFiles lists the files in the input directory accepted by the
// filter, sorted by name. Subdirectories and hidden files are skipped.
//
// PARAMETERS:
//   - accept: Reports whether a file name is a processable document.
//             Nil accepts every file.
//
// RETURNS:
//   - A slice of file paths.
//   - An error if the directory cannot be read.
func (fm *FileManager) DiscoverInputFiles(accept func(string) bool) ([]string, error) {
	entries, err := os.ReadDir(fm.InputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if accept != nil && !accept(name) {
			continue
		}
		files = append(files, filepath.Join(fm.InputDir, name))
	}
	sort.Strings(files)
	return files, nil
}

// =============================================================================
// FILE ARCHIVAL
// =============================================================================

// ArchiveInputFile moves a processed input to the archive directory.
//
// PARAMETERS:
//   - filePath: The path to the file to archive.
//
// RETURNS:
//   - The path to the archived file (the original path when archiving is off).
//   - An error if archival fails.
func (fm *FileManager) ArchiveInputFile(filePath string) (string, error) {
	if !fm.ArchiveOnSuccess {
		return filePath, nil
	}

	archivePath := fm.getArchivePath(fm.InputArchiveDir, filePath)
	if err := os.MkdirAll(filepath.Dir(archivePath), 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	if err := os.Rename(filePath, archivePath); err != nil {
		// If rename fails (e.g., cross-device), try copy and delete.
		if err := copyFile(filePath, archivePath); err != nil {
			return "", fmt.Errorf("failed to copy file to archive: %w", err)
		}
		if err := os.Remove(filePath); err != nil {
			return "", fmt.Errorf("failed to remove original file: %w", err)
		}
	}

	return archivePath, nil
}

// getArchivePath constructs a free archive path for a file.
func (fm *FileManager) getArchivePath(archiveDir, filePath string) string {
	fileName := filepath.Base(filePath)
	now := time.Now()

	dir := archiveDir
	if fm.UseTimestampSubdirs {
		dir = filepath.Join(
			archiveDir,
			fmt.Sprintf("%d", now.Year()),
			fmt.Sprintf("%02d", now.Month()),
			fmt.Sprintf("%02d", now.Day()),
		)
	}

	path := filepath.Join(dir, fileName)
	if !FileExists(path) {
		return path
	}
	ext := filepath.Ext(fileName)
	stem := strings.TrimSuffix(fileName, ext)
	return filepath.Join(dir, fmt.Sprintf("%s_%s%s", stem, now.Format("20060102_150405"), ext))
}

// =============================================================================
// OUTPUT FILE NAMING
// =============================================================================

// ReserveFile creates an empty file called name in dir and returns its path.
// When the name is taken, "_2", "_3", ... is inserted before the extension.
// Creation is exclusive, so concurrent workers never share a path.
func ReserveFile(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for n := 1; n <= maxReserveAttempts; n++ {
		candidate := name
		if n > 1 {
			candidate = fmt.Sprintf("%s_%d%s", stem, n, ext)
		}
		path := filepath.Join(dir, candidate)

		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create output file: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("failed to create output file: %w", err)
		}
		return path, nil
	}
	return "", fmt.Errorf("no free name for %s in %s after %d attempts", name, dir, maxReserveAttempts)
}

const maxReserveAttempts = 1000

// GenerateOutputFileName generates an output file name.
//
// PARAMETERS:
//   - format: The format string for the file name.
//             Placeholders:
//               {uuid}      - A random UUID
//               {timestamp} - Current timestamp (YYYYMMDD_HHMMSS)
//               {date}      - Current date (YYYYMMDD)
//               {time}      - Current time (HHMMSS)
//               {original}  - Input file name (without extension)
//   - params: Extra placeholder values, e.g. {"original": "report"}.
//   - ext: The extension to ensure, with leading dot.
//
// RETURNS:
//   - The generated file name.
//
// EXAMPLE:
//   format: "{original}_{timestamp}_{uuid}"
//   params: {"original": "march_bloods"}
//   output: "march_bloods_20240115_143022_6f1c0e9a-2b7d-4c43-9a51-3d8e2f4b7c10.csv"
func GenerateOutputFileName(format string, params map[string]string, ext string) string {
	now := time.Now()

	replacements := map[string]string{
		"{uuid}":      uuid.New().String(),
		"{timestamp}": now.Format("20060102_150405"),
		"{date}":      now.Format("20060102"),
		"{time}":      now.Format("150405"),
	}
	for key, value := range params {
		replacements["{"+key+"}"] = value
	}

	result := format
	for placeholder, value := range replacements {
		result = strings.ReplaceAll(result, placeholder, value)
	}

	// Path separators would escape the output directory.
	result = strings.NewReplacer("/", "_", "\\", "_").Replace(result)

	if ext != "" && !strings.HasSuffix(strings.ToLower(result), strings.ToLower(ext)) {
		result += ext
	}
	return result
}

// =============================================================================
// REVIEW LOG
// =============================================================================

const rule = "================================================================================\n"

// ReviewLog is everything an operator should look at for one document.
type ReviewLog struct {
	InputFile  string
	OutputFile string
	Report     *types.Report

	// Findings are preformatted validation findings.
	Findings []string
}

// NeedsReview reports whether the log has anything to show.
func (r ReviewLog) NeedsReview() bool {
	if len(r.Findings) > 0 {
		return true
	}
	return r.Report != nil && (r.Report.IssueCount() > 0 || len(r.Report.Unparsed) > 0 || len(r.Report.Skipped) > 0)
}

// WriteReviewLog writes the review log for one document next to its output.
//
// RETURNS:
//   - The path to the review log, or "" when there was nothing to review.
//   - An error if writing fails.
func WriteReviewLog(log ReviewLog, path string) (string, error) {
	if !log.NeedsReview() {
		return "", nil
	}

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create review log: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	r := log.Report
	if r == nil {
		r = &types.Report{}
	}

	fmt.Fprintf(w, "Blood Test Parser - Review Log\n"+
		"Generated: %s\n"+
		"Input:     %s\n"+
		"Output:    %s\n"+
		"Issues:    %d\n"+
		rule+"\n",
		time.Now().Format("2006-01-02 15:04:05"),
		log.InputFile,
		log.OutputFile,
		r.IssueCount())

	if r.NoDates {
		w.WriteString("No result dates were detected. Resolved values could not be placed.\n\n")
	}
	section(w, "Unresolved test names (add them to the alias table)", r.Unresolved)
	section(w, "Cell conflicts (template value kept)", r.Conflicts)
	section(w, "Ambiguous rows (value count differs from date count)", r.Ambiguous)
	section(w, "Unplaced results", r.Unplaced)

	if len(r.Unparsed) > 0 {
		w.WriteString("Unparsed lines\n")
		w.WriteString("--------------------------------------------------------------------------------\n")
		for _, l := range r.Unparsed {
			fmt.Fprintf(w, "  %4d  %s\n", l.Index, l.Text)
		}
		w.WriteString("\n")
	}

	if len(r.Skipped) > 0 {
		fmt.Fprintf(w, "Stopped at line %d (%d line(s) not parsed)\n", r.StoppedAt, len(r.Skipped))
		w.WriteString("--------------------------------------------------------------------------------\n")
		for _, l := range r.Skipped {
			fmt.Fprintf(w, "  %4d  %s\n", l.Index, l.Text)
		}
		w.WriteString("\n")
	}

	if len(log.Findings) > 0 {
		w.WriteString("Validation findings\n")
		w.WriteString("--------------------------------------------------------------------------------\n")
		for _, f := range log.Findings {
			fmt.Fprintf(w, "  %s\n", f)
		}
		w.WriteString("\n")
	}

	w.WriteString(rule + "End of Review Log\n")
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush review log: %w", err)
	}
	return path, nil
}

func section[T fmt.Stringer](w *bufio.Writer, title string, items []T) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "%s\n", title)
	w.WriteString("--------------------------------------------------------------------------------\n")
	for _, it := range items {
		fmt.Fprintf(w, "  %s\n", it.String())
	}
	w.WriteString("\n")
}

// =============================================================================
// PROCESSING SUMMARY
// =============================================================================

// ProcessingSummary contains summary information about a batch run.
type ProcessingSummary struct {
	StartTime       time.Time
	EndTime         time.Time
	TotalFiles      int
	SuccessfulFiles int
	FailedFiles     int
	TotalResults    int
	CellsWritten    int
	Conflicts       int
	Unresolved      int
	ProcessedFiles  []ProcessedFileInfo
	FailedFilesList []FailedFileInfo
}

// ProcessedFileInfo contains information about a successfully processed file.
type ProcessedFileInfo struct {
	InputFile   string
	OutputFile  string
	ReviewLog   string
	ArchivePath string
	DateColumns int
	Results     int
	Issues      int
	ProcessTime time.Duration
}

// FailedFileInfo contains information about a failed file.
type FailedFileInfo struct {
	InputFile    string
	ErrorMessage string
}

// WriteSummaryLog writes a processing summary to a log file.
//
// PARAMETERS:
//   - summary: The processing summary.
//   - outputDir: The directory to write the summary file.
//
// RETURNS:
//   - The path to the summary file.
//   - An error if writing fails.
func WriteSummaryLog(summary ProcessingSummary, outputDir string) (string, error) {
	timestamp := time.Now().Format("20060102_150405")
	summaryPath := filepath.Join(outputDir, fmt.Sprintf("processing_summary_%s.txt", timestamp))

	file, err := os.Create(summaryPath)
	if err != nil {
		return "", fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)

	duration := summary.EndTime.Sub(summary.StartTime)
	fmt.Fprintf(writer, "Blood Test Parser - Processing Summary\n"+
		rule+"\n"+
		"Run Information:\n"+
		"  Start Time:     %s\n"+
		"  End Time:       %s\n"+
		"  Duration:       %s\n\n"+
		"Statistics:\n"+
		"  Total Files:        %d\n"+
		"  Successful:         %d\n"+
		"  Failed:             %d\n"+
		"  Results Parsed:     %d\n"+
		"  Cells Written:      %d\n"+
		"  Conflicts:          %d\n"+
		"  Unresolved Names:   %d\n\n",
		summary.StartTime.Format("2006-01-02 15:04:05"),
		summary.EndTime.Format("2006-01-02 15:04:05"),
		duration.String(),
		summary.TotalFiles,
		summary.SuccessfulFiles,
		summary.FailedFiles,
		summary.TotalResults,
		summary.CellsWritten,
		summary.Conflicts,
		summary.Unresolved)

	if len(summary.ProcessedFiles) > 0 {
		writer.WriteString("Successful Files:\n")
		writer.WriteString("--------------------------------------------------------------------------------\n")
		for _, pf := range summary.ProcessedFiles {
			fmt.Fprintf(writer, "  Input:        %s\n", pf.InputFile)
			fmt.Fprintf(writer, "  Output:       %s\n", pf.OutputFile)
			if pf.ReviewLog != "" {
				fmt.Fprintf(writer, "  Review Log:   %s\n", pf.ReviewLog)
			}
			fmt.Fprintf(writer, "  Dates:        %d\n", pf.DateColumns)
			fmt.Fprintf(writer, "  Results:      %d\n", pf.Results)
			fmt.Fprintf(writer, "  Issues:       %d\n", pf.Issues)
			fmt.Fprintf(writer, "  Process Time: %s\n\n", pf.ProcessTime.String())
		}
	}

	if len(summary.FailedFilesList) > 0 {
		writer.WriteString("Failed Files:\n")
		writer.WriteString("--------------------------------------------------------------------------------\n")
		for _, ff := range summary.FailedFilesList {
			fmt.Fprintf(writer, "  File:  %s\n", ff.InputFile)
			fmt.Fprintf(writer, "  Error: %s\n\n", ff.ErrorMessage)
		}
	}

	writer.WriteString(rule + "End of Summary\n")
	if err := writer.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush summary file: %w", err)
	}
	return summaryPath, nil
}

// =============================================================================
// DEBUG DUMPS
// =============================================================================

// WriteDebugDump writes the raw OCR text and the normalized lines of one
// document to the debug directory.
//
// RETURNS:
//   - The paths written (none when DebugDir is empty).
//   - An error if writing fails.
func (fm *FileManager) WriteDebugDump(inputPath, rawText string, lines []types.RawLine) ([]string, error) {
	if fm.DebugDir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(fm.DebugDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create debug directory: %w", err)
	}

	// The extension stays in the name: scan.png and scan.txt are different inputs.
	base := filepath.Base(inputPath)
	rawPath := filepath.Join(fm.DebugDir, base+".ocr.txt")
	linesPath := filepath.Join(fm.DebugDir, base+".lines.txt")

	if err := os.WriteFile(rawPath, []byte(rawText), 0644); err != nil {
		return nil, fmt.Errorf("failed to write OCR dump: %w", err)
	}

	var b strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&b, "%4d  %s\n", l.Index, l.Text)
	}
	if err := os.WriteFile(linesPath, []byte(b.String()), 0644); err != nil {
		return nil, fmt.Errorf("failed to write line dump: %w", err)
	}

	return []string{rawPath, linesPath}, nil
}

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

// copyFile copies a file from src to dst.
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}
	return destFile.Sync()
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
