// =============================================================================
// Blood Test Parser - Exporter
// =============================================================================
//
// The exporter serializes the merged table. It never reorders, adds or drops
// rows or columns: what the merger built is what gets written.
//
// FORMATS:
//   - csv  : header row + one record per row
//   - xlsx : the merged sheet; when the table came from an xlsx template the
//            sheet is rewritten inside a copy of that workbook so every other
//            sheet and the workbook styles survive
//   - xml  : <bloodTests><test name=".."><result date="..">..</result></test>
//
// =============================================================================

package exporter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ginjaninja78/blood-test-parser/internal/types"
)

// Supported output formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
	FormatXML  = "xml"
)

// DefaultSheet is used for xlsx output when the table has no sheet name.
const DefaultSheet = "Blood Tests"

// Extension returns the file extension (with dot) for a format.
func Extension(format string) string {
	return "." + strings.ToLower(format)
}

// Exporter writes tables to disk.
type Exporter struct {
	logger *slog.Logger
}

// New creates an exporter.
func New(logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{logger: logger}
}

// Encode serializes the table in the given format.
func (e *Exporter) Encode(table *types.Table, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case FormatCSV:
		var buf bytes.Buffer
		if err := WriteCSV(&buf, table); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatXLSX:
		return EncodeXLSX(table)
	case FormatXML:
		return MarshalXML(table, DefaultXMLOptions())
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// Export writes the table to path in the given format.
func (e *Exporter) Export(table *types.Table, format, path string) error {
	data, err := e.Encode(table, format)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	e.logger.Info("export.ok",
		"format", format,
		"path", path,
		"rows", len(table.Rows),
		"columns", len(table.Columns),
		"bytes", len(data),
	)
	return nil
}

// WriteCSV writes the header row and every table row.
func WriteCSV(w io.Writer, table *types.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(table.Headers()); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i := range table.Rows {
		if err := cw.Write(table.Values(&table.Rows[i])); err != nil {
			return fmt.Errorf("write csv row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
