// =============================================================================
// Blood Test Parser - Template Reader
// =============================================================================
//
// This module reads the user's results spreadsheet (the template) into a
// types.Table. XLSX workbooks and CSV files are supported.
//
// TEMPLATE STRUCTURE:
//   The first non-empty row is the header row. Each header is classified:
//
//   | Test   | Unit   | Reference Range | 15/04/2020 | 03/03/2022 | Notes  |
//   |--------|--------|-----------------|------------|------------|--------|
//   | Sodium | mmol/L | 135-145         | 140        |            | fasted |
//   | Urea   | mmol/L | 2.5-7.8         |            |            |        |
//
//   - "Test", "Unit(s)", "Reference Range" are the fixed columns
//   - headers that parse as dates (text or Excel date cells) are date columns
//   - blank headers are free slots the merger may claim for new dates
//   - anything else is kept verbatim as an "other" column
//
// =============================================================================

package template

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/blood-test-parser/internal/dates"
	"github.com/ginjaninja78/blood-test-parser/internal/types"
)

// Header spellings for the fixed columns, compared case-insensitively.
var (
	testHeaders  = map[string]bool{"test": true, "test name": true, "tests": true, "analyte": true}
	unitHeaders  = map[string]bool{"unit": true, "units": true}
	rangeHeaders = map[string]bool{"reference range": true, "ref range": true, "ref. range": true, "range": true, "reference": true}
)

// Reader loads templates.
type Reader struct {
	detector *dates.Detector
	logger   *slog.Logger
}

// NewReader creates a template reader. The detector parses date headers.
func NewReader(detector *dates.Detector, logger *slog.Logger) *Reader {
	if detector == nil {
		detector = dates.NewDetector(nil, logger)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{detector: detector, logger: logger}
}

// Read loads the template at path.
//
// PARAMETERS:
//   - path: .xlsx/.xlsm or .csv file. Empty returns a blank table.
//   - sheet: worksheet name (ignored for CSV).
//
// RETURNS:
//   - The template table.
//   - types.ErrTemplateNotFound or types.ErrSheetMissing (wrapped), or a
//     read error.
func (r *Reader) Read(path, sheet string) (*types.Table, error) {
	if path == "" {
		t := types.NewTable()
		t.Sheet = sheet
		return t, nil
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", types.ErrTemplateNotFound, path)
		}
		return nil, fmt.Errorf("failed to stat template: %w", err)
	}

	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		rows, err = readXLSX(path, sheet)
	case ".csv":
		rows, err = readCSV(path)
		sheet = ""
	default:
		return nil, fmt.Errorf("unsupported template format: %s", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}

	table := r.FromRows(rows)
	table.Source = path
	table.Sheet = sheet

	r.logger.Debug("template.loaded",
		"path", path,
		"sheet", sheet,
		"rows", len(table.Rows),
		"date_columns", len(table.DateColumns()),
	)
	return table, nil
}

// readXLSX returns the raw cell grid of one worksheet.
// Raw cell values keep date cells as serial numbers so headers can be parsed
// without depending on the workbook's number formats.
func readXLSX(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open template file: %w", err)
	}
	defer f.Close()

	idx, err := f.GetSheetIndex(sheet)
	if err != nil || idx < 0 {
		return nil, fmt.Errorf("%w: %q in %s (sheets: %s)", types.ErrSheetMissing, sheet, path, strings.Join(f.GetSheetList(), ", "))
	}

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return rows, nil
}

// readCSV returns all records of a CSV template.
func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open template file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(bufio.NewReader(file))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var rows [][]string
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV: %w", err)
		}
		rows = append(rows, rec)
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		rows[0][0] = strings.TrimPrefix(rows[0][0], "\ufeff")
	}
	return rows, nil
}

// =============================================================================
// GRID -> TABLE
// =============================================================================

// FromRows builds a table from a cell grid. The first non-empty row is the
// header row. A grid without any content yields a blank table.
func (r *Reader) FromRows(rows [][]string) *types.Table {
	start := -1
	for i, row := range rows {
		if !isRowEmpty(row) {
			start = i
			break
		}
	}
	if start < 0 {
		return types.NewTable()
	}

	// Cells past the last header cell still belong to the template. The
	// header is padded to the widest row so they land in blank columns.
	width := 0
	for _, row := range rows[start:] {
		width = max(width, len(row))
	}
	header := make([]string, width)
	copy(header, rows[start])

	table := &types.Table{Columns: r.classifyHeaders(header)}

	// A header row without a Test column still needs one to hold row names.
	if table.ColumnIndex(string(types.ColumnTest)) < 0 {
		r.logger.Warn("template.no_test_column", "headers", strings.Join(header, "|"))
		table.Columns = append([]types.Column{{Key: string(types.ColumnTest), Header: "Test", Kind: types.ColumnTest}}, table.Columns...)
	}

	for _, raw := range rows[start+1:] {
		if isRowEmpty(raw) {
			continue
		}
		table.Rows = append(table.Rows, buildRow(table.Columns, raw, header))
	}
	return table
}

// classifyHeaders assigns a kind and key to every header cell.
func (r *Reader) classifyHeaders(header []string) []types.Column {
	cols := make([]types.Column, 0, len(header))
	seen := make(map[string]bool)

	for i, h := range header {
		text := strings.TrimSpace(h)
		lower := strings.ToLower(strings.Join(strings.Fields(text), " "))
		col := types.Column{Header: text}

		switch {
		case text == "":
			col.Kind, col.Key = types.ColumnBlank, fmt.Sprintf("blank:%d", i)
		case testHeaders[lower] && !seen[string(types.ColumnTest)]:
			col.Kind, col.Key = types.ColumnTest, string(types.ColumnTest)
		case unitHeaders[lower] && !seen[string(types.ColumnUnit)]:
			col.Kind, col.Key = types.ColumnUnit, string(types.ColumnUnit)
		case rangeHeaders[lower] && !seen[string(types.ColumnRange)]:
			col.Kind, col.Key = types.ColumnRange, string(types.ColumnRange)
		default:
			if d, ok := r.detector.ParseHeader(text); ok && !seen[d.Format(types.DateKeyLayout)] {
				col.Kind, col.Key, col.Date = types.ColumnDate, d.Format(types.DateKeyLayout), d
				// Excel date cells come back as serial numbers; show them as dates.
				if isSerial(text) {
					col.Header = d.Format(types.DateKeyLayout)
				}
			} else {
				col.Kind, col.Key = types.ColumnOther, fmt.Sprintf("other:%d:%s", i, text)
			}
		}
		seen[col.Key] = true
		cols = append(cols, col)
	}
	return cols
}

// buildRow maps one grid row onto the columns. The grid column index of
// each table column is recovered from the header width, since a synthesized
// Test column is always first.
func buildRow(cols []types.Column, raw, header []string) types.Row {
	offset := len(cols) - len(header)
	row := types.Row{Cells: make(map[string]string)}

	for ci, col := range cols {
		gi := ci - offset
		if gi < 0 || gi >= len(raw) {
			continue
		}
		v := strings.TrimSpace(raw[gi])
		switch col.Kind {
		case types.ColumnTest:
			row.Test = v
		case types.ColumnUnit:
			row.Units = v
		case types.ColumnRange:
			row.RefRange = v
		default:
			if v != "" {
				row.Cells[col.Key] = v
			}
		}
	}
	return row
}

func isRowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func isSerial(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return true
}
