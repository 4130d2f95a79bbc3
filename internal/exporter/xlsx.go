package exporter

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/blood-test-parser/internal/types"
)

// EncodeXLSX renders the table as an xlsx workbook.
func EncodeXLSX(table *types.Table) ([]byte, error) {
	f, sheet, err := openWorkbook(table)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := writeSheet(f, sheet, table); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

// openWorkbook reopens the source workbook when the table came from one,
// otherwise starts a new workbook.
func openWorkbook(table *types.Table) (*excelize.File, string, error) {
	sheet := table.Sheet
	if sheet == "" {
		sheet = DefaultSheet
	}

	ext := strings.ToLower(filepath.Ext(table.Source))
	if table.Source != "" && (ext == ".xlsx" || ext == ".xlsm") {
		f, err := excelize.OpenFile(table.Source)
		if err != nil {
			return nil, "", fmt.Errorf("failed to reopen template workbook: %w", err)
		}
		if err := clearSheet(f, sheet); err != nil {
			f.Close()
			return nil, "", err
		}
		return f, sheet, nil
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		f.Close()
		return nil, "", fmt.Errorf("failed to name sheet: %w", err)
	}
	return f, sheet, nil
}

// clearSheet blanks every populated cell of the sheet, keeping cell styles.
func clearSheet(f *excelize.File, sheet string) error {
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("failed to create sheet %q: %w", sheet, err)
		}
		return nil
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	for r, row := range rows {
		for c := range row {
			if row[c] == "" {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, nil); err != nil {
				return fmt.Errorf("failed to clear %s: %w", cell, err)
			}
		}
	}
	return nil
}

// writeSheet writes headers and rows starting at A1.
func writeSheet(f *excelize.File, sheet string, table *types.Table) error {
	write := func(col, row int, v any) error {
		cell, err := excelize.CoordinatesToCellName(col, row)
		if err != nil {
			return err
		}
		return f.SetCellValue(sheet, cell, v)
	}

	for i, h := range table.Headers() {
		if err := write(i+1, 1, h); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}

	for r := range table.Rows {
		for c, v := range table.Values(&table.Rows[r]) {
			if v == "" {
				continue
			}
			if err := write(c+1, r+2, cellValue(table.Columns[c], v)); err != nil {
				return fmt.Errorf("write row %d: %w", r+1, err)
			}
		}
	}

	for i, c := range table.Columns {
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		width := 14.0
		if c.Kind == types.ColumnTest {
			width = 22
		}
		_ = f.SetColWidth(sheet, name, name, width)
	}

	idx, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(idx)
	return nil
}

// cellValue writes plain numbers in date columns as numbers, so spreadsheet
// formulas keep working. Anything that would not round-trip stays text.
func cellValue(col types.Column, v string) any {
	if col.Kind != types.ColumnDate {
		return v
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || strconv.FormatFloat(f, 'f', -1, 64) != v {
		return v
	}
	return f
}
