// =============================================================================
// Blood Test Parser - Shared Types
// =============================================================================
//
// This package contains the data model shared by every stage of the parsing
// pipeline. Keeping it in one leaf package avoids import cycles between:
//   - normalizer / dates / rowparser  (producers)
//   - alias                           (resolves test names)
//   - merger / template / exporter    (table handling)
//   - converter                       (orchestration)
//
// =============================================================================

package types

import (
	"strings"
	"time"
)

// DateKeyLayout is the layout used to key date columns and cells.
// Two columns with the same key are the same calendar date.
const DateKeyLayout = "2006-01-02"

// =============================================================================
// OCR LINE TYPES
// =============================================================================

// RawLine is one cleaned line of OCR output.
type RawLine struct {
	// Index is the 1-based line number in the raw OCR text.
	Index int

	// Text is the normalized line content.
	Text string
}

// =============================================================================
// DATE COLUMN TYPES
// =============================================================================

// DateColumn is one detected result-collection date.
type DateColumn struct {
	// Date is the calendar date (UTC midnight).
	Date time.Time

	// Raw is the token as it was first printed in the OCR text.
	Raw string

	// Line and Offset locate the first sighting of the date.
	// They are a position hint only; alignment uses Rank.
	Line   int
	Offset int

	// Rank is the chronological position among all detected dates (0-based).
	Rank int
}

// Key returns the calendar-date key of the column.
func (d DateColumn) Key() string {
	return d.Date.Format(DateKeyLayout)
}

// =============================================================================
// PARSED RESULT TYPES
// =============================================================================

// ValueKind distinguishes numeric results from textual placeholders.
type ValueKind string

const (
	ValueNumeric ValueKind = "numeric"
	ValueText    ValueKind = "text"
)

// Confidence flags how sure the aligner is about a result's column.
type Confidence string

const (
	ConfidenceOK        Confidence = "ok"
	ConfidenceAmbiguous Confidence = "ambiguous"
)

// ParsedResult is one extracted value.
type ParsedResult struct {
	// Line is the source line number.
	Line int

	// RawName is the test name as printed (possibly misspelled).
	RawName string

	// Canonical is the standardized test identifier.
	// Empty until the name standardizer resolves it.
	Canonical string

	// Column is the date column the value was aligned to.
	// Nil when no column could be assigned.
	Column *DateColumn

	// Value is the printed value with OCR repairs applied.
	Value string

	// Kind is numeric or text.
	Kind ValueKind

	// Flag is ConfidenceAmbiguous when the row's value count did not
	// match the number of date columns.
	Flag Confidence

	// Unit and RefRange are captured from the same line when present.
	Unit     string
	RefRange string
}

// Resolved reports whether the name standardizer found a canonical id.
func (r ParsedResult) Resolved() bool {
	return r.Canonical != ""
}

// =============================================================================
// TABLE TYPES
// =============================================================================

// ColumnKind identifies the role of a column in a results table.
type ColumnKind string

const (
	ColumnTest  ColumnKind = "test"
	ColumnUnit  ColumnKind = "unit"
	ColumnRange ColumnKind = "range"
	ColumnDate  ColumnKind = "date"
	ColumnBlank ColumnKind = "blank"
	ColumnOther ColumnKind = "other"
)

// Column is one column of a results table.
type Column struct {
	// Key identifies the column inside Row.Cells.
	// Date columns are keyed by DateKeyLayout.
	Key string

	// Header is the header text written on export.
	Header string

	// Kind is the column role.
	Kind ColumnKind

	// Date is set for date columns only.
	Date time.Time
}

// Row is one test row of a results table (a TemplateRow).
type Row struct {
	// Test is the test name (canonical identifier for merged rows).
	Test string

	// Units and RefRange are operator-maintained metadata.
	Units    string
	RefRange string

	// Cells holds date and other columns by Column.Key.
	Cells map[string]string
}

// Cell returns the trimmed value of a cell, or "" when absent.
func (r *Row) Cell(key string) string {
	if r.Cells == nil {
		return ""
	}
	return strings.TrimSpace(r.Cells[key])
}

// Table is the template schema and, after merging, the OutputTable.
type Table struct {
	// Source is the path of the template the table was read from.
	Source string

	// Sheet is the worksheet name (xlsx templates only).
	Sheet string

	// Columns in display order.
	Columns []Column

	// Rows in display order.
	Rows []Row
}

// NewTable returns an empty table with the default fixed columns.
func NewTable() *Table {
	return &Table{
		Columns: []Column{
			{Key: string(ColumnTest), Header: "Test", Kind: ColumnTest},
			{Key: string(ColumnUnit), Header: "Unit", Kind: ColumnUnit},
			{Key: string(ColumnRange), Header: "Reference Range", Kind: ColumnRange},
		},
	}
}

// DateColumns returns the date columns in display order.
func (t *Table) DateColumns() []Column {
	var out []Column
	for _, c := range t.Columns {
		if c.Kind == ColumnDate {
			out = append(out, c)
		}
	}
	return out
}

// ColumnIndex returns the index of the column with the given key, or -1.
func (t *Table) ColumnIndex(key string) int {
	for i, c := range t.Columns {
		if c.Key == key {
			return i
		}
	}
	return -1
}

// PopulatedCells counts non-empty date cells across all rows.
func (t *Table) PopulatedCells() int {
	n := 0
	for i := range t.Rows {
		for _, c := range t.Columns {
			if c.Kind == ColumnDate && t.Rows[i].Cell(c.Key) != "" {
				n++
			}
		}
	}
	return n
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	out := &Table{
		Source:  t.Source,
		Sheet:   t.Sheet,
		Columns: append([]Column(nil), t.Columns...),
		Rows:    make([]Row, len(t.Rows)),
	}
	for i, r := range t.Rows {
		if r.Cells != nil {
			cells := make(map[string]string, len(r.Cells))
			for k, v := range r.Cells {
				cells[k] = v
			}
			r.Cells = cells
		}
		out.Rows[i] = r
	}
	return out
}

// Values returns the row as display strings in column order.
func (t *Table) Values(r *Row) []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		switch c.Kind {
		case ColumnTest:
			out[i] = r.Test
		case ColumnUnit:
			out[i] = r.Units
		case ColumnRange:
			out[i] = r.RefRange
		default:
			out[i] = r.Cells[c.Key]
		}
	}
	return out
}

// Headers returns the header row in column order.
func (t *Table) Headers() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Header
	}
	return out
}
