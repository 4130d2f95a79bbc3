// =============================================================================
// Blood Test Parser - Template Merger
// =============================================================================
//
// The merger reconciles parsed results with the template table.
//
// MERGE RULES:
//   - The template passed in is never mutated; the merge works on a copy.
//   - Template rows and columns are never deleted or reordered.
//   - A detected date missing from the template becomes a new column placed
//     chronologically among the existing date columns.
//   - An empty cell is filled. A cell holding the same value is left alone.
//     A cell holding a different value is reported as a conflict and kept.
//   - A canonical test missing from the template becomes a new row.
//   - Unresolved names and values without a date column are reported.
//
// Merging the same results twice yields the same table and no conflicts.
//
// =============================================================================

package merger

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ginjaninja78/blood-test-parser/internal/alias"
	"github.com/ginjaninja78/blood-test-parser/internal/dates"
	"github.com/ginjaninja78/blood-test-parser/internal/types"
)

// NameResolver resolves a test name to its canonical identifier.
// *alias.Standardizer satisfies it.
type NameResolver interface {
	Resolve(raw string) alias.Resolution
}

// Merger merges parsed results into a template table.
type Merger struct {
	resolver     NameResolver
	headerLayout string
	logger       *slog.Logger
}

// NewMerger creates a merger.
//
// PARAMETERS:
//   - resolver: used to match template rows by canonical identifier.
//   - headerLayout: Go time layout for headers of new date columns.
//   - logger: structured logger (nil uses slog.Default()).
func NewMerger(resolver NameResolver, headerLayout string, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	if headerLayout == "" {
		headerLayout = types.DateKeyLayout
	}
	return &Merger{resolver: resolver, headerLayout: headerLayout, logger: logger}
}

// Merge returns the merged table and the merge report.
// A nil template is treated as an empty table with the default columns.
func (m *Merger) Merge(tmpl *types.Table, columns []types.DateColumn, results []types.ParsedResult) (*types.Table, *types.Report) {
	if tmpl == nil {
		tmpl = types.NewTable()
	}
	out := tmpl.Clone()
	report := &types.Report{}

	for _, col := range columns {
		if m.ensureColumn(out, col) {
			report.ColumnsAdded++
		}
	}

	idx := m.indexRows(out)

	for _, r := range results {
		if !r.Resolved() {
			continue
		}
		if r.Column == nil {
			report.Unplaced = append(report.Unplaced, types.UnplacedResult{
				Test:  r.Canonical,
				Value: r.Value,
				Line:  r.Line,
			})
			continue
		}

		rowIdx, ok := idx.lookup(r.Canonical)
		if !ok {
			out.Rows = append(out.Rows, types.Row{Test: r.Canonical, Cells: make(map[string]string)})
			rowIdx = len(out.Rows) - 1
			idx.add(r.Canonical, r.Canonical, rowIdx)
			report.RowsAdded++
			m.logger.Debug("merge.row.added", "test", r.Canonical)
		}

		// A result may reference a column missing from columns.
		key := r.Column.Key()
		if out.ColumnIndex(key) < 0 {
			m.ensureColumn(out, *r.Column)
			report.ColumnsAdded++
		}

		row := &out.Rows[rowIdx]
		if row.Cells == nil {
			row.Cells = make(map[string]string)
		}
		existing := row.Cell(key)
		incoming := strings.TrimSpace(r.Value)
		switch {
		case existing == "":
			row.Cells[key] = incoming
			report.CellsWritten++
		case existing == incoming:
		default:
			report.Conflicts = append(report.Conflicts, types.CellConflict{
				Test:     row.Test,
				Date:     key,
				Existing: existing,
				Incoming: incoming,
				Line:     r.Line,
			})
			m.logger.Warn("merge.conflict", "test", row.Test, "date", key, "existing", existing, "incoming", incoming)
		}
	}

	report.Unresolved = types.AggregateUnresolved(results)

	m.logger.Info("merge.done",
		"cells_written", report.CellsWritten,
		"rows_added", report.RowsAdded,
		"columns_added", report.ColumnsAdded,
		"conflicts", len(report.Conflicts),
		"unplaced", len(report.Unplaced),
		"unresolved", len(report.Unresolved),
	)
	return out, report
}

// =============================================================================
// COLUMNS
// =============================================================================

// ensureColumn adds a date column unless the table already has one for the
// same calendar date. It reports whether the table changed.
func (m *Merger) ensureColumn(t *types.Table, col types.DateColumn) bool {
	key := col.Key()
	if t.ColumnIndex(key) >= 0 {
		return false
	}

	pos := insertPosition(t, col)
	newCol := types.Column{
		Key:    key,
		Header: dates.FormatHeader(col.Date, m.headerLayout),
		Kind:   types.ColumnDate,
		Date:   col.Date,
	}

	if pos < len(t.Columns) && isFreeSlot(t, pos) {
		old := t.Columns[pos].Key
		for i := range t.Rows {
			delete(t.Rows[i].Cells, old)
		}
		t.Columns[pos] = newCol
		m.logger.Debug("merge.column.claimed", "date", key, "position", pos)
		return true
	}

	t.Columns = append(t.Columns, types.Column{})
	copy(t.Columns[pos+1:], t.Columns[pos:])
	t.Columns[pos] = newCol
	m.logger.Debug("merge.column.inserted", "date", key, "position", pos)
	return true
}

// insertPosition finds where a new date column goes:
//  1. right after the last existing date column that is earlier;
//  2. otherwise right before the first existing date column;
//  3. otherwise right after the last fixed (test/unit/range) column;
//  4. otherwise at the end.
func insertPosition(t *types.Table, col types.DateColumn) int {
	lastEarlier, firstDate, lastFixed := -1, -1, -1
	for i, c := range t.Columns {
		switch c.Kind {
		case types.ColumnDate:
			if firstDate < 0 {
				firstDate = i
			}
			if c.Date.Before(col.Date) {
				lastEarlier = i
			}
		case types.ColumnTest, types.ColumnUnit, types.ColumnRange:
			lastFixed = i
		}
	}
	switch {
	case lastEarlier >= 0:
		return lastEarlier + 1
	case firstDate >= 0:
		return firstDate
	case lastFixed >= 0:
		return lastFixed + 1
	default:
		return len(t.Columns)
	}
}

// isFreeSlot reports whether the column at pos has a blank header and no data.
func isFreeSlot(t *types.Table, pos int) bool {
	c := t.Columns[pos]
	if c.Kind != types.ColumnBlank {
		return false
	}
	for i := range t.Rows {
		if t.Rows[i].Cell(c.Key) != "" {
			return false
		}
	}
	return true
}

// =============================================================================
// ROWS
// =============================================================================

type rowIndex struct {
	byCanonical map[string]int
	byText      map[string]int
}

func (ix *rowIndex) add(canonical, text string, row int) {
	if canonical != "" {
		if _, ok := ix.byCanonical[canonical]; !ok {
			ix.byCanonical[canonical] = row
		}
	}
	key := textKey(text)
	if _, ok := ix.byText[key]; !ok {
		ix.byText[key] = row
	}
}

func (ix *rowIndex) lookup(canonical string) (int, bool) {
	if row, ok := ix.byCanonical[canonical]; ok {
		return row, true
	}
	row, ok := ix.byText[textKey(canonical)]
	return row, ok
}

// indexRows maps template rows by the canonical id of their test name.
// When two template rows resolve to the same id the first one wins.
func (m *Merger) indexRows(t *types.Table) *rowIndex {
	ix := &rowIndex{byCanonical: make(map[string]int), byText: make(map[string]int)}
	for i, row := range t.Rows {
		if strings.TrimSpace(row.Test) == "" {
			continue
		}
		canonical := ""
		if m.resolver != nil {
			if res := m.resolver.Resolve(row.Test); res.Resolved() {
				canonical = res.Canonical
			}
		}
		if _, dup := ix.byCanonical[canonical]; dup && canonical != "" {
			m.logger.Warn("merge.template.duplicate_row", "test", row.Test, "canonical", canonical, "row", i+1)
		}
		ix.add(canonical, row.Test, i)
	}
	return ix
}

func textKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Summary renders a one-line description of a report for logs.
func Summary(r *types.Report) string {
	return fmt.Sprintf("%d cell(s) written, %d row(s) added, %d column(s) added, %d conflict(s), %d unresolved, %d unplaced",
		r.CellsWritten, r.RowsAdded, r.ColumnsAdded, len(r.Conflicts), len(r.Unresolved), len(r.Unplaced))
}
