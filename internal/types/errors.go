// =============================================================================
// Blood Test Parser - Error Taxonomy
// =============================================================================
//
// Two families of problems exist:
//
//   FATAL FOR A DOCUMENT (returned as errors):
//     ErrOCRUnavailable, ErrOCRFailed, ErrTemplateNotFound, ErrSheetMissing
//     The document is abandoned; a batch continues with the next document.
//
//   REPORTED (collected as data in a Report):
//     ErrNoDatesDetected, AmbiguousRow, UnresolvedName, CellConflict,
//     UnplacedResult
//     Processing continues; everything lands in the review log.
//
// =============================================================================

package types

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrNoDatesDetected means the date scan produced zero columns.
	ErrNoDatesDetected = errors.New("no dates detected")

	// ErrOCRUnavailable means the OCR engine could not be started.
	ErrOCRUnavailable = errors.New("ocr unavailable")

	// ErrOCRFailed means the OCR engine ran but produced no usable text.
	ErrOCRFailed = errors.New("ocr failed")

	// ErrTemplateNotFound means the template file does not exist.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrSheetMissing means the template has no sheet with the configured name.
	ErrSheetMissing = errors.New("sheet missing")
)

// IsFatal reports whether err aborts the current document.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrNoDatesDetected)
}

// =============================================================================
// REPORTED ISSUES
// =============================================================================

// AmbiguousRow is a line whose value count did not match the date columns.
type AmbiguousRow struct {
	Line    int
	RawName string
	Values  int
	Columns int
}

func (a AmbiguousRow) String() string {
	return fmt.Sprintf("line %d %q: %d value(s) for %d date column(s)", a.Line, a.RawName, a.Values, a.Columns)
}

// UnresolvedName is a raw test name with no alias entry.
type UnresolvedName struct {
	Raw   string
	Count int
	Lines []int
}

func (u UnresolvedName) String() string {
	return fmt.Sprintf("%q seen %d time(s) on line(s) %s", u.Raw, u.Count, joinInts(u.Lines))
}

// CellConflict is a new value that would overwrite a populated cell.
type CellConflict struct {
	Test     string
	Date     string
	Existing string
	Incoming string
	Line     int
}

func (c CellConflict) String() string {
	return fmt.Sprintf("%s @ %s: kept %q, rejected %q (line %d)", c.Test, c.Date, c.Existing, c.Incoming, c.Line)
}

// UnplacedResult is a resolved value that has no date column.
type UnplacedResult struct {
	Test  string
	Value string
	Line  int
}

func (u UnplacedResult) String() string {
	return fmt.Sprintf("%s = %q (line %d) has no date column", u.Test, u.Value, u.Line)
}

// =============================================================================
// REPORT
// =============================================================================

// Report collects every non-fatal issue of one document run.
type Report struct {
	NoDates    bool
	Unparsed   []RawLine
	Ambiguous  []AmbiguousRow
	Unresolved []UnresolvedName
	Conflicts  []CellConflict
	Unplaced   []UnplacedResult

	// StoppedAt is the line that matched a stop marker, or 0. Skipped holds
	// that line and everything after it; none of it was parsed.
	StoppedAt int
	Skipped   []RawLine

	// Merge statistics.
	CellsWritten int
	RowsAdded    int
	ColumnsAdded int
}

// IssueCount is the number of issues a reviewer has to look at.
// Unparsed lines are informational and not counted.
func (r *Report) IssueCount() int {
	n := len(r.Ambiguous) + len(r.Unresolved) + len(r.Conflicts) + len(r.Unplaced)
	if r.NoDates {
		n++
	}
	return n
}

// AggregateUnresolved folds unresolved results into one entry per raw name,
// sorted by raw name.
func AggregateUnresolved(results []ParsedResult) []UnresolvedName {
	byName := make(map[string]*UnresolvedName)
	var order []string
	for _, r := range results {
		if r.Resolved() {
			continue
		}
		u, ok := byName[r.RawName]
		if !ok {
			u = &UnresolvedName{Raw: r.RawName}
			byName[r.RawName] = u
			order = append(order, r.RawName)
		}
		// One sighting per source line, however many values it carried.
		if len(u.Lines) == 0 || u.Lines[len(u.Lines)-1] != r.Line {
			u.Lines = append(u.Lines, r.Line)
			u.Count++
		}
	}
	sort.Strings(order)
	out := make([]UnresolvedName, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprint(x)
	}
	return strings.Join(parts, ",")
}
