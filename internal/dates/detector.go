// =============================================================================
// Blood Test Parser - Date Column Detector
// =============================================================================
//
// Lab reports print one column per collection date. The detector scans every
// normalized line for date tokens and turns them into the column schema of
// the result table.
//
// DETECTION STEPS:
//   1. Find candidate tokens (d/m/y with '/', '-' or '.' separators)
//   2. Parse each candidate against the configured layouts
//   3. Deduplicate by calendar date (15/04/20 == 15-04-2020)
//   4. Sort ascending and assign ranks
//
// The result order depends only on the dates, never on the order in which
// the lines were printed.
//
// =============================================================================

package dates

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/blood-test-parser/internal/types"
)

// reCandidate finds date-like tokens. The separator check happens in code
// because RE2 has no backreferences.
var reCandidate = regexp.MustCompile(`\b(\d{1,2})([/.\-])(\d{1,2})([/.\-])(\d{2,4})\b`)

// DefaultLayouts returns the accepted day/month/year layouts.
// "2" and "1" accept one or two digits; "06" and "2006" fix the year width.
func DefaultLayouts() []string {
	var layouts []string
	for _, sep := range []string{"/", "-", "."} {
		layouts = append(layouts,
			"2"+sep+"1"+sep+"06",
			"2"+sep+"1"+sep+"2006",
		)
	}
	return layouts
}

// =============================================================================
// DETECTOR
// =============================================================================

// Detection is the outcome of a date scan.
type Detection struct {
	// Columns are unique by date, sorted ascending, ranked 0..n-1.
	Columns []types.DateColumn

	// HeaderLines holds the line indexes that carried date tokens.
	HeaderLines map[int]bool
}

// IsHeader reports whether the line carried at least one date token.
func (d Detection) IsHeader(index int) bool {
	return d.HeaderLines[index]
}

// Detector finds date columns in normalized OCR lines.
type Detector struct {
	layouts []string
	logger  *slog.Logger
}

// NewDetector creates a detector. Empty layouts fall back to DefaultLayouts.
func NewDetector(layouts []string, logger *slog.Logger) *Detector {
	if len(layouts) == 0 {
		layouts = DefaultLayouts()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{layouts: layouts, logger: logger}
}

// Detect scans the lines and returns the ordered column schema.
//
// RETURNS:
//   - The detection (always usable, possibly empty).
//   - types.ErrNoDatesDetected when no column was found. This is reported,
//     not fatal: callers continue with an empty schema.
func (d *Detector) Detect(lines []types.RawLine) (Detection, error) {
	det := Detection{HeaderLines: make(map[int]bool)}
	byKey := make(map[string]types.DateColumn)

	for _, line := range lines {
		for _, m := range reCandidate.FindAllStringSubmatchIndex(line.Text, -1) {
			token := line.Text[m[0]:m[1]]
			if line.Text[m[4]:m[5]] != line.Text[m[8]:m[9]] {
				continue
			}
			date, ok := d.Parse(token)
			if !ok {
				d.logger.Debug("dates.candidate.rejected", "line", line.Index, "token", token)
				continue
			}
			det.HeaderLines[line.Index] = true

			key := date.Format(types.DateKeyLayout)
			if _, seen := byKey[key]; seen {
				continue
			}
			byKey[key] = types.DateColumn{
				Date:   date,
				Raw:    token,
				Line:   line.Index,
				Offset: m[0],
			}
		}
	}

	for _, col := range byKey {
		det.Columns = append(det.Columns, col)
	}
	sort.Slice(det.Columns, func(i, j int) bool {
		return det.Columns[i].Date.Before(det.Columns[j].Date)
	})
	for i := range det.Columns {
		det.Columns[i].Rank = i
	}

	if len(det.Columns) == 0 {
		return det, types.ErrNoDatesDetected
	}
	d.logger.Debug("dates.detected", "columns", len(det.Columns), "header_lines", len(det.HeaderLines))
	return det, nil
}

// Parse converts a single date token using the configured layouts.
// The first layout that parses wins.
func (d *Detector) Parse(token string) (time.Time, bool) {
	token = strings.TrimSpace(token)
	for _, layout := range d.layouts {
		t, err := time.Parse(layout, token)
		if err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// =============================================================================
// TEMPLATE HEADERS
// =============================================================================

// ParseHeader parses a template header cell as a date.
//
// Accepted forms, in order:
//   - ISO "2006-01-02"
//   - any detector layout ("15/04/20")
//   - an Excel serial date number ("43936")
func (d *Detector) ParseHeader(cell string) (time.Time, bool) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(types.DateKeyLayout, cell); err == nil {
		return t, true
	}
	if t, ok := d.Parse(cell); ok {
		return t, true
	}
	serial, err := strconv.ParseFloat(cell, 64)
	if err != nil || serial < minSerial || serial > maxSerial {
		return time.Time{}, false
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
}

// Serial range accepted as dates in headers: 1950-01-01 .. 2099-12-31.
const (
	minSerial = 18264
	maxSerial = 73050
)

// FormatHeader renders a date for an output header.
func FormatHeader(t time.Time, layout string) string {
	if layout == "" {
		layout = types.DateKeyLayout
	}
	return t.Format(layout)
}

// Describe renders columns for logs, e.g. "2020-04-15(15/04/20)".
func Describe(cols []types.DateColumn) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("%s(%s)", c.Key(), c.Raw)
	}
	return strings.Join(parts, " ")
}
