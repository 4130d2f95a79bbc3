package merger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/blood-test-parser/internal/alias"
	"github.com/ginjaninja78/blood-test-parser/internal/config"
	"github.com/ginjaninja78/blood-test-parser/internal/dates"
	"github.com/ginjaninja78/blood-test-parser/internal/merger"
	"github.com/ginjaninja78/blood-test-parser/internal/normalizer"
	"github.com/ginjaninja78/blood-test-parser/internal/rowparser"
	"github.com/ginjaninja78/blood-test-parser/internal/types"
)

func standardizer(t *testing.T) *alias.Standardizer {
	t.Helper()
	table, err := alias.Default(nil)
	require.NoError(t, err)
	return alias.NewStandardizer(table, nil)
}

// extract runs the text stages of the pipeline.
func extract(t *testing.T, s *alias.Standardizer, text string) ([]types.DateColumn, []types.ParsedResult) {
	t.Helper()
	cfg := config.Default()
	lines := normalizer.Normalize(text)
	det, _ := dates.NewDetector(nil, nil).Detect(lines)
	out := rowparser.NewParser(cfg.PlaceholderValues, cfg.StopMarkers, nil).ParseLines(lines, det)
	s.ResolveAll(out.Results)
	return det.Columns, out.Results
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dateCol(t time.Time) types.Column {
	return types.Column{Key: t.Format(types.DateKeyLayout), Header: t.Format("02/01/2006"), Kind: types.ColumnDate, Date: t}
}

func columnKeys(tbl *types.Table) []string {
	keys := make([]string, len(tbl.Columns))
	for i, c := range tbl.Columns {
		keys[i] = c.Key
	}
	return keys
}

func findRow(t *testing.T, tbl *types.Table, test string) *types.Row {
	t.Helper()
	for i := range tbl.Rows {
		if tbl.Rows[i].Test == test {
			return &tbl.Rows[i]
		}
	}
	require.Failf(t, "row not found", "%s", test)
	return nil
}

func TestMergeScenarios(t *testing.T) {
	s := standardizer(t)
	m := merger.NewMerger(s, "", nil)

	t.Run("values land under their dates", func(t *testing.T) {
		cols, results := extract(t, s, "Sodium 140 138 135-145\n15/04/20 03/03/22\n")
		out, report := m.Merge(nil, cols, results)

		assert.Equal(t, []string{"test", "unit", "range", "2020-04-15", "2022-03-03"}, columnKeys(out))
		require.Len(t, out.Rows, 1)
		row := out.Rows[0]
		assert.Equal(t, "Sodium", row.Test)
		assert.Equal(t, "140", row.Cell("2020-04-15"))
		assert.Equal(t, "138", row.Cell("2022-03-03"))
		assert.Empty(t, row.Units, "units of new rows are left to the operator")
		assert.Equal(t, 2, report.CellsWritten)
		assert.Equal(t, 1, report.RowsAdded)
		assert.Zero(t, report.IssueCount())
	})

	t.Run("misspelled name resolves through the alias table", func(t *testing.T) {
		cols, results := extract(t, s, "Collected 15/04/20\nPotasium 4.1\n")
		out, report := m.Merge(nil, cols, results)

		require.Len(t, out.Rows, 1)
		assert.Equal(t, "Potassium", out.Rows[0].Test)
		assert.Equal(t, "4.1", out.Rows[0].Cell("2020-04-15"))
		assert.Empty(t, report.Unresolved)
	})

	t.Run("unknown name is excluded and reported", func(t *testing.T) {
		cols, results := extract(t, s, "Collected 15/04/20\nXyzalyte 9.0\nUrea 5.1\n")
		out, report := m.Merge(nil, cols, results)

		require.Len(t, out.Rows, 1)
		assert.Equal(t, "Urea", out.Rows[0].Test)
		require.Len(t, report.Unresolved, 1)
		assert.Equal(t, "Xyzalyte", report.Unresolved[0].Raw)
	})

	t.Run("populated cell is never overwritten", func(t *testing.T) {
		tmpl := types.NewTable()
		tmpl.Columns = append(tmpl.Columns, dateCol(day(2020, 4, 15)))
		tmpl.Rows = []types.Row{{Test: "Sodium", Units: "mmol/L", Cells: map[string]string{"2020-04-15": "140"}}}

		cols, results := extract(t, s, "Collected 15/04/20\nSodium 142\n")
		out, report := m.Merge(tmpl, cols, results)

		require.Len(t, report.Conflicts, 1)
		assert.Equal(t, types.CellConflict{Test: "Sodium", Date: "2020-04-15", Existing: "140", Incoming: "142", Line: 2}, report.Conflicts[0])
		assert.Equal(t, "140", findRow(t, out, "Sodium").Cell("2020-04-15"))
		assert.Zero(t, report.CellsWritten)
		assert.Equal(t, "140", tmpl.Rows[0].Cells["2020-04-15"], "template input is not mutated")
	})
}

func TestMergeIsMonotonicAndIdempotent(t *testing.T) {
	s := standardizer(t)
	m := merger.NewMerger(s, "", nil)

	tmpl := types.NewTable()
	tmpl.Columns = append(tmpl.Columns, dateCol(day(2021, 1, 10)))
	tmpl.Rows = []types.Row{
		{Test: "Sodium", Cells: map[string]string{"2021-01-10": "139"}},
		{Test: "Chloride", Cells: map[string]string{}},
	}

	cols, results := extract(t, s, "Date 10/01/21 15/04/21\nSodium 139 141\nChloride 101 Unkn\nAlbumin 40 39\n")

	first, r1 := m.Merge(tmpl, cols, results)
	assert.GreaterOrEqual(t, first.PopulatedCells(), tmpl.PopulatedCells())
	assert.Empty(t, r1.Conflicts)
	assert.Equal(t, 5, r1.CellsWritten)

	second, r2 := m.Merge(first, cols, results)
	assert.Equal(t, first.PopulatedCells(), second.PopulatedCells())
	assert.Empty(t, r2.Conflicts)
	assert.Zero(t, r2.CellsWritten)
	assert.Zero(t, r2.RowsAdded)
	assert.Zero(t, r2.ColumnsAdded)
	assert.Equal(t, first, second)

	assert.Equal(t, "Unkn", findRow(t, second, "Chloride").Cell("2021-04-15"), "placeholders hold their cell")
}

func TestMergeColumnPlacement(t *testing.T) {
	m := merger.NewMerger(standardizer(t), "02/01/2006", nil)

	tmpl := types.NewTable()
	tmpl.Columns = append(tmpl.Columns,
		dateCol(day(2022, 1, 1)),
		dateCol(day(2020, 1, 1)),
		types.Column{Key: "other:5:Notes", Header: "Notes", Kind: types.ColumnOther},
	)
	tmpl.Rows = []types.Row{{Test: "Urea", Cells: map[string]string{"other:5:Notes": "fasting"}}}

	cols := []types.DateColumn{
		{Date: day(2019, 5, 5), Rank: 0},
		{Date: day(2021, 6, 1), Rank: 1},
		{Date: day(2023, 1, 1), Rank: 2},
	}

	out, report := m.Merge(tmpl, cols, nil)

	assert.Equal(t, []string{
		"test", "unit", "range",
		"2019-05-05",
		"2022-01-01",
		"2020-01-01",
		"2021-06-01",
		"2023-01-01",
		"other:5:Notes",
	}, columnKeys(out), "existing columns keep their relative order")
	assert.Equal(t, 3, report.ColumnsAdded)
	assert.Equal(t, "05/05/2019", out.Columns[3].Header)
	assert.Equal(t, "fasting", findRow(t, out, "Urea").Cell("other:5:Notes"))
}

func TestMergeChronologicalInsertion(t *testing.T) {
	m := merger.NewMerger(standardizer(t), "", nil)

	tmpl := types.NewTable()
	tmpl.Columns = append(tmpl.Columns, dateCol(day(2020, 1, 1)), dateCol(day(2022, 1, 1)))

	cols := []types.DateColumn{
		{Date: day(2019, 1, 1), Rank: 0},
		{Date: day(2021, 1, 1), Rank: 1},
		{Date: day(2023, 1, 1), Rank: 2},
	}
	out, _ := m.Merge(tmpl, cols, nil)

	assert.Equal(t, []string{
		"test", "unit", "range",
		"2019-01-01", "2020-01-01", "2021-01-01", "2022-01-01", "2023-01-01",
	}, columnKeys(out))
}

func TestMergeClaimsBlankColumns(t *testing.T) {
	m := merger.NewMerger(standardizer(t), "", nil)

	tmpl := &types.Table{Columns: []types.Column{
		{Key: "test", Header: "Test", Kind: types.ColumnTest},
		{Key: "unit", Header: "Unit", Kind: types.ColumnUnit},
		{Key: "blank:2", Kind: types.ColumnBlank},
		{Key: "blank:3", Kind: types.ColumnBlank},
	}}
	cols := []types.DateColumn{{Date: day(2020, 4, 15), Rank: 0}, {Date: day(2022, 3, 3), Rank: 1}}

	out, report := m.Merge(tmpl, cols, nil)

	assert.Equal(t, []string{"test", "unit", "2020-04-15", "2022-03-03"}, columnKeys(out))
	assert.Equal(t, 2, report.ColumnsAdded)
}

func TestMergeMatchesTemplateRowsByAlias(t *testing.T) {
	s := standardizer(t)
	m := merger.NewMerger(s, "", nil)

	tmpl := types.NewTable()
	tmpl.Rows = []types.Row{
		{Test: "Na", Units: "mmol/L"},
		{Test: "Sodium"},
	}

	cols, results := extract(t, s, "Collected 15/04/20\nSodium 140\n")
	out, report := m.Merge(tmpl, cols, results)

	require.Len(t, out.Rows, 2, "no row is added or removed")
	assert.Equal(t, "140", out.Rows[0].Cell("2020-04-15"), "first matching template row wins")
	assert.Equal(t, "", out.Rows[1].Cell("2020-04-15"))
	assert.Zero(t, report.RowsAdded)
}

func TestMergeReportsUnplacedValues(t *testing.T) {
	s := standardizer(t)
	m := merger.NewMerger(s, "", nil)

	cols, results := extract(t, s, "Collected 15/04/20\nAlbumin 40 41\n")
	out, report := m.Merge(nil, cols, results)

	assert.Equal(t, "40", findRow(t, out, "Albumin").Cell("2020-04-15"))
	require.Len(t, report.Unplaced, 1)
	assert.Equal(t, types.UnplacedResult{Test: "Albumin", Value: "41", Line: 2}, report.Unplaced[0])
}

func TestMergeWithoutDates(t *testing.T) {
	s := standardizer(t)
	m := merger.NewMerger(s, "", nil)

	cols, results := extract(t, s, "Sodium 140\nXyzalyte 1\n")
	require.Empty(t, cols)

	tmpl := types.NewTable()
	tmpl.Rows = []types.Row{{Test: "Urea"}}
	out, report := m.Merge(tmpl, cols, results)

	assert.Equal(t, tmpl, out, "nothing is written without date columns")
	assert.Len(t, report.Unplaced, 1)
	assert.Len(t, report.Unresolved, 1)
}

func TestSummary(t *testing.T) {
	r := &types.Report{CellsWritten: 3, RowsAdded: 1}
	assert.Equal(t, "3 cell(s) written, 1 row(s) added, 0 column(s) added, 0 conflict(s), 0 unresolved, 0 unplaced", merger.Summary(r))
}
