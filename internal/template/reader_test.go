package template_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/blood-test-parser/internal/template"
	"github.com/ginjaninja78/blood-test-parser/internal/types"
)

// writeWorkbook creates an xlsx file with one named sheet holding rows.
func writeWorkbook(t *testing.T, sheet string, rows [][]any) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	require.NoError(t, f.SetSheetName("Sheet1", sheet))
	for r, row := range rows {
		for c, v := range row {
			if v == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue(sheet, cell, v))
		}
	}

	path := filepath.Join(t.TempDir(), "template.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func kinds(tbl *types.Table) []types.ColumnKind {
	out := make([]types.ColumnKind, len(tbl.Columns))
	for i, c := range tbl.Columns {
		out[i] = c.Kind
	}
	return out
}

func TestReadXLSX(t *testing.T) {
	path := writeWorkbook(t, "Blood Tests", [][]any{
		{"Test", "Unit", "Reference Range", "15/04/2020", time.Date(2022, 3, 3, 0, 0, 0, 0, time.UTC), nil, "Notes"},
		{"Sodium", "mmol/L", "135-145", 140, nil, nil, "fasted"},
		{},
		{"Urea", "mmol/L", "2.5-7.8"},
	})

	tbl, err := template.NewReader(nil, nil).Read(path, "Blood Tests")
	require.NoError(t, err)

	assert.Equal(t, path, tbl.Source)
	assert.Equal(t, "Blood Tests", tbl.Sheet)
	assert.Equal(t, []types.ColumnKind{
		types.ColumnTest, types.ColumnUnit, types.ColumnRange,
		types.ColumnDate, types.ColumnDate, types.ColumnBlank, types.ColumnOther,
	}, kinds(tbl))

	assert.Equal(t, "2020-04-15", tbl.Columns[3].Key)
	assert.Equal(t, "15/04/2020", tbl.Columns[3].Header, "text headers are kept as written")
	assert.Equal(t, "2022-03-03", tbl.Columns[4].Key, "excel date cells are read as dates")

	require.Len(t, tbl.Rows, 2, "empty rows are skipped")
	sodium := tbl.Rows[0]
	assert.Equal(t, "Sodium", sodium.Test)
	assert.Equal(t, "mmol/L", sodium.Units)
	assert.Equal(t, "135-145", sodium.RefRange)
	assert.Equal(t, "140", sodium.Cell("2020-04-15"))
	assert.Equal(t, "fasted", sodium.Cell(tbl.Columns[6].Key))
	assert.Equal(t, "Urea", tbl.Rows[1].Test)
	assert.Equal(t, 1, tbl.PopulatedCells())
}

func TestReadErrors(t *testing.T) {
	r := template.NewReader(nil, nil)

	t.Run("missing file", func(t *testing.T) {
		_, err := r.Read(filepath.Join(t.TempDir(), "nope.xlsx"), "Blood Tests")
		assert.ErrorIs(t, err, types.ErrTemplateNotFound)
	})

	t.Run("missing sheet", func(t *testing.T) {
		path := writeWorkbook(t, "Results", [][]any{{"Test"}})
		_, err := r.Read(path, "Blood Tests")
		assert.ErrorIs(t, err, types.ErrSheetMissing)
		assert.Contains(t, err.Error(), "Results")
	})

	t.Run("unsupported extension", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "template.ods")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		_, err := r.Read(path, "Blood Tests")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported template format")
	})
}

func TestReadEmptyPath(t *testing.T) {
	tbl, err := template.NewReader(nil, nil).Read("", "Blood Tests")
	require.NoError(t, err)
	assert.Equal(t, []string{"Test", "Unit", "Reference Range"}, tbl.Headers())
	assert.Empty(t, tbl.Rows)
}

func TestReadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "template.csv")
	content := "\ufeffTest,Units,2020-04-15,2020-04-15\n" +
		"Sodium,mmol/L,140,141\n" +
		",,,\n" +
		"Potassium,mmol/L,,\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	tbl, err := template.NewReader(nil, nil).Read(path, "ignored")
	require.NoError(t, err)

	assert.Equal(t, "", tbl.Sheet)
	assert.Equal(t, []types.ColumnKind{
		types.ColumnTest, types.ColumnUnit, types.ColumnDate, types.ColumnOther,
	}, kinds(tbl), "a repeated date header is preserved as an other column")
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, "140", tbl.Rows[0].Cell("2020-04-15"))
	assert.Equal(t, "141", tbl.Rows[0].Cell(tbl.Columns[3].Key))
}

func TestFromRows(t *testing.T) {
	r := template.NewReader(nil, nil)

	t.Run("empty grid gives a blank table", func(t *testing.T) {
		tbl := r.FromRows([][]string{{"", " "}, {}})
		assert.Equal(t, types.NewTable(), tbl)
	})

	t.Run("header row without a test column", func(t *testing.T) {
		tbl := r.FromRows([][]string{
			{"Analysis", "01/02/2021"},
			{"Sodium", "139"},
		})
		require.Len(t, tbl.Columns, 3)
		assert.Equal(t, types.ColumnTest, tbl.Columns[0].Kind)
		assert.Equal(t, types.ColumnOther, tbl.Columns[1].Kind)
		assert.Equal(t, "2021-02-01", tbl.Columns[2].Key)

		require.Len(t, tbl.Rows, 1)
		assert.Equal(t, "", tbl.Rows[0].Test)
		assert.Equal(t, "139", tbl.Rows[0].Cell("2021-02-01"))
	})

	t.Run("leading blank rows are skipped", func(t *testing.T) {
		tbl := r.FromRows([][]string{
			{},
			{"Test", "Unit"},
			{"Urea", "mmol/L"},
		})
		require.Len(t, tbl.Rows, 1)
		assert.Equal(t, "Urea", tbl.Rows[0].Test)
	})
}

func TestReadKeepsCellsBeyondHeader(t *testing.T) {
	t.Run("csv", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "template.csv")
		require.NoError(t, os.WriteFile(path, []byte("Test,Unit\nSodium,mmol/L,140,manual note\n"), 0o644))

		tbl, err := template.NewReader(nil, nil).Read(path, "")
		require.NoError(t, err)

		assert.Equal(t, []types.ColumnKind{
			types.ColumnTest, types.ColumnUnit, types.ColumnBlank, types.ColumnBlank,
		}, kinds(tbl))
		require.Len(t, tbl.Rows, 1)
		assert.Equal(t, []string{"Sodium", "mmol/L", "140", "manual note"}, tbl.Values(&tbl.Rows[0]))
	})

	t.Run("xlsx with trailing blank headers", func(t *testing.T) {
		path := writeWorkbook(t, "Blood Tests", [][]any{
			{"Test", "Unit", "01/02/2021"},
			{"Sodium", "mmol/L", 139, nil, 141},
		})

		tbl, err := template.NewReader(nil, nil).Read(path, "Blood Tests")
		require.NoError(t, err)

		require.Len(t, tbl.Columns, 5)
		assert.Equal(t, types.ColumnBlank, tbl.Columns[3].Kind)
		assert.Equal(t, types.ColumnBlank, tbl.Columns[4].Kind)
		assert.Equal(t, "139", tbl.Rows[0].Cell("2021-02-01"))
		assert.Equal(t, "141", tbl.Rows[0].Cell(tbl.Columns[4].Key))
	})
}
