package exporter_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/blood-test-parser/internal/exporter"
	"github.com/ginjaninja78/blood-test-parser/internal/types"
)

func sampleTable() *types.Table {
	d1 := time.Date(2020, 4, 15, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2022, 3, 3, 0, 0, 0, 0, time.UTC)

	t := types.NewTable()
	t.Columns = append(t.Columns,
		types.Column{Key: "2020-04-15", Header: "15/04/2020", Kind: types.ColumnDate, Date: d1},
		types.Column{Key: "2022-03-03", Header: "2022-03-03", Kind: types.ColumnDate, Date: d2},
		types.Column{Key: "other:5:Notes", Header: "Notes", Kind: types.ColumnOther},
	)
	t.Rows = []types.Row{
		{Test: "Sodium", Units: "mmol/L", RefRange: "135-145", Cells: map[string]string{"2020-04-15": "140", "2022-03-03": "138", "other:5:Notes": "a, b"}},
		{Test: "Potassium", Cells: map[string]string{"2022-03-03": "<5"}},
	}
	return t
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, exporter.WriteCSV(&buf, sampleTable()))

	want := "Test,Unit,Reference Range,15/04/2020,2022-03-03,Notes\n" +
		"Sodium,mmol/L,135-145,140,138,\"a, b\"\n" +
		"Potassium,,,,<5,\n"
	assert.Equal(t, want, buf.String())
}

func TestMarshalXML(t *testing.T) {
	table := sampleTable()
	table.Source = "template.xlsx"

	out, err := exporter.MarshalXML(table, exporter.DefaultXMLOptions())
	require.NoError(t, err)
	doc := string(out)

	assert.True(t, strings.HasPrefix(doc, "<?xml"))
	assert.Contains(t, doc, `<bloodTests source="template.xlsx">`)
	assert.Contains(t, doc, `<test name="Sodium" unit="mmol/L" range="135-145">`)
	assert.Contains(t, doc, `<result date="2020-04-15" header="15/04/2020">140</result>`)
	assert.Contains(t, doc, `<result date="2022-03-03">138</result>`)
	assert.Contains(t, doc, `<field name="Notes">a, b</field>`)
	assert.Contains(t, doc, `<result date="2022-03-03">&lt;5</result>`)

	assert.Less(t, strings.Index(doc, `name="Sodium"`), strings.Index(doc, `name="Potassium"`), "row order is preserved")
	assert.NotContains(t, doc, `<result date="2020-04-15"/>`)

	opts := exporter.DefaultXMLOptions()
	opts.IncludeEmptyResults = true
	opts.IncludeDeclaration = false
	out, err = exporter.MarshalXML(table, opts)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "<bloodTests"))
	assert.Contains(t, string(out), `<result date="2020-04-15" header="15/04/2020"/>`)
}

func TestEncodeXLSXNewWorkbook(t *testing.T) {
	data, err := exporter.EncodeXLSX(sampleTable())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(exporter.DefaultSheet)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(rows), 3)
	assert.Equal(t, []string{"Test", "Unit", "Reference Range", "15/04/2020", "2022-03-03", "Notes"}, rows[0])
	assert.Equal(t, []string{"Sodium", "mmol/L", "135-145", "140", "138", "a, b"}, rows[1])

	v, err := f.GetCellValue(exporter.DefaultSheet, "E3")
	require.NoError(t, err)
	assert.Equal(t, "<5", v)
}

func TestEncodeXLSXKeepsOtherSheets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "template.xlsx")

	src := excelize.NewFile()
	require.NoError(t, src.SetSheetName("Sheet1", "Blood Tests"))
	require.NoError(t, src.SetCellValue("Blood Tests", "A1", "Test"))
	require.NoError(t, src.SetCellValue("Blood Tests", "H9", "stale"))
	_, err := src.NewSheet("Notes")
	require.NoError(t, err)
	require.NoError(t, src.SetCellValue("Notes", "A1", "keep"))
	require.NoError(t, src.SaveAs(path))
	require.NoError(t, src.Close())

	table := sampleTable()
	table.Source = path
	table.Sheet = "Blood Tests"

	data, err := exporter.EncodeXLSX(table)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Blood Tests", "Notes"}, f.GetSheetList())

	keep, err := f.GetCellValue("Notes", "A1")
	require.NoError(t, err)
	assert.Equal(t, "keep", keep)

	stale, err := f.GetCellValue("Blood Tests", "H9")
	require.NoError(t, err)
	assert.Empty(t, stale, "old sheet content is cleared")

	sodium, err := f.GetCellValue("Blood Tests", "D2")
	require.NoError(t, err)
	assert.Equal(t, "140", sodium)
}

func TestExport(t *testing.T) {
	dir := t.TempDir()
	e := exporter.New(nil)

	for _, format := range []string{exporter.FormatCSV, exporter.FormatXLSX, exporter.FormatXML} {
		t.Run(format, func(t *testing.T) {
			path := filepath.Join(dir, "out", "merged"+exporter.Extension(format))
			require.NoError(t, e.Export(sampleTable(), format, path))

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Greater(t, info.Size(), int64(0))
		})
	}

	t.Run("unknown format", func(t *testing.T) {
		err := e.Export(sampleTable(), "pdf", filepath.Join(dir, "merged.pdf"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported output format")
	})
}
