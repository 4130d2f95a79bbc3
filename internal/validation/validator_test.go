package validation_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/blood-test-parser/internal/alias"
	"github.com/ginjaninja78/blood-test-parser/internal/types"
	"github.com/ginjaninja78/blood-test-parser/internal/validation"
)

func standardizer(t *testing.T, aliases map[string][]string) *alias.Standardizer {
	t.Helper()
	table, err := alias.NewTable(aliases, nil)
	require.NoError(t, err)
	return alias.NewStandardizer(table, nil)
}

func rules(errs []*validation.ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Rule + ":" + e.Subject
	}
	return out
}

func TestValidateTemplate(t *testing.T) {
	std := standardizer(t, map[string][]string{
		"Sodium":    {"na"},
		"Potassium": {"k"},
		"Urea":      nil,
	})

	table := types.NewTable()
	table.Rows = []types.Row{
		{Test: "Sodium"},
		{Test: "NA"},
		{Test: "Xyzalyte"},
		{Test: "", Cells: map[string]string{"2020-01-01": "4"}},
		{Test: "", Cells: map[string]string{}},
		{Test: "K"},
	}

	v := validation.NewValidator(std)
	res := v.ValidateTemplate(table)

	assert.False(t, res.IsValid)
	assert.Equal(t, 2, res.ErrorCount)
	assert.Equal(t, 2, res.WarningCount)
	assert.Equal(t, 6, res.RowsValidated)
	assert.Equal(t, []string{
		"duplicate_row:NA",
		"unresolved_row:Xyzalyte",
		"empty_test_name:",
		"missing_row:Urea",
	}, rules(res.Errors))

	assert.Equal(t, 2, res.Errors[0].Row)
	assert.Contains(t, res.Errors[0].Message, "row 1")
}

func TestValidateTemplateOptions(t *testing.T) {
	std := standardizer(t, map[string][]string{
		"Alpha": {"c0de"},
		"Beta":  {"code"},
	})
	table := types.NewTable()
	table.Rows = []types.Row{{Test: "Alpha"}}

	res := validation.NewValidator(std).ValidateTemplate(table)
	assert.True(t, res.IsValid, "warnings alone keep a template valid")
	assert.Equal(t, []string{"fold_collision:code", "missing_row:Beta"}, rules(res.Errors))

	strict := validation.NewValidatorWithOptions(std, validation.ValidationOptions{
		TreatWarningsAsErrors: true,
		SkipCoverage:          true,
	})
	res = strict.ValidateTemplate(table)
	assert.False(t, res.IsValid)
	assert.Equal(t, []string{"fold_collision:code"}, rules(res.Errors))
}

func TestValidateValues(t *testing.T) {
	std := standardizer(t, map[string][]string{"Sodium": nil})

	table := types.NewTable()
	table.Columns = append(table.Columns,
		types.Column{Key: "2020-01-01", Header: "2020-01-01", Kind: types.ColumnDate},
		types.Column{Key: "other:4:Notes", Header: "Notes", Kind: types.ColumnOther},
	)
	table.Rows = []types.Row{
		{Test: "Sodium", Cells: map[string]string{"2020-01-01": "140", "other:4:Notes": "free text"}},
		{Test: "Potassium", Cells: map[string]string{"2020-01-01": "Unkn"}},
		{Test: "Urea", Cells: map[string]string{"2020-01-01": "<0.5"}},
		{Test: "ALT", Cells: map[string]string{"2020-01-01": "l4O"}},
	}

	v := validation.NewValidatorWithOptions(std, validation.ValidationOptions{Placeholders: []string{"unkn"}})
	res := v.ValidateValues(table)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, validation.RuleNonNumericValue, res.Errors[0].Rule)
	assert.Equal(t, "ALT @ 2020-01-01", res.Errors[0].Subject)
	assert.Equal(t, "l4O", res.Errors[0].Value)
	assert.Equal(t, 4, res.Errors[0].Row)
	assert.True(t, res.IsValid)
}

func TestFormatAndWriteErrors(t *testing.T) {
	assert.Equal(t, "No validation errors.", validation.FormatErrors(nil))

	errs := []*validation.ValidationError{
		{Severity: validation.SeverityWarning, Rule: validation.RuleMissingRow, Subject: "Urea", Message: "no template row"},
		{Severity: validation.SeverityError, Rule: validation.RuleDuplicateRow, Subject: "NA", Row: 2, Message: "duplicate"},
	}
	out := validation.FormatErrors(errs)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "1. [ERROR] duplicate_row row 2 'NA': duplicate", lines[2])
	assert.Equal(t, "2. [WARNING] missing_row 'Urea': no template row", lines[3])

	path := filepath.Join(t.TempDir(), "validation.log")
	require.NoError(t, validation.WriteErrorLog(errs, path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Validation Log")
	assert.Contains(t, string(data), "duplicate_row")
}
