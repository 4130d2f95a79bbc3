// =============================================================================
// Blood Test Parser - Validation Engine
// =============================================================================
//
// This module checks that the alias table and the template agree with each
// other before documents are merged into them, and checks merged tables for
// values that look like OCR damage.
//
// VALIDATION LEVELS:
//   1. Alias table: folded keys claimed by two canonical tests
//   2. Template rows: empty names, duplicates, names the aliases don't know
//   3. Coverage: canonical tests that have no template row yet
//   4. Values: date cells that are neither numbers nor known placeholders
//
// ERROR HANDLING:
//   - Findings are collected, not returned as Go errors
//   - "error" findings make the template unusable until fixed
//   - "warning" findings are reported and processing continues
//
// =============================================================================

package validation

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ginjaninja78/blood-test-parser/internal/alias"
	"github.com/ginjaninja78/blood-test-parser/internal/rowparser"
	"github.com/ginjaninja78/blood-test-parser/internal/types"
)

// Severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Rules.
const (
	RuleFoldCollision   = "fold_collision"
	RuleEmptyTestName   = "empty_test_name"
	RuleDuplicateRow    = "duplicate_row"
	RuleUnresolvedRow   = "unresolved_row"
	RuleMissingRow      = "missing_row"
	RuleNonNumericValue = "non_numeric_value"
)

// =============================================================================
// VALIDATION ERROR TYPES
// =============================================================================

// ValidationError represents a single validation finding.
type ValidationError struct {
	// Severity is SeverityError or SeverityWarning.
	Severity string

	// Rule is the check that produced the finding.
	Rule string

	// Subject is the test name, folded key or cell the finding is about.
	Subject string

	// Value is the offending value, when there is one.
	Value string

	// Message is a human-readable description.
	Message string

	// Row is the 1-based template data row, or 0.
	Row int
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", strings.ToUpper(e.Severity), e.Rule)
	if e.Row > 0 {
		fmt.Fprintf(&b, " row %d", e.Row)
	}
	if e.Subject != "" {
		fmt.Fprintf(&b, " '%s'", e.Subject)
	}
	fmt.Fprintf(&b, ": %s", e.Message)
	if e.Value != "" {
		fmt.Fprintf(&b, " (value: '%s')", e.Value)
	}
	return b.String()
}

// =============================================================================
// VALIDATION RESULT
// =============================================================================

// ValidationResult contains the results of validation.
type ValidationResult struct {
	// IsValid is true if there are no error findings.
	IsValid bool

	// Errors contains all findings (including warnings).
	Errors []*ValidationError

	ErrorCount   int
	WarningCount int

	// RowsValidated is the number of template rows inspected.
	RowsValidated int
}

func (r *ValidationResult) add(v *ValidationError, warningsAsErrors bool) {
	r.Errors = append(r.Errors, v)
	if v.Severity == SeverityError {
		r.ErrorCount++
		r.IsValid = false
		return
	}
	r.WarningCount++
	if warningsAsErrors {
		r.IsValid = false
	}
}

// =============================================================================
// VALIDATOR
// =============================================================================

// ValidationOptions contains options for validation.
type ValidationOptions struct {
	// TreatWarningsAsErrors makes any warning invalidate the result.
	TreatWarningsAsErrors bool

	// SkipCoverage skips the missing_row check. Templates that track a
	// subset of tests on purpose would otherwise be noisy.
	SkipCoverage bool

	// Placeholders are accepted as non-numeric cell values.
	Placeholders []string
}

// DefaultValidationOptions returns the default validation options.
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{}
}

// Validator checks tables against an alias table.
type Validator struct {
	std     *alias.Standardizer
	options ValidationOptions
	holders map[string]bool
}

// NewValidator creates a new Validator with default options.
func NewValidator(std *alias.Standardizer) *Validator {
	return NewValidatorWithOptions(std, DefaultValidationOptions())
}

// NewValidatorWithOptions creates a new Validator with custom options.
func NewValidatorWithOptions(std *alias.Standardizer, options ValidationOptions) *Validator {
	holders := make(map[string]bool, len(options.Placeholders))
	for _, p := range options.Placeholders {
		holders[strings.ToLower(strings.TrimSpace(p))] = true
	}
	return &Validator{std: std, options: options, holders: holders}
}

// =============================================================================
// MAIN VALIDATION FUNCTIONS
// =============================================================================

// ValidateTemplate runs the alias, row and coverage checks.
//
// PARAMETERS:
//   - table: The template as read by the template reader.
//
// RETURNS:
//   - A ValidationResult; IsValid is false when any error finding exists.
func (v *Validator) ValidateTemplate(table *types.Table) *ValidationResult {
	result := &ValidationResult{IsValid: true, RowsValidated: len(table.Rows)}

	for _, c := range v.std.Table().Collisions() {
		result.add(&ValidationError{
			Severity: SeverityWarning,
			Rule:     RuleFoldCollision,
			Subject:  c.Key,
			Message:  fmt.Sprintf("folded name is claimed by %s; only exact spellings will match", strings.Join(c.Canonicals, ", ")),
		}, v.options.TreatWarningsAsErrors)
	}

	present := make(map[string]int)
	for i, row := range table.Rows {
		n := i + 1
		name := strings.TrimSpace(row.Test)
		if name == "" {
			if len(row.Cells) > 0 {
				result.add(&ValidationError{
					Severity: SeverityError,
					Rule:     RuleEmptyTestName,
					Row:      n,
					Message:  "row has results but no test name",
				}, v.options.TreatWarningsAsErrors)
			}
			continue
		}

		res := v.std.Resolve(name)
		if !res.Resolved() {
			result.add(&ValidationError{
				Severity: SeverityWarning,
				Rule:     RuleUnresolvedRow,
				Subject:  name,
				Row:      n,
				Message:  "test name has no alias entry; only exact-text matches will merge into it",
			}, v.options.TreatWarningsAsErrors)
			continue
		}

		if first, dup := present[res.Canonical]; dup {
			result.add(&ValidationError{
				Severity: SeverityError,
				Rule:     RuleDuplicateRow,
				Subject:  name,
				Row:      n,
				Message:  fmt.Sprintf("resolves to %s like row %d; results would only ever merge into row %d", res.Canonical, first, first),
			}, v.options.TreatWarningsAsErrors)
			continue
		}
		present[res.Canonical] = n
	}

	if !v.options.SkipCoverage {
		for _, canonical := range v.std.Table().Canonicals() {
			if _, ok := present[canonical]; ok {
				continue
			}
			result.add(&ValidationError{
				Severity: SeverityWarning,
				Rule:     RuleMissingRow,
				Subject:  canonical,
				Message:  "no template row; a new row will be appended when results arrive",
			}, v.options.TreatWarningsAsErrors)
		}
	}

	return result
}

// ValidateValues flags date cells that are neither numeric nor placeholders.
// Such cells usually come from an operator typo or an old OCR run.
func (v *Validator) ValidateValues(table *types.Table) *ValidationResult {
	result := &ValidationResult{IsValid: true, RowsValidated: len(table.Rows)}
	for i := range table.Rows {
		row := &table.Rows[i]
		for _, col := range table.Columns {
			if col.Kind != types.ColumnDate {
				continue
			}
			val := row.Cell(col.Key)
			if val == "" || rowparser.IsNumeric(val) || v.holders[strings.ToLower(val)] {
				continue
			}
			result.add(&ValidationError{
				Severity: SeverityWarning,
				Rule:     RuleNonNumericValue,
				Subject:  fmt.Sprintf("%s @ %s", row.Test, col.Key),
				Value:    val,
				Row:      i + 1,
				Message:  "value is not numeric",
			}, v.options.TreatWarningsAsErrors)
		}
	}
	return result
}

// =============================================================================
// OUTPUT FUNCTIONS
// =============================================================================

// FormatErrors formats validation findings for display or logging.
//
// PARAMETERS:
//   - errors: The findings to format.
//
// RETURNS:
//   - A formatted string containing all findings, errors first.
func FormatErrors(errors []*ValidationError) string {
	if len(errors) == 0 {
		return "No validation errors."
	}

	sorted := append([]*ValidationError(nil), errors...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Severity == SeverityError && sorted[j].Severity != SeverityError
	})

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("Validation completed with %d finding(s):\n\n", len(sorted)))
	for i, err := range sorted {
		builder.WriteString(fmt.Sprintf("%d. %s\n", i+1, err.Error()))
	}
	return builder.String()
}

// WriteErrorLog writes validation findings to a log file.
//
// PARAMETERS:
//   - errors: The findings to write.
//   - filePath: The path to the output file.
//
// RETURNS:
//   - An error if writing fails.
func WriteErrorLog(errors []*ValidationError, filePath string) error {
	var b strings.Builder
	b.WriteString("Validation Log\n")
	b.WriteString(fmt.Sprintf("Generated: %s\n\n", time.Now().Format(time.RFC3339)))
	b.WriteString(FormatErrors(errors))

	if err := os.WriteFile(filePath, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write validation log: %w", err)
	}
	return nil
}
