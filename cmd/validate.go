// =============================================================================
// Blood Test Parser - Validate Command
// =============================================================================
//
// This file defines the 'validate' command. It checks the configuration, the
// alias table, the OCR engine and the template without processing anything.
//
// COMMAND USAGE:
//   bloodtest validate [--strict] [--skip-coverage] [--log findings.txt]
//
// EXIT STATUS:
//   Non-zero when the configuration cannot be loaded or the template has
//   error findings (or any finding, with --strict).
//
// =============================================================================

package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/blood-test-parser/internal/converter"
	"github.com/ginjaninja78/blood-test-parser/internal/ocr"
	"github.com/ginjaninja78/blood-test-parser/internal/template"
	"github.com/ginjaninja78/blood-test-parser/internal/types"
	"github.com/ginjaninja78/blood-test-parser/internal/validation"
)

var (
	strictValidation bool
	skipCoverage     bool
	validationLog    string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration, alias table and template",
	Long: `The validate command loads the configuration and the alias table, checks
that tesseract can be started, reads the template and reports:
  - folded alias keys claimed by two tests
  - template rows without a name, duplicated, or unknown to the alias table
  - tests in the alias table that have no template row yet`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(cmd)
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&strictValidation, "strict", false, "Treat warnings as errors")
	validateCmd.Flags().BoolVar(&skipCoverage, "skip-coverage", false, "Don't report alias tests missing from the template")
	validateCmd.Flags().StringVar(&validationLog, "log", "", "Also write the findings to this file")
}

func runValidate(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()
	fmt.Fprintln(out, "Configuration:  ok")

	std, err := loadStandardizer(cfg, logger)
	if err != nil {
		return fmt.Errorf("alias table: %w", err)
	}
	fmt.Fprintf(out, "Alias table:    %d entries, %d tests\n", std.Table().Len(), len(std.Table().Canonicals()))

	version, err := ocr.NewExtractor(cfg.OCR, logger).Check(cmd.Context())
	switch {
	case errors.Is(err, types.ErrOCRUnavailable):
		// Text dumps can still be processed without tesseract.
		fmt.Fprintf(out, "OCR engine:     unavailable (%v)\n", err)
	case err != nil:
		fmt.Fprintf(out, "OCR engine:     error (%v)\n", err)
	default:
		fmt.Fprintf(out, "OCR engine:     %s\n", version)
	}

	engine := converter.NewEngine(cfg, std, logger)
	tmpl, err := template.NewReader(engine.Detector(), logger).Read(cfg.TemplatePath, cfg.SheetName)
	if err != nil {
		return fmt.Errorf("template: %w", err)
	}
	source := cfg.TemplatePath
	if source == "" {
		source = "(none, a blank table is used)"
	}
	fmt.Fprintf(out, "Template:       %s, %d row(s), %d date column(s)\n\n", source, len(tmpl.Rows), len(tmpl.DateColumns()))

	v := validation.NewValidatorWithOptions(std, validation.ValidationOptions{
		TreatWarningsAsErrors: strictValidation,
		SkipCoverage:          skipCoverage,
		Placeholders:          cfg.PlaceholderValues,
	})
	result := v.ValidateTemplate(tmpl)
	values := v.ValidateValues(tmpl)
	findings := append(result.Errors, values.Errors...)

	fmt.Fprint(out, validation.FormatErrors(findings))

	if validationLog != "" {
		if err := validation.WriteErrorLog(findings, validationLog); err != nil {
			return err
		}
		fmt.Fprintf(out, "\nFindings written to %s\n", validationLog)
	}

	if !result.IsValid || !values.IsValid {
		return fmt.Errorf("validation failed: %d error(s), %d warning(s)",
			result.ErrorCount+values.ErrorCount, result.WarningCount+values.WarningCount)
	}
	return nil
}
