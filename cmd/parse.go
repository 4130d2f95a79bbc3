// =============================================================================
// Blood Test Parser - Parse Command
// =============================================================================
//
// This file defines the 'parse' command. It runs the text pipeline on one
// document and prints what was found, without touching any template or
// output. Operators use it to see why a report merged the way it did.
//
// COMMAND USAGE:
//   bloodtest parse <document>
//
// OUTPUT:
//   Dates:       2020-04-15 (15/04/20), 2022-03-03 (03/03/22)
//   LINE  TEST     CANONICAL  2020-04-15  2022-03-03  UNIT    RANGE
//   3     Sodium   Sodium     140         138                 135-145
//
// =============================================================================

package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/blood-test-parser/internal/converter"
	"github.com/ginjaninja78/blood-test-parser/internal/ocr"
	"github.com/ginjaninja78/blood-test-parser/internal/types"
)

var parseCmd = &cobra.Command{
	Use:   "parse <document>",
	Short: "Parse one document and print the detected dates and results",
	Long: `The parse command extracts the text of one document (an image or a .txt
OCR dump), detects the result dates, parses the test rows and resolves test
names, then prints the result. Nothing is written to disk.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runParse(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(parseCmd)
}

func runParse(cmd *cobra.Command, path string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	std, err := loadStandardizer(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to load alias table: %w", err)
	}

	text, err := ocr.NewExtractor(cfg.OCR, logger).Extract(cmd.Context(), path)
	if err != nil {
		return err
	}

	parsed := converter.NewEngine(cfg, std, logger).Parse(text.Text)
	printParsed(cmd.OutOrStdout(), parsed)
	return nil
}

func printParsed(out io.Writer, p *converter.Parsed) {
	cols := p.Detection.Columns
	if p.NoDates {
		fmt.Fprintln(out, "Dates:       none detected")
	} else {
		parts := make([]string, len(cols))
		for i, c := range cols {
			parts[i] = fmt.Sprintf("%s (%s)", c.Key(), c.Raw)
		}
		fmt.Fprintf(out, "Dates:       %s\n", strings.Join(parts, ", "))
	}
	fmt.Fprintf(out, "Lines:       %d\n", len(p.Lines))
	if p.StoppedAt > 0 {
		fmt.Fprintf(out, "Stopped at:  line %d (%d line(s) skipped)\n", p.StoppedAt, len(p.Skipped))
	}
	fmt.Fprintln(out)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	header := []string{"LINE", "TEST", "CANONICAL"}
	for _, c := range cols {
		header = append(header, c.Key())
	}
	header = append(header, "UNPLACED", "UNIT", "RANGE", "FLAG")
	fmt.Fprintln(tw, strings.Join(header, "\t"))

	for _, row := range groupByLine(p.Results) {
		first := row[0]
		canonical := first.Canonical
		if canonical == "" {
			canonical = "?"
		}
		cells := []string{fmt.Sprint(first.Line), first.RawName, canonical}

		byKey := make(map[string]string)
		var unplaced []string
		for _, r := range row {
			if r.Column == nil {
				unplaced = append(unplaced, r.Value)
				continue
			}
			byKey[r.Column.Key()] = r.Value
		}
		for _, c := range cols {
			cells = append(cells, byKey[c.Key()])
		}
		flag := ""
		if first.Flag == types.ConfidenceAmbiguous {
			flag = "ambiguous"
		}
		cells = append(cells, strings.Join(unplaced, " "), first.Unit, first.RefRange, flag)
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	tw.Flush()

	if len(p.Unresolved) > 0 {
		fmt.Fprintln(out, "\nUnresolved names:")
		for _, u := range p.Unresolved {
			fmt.Fprintf(out, "  %s\n", u)
		}
	}
	if len(p.Unparsed) > 0 {
		fmt.Fprintln(out, "\nUnparsed lines:")
		for _, l := range p.Unparsed {
			fmt.Fprintf(out, "  %4d  %s\n", l.Index, l.Text)
		}
	}
}

// groupByLine splits results into runs that share a source line.
func groupByLine(results []types.ParsedResult) [][]types.ParsedResult {
	var groups [][]types.ParsedResult
	for _, r := range results {
		n := len(groups)
		if n > 0 && groups[n-1][0].Line == r.Line {
			groups[n-1] = append(groups[n-1], r)
			continue
		}
		groups = append(groups, []types.ParsedResult{r})
	}
	return groups
}
