// Package normalizer turns raw OCR output into candidate table lines.
package normalizer

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/ginjaninja78/blood-test-parser/internal/types"
)

var (
	reCRLF       = regexp.MustCompile(`\r\n?`)
	reWhitespace = regexp.MustCompile(`\s+`)
)

// Normalize cleans raw OCR text into non-empty lines.
//
// Each line is NFKC-normalized, stripped of control characters, and has its
// whitespace collapsed. Lines without any letter or digit are dropped.
// Line indexes are 1-based positions in the raw text.
func Normalize(raw string) []types.RawLine {
	if raw == "" {
		return nil
	}
	raw = reCRLF.ReplaceAllString(raw, "\n")

	var out []types.RawLine
	for i, line := range strings.Split(raw, "\n") {
		text := CleanLine(line)
		if !hasAlphanumeric(text) {
			continue
		}
		out = append(out, types.RawLine{Index: i + 1, Text: text})
	}
	return out
}

// CleanLine applies the per-line cleanup without splitting.
func CleanLine(line string) string {
	line = norm.NFKC.String(line)
	line = strings.Map(func(r rune) rune {
		if r == '\t' {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, line)
	return strings.TrimSpace(reWhitespace.ReplaceAllString(line, " "))
}

// Texts returns the text of each line, for debug dumps.
func Texts(lines []types.RawLine) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.Text
	}
	return out
}

func hasAlphanumeric(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
