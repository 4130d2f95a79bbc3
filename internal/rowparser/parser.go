// =============================================================================
// Blood Test Parser - Row Parser / Value Aligner
// =============================================================================
//
// This module turns one normalized table line into ParsedResult records.
//
// LINE LAYOUT:
//
//   <test name ...> [unit] <value> <value> ... [reference range] [unit]
//
//   Sodium 140 138 135-145
//   P0tassium mmol/L 4.1 H5.6 (3.5-5.2)
//
// ALIGNMENT:
//   The i-th value is assigned to the date column of rank i. When the number
//   of values differs from the number of date columns every result of the row
//   is flagged ambiguous; surplus values keep a nil column so the merger can
//   report them. Nothing is dropped.
//
// =============================================================================

package rowparser

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ginjaninja78/blood-test-parser/internal/dates"
	"github.com/ginjaninja78/blood-test-parser/internal/types"
)

// =============================================================================
// TOKEN CLASSIFICATION
// =============================================================================

type tokenKind int

const (
	kindWord tokenKind = iota
	kindNumeric
	kindPlaceholder
	kindUnit
	kindRange
	kindMarker
)

var (
	// reNumeric accepts 140, 4.1, H5.6, L0.8, <5, >=90, 12H, 7*.
	reNumeric = regexp.MustCompile(`^(?:[HL]|[<>]=?)?\d+(?:\.\d+)?[HL*]?$`)

	// reRange accepts 135-145, (3.5-5.2), [10-50], [<5], (>60).
	reRange = regexp.MustCompile(`^(?:\(?\d+(?:\.\d+)?-\d+(?:\.\d+)?\)?|\[\d+(?:\.\d+)?-\d+(?:\.\d+)?\]|[(\[][<>]=?\d+(?:\.\d+)?[)\]])$`)

	// rePlainNumber accepts unflagged numbers, the bounds of a spaced range.
	rePlainNumber = regexp.MustCompile(`^\d+(?:\.\d+)?$`)

	// reDigitRun finds digit runs with O/o misreads inside or at the end.
	reDigitRun = regexp.MustCompile(`\d[\dOo.]*|[Oo]+\d[\dOo.]*`)
)

// knownUnits are unit tokens that carry no '/'.
var knownUnits = map[string]bool{
	"%": true, "fl": true, "pg": true, "iu": true, "miu": true, "mu": true,
	"mmol": true, "umol": true, "nmol": true, "pmol": true,
	"mg": true, "ng": true, "ug": true, "sec": true, "secs": true,
	"mmhg": true, "x10^9": true, "x10^12": true,
}

// standalone flag markers printed next to a value ("140 H").
var flagMarkers = map[string]bool{"H": true, "L": true, "*": true, "HH": true, "LL": true}

// =============================================================================
// PARSER
// =============================================================================

// LineStatus is the outcome of parsing one line.
type LineStatus string

const (
	// StatusParsed means the line produced at least one result.
	StatusParsed LineStatus = "parsed"

	// StatusUnparsed means no test name or no value was recognized.
	StatusUnparsed LineStatus = "unparsed"
)

// Parser splits table lines into results.
// It is stateless after construction and safe for concurrent use.
type Parser struct {
	placeholders map[string]bool
	stopMarkers  []string
	logger       *slog.Logger
}

// NewParser creates a row parser.
//
// PARAMETERS:
//   - placeholders: textual cells that hold a column position ("Unkn").
//   - stopMarkers: line prefixes that end the results section.
//   - logger: structured logger (nil uses slog.Default()).
func NewParser(placeholders, stopMarkers []string, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Parser{
		placeholders: make(map[string]bool, len(placeholders)),
		logger:       logger,
	}
	for _, v := range placeholders {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			p.placeholders[v] = true
		}
	}
	for _, m := range stopMarkers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			p.stopMarkers = append(p.stopMarkers, m)
		}
	}
	return p
}

// Outcome is everything ParseLines extracted from one document.
type Outcome struct {
	Results   []types.ParsedResult
	Unparsed  []types.RawLine
	Ambiguous []types.AmbiguousRow

	// StoppedAt is the index of the line that matched a stop marker, or 0.
	StoppedAt int

	// Skipped holds the stop line and every line after it.
	Skipped []types.RawLine
}

// ParseLines parses every line that is not a date header, up to the first
// stop marker.
func (p *Parser) ParseLines(lines []types.RawLine, det dates.Detection) Outcome {
	var out Outcome
	for i, line := range lines {
		if det.IsHeader(line.Index) {
			continue
		}
		if p.IsStopLine(line.Text) {
			out.StoppedAt = line.Index
			out.Skipped = lines[i:]
			p.logger.Debug("rowparser.stop", "line", line.Index, "text", line.Text, "skipped", len(out.Skipped))
			break
		}

		results, status := p.ParseLine(line, det.Columns)
		if status == StatusUnparsed {
			out.Unparsed = append(out.Unparsed, line)
			p.logger.Debug("rowparser.unparsed", "line", line.Index, "text", line.Text)
			continue
		}
		if len(results) > 0 && results[0].Flag == types.ConfidenceAmbiguous {
			out.Ambiguous = append(out.Ambiguous, types.AmbiguousRow{
				Line:    line.Index,
				RawName: results[0].RawName,
				Values:  len(results),
				Columns: len(det.Columns),
			})
		}
		out.Results = append(out.Results, results...)
	}
	return out
}

// IsStopLine reports whether a line ends the results section.
// Markers containing '.' match anywhere in the line. Other markers must be
// the line's first word, optionally plural: "End of report" and "Comments:"
// stop, "Endothelin-1" does not.
func (p *Parser) IsStopLine(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, m := range p.stopMarkers {
		if strings.Contains(m, ".") {
			if strings.Contains(lower, m) {
				return true
			}
			continue
		}
		rest, ok := strings.CutPrefix(lower, m)
		if !ok {
			continue
		}
		rest = strings.TrimPrefix(rest, "s")
		if r, _ := utf8.DecodeRuneInString(rest); rest == "" || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return true
		}
	}
	return false
}

type valueToken struct {
	text string
	kind types.ValueKind
}

// ParseLine parses a single line against the date columns.
func (p *Parser) ParseLine(line types.RawLine, columns []types.DateColumn) ([]types.ParsedResult, LineStatus) {
	tokens := strings.Fields(line.Text)
	if len(tokens) == 0 {
		return nil, StatusUnparsed
	}

	// Leading run of words is the test name.
	var name []string
	i := 0
	for ; i < len(tokens); i++ {
		kind, _ := p.classify(tokens[i], len(name) == 0)
		if kind != kindWord && !(len(name) > 0 && p.isNameDash(tokens, i)) {
			break
		}
		name = append(name, tokens[i])
	}
	rawName := strings.Join(name, " ")
	if !hasLetter(rawName) {
		return nil, StatusUnparsed
	}

	rest := p.joinSpacedRanges(tokens[i:], len(columns))

	var (
		values   []valueToken
		unit     string
		refRange string
	)
	for _, tok := range rest {
		kind, text := p.classify(tok, false)
		switch kind {
		case kindNumeric:
			values = append(values, valueToken{text: text, kind: types.ValueNumeric})
		case kindPlaceholder:
			values = append(values, valueToken{text: text, kind: types.ValueText})
		case kindUnit:
			if unit == "" {
				unit = text
			}
		case kindRange:
			if refRange == "" {
				refRange = strings.Trim(text, "()[]")
			}
		case kindMarker:
		default:
			p.logger.Debug("rowparser.token.ignored", "line", line.Index, "token", text)
		}
	}
	if len(values) == 0 {
		return nil, StatusUnparsed
	}

	byRank := make(map[int]types.DateColumn, len(columns))
	for _, c := range columns {
		byRank[c.Rank] = c
	}

	flag := types.ConfidenceOK
	if len(columns) > 0 && len(values) != len(columns) {
		flag = types.ConfidenceAmbiguous
	}

	results := make([]types.ParsedResult, 0, len(values))
	for idx, v := range values {
		r := types.ParsedResult{
			Line:     line.Index,
			RawName:  rawName,
			Value:    v.text,
			Kind:     v.kind,
			Flag:     flag,
			Unit:     unit,
			RefRange: refRange,
		}
		if c, ok := byRank[idx]; ok {
			col := c
			r.Column = &col
		}
		results = append(results, r)
	}
	return results, StatusParsed
}

// isNameDash reports whether tokens[i] is a lone dash joining two words of
// a test name ("Gamma - GT").
func (p *Parser) isNameDash(tokens []string, i int) bool {
	if tokens[i] != "-" || i+1 >= len(tokens) {
		return false
	}
	kind, _ := p.classify(tokens[i+1], false)
	return kind == kindWord
}

// joinSpacedRanges rewrites "135 - 145" as the single range token "135-145".
// It only applies when the line carries more values than date columns, so
// a "-" placeholder between two results keeps its column.
func (p *Parser) joinSpacedRanges(tokens []string, columns int) []string {
	if columns > 0 {
		n := 0
		for _, tok := range tokens {
			if kind, _ := p.classify(tok, false); kind == kindNumeric || kind == kindPlaceholder {
				n++
			}
		}
		if n <= columns {
			return tokens
		}
	}

	out := make([]string, 0, len(tokens))
	for j := 0; j < len(tokens); j++ {
		if j+2 < len(tokens) && tokens[j+1] == "-" && isAscending(tokens[j], tokens[j+2]) {
			out = append(out, tokens[j]+"-"+tokens[j+2])
			j += 2
			continue
		}
		out = append(out, tokens[j])
	}
	return out
}

// isAscending reports whether a and b are plain numbers with a < b.
func isAscending(a, b string) bool {
	if !rePlainNumber.MatchString(a) || !rePlainNumber.MatchString(b) {
		return false
	}
	x, errA := strconv.ParseFloat(a, 64)
	y, errB := strconv.ParseFloat(b, 64)
	return errA == nil && errB == nil && x < y
}

// IsNumeric reports whether s is a numeric result as the parser emits it
// (after O/0 repair): 140, 4.1, H5.6, <5, >=90, 12H, 7*.
func IsNumeric(s string) bool {
	return reNumeric.MatchString(s)
}

// classify returns the token kind and the (possibly repaired) token text.
// The first token of a line is never a unit, placeholder or marker, so names
// such as "A/G Ratio" or "Na" are kept.
func (p *Parser) classify(tok string, first bool) (tokenKind, string) {
	if repaired, ok := repairNumeric(tok); ok {
		return kindNumeric, repaired
	}
	if reRange.MatchString(tok) {
		return kindRange, tok
	}
	if first {
		return kindWord, tok
	}
	lower := strings.ToLower(tok)
	if p.placeholders[lower] {
		return kindPlaceholder, tok
	}
	if flagMarkers[tok] {
		return kindMarker, tok
	}
	if isUnit(lower) {
		return kindUnit, tok
	}
	return kindWord, tok
}

// repairNumeric accepts numeric tokens, fixing O/o misread for 0 inside
// digit runs ("14O" -> "140", "4.O" -> "4.0").
func repairNumeric(tok string) (string, bool) {
	if reNumeric.MatchString(tok) {
		return tok, true
	}
	if !strings.ContainsAny(tok, "Oo") || !strings.ContainsAny(tok, "0123456789") {
		return "", false
	}
	repaired := reDigitRun.ReplaceAllStringFunc(tok, func(run string) string {
		return strings.NewReplacer("O", "0", "o", "0").Replace(run)
	})
	if reNumeric.MatchString(repaired) {
		return repaired, true
	}
	return "", false
}

func isUnit(lower string) bool {
	if knownUnits[lower] {
		return true
	}
	if strings.Contains(lower, "/") {
		for _, r := range lower {
			if unicode.IsLetter(r) {
				return true
			}
		}
	}
	return false
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
