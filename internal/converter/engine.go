package converter

import (
	"errors"
	"log/slog"

	"github.com/ginjaninja78/blood-test-parser/internal/alias"
	"github.com/ginjaninja78/blood-test-parser/internal/config"
	"github.com/ginjaninja78/blood-test-parser/internal/dates"
	"github.com/ginjaninja78/blood-test-parser/internal/normalizer"
	"github.com/ginjaninja78/blood-test-parser/internal/rowparser"
	"github.com/ginjaninja78/blood-test-parser/internal/types"
)

// Parsed is the text-only half of the pipeline: everything that can be
// derived from OCR text without a template.
type Parsed struct {
	Lines     []types.RawLine
	Detection dates.Detection

	// Results carry their canonical ids once Parse returns.
	Results   []types.ParsedResult
	Unparsed  []types.RawLine
	Ambiguous []types.AmbiguousRow
	StoppedAt int
	Skipped   []types.RawLine

	Unresolved []types.UnresolvedName
	NoDates    bool
}

// Engine runs normalize -> detect dates -> parse rows -> resolve names.
// It holds no per-document state and is safe for concurrent use.
type Engine struct {
	detector *dates.Detector
	parser   *rowparser.Parser
	std      *alias.Standardizer
	logger   *slog.Logger
}

// NewEngine builds the text pipeline from configuration.
func NewEngine(cfg *config.MainConfig, std *alias.Standardizer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		detector: dates.NewDetector(cfg.DateLayouts, logger),
		parser:   rowparser.NewParser(cfg.PlaceholderValues, cfg.StopMarkers, logger),
		std:      std,
		logger:   logger,
	}
}

// Detector returns the date detector, shared with the template reader so
// both sides agree on what a date is.
func (e *Engine) Detector() *dates.Detector {
	return e.detector
}

// Standardizer returns the name standardizer.
func (e *Engine) Standardizer() *alias.Standardizer {
	return e.std
}

// Parse runs the text pipeline on raw OCR output.
// A document without dates is still parsed; NoDates is set instead of
// returning an error.
func (e *Engine) Parse(raw string) *Parsed {
	lines := normalizer.Normalize(raw)

	det, err := e.detector.Detect(lines)
	noDates := errors.Is(err, types.ErrNoDatesDetected)
	if noDates {
		e.logger.Warn("dates.none", "lines", len(lines))
	}

	outcome := e.parser.ParseLines(lines, det)
	unresolved := e.std.ResolveAll(outcome.Results)

	e.logger.Info("parse.done",
		"lines", len(lines),
		"dates", dates.Describe(det.Columns),
		"results", len(outcome.Results),
		"unparsed", len(outcome.Unparsed),
		"ambiguous", len(outcome.Ambiguous),
		"skipped", len(outcome.Skipped),
		"unresolved", len(unresolved),
	)

	return &Parsed{
		Lines:      lines,
		Detection:  det,
		Results:    outcome.Results,
		Unparsed:   outcome.Unparsed,
		Ambiguous:  outcome.Ambiguous,
		StoppedAt:  outcome.StoppedAt,
		Skipped:    outcome.Skipped,
		Unresolved: unresolved,
		NoDates:    noDates,
	}
}
