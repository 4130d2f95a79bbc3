// =============================================================================
// Blood Test Parser - OCR Provider
// =============================================================================
//
// The OCR provider turns an input document into raw text. Two sources exist:
//
//   - images (.png .jpg .tif ...): tesseract, tuned for tables
//       tesseract <image> stdout -l eng --oem 3 --psm 6
//                 -c tessedit_char_whitelist=<letters digits ./()-<>: >
//   - text dumps (.txt): read as-is, so saved OCR output can be re-processed
//
// FAILURES:
//   - tesseract binary missing          -> types.ErrOCRUnavailable
//   - tesseract failed / timed out       -> types.ErrOCRFailed
//   - no text at all                     -> types.ErrOCRFailed
//
// Both are fatal for the document: there is no partial parse without text.
//
// =============================================================================

package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ginjaninja78/blood-test-parser/internal/config"
	"github.com/ginjaninja78/blood-test-parser/internal/types"
)

// Extraction methods.
const (
	MethodTesseract = "tesseract"
	MethodTextFile  = "text-file"
)

// imageExts are the inputs sent to tesseract.
var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".tif": true, ".tiff": true,
	".bmp": true, ".gif": true, ".webp": true, ".pnm": true,
}

// IsSupported reports whether path has an extension the extractor handles.
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return imageExts[ext] || ext == ".txt"
}

// Result is the raw text of one document.
type Result struct {
	Text     string
	Method   string
	Duration time.Duration
}

// Provider extracts raw text from a document.
type Provider interface {
	Extract(ctx context.Context, path string) (Result, error)
}

// Extractor picks a strategy based on file extension.
type Extractor struct {
	cfg    config.OCRConfig
	runner Runner
	logger *slog.Logger
}

// NewExtractor creates an extractor that runs the real tesseract binary.
func NewExtractor(cfg config.OCRConfig, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return NewExtractorWithRunner(cfg, ExecRunner{Logger: logger}, logger)
}

// NewExtractorWithRunner creates an extractor with a custom command runner.
func NewExtractorWithRunner(cfg config.OCRConfig, runner Runner, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	return &Extractor{cfg: cfg, runner: runner, logger: logger}
}

// Extract returns the raw text of the document at path.
func (e *Extractor) Extract(ctx context.Context, path string) (Result, error) {
	start := time.Now()
	ext := strings.ToLower(filepath.Ext(path))
	e.logger.Debug("ocr.start", "path", path, "ext", ext)

	var (
		res Result
		err error
	)
	switch {
	case ext == ".txt":
		res, err = e.readText(path)
	case imageExts[ext]:
		res, err = e.tesseract(ctx, path)
	default:
		return Result{}, fmt.Errorf("%w: unsupported input type %q", types.ErrOCRFailed, ext)
	}
	res.Duration = time.Since(start)
	if err != nil {
		e.logger.Error("ocr.failed", "path", path, "method", res.Method, "error", err)
		return res, err
	}

	if strings.TrimSpace(res.Text) == "" {
		return res, fmt.Errorf("%w: no text extracted from %s", types.ErrOCRFailed, filepath.Base(path))
	}
	e.logger.Info("ocr.ok",
		"path", path,
		"method", res.Method,
		"chars", len(res.Text),
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func (e *Extractor) readText(path string) (Result, error) {
	res := Result{Method: MethodTextFile}
	data, err := os.ReadFile(path)
	if err != nil {
		return res, fmt.Errorf("%w: %v", types.ErrOCRFailed, err)
	}
	res.Text = string(data)
	return res, nil
}

// Args returns the tesseract command line for an image.
func (e *Extractor) Args(path string) []string {
	args := []string{path, "stdout", "-l", e.cfg.Language}
	if e.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(e.cfg.OEM))
	}
	if e.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(e.cfg.PSM))
	}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	if e.cfg.CharWhitelist != "" {
		args = append(args, "-c", "tessedit_char_whitelist="+e.cfg.CharWhitelist)
	}
	return args
}

func (e *Extractor) tesseract(ctx context.Context, path string) (Result, error) {
	res := Result{Method: MethodTesseract}
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, e.Args(path)...)
	if err != nil {
		return res, classify(ctx, err, errb)
	}
	res.Text = string(out)
	return res, nil
}

// Check verifies the tesseract binary can be started.
func (e *Extractor) Check(ctx context.Context) (string, error) {
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, "--version")
	if err != nil {
		return "", classify(ctx, err, errb)
	}
	// Older releases print the version on stderr.
	text := strings.TrimSpace(string(out))
	if text == "" {
		text = strings.TrimSpace(string(errb))
	}
	first, _, _ := strings.Cut(text, "\n")
	return first, nil
}

// classify maps a runner error to the OCR error taxonomy.
func classify(ctx context.Context, err error, stderr []byte) error {
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %v", types.ErrOCRUnavailable, err)
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %v", types.ErrOCRFailed, ctx.Err())
	default:
		msg := strings.TrimSpace(truncate(string(stderr), 512))
		if msg == "" {
			return fmt.Errorf("%w: tesseract: %v", types.ErrOCRFailed, err)
		}
		return fmt.Errorf("%w: tesseract: %v: %s", types.ErrOCRFailed, err, msg)
	}
}
