package ocr_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/blood-test-parser/internal/config"
	"github.com/ginjaninja78/blood-test-parser/internal/ocr"
	"github.com/ginjaninja78/blood-test-parser/internal/types"
)

type fakeRunner struct {
	stdout string
	stderr string
	err    error
	delay  time.Duration

	name string
	args []string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.name = name
	f.args = args
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	return []byte(f.stdout), []byte(f.stderr), f.err
}

func testConfig() config.OCRConfig {
	return config.Default().OCR
}

func TestArgs(t *testing.T) {
	cfg := testConfig()
	cfg.TessdataDir = "/usr/share/tessdata"
	e := ocr.NewExtractorWithRunner(cfg, &fakeRunner{}, nil)

	args := e.Args("scan.png")
	assert.Equal(t, []string{
		"scan.png", "stdout", "-l", "eng",
		"--oem", "3",
		"--psm", "6",
		"--tessdata-dir", "/usr/share/tessdata",
		"-c", "tessedit_char_whitelist=" + config.DefaultCharWhitelist,
	}, args)

	cfg = config.OCRConfig{}
	e = ocr.NewExtractorWithRunner(cfg, &fakeRunner{}, nil)
	assert.Equal(t, []string{"scan.png", "stdout", "-l", "eng"}, e.Args("scan.png"))
}

func TestExtractImage(t *testing.T) {
	runner := &fakeRunner{stdout: "Sodium 140 138\n"}
	e := ocr.NewExtractorWithRunner(testConfig(), runner, nil)

	res, err := e.Extract(context.Background(), "report.PNG")
	require.NoError(t, err)
	assert.Equal(t, "Sodium 140 138\n", res.Text)
	assert.Equal(t, ocr.MethodTesseract, res.Method)
	assert.Equal(t, "tesseract", runner.name)
	assert.Equal(t, "report.PNG", runner.args[0])
}

func TestExtractTextFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.txt")
	require.NoError(t, os.WriteFile(path, []byte("Test 01/01/2020\nSodium 140\n"), 0o644))

	runner := &fakeRunner{}
	e := ocr.NewExtractorWithRunner(testConfig(), runner, nil)

	res, err := e.Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, ocr.MethodTextFile, res.Method)
	assert.Contains(t, res.Text, "Sodium 140")
	assert.Empty(t, runner.name, "tesseract is not started for text dumps")
}

func TestExtractErrors(t *testing.T) {
	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("  \n\n"), 0o644))

	tests := []struct {
		name   string
		path   string
		runner *fakeRunner
		cfg    func(*config.OCRConfig)
		want   error
		msg    string
	}{
		{
			name:   "binary missing",
			path:   "scan.png",
			runner: &fakeRunner{err: fmt.Errorf("exec: %q: %w", "tesseract", exec.ErrNotFound)},
			want:   types.ErrOCRUnavailable,
		},
		{
			name:   "tesseract exits non-zero",
			path:   "scan.png",
			runner: &fakeRunner{err: errors.New("exit status 1"), stderr: "Error in pixReadStream"},
			want:   types.ErrOCRFailed,
			msg:    "pixReadStream",
		},
		{
			name:   "no text recognised",
			path:   "scan.png",
			runner: &fakeRunner{stdout: "\n \n"},
			want:   types.ErrOCRFailed,
			msg:    "no text extracted",
		},
		{
			name:   "timeout",
			path:   "scan.png",
			runner: &fakeRunner{delay: time.Second},
			cfg:    func(c *config.OCRConfig) { c.Timeout = 10 * time.Millisecond },
			want:   types.ErrOCRFailed,
			msg:    "deadline exceeded",
		},
		{
			name:   "empty text dump",
			path:   empty,
			runner: &fakeRunner{},
			want:   types.ErrOCRFailed,
		},
		{
			name:   "missing text dump",
			path:   filepath.Join(t.TempDir(), "nope.txt"),
			runner: &fakeRunner{},
			want:   types.ErrOCRFailed,
		},
		{
			name:   "unsupported extension",
			path:   "report.pdf",
			runner: &fakeRunner{},
			want:   types.ErrOCRFailed,
			msg:    "unsupported input type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			e := ocr.NewExtractorWithRunner(cfg, tt.runner, nil)

			_, err := e.Extract(context.Background(), tt.path)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, types.IsFatal(err))
			if tt.msg != "" {
				assert.Contains(t, err.Error(), tt.msg)
			}
		})
	}
}

func TestCheck(t *testing.T) {
	e := ocr.NewExtractorWithRunner(testConfig(), &fakeRunner{stdout: "tesseract 5.3.0\n leptonica-1.82.0\n"}, nil)
	v, err := e.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tesseract 5.3.0", v)

	e = ocr.NewExtractorWithRunner(testConfig(), &fakeRunner{stderr: "tesseract 4.1.1\n"}, nil)
	v, err = e.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tesseract 4.1.1", v)

	e = ocr.NewExtractorWithRunner(testConfig(), &fakeRunner{err: exec.ErrNotFound}, nil)
	_, err = e.Check(context.Background())
	assert.ErrorIs(t, err, types.ErrOCRUnavailable)
}

func TestIsSupported(t *testing.T) {
	assert.True(t, ocr.IsSupported("a.png"))
	assert.True(t, ocr.IsSupported("a.JPEG"))
	assert.True(t, ocr.IsSupported("a.tif"))
	assert.True(t, ocr.IsSupported("dump.txt"))
	assert.False(t, ocr.IsSupported("a.pdf"))
	assert.False(t, ocr.IsSupported("noext"))
}
