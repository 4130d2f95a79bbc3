package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/blood-test-parser/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := config.Default()

	assert.Equal(t, "Blood Tests", cfg.SheetName)
	assert.Equal(t, "csv", cfg.OutputFormat)
	assert.Equal(t, "{original}_{timestamp}_{uuid}", cfg.OutputNameFormat)
	assert.Equal(t, "2006-01-02", cfg.DateHeaderLayout)
	assert.Equal(t, []string{"comment", "end", "www."}, cfg.StopMarkers)
	assert.Contains(t, cfg.PlaceholderValues, "unkn")
	assert.Equal(t, 4, cfg.MaxConcurrency)
	assert.True(t, cfg.ContinuesOnError())

	assert.Equal(t, "tesseract", cfg.OCR.Tesseract)
	assert.Equal(t, "eng", cfg.OCR.Language)
	assert.Equal(t, 6, cfg.OCR.PSM)
	assert.Equal(t, 3, cfg.OCR.OEM)
	assert.Equal(t, config.DefaultCharWhitelist, cfg.OCR.CharWhitelist)
	assert.Equal(t, 2*time.Minute, cfg.OCR.Timeout)
}

func TestLoadMainConfig(t *testing.T) {
	dir := t.TempDir()
	tmpl := filepath.Join(dir, "template.xlsx")
	require.NoError(t, os.WriteFile(tmpl, []byte("x"), 0o644))

	tests := []struct {
		name        string
		content     string
		wantErr     bool
		errContains string
		check       func(t *testing.T, cfg *config.MainConfig)
	}{
		{
			name: "full config",
			content: `input_dir: ` + dir + `/in
output_dir: ` + dir + `/out
template_path: ` + tmpl + `
sheet_name: Results
output_format: xlsx
log_level: debug
max_concurrency: 2
continue_on_error: false
date_layouts: ["2/1/2006", "2006-01-02"]
stop_markers: ["comments"]
placeholder_values: []
name_rules:
  - type: lowercase
  - type: replace
    find: "0"
    value: o
ocr:
  language: deu
  psm: 4
  timeout: 30s
`,
			check: func(t *testing.T, cfg *config.MainConfig) {
				assert.Equal(t, "Results", cfg.SheetName)
				assert.Equal(t, "xlsx", cfg.OutputFormat)
				assert.Equal(t, 2, cfg.MaxConcurrency)
				assert.False(t, cfg.ContinuesOnError())
				assert.Equal(t, []string{"2/1/2006", "2006-01-02"}, cfg.DateLayouts)
				assert.Equal(t, []string{"comments"}, cfg.StopMarkers)
				assert.Empty(t, cfg.PlaceholderValues, "an explicit empty list disables placeholders")
				require.Len(t, cfg.NameRules, 2)
				assert.Equal(t, config.NameRule{Type: "replace", Find: "0", Value: "o"}, cfg.NameRules[1])
				assert.Equal(t, "deu", cfg.OCR.Language)
				assert.Equal(t, 4, cfg.OCR.PSM)
				assert.Equal(t, 3, cfg.OCR.OEM)
				assert.Equal(t, 30*time.Second, cfg.OCR.Timeout)
			},
		},
		{
			name:    "empty file uses defaults",
			content: "",
			check: func(t *testing.T, cfg *config.MainConfig) {
				assert.Equal(t, config.Default(), cfg)
			},
		},
		{
			name:        "unknown output format",
			content:     "output_format: pdf\n",
			wantErr:     true,
			errContains: "unsupported output_format",
		},
		{
			name:        "unknown log level",
			content:     "log_level: chatty\n",
			wantErr:     true,
			errContains: "unsupported log_level",
		},
		{
			name:        "missing template",
			content:     "template_path: " + filepath.Join(dir, "missing.xlsx") + "\n",
			wantErr:     true,
			errContains: "template_path",
		},
		{
			name:        "malformed yaml",
			content:     "input_dir: [\n",
			wantErr:     true,
			errContains: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.LoadMainConfig(writeConfig(t, tt.content))
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := config.LoadMainConfig(filepath.Join(dir, "absent.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})
}

func TestEnsureDirectories(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	cfg.InputDir = filepath.Join(root, "in")
	cfg.OutputDir = filepath.Join(root, "out")
	cfg.InputArchiveDir = filepath.Join(root, "archive")
	cfg.DebugDir = filepath.Join(root, "debug")
	cfg.ArchiveInputs = true

	require.NoError(t, cfg.EnsureDirectories())

	for _, dir := range []string{cfg.InputDir, cfg.OutputDir, cfg.InputArchiveDir, cfg.DebugDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
