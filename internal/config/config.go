// =============================================================================
// Blood Test Parser - Configuration Module
// =============================================================================
//
// This module is responsible for loading and managing the application
// configuration (config.yaml). Everything the pipeline needs at run time is
// described here and passed explicitly into each component; there is no
// package-level mutable state.
//
// CONFIGURATION SECTIONS:
//   1. Directories (input, output, archives, debug dumps)
//   2. Template and alias table locations
//   3. Parsing rules (date layouts, stop markers, placeholders, name rules)
//   4. OCR engine settings
//   5. Logging, output naming, concurrency, history store
//
// =============================================================================

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// MAIN CONFIGURATION STRUCTURE
// =============================================================================

// MainConfig holds the global application configuration.
type MainConfig struct {
	// =========================================================================
	// DIRECTORY SETTINGS
	// =========================================================================

	// InputDir is scanned for scanned reports (images) and OCR text dumps.
	// Default: "./input"
	InputDir string `yaml:"input_dir"`

	// OutputDir receives the merged tables and review logs.
	// Default: "./output"
	OutputDir string `yaml:"output_dir"`

	// InputArchiveDir receives inputs after successful processing.
	// Default: "./input_archive"
	InputArchiveDir string `yaml:"input_archive_dir"`

	// DebugDir receives raw OCR text and normalized lines.
	// Empty disables debug dumps.
	// Default: "./debug"
	DebugDir string `yaml:"debug_dir"`

	// =========================================================================
	// TEMPLATE & ALIAS SETTINGS
	// =========================================================================

	// TemplatePath is the spreadsheet (.xlsx or .csv) results are merged into.
	// Empty starts from a blank table with Test/Unit/Reference Range columns.
	TemplatePath string `yaml:"template_path"`

	// SheetName is the worksheet holding the results table.
	// Default: "Blood Tests"
	SheetName string `yaml:"sheet_name"`

	// AliasFile is the alias table (.yaml/.yml/.json).
	// Empty uses the built-in table.
	AliasFile string `yaml:"alias_file"`

	// =========================================================================
	// PARSING SETTINGS
	// =========================================================================

	// DateLayouts are the Go time layouts accepted for date tokens.
	// Empty uses day/month/year with '/', '-' or '.' and 2- or 4-digit years.
	DateLayouts []string `yaml:"date_layouts"`

	// DateHeaderLayout formats date column headers on export.
	// Default: "2006-01-02"
	DateHeaderLayout string `yaml:"date_header_layout"`

	// StopMarkers end the results section. A line stops parsing when it
	// starts with (or, for markers containing '.', contains) a marker.
	// Default: ["comment", "end", "www."]
	StopMarkers []string `yaml:"stop_markers"`

	// PlaceholderValues are textual cells that hold a column position.
	// Matched case-insensitively.
	PlaceholderValues []string `yaml:"placeholder_values"`

	// NameRules is the folding chain used for step-2 name matching.
	// Empty uses the built-in chain.
	NameRules []NameRule `yaml:"name_rules"`

	// =========================================================================
	// OCR SETTINGS
	// =========================================================================

	OCR OCRConfig `yaml:"ocr"`

	// =========================================================================
	// OUTPUT SETTINGS
	// =========================================================================

	// OutputFormat is one of "csv", "xlsx", "xml".
	// Default: "csv"
	OutputFormat string `yaml:"output_format"`

	// OutputNameFormat defines output file names (without extension).
	// Placeholders:
	//   {original}  - Input file name without extension
	//   {uuid}      - A random UUID
	//   {timestamp} - Current timestamp (YYYYMMDD_HHMMSS)
	//   {date}      - Current date (YYYYMMDD)
	// Default: "{original}_{timestamp}_{uuid}"
	OutputNameFormat string `yaml:"output_name_format"`

	// ArchiveInputs moves inputs to InputArchiveDir after success.
	// Default: false
	ArchiveInputs bool `yaml:"archive_inputs"`

	// ArchiveByDate files archived inputs under YYYY/MM/DD subdirectories.
	// Default: false
	ArchiveByDate bool `yaml:"archive_by_date"`

	// =========================================================================
	// LOGGING SETTINGS
	// =========================================================================

	// LogFile additionally receives all log output. Empty logs to stderr only.
	LogFile string `yaml:"log_file"`

	// LogLevel is one of "debug", "info", "warn", "error".
	// Default: "info"
	LogLevel string `yaml:"log_level"`

	// =========================================================================
	// PROCESSING SETTINGS
	// =========================================================================

	// MaxConcurrency is the number of documents processed in parallel.
	// A single document is always processed sequentially.
	// Default: 4
	MaxConcurrency int `yaml:"max_concurrency"`

	// ContinueOnError keeps a batch going after a document fails.
	// Default: true
	ContinueOnError *bool `yaml:"continue_on_error"`

	// HistoryDB is the sqlite file recording runs and unresolved names.
	// Empty disables the history store.
	HistoryDB string `yaml:"history_db"`
}

// NameRule is one step of the name folding chain.
type NameRule struct {
	// Type is one of: lowercase, trim, collapse_spaces, remove_spaces,
	// strip_punctuation, replace, regex_replace.
	Type string `yaml:"type"`

	// Find is the substring or pattern for replace / regex_replace.
	Find string `yaml:"find,omitempty"`

	// Value is the replacement.
	Value string `yaml:"value,omitempty"`
}

// OCRConfig configures the tesseract invocation.
type OCRConfig struct {
	// Tesseract is the binary name or absolute path.
	// Default: "tesseract"
	Tesseract string `yaml:"tesseract"`

	// Language is the tesseract language.
	// Default: "eng"
	Language string `yaml:"language"`

	// PSM is the page segmentation mode; 6 assumes a uniform block of text.
	// Default: 6
	PSM int `yaml:"psm"`

	// OEM is the engine mode; 3 lets tesseract choose.
	// Default: 3
	OEM int `yaml:"oem"`

	// CharWhitelist restricts recognized characters.
	// Default: letters, digits and ./()-<>: plus space
	CharWhitelist string `yaml:"char_whitelist"`

	// TessdataDir overrides the tessdata location.
	TessdataDir string `yaml:"tessdata_dir"`

	// Timeout bounds one OCR call.
	// Default: 2m
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultCharWhitelist keeps tesseract to characters that appear in tables.
const DefaultCharWhitelist = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz./()-<>: "

// =============================================================================
// CONFIGURATION LOADING FUNCTIONS
// =============================================================================

// Default returns a configuration with every default applied.
func Default() *MainConfig {
	cfg := &MainConfig{}
	applyMainConfigDefaults(cfg)
	return cfg
}

// LoadMainConfig loads the main configuration from a YAML file.
//
// PARAMETERS:
//   - configPath: The path to the main configuration file.
//
// RETURNS:
//   - A pointer to the MainConfig struct with defaults applied.
//   - An error if the file cannot be read, parsed or validated.
func LoadMainConfig(configPath string) (*MainConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config MainConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyMainConfigDefaults(&config)

	if err := validateMainConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// applyMainConfigDefaults sets default values for any unset configuration options.
func applyMainConfigDefaults(config *MainConfig) {
	if config.InputDir == "" {
		config.InputDir = "./input"
	}
	if config.OutputDir == "" {
		config.OutputDir = "./output"
	}
	if config.InputArchiveDir == "" {
		config.InputArchiveDir = "./input_archive"
	}
	if config.DebugDir == "" {
		config.DebugDir = "./debug"
	}
	if config.SheetName == "" {
		config.SheetName = "Blood Tests"
	}
	if config.DateHeaderLayout == "" {
		config.DateHeaderLayout = "2006-01-02"
	}
	if config.StopMarkers == nil {
		config.StopMarkers = []string{"comment", "end", "www."}
	}
	if config.PlaceholderValues == nil {
		config.PlaceholderValues = []string{"unkn", "unknown", "-", "--", "n/a", "pending"}
	}
	if config.OutputFormat == "" {
		config.OutputFormat = "csv"
	}
	if config.OutputNameFormat == "" {
		config.OutputNameFormat = "{original}_{timestamp}_{uuid}"
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.ContinueOnError == nil {
		t := true
		config.ContinueOnError = &t
	}

	// OCR defaults.
	if config.OCR.Tesseract == "" {
		config.OCR.Tesseract = "tesseract"
	}
	if config.OCR.Language == "" {
		config.OCR.Language = "eng"
	}
	if config.OCR.PSM == 0 {
		config.OCR.PSM = 6
	}
	if config.OCR.OEM == 0 {
		config.OCR.OEM = 3
	}
	if config.OCR.CharWhitelist == "" {
		config.OCR.CharWhitelist = DefaultCharWhitelist
	}
	if config.OCR.Timeout == 0 {
		config.OCR.Timeout = 2 * time.Minute
	}
}

// validateMainConfig validates the main configuration.
func validateMainConfig(config *MainConfig) error {
	switch config.OutputFormat {
	case "csv", "xlsx", "xml":
	default:
		return fmt.Errorf("unsupported output_format %q (want csv, xlsx or xml)", config.OutputFormat)
	}

	switch config.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log_level %q", config.LogLevel)
	}

	if config.TemplatePath != "" {
		if _, err := os.Stat(config.TemplatePath); err != nil {
			return fmt.Errorf("template_path: %w", err)
		}
	}
	if config.AliasFile != "" {
		if _, err := os.Stat(config.AliasFile); err != nil {
			return fmt.Errorf("alias_file: %w", err)
		}
	}

	return nil
}

// EnsureDirectories creates the working directories if they don't exist.
func (c *MainConfig) EnsureDirectories() error {
	dirs := []string{c.InputDir, c.OutputDir}
	if c.ArchiveInputs {
		dirs = append(dirs, c.InputArchiveDir)
	}
	if c.DebugDir != "" {
		dirs = append(dirs, c.DebugDir)
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ContinuesOnError reports the effective continue_on_error value.
func (c *MainConfig) ContinuesOnError() bool {
	return c.ContinueOnError == nil || *c.ContinueOnError
}
