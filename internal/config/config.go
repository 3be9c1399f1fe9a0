// File: internal/config/config.go
// Package config defines the viper backed configuration for the scanner.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration, populated from the config file, the
// LANCET_* environment and command line flags.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Scan     ScanConfig     `mapstructure:"scan"`
	Report   ReportConfig   `mapstructure:"report"`
	Database DatabaseConfig `mapstructure:"database"`
}

// LoggerConfig controls the global zap logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level"`
	Format      string      `mapstructure:"format"` // "console" or "json"
	AddSource   bool        `mapstructure:"add_source"`
	ServiceName string      `mapstructure:"service_name"`
	LogFile     string      `mapstructure:"log_file"`
	MaxSize     int         `mapstructure:"max_size"` // megabytes, per rotation
	MaxBackups  int         `mapstructure:"max_backups"`
	MaxAge      int         `mapstructure:"max_age"` // days
	Compress    bool        `mapstructure:"compress"`
	Colors      ColorConfig `mapstructure:"colors"`
}

// ColorConfig maps log levels to terminal colors for the console encoder.
type ColorConfig struct {
	Debug  string `mapstructure:"debug"`
	Info   string `mapstructure:"info"`
	Warn   string `mapstructure:"warn"`
	Error  string `mapstructure:"error"`
	DPanic string `mapstructure:"dpanic"`
	Panic  string `mapstructure:"panic"`
	Fatal  string `mapstructure:"fatal"`
}

// AnalysisConfig tunes the taint engine and the file pool.
type AnalysisConfig struct {
	// MaxPropagationRounds caps the propagation fixed point per file.
	MaxPropagationRounds int `mapstructure:"max_propagation_rounds"`
	// StrictIdentifiers switches label matching from substring containment
	// to identifier boundary matching.
	StrictIdentifiers bool `mapstructure:"strict_identifiers"`
	// Concurrency is the number of files analyzed in parallel.
	Concurrency int `mapstructure:"concurrency"`
	// Extensions are the file suffixes selected for analysis.
	Extensions []string `mapstructure:"extensions"`
	// ExcludeDirs are directory names skipped during discovery.
	ExcludeDirs []string `mapstructure:"exclude_dirs"`
}

// ScanConfig holds the per invocation scan parameters, populated from flags.
type ScanConfig struct {
	Target    string `mapstructure:"target"`
	RulesFile string `mapstructure:"rules_file"`
	// FailOn is the severity threshold ("high", "medium", "low") that makes
	// the scan exit non-zero; empty disables threshold exits.
	FailOn string `mapstructure:"fail_on"`
}

// ReportConfig selects the output rendering.
type ReportConfig struct {
	Format     string `mapstructure:"format"` // "sarif" or "json"
	OutputPath string `mapstructure:"output_path"`
}

// DatabaseConfig enables optional PostgreSQL persistence of findings.
type DatabaseConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	DSN            string        `mapstructure:"dsn"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// SetDefaults registers every default on the given viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "lancet")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "red")
	v.SetDefault("logger.colors.panic", "red")
	v.SetDefault("logger.colors.fatal", "red")

	v.SetDefault("analysis.max_propagation_rounds", 10)
	v.SetDefault("analysis.strict_identifiers", false)
	v.SetDefault("analysis.concurrency", 4)
	v.SetDefault("analysis.extensions", []string{".php", ".phtml", ".inc", ".blade.php", ".twig"})
	v.SetDefault("analysis.exclude_dirs", []string{"vendor", "node_modules", ".git", "cache", "tests"})

	v.SetDefault("report.format", "sarif")
	v.SetDefault("report.output_path", "")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.connect_timeout", 10*time.Second)
}

// Load unmarshals and validates the configuration from a prepared viper
// instance.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validSeverities = map[string]bool{"": true, "high": true, "medium": true, "low": true}

// Validate checks cross field constraints and normalizes degenerate values.
func (c *Config) Validate() error {
	if c.Analysis.MaxPropagationRounds <= 0 {
		c.Analysis.MaxPropagationRounds = 10
	}
	if c.Analysis.Concurrency <= 0 {
		c.Analysis.Concurrency = 1
	}
	if len(c.Analysis.Extensions) == 0 {
		return fmt.Errorf("analysis.extensions must not be empty")
	}

	switch c.Report.Format {
	case "", "sarif", "json":
	default:
		return fmt.Errorf("unsupported report format %q", c.Report.Format)
	}

	if !validSeverities[strings.ToLower(c.Scan.FailOn)] {
		return fmt.Errorf("invalid scan.fail_on severity %q", c.Scan.FailOn)
	}

	if c.Database.Enabled && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required when database.enabled is true")
	}
	return nil
}
