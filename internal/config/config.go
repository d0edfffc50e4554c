// Package config loads .thenchange.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"thenchange/internal/cache"
	"thenchange/internal/engine"
	"thenchange/internal/region"
	"thenchange/internal/snapshot"
)

// FileName is the config file looked up at the repository root.
const FileName = ".thenchange.yaml"

// Config is the full tool configuration.
type Config struct {
	// Markers are the annotation lexemes.
	Markers region.Markers `yaml:"markers" json:"markers"`
	// ClosePolicy is "strict" or "eof".
	ClosePolicy string `yaml:"close_policy" json:"close_policy" validate:"oneof=strict eof"`
	// Matching is "positional" or "lcs".
	Matching string `yaml:"matching" json:"matching" validate:"oneof=positional lcs"`
	// Scan is "all" or "changed".
	Scan string `yaml:"scan" json:"scan" validate:"oneof=all changed"`
	// Workers bounds per-file concurrency; 0 means GOMAXPROCS.
	Workers int `yaml:"workers" json:"workers" validate:"gte=0,lte=1024"`

	// OldRef and NewRef are the default refs of `check`.
	OldRef string `yaml:"old_ref" json:"old_ref" validate:"required"`
	NewRef string `yaml:"new_ref" json:"new_ref" validate:"required"`

	// Exclude, Gitignore and MaxFileBytes filter directory snapshots.
	Exclude      []string `yaml:"exclude" json:"exclude"`
	Gitignore    bool     `yaml:"gitignore" json:"gitignore"`
	MaxFileBytes int64    `yaml:"max_file_bytes" json:"max_file_bytes" validate:"gte=0"`

	// BaselineDir is where `baseline save` stores snapshots, relative to the
	// repository root unless absolute.
	BaselineDir string `yaml:"baseline_dir" json:"baseline_dir" validate:"required"`

	Log    LogConfig    `yaml:"log" json:"log"`
	Report ReportConfig `yaml:"report" json:"report"`
	Watch  WatchConfig  `yaml:"watch" json:"watch"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" validate:"oneof=console json"`
}

// ReportConfig configures check output.
type ReportConfig struct {
	Format       string `yaml:"format" json:"format" validate:"oneof=text json"`
	Color        string `yaml:"color" json:"color" validate:"oneof=auto always never"`
	ShowDiff     bool   `yaml:"show_diff" json:"show_diff"`
	DiffMaxBytes int    `yaml:"diff_max_bytes" json:"diff_max_bytes" validate:"gte=0"`
}

// WatchConfig configures the watch command.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce" json:"debounce" validate:"gte=0"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Markers:      region.DefaultMarkers(),
		ClosePolicy:  "strict",
		Matching:     "positional",
		Scan:         "all",
		OldRef:       "HEAD",
		NewRef:       snapshot.WorktreeRef,
		Exclude:      append([]string(nil), snapshot.DefaultExclude...),
		Gitignore:    true,
		MaxFileBytes: 8 << 20,
		BaselineDir:  cache.DefaultRoot,
		Log:          LogConfig{Level: "warn", Format: "console"},
		Report:       ReportConfig{Format: "text", Color: "auto", DiffMaxBytes: 64 << 10},
		Watch:        WatchConfig{Debounce: 300 * time.Millisecond},
	}
}

// Load reads path over the defaults, applies THENCHANGE_* environment
// overrides and validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	strs := []struct {
		env string
		dst *string
	}{
		{"THENCHANGE_OLD_REF", &c.OldRef},
		{"THENCHANGE_NEW_REF", &c.NewRef},
		{"THENCHANGE_SCAN", &c.Scan},
		{"THENCHANGE_MATCHING", &c.Matching},
		{"THENCHANGE_CLOSE_POLICY", &c.ClosePolicy},
		{"THENCHANGE_BASELINE_DIR", &c.BaselineDir},
		{"THENCHANGE_LOG_LEVEL", &c.Log.Level},
		{"THENCHANGE_LOG_FORMAT", &c.Log.Format},
		{"THENCHANGE_FORMAT", &c.Report.Format},
		{"THENCHANGE_COLOR", &c.Report.Color},
	}
	for _, s := range strs {
		if v, ok := os.LookupEnv(s.env); ok && v != "" {
			*s.dst = v
		}
	}
	if v := os.Getenv("THENCHANGE_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("THENCHANGE_WORKERS: %w", err)
		}
		c.Workers = n
	}
	return nil
}

var validate = validator.New()

// Validate checks field constraints and marker syntax.
func (c *Config) Validate() error {
	var errs []error
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = append(errs, fmt.Errorf("%s: failed %q (got %v)", fieldPath(fe.Namespace()), fe.Tag()+paramSuffix(fe.Param()), fe.Value()))
		}
	}
	if err := c.Markers.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// fieldPath turns "Config.Log.Level" into "log.level".
func fieldPath(ns string) string {
	ns = strings.TrimPrefix(ns, "Config.")
	return strings.ToLower(ns)
}

func paramSuffix(p string) string {
	if p == "" {
		return ""
	}
	return "=" + p
}

// Parser builds the region parser described by the config.
func (c *Config) Parser() (*region.Parser, error) {
	policy, err := region.ParseClosePolicy(c.ClosePolicy)
	if err != nil {
		return nil, err
	}
	return region.NewParser(c.Markers, policy)
}

// EngineOptions translates the config into engine options.
func (c *Config) EngineOptions() ([]engine.Option, error) {
	p, err := c.Parser()
	if err != nil {
		return nil, err
	}
	m, err := engine.ParseMatching(c.Matching)
	if err != nil {
		return nil, err
	}
	s, err := engine.ParseScanMode(c.Scan)
	if err != nil {
		return nil, err
	}
	return []engine.Option{
		engine.WithParser(p),
		engine.WithMatching(m),
		engine.WithScan(s),
		engine.WithWorkers(c.Workers),
	}, nil
}

// WalkOptions returns the directory walk filters.
func (c *Config) WalkOptions() snapshot.WalkOptions {
	return snapshot.WalkOptions{Exclude: c.Exclude, Gitignore: c.Gitignore, MaxFileBytes: c.MaxFileBytes}
}
