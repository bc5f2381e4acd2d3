package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/blecentral/central"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/matcher"
	"github.com/srg/blecentral/internal/store"
)

const (
	StoreYAML   = "yaml"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// DefaultPath is where the CLI looks for a configuration file
const DefaultPath = "~/.config/blecentral/config.yaml"

// Config holds application configuration
type Config struct {
	LogLevel string `yaml:"log_level" default:"warn"`

	// Identity matching
	KnownNames         []string `yaml:"known_names"`
	MatchRule          string   `yaml:"match_rule" default:"exact"`
	CaseInsensitive    bool     `yaml:"case_insensitive"`
	MatchIdentifiers   bool     `yaml:"match_identifiers"`
	AcceptAllWhenEmpty bool     `yaml:"accept_all_when_empty"`

	// Radio
	ScanServices    []string      `yaml:"scan_services"`
	AllowDuplicates bool          `yaml:"allow_duplicates"`
	ScanTimeout     time.Duration `yaml:"scan_timeout" default:"10s"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" default:"30s"`

	OutputFormat string `yaml:"output_format" default:"table"` // table, json
	EventBuffer  int    `yaml:"event_buffer" default:"64"`

	Store StoreConfig `yaml:"store"`
}

// StoreConfig selects where known peripheral identifiers are persisted
type StoreConfig struct {
	Kind string `yaml:"kind" default:"yaml"` // yaml, sqlite, memory
	// Path defaults to ~/.config/blecentral/peripherals.{yaml,db}
	Path string `yaml:"path"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML configuration file over the defaults.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	expanded, err := ExpandHome(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %q: %w", expanded, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %q: %w", expanded, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %q: %w", expanded, err)
	}
	return cfg, nil
}

// Validate checks values the YAML decoder cannot
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if _, err := matcher.ParseRule(c.MatchRule); err != nil {
		return fmt.Errorf("match_rule: %w", err)
	}
	if _, err := device.ValidateUUID(c.ScanServices...); err != nil {
		return fmt.Errorf("scan_services: %w", err)
	}
	switch c.Store.Kind {
	case StoreYAML, StoreSQLite, StoreMemory:
	default:
		return fmt.Errorf("store.kind: unsupported store %q (must be yaml, sqlite or memory)", c.Store.Kind)
	}
	switch c.OutputFormat {
	case "table", "json":
	default:
		return fmt.Errorf("output_format: unsupported format %q (must be table or json)", c.OutputFormat)
	}
	if c.ScanTimeout <= 0 {
		return fmt.Errorf("scan_timeout must be positive, got %s", c.ScanTimeout)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive, got %s", c.ConnectTimeout)
	}
	if c.EventBuffer <= 0 {
		return fmt.Errorf("event_buffer must be positive, got %d", c.EventBuffer)
	}
	return nil
}

// NewLogger creates a configured logger instance. An invalid level falls back to info.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// MatcherOptions maps the matching settings onto matcher.Options
func (c *Config) MatcherOptions() (matcher.Options, error) {
	rule, err := matcher.ParseRule(c.MatchRule)
	if err != nil {
		return matcher.Options{}, err
	}
	return matcher.Options{
		Rule:               rule,
		CaseInsensitive:    c.CaseInsensitive,
		MatchIdentifiers:   c.MatchIdentifiers,
		AcceptAllWhenEmpty: c.AcceptAllWhenEmpty,
	}, nil
}

// StorePath returns the expanded store path, applying the per-kind default
func (c *Config) StorePath() (string, error) {
	path := c.Store.Path
	if path == "" {
		ext := ".yaml"
		if c.Store.Kind == StoreSQLite {
			ext = ".db"
		}
		path = "~/.config/blecentral/peripherals" + ext
	}
	return ExpandHome(path)
}

// NewStore opens the configured persistence backend. Stores that hold
// resources also implement io.Closer.
func (c *Config) NewStore(logger *logrus.Logger) (store.Store, error) {
	switch c.Store.Kind {
	case StoreMemory:
		return store.NewMemoryStore(), nil
	case StoreYAML, StoreSQLite:
	default:
		return nil, fmt.Errorf("unsupported store %q", c.Store.Kind)
	}

	path, err := c.StorePath()
	if err != nil {
		return nil, err
	}
	if c.Store.Kind == StoreSQLite {
		return store.NewSQLiteStore(path, logger)
	}
	return store.NewFileStore(path, logger), nil
}

// CoordinatorOptions assembles central.Options from the configuration
func (c *Config) CoordinatorOptions(st store.Store, logger *logrus.Logger) (central.Options, error) {
	mopts, err := c.MatcherOptions()
	if err != nil {
		return central.Options{}, err
	}
	return central.Options{
		KnownNames:   append([]string(nil), c.KnownNames...),
		Matcher:      mopts,
		Store:        st,
		ScanServices: device.NormalizeUUIDs(c.ScanServices),
		ScanOptions:  device.ScanOptions{AllowDuplicates: c.AllowDuplicates},
		EventBuffer:  c.EventBuffer,
		Logger:       logger,
	}, nil
}

// ExpandHome replaces a leading ~ with the user's home directory
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
