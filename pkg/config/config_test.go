package config

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blecentral/internal/matcher"
	"github.com/srg/blecentral/internal/store"
	"github.com/srg/blecentral/internal/testutils"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "exact", cfg.MatchRule, "name matching MUST default to exact")
	assert.False(t, cfg.CaseInsensitive, "name matching MUST default to case-sensitive")
	assert.False(t, cfg.AcceptAllWhenEmpty, "empty allow-list MUST default to reject all")
	assert.Equal(t, 10*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, "table", cfg.OutputFormat)
	assert.Equal(t, 64, cfg.EventBuffer)
	assert.Equal(t, StoreYAML, cfg.Store.Kind)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name      string
		logLevel  string
		wantLevel logrus.Level
	}{
		{name: "debug", logLevel: "debug", wantLevel: logrus.DebugLevel},
		{name: "info", logLevel: "info", wantLevel: logrus.InfoLevel},
		{name: "warn", logLevel: "warn", wantLevel: logrus.WarnLevel},
		{name: "error", logLevel: "error", wantLevel: logrus.ErrorLevel},
		{name: "invalid falls back to info", logLevel: "chatty", wantLevel: logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.wantLevel, logger.GetLevel())

			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))

	require.NoError(t, err, "missing config MUST NOT be an error")
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_ExampleFile(t *testing.T) {
	// GOAL: Verify the shipped example configuration parses and maps onto component options
	//
	// TEST SCENARIO: load configs/blecentral.example.yaml → values override defaults → matcher and coordinator options reflect them

	content, err := testutils.LoadProjectFile("configs/blecentral.example.yaml")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"SensorA", "HeartRate"}, cfg.KnownNames)
	assert.Equal(t, 15*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 20*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 128, cfg.EventBuffer)
	assert.Equal(t, StoreSQLite, cfg.Store.Kind)

	mopts, err := cfg.MatcherOptions()
	require.NoError(t, err)
	assert.Equal(t, matcher.RulePrefix, mopts.Rule)

	opts, err := cfg.CoordinatorOptions(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"180d"}, opts.ScanServices)
	assert.True(t, opts.ScanOptions.AllowDuplicates)
	assert.Equal(t, 128, opts.EventBuffer)
	assert.Equal(t, matcher.RulePrefix, opts.Matcher.Rule)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("known_names: [SensorA]\n"), 0o600))

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, []string{"SensorA"}, cfg.KnownNames)
	assert.Equal(t, 10*time.Second, cfg.ScanTimeout, "unset keys MUST keep their defaults")
	assert.Equal(t, StoreYAML, cfg.Store.Kind)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "malformed yaml", content: "known_names: [", wantErr: "failed to parse config"},
		{name: "unknown rule", content: "match_rule: fuzzy", wantErr: "match_rule"},
		{name: "unknown store", content: "store: {kind: redis}", wantErr: "store.kind"},
		{name: "unknown level", content: "log_level: chatty", wantErr: "log_level"},
		{name: "non-positive timeout", content: "scan_timeout: 0s", wantErr: "scan_timeout"},
		{name: "unknown format", content: "output_format: xml", wantErr: "output_format"},
		{name: "bad service uuid", content: "scan_services: [heart]", wantErr: "scan_services"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			_, err := Load(path)

			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestConfig_NewStore(t *testing.T) {
	dir := t.TempDir()
	logger := testutils.QuietLogger()

	cfg := DefaultConfig()
	cfg.Store = StoreConfig{Kind: StoreYAML, Path: filepath.Join(dir, "known.yaml")}
	st, err := cfg.NewStore(logger)
	require.NoError(t, err)
	fileStore, ok := st.(*store.FileStore)
	require.True(t, ok, "yaml kind MUST create a FileStore")
	assert.Equal(t, filepath.Join(dir, "known.yaml"), fileStore.Path())

	cfg.Store = StoreConfig{Kind: StoreSQLite, Path: filepath.Join(dir, "known.db")}
	st, err = cfg.NewStore(logger)
	require.NoError(t, err)
	closer, ok := st.(io.Closer)
	require.True(t, ok, "sqlite store MUST be closable")
	require.NoError(t, closer.Close())

	cfg.Store = StoreConfig{Kind: StoreMemory}
	st, err = cfg.NewStore(logger)
	require.NoError(t, err)
	assert.IsType(t, &store.MemoryStore{}, st)

	cfg.Store = StoreConfig{Kind: "redis"}
	_, err = cfg.NewStore(logger)
	assert.Error(t, err)
}

func TestConfig_StorePathDefaults(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	cfg := DefaultConfig()
	path, err := cfg.StorePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "blecentral", "peripherals.yaml"), path)

	cfg.Store.Kind = StoreSQLite
	path, err = cfg.StorePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "blecentral", "peripherals.db"), path)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandHome("~/x/y")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "x", "y"), got)

	got, err = ExpandHome("/abs/~/path")
	require.NoError(t, err)
	assert.Equal(t, "/abs/~/path", got, "only a leading ~ MUST be expanded")
}
