// Package config loads settings from config.yaml and SEQTHINK_* environment
// variables. Environment variables take precedence over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"

	"github.com/mfenderov/seqthink/internal/thought"
)

// Environment variables.
const (
	EnvConfig        = "SEQTHINK_CONFIG"
	EnvStorageDir    = "SEQTHINK_STORAGE_DIR"
	EnvLegacyStorage = "MCP_STORAGE_DIR"
	EnvLockTimeout   = "SEQTHINK_LOCK_TIMEOUT"
	EnvLogLevel      = "SEQTHINK_LOG_LEVEL"
	EnvArchive       = "SEQTHINK_ARCHIVE"
)

const (
	defaultDirName     = ".mcp_sequential_thinking"
	defaultSessionFile = "current_session.json"
	defaultArchiveFile = "archive.db"
	configFileName     = "config.yaml"
)

// Config is the effective configuration.
type Config struct {
	StorageDir  string        `yaml:"storage_dir"`
	SessionFile string        `yaml:"session_file"`
	LockTimeout Duration      `yaml:"lock_timeout"`
	Stages      []string      `yaml:"stages"`
	LogLevel    string        `yaml:"log_level"`
	Archive     ArchiveConfig `yaml:"archive"`
}

// ArchiveConfig controls the session archive.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path,omitempty"` // defaults to <storage_dir>/archive.db
}

// Duration is a time.Duration written as "10s" in YAML.
type Duration time.Duration

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	stages := thought.DefaultStages().Names()
	return &Config{
		StorageDir:  defaultStorageDir(),
		SessionFile: defaultSessionFile,
		LockTimeout: Duration(10 * time.Second),
		Stages:      stages,
		LogLevel:    "info",
		Archive:     ArchiveConfig{Enabled: true},
	}
}

func defaultStorageDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultDirName
	}
	return filepath.Join(home, defaultDirName)
}

// Load builds the configuration from defaults, the config file and the
// environment. The file is SEQTHINK_CONFIG when set, otherwise
// <storage dir>/config.yaml if it exists.
func Load() (*Config, error) {
	return LoadWith("", "")
}

// LoadFile is like Load with an explicit config file. An empty path skips
// the file.
func LoadFile(path string) (*Config, error) {
	return load(path, "")
}

// LoadWith is Load with command-line overrides. configPath, when set, is the
// config file. storageDir, when set, replaces the storage directory from the
// file and environment and is also where config.yaml is looked for.
func LoadWith(configPath, storageDir string) (*Config, error) {
	storageDir = expandHome(storageDir)

	path := configPath
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		dir := storageDir
		if dir == "" {
			dir = envStorageDir(defaultStorageDir())
		}
		candidate := filepath.Join(dir, configFileName)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	return load(path, storageDir)
}

func load(path, storageDir string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(expandHome(path))
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if storageDir != "" {
		cfg.StorageDir = storageDir
	}
	cfg.StorageDir = expandHome(cfg.StorageDir)
	cfg.Archive.Path = expandHome(cfg.Archive.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envStorageDir(fallback string) string {
	if dir := os.Getenv(EnvStorageDir); dir != "" {
		return expandHome(dir)
	}
	if dir := os.Getenv(EnvLegacyStorage); dir != "" {
		return expandHome(dir)
	}
	return fallback
}

func (c *Config) applyEnv() error {
	c.StorageDir = envStorageDir(c.StorageDir)

	if v := os.Getenv(EnvLockTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvLockTimeout, err)
		}
		c.LockTimeout = Duration(d)
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvArchive); v != "" {
		switch strings.ToLower(v) {
		case "disabled", "off", "false", "0":
			c.Archive.Enabled = false
		case "enabled", "on", "true", "1":
			c.Archive.Enabled = true
		default:
			return fmt.Errorf("invalid %s: %q", EnvArchive, v)
		}
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	if c.StorageDir == "" {
		errs = append(errs, errors.New("storage_dir must not be empty"))
	}
	if c.SessionFile == "" || filepath.Base(c.SessionFile) != c.SessionFile {
		errs = append(errs, fmt.Errorf("session_file must be a plain file name, got %q", c.SessionFile))
	}
	if c.LockTimeout <= 0 {
		errs = append(errs, fmt.Errorf("lock_timeout must be positive, got %s", time.Duration(c.LockTimeout)))
	}
	if _, err := thought.NewStages(c.Stages); err != nil {
		errs = append(errs, fmt.Errorf("stages: %w", err))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// SessionPath is the working session file.
func (c *Config) SessionPath() string {
	return filepath.Join(c.StorageDir, c.SessionFile)
}

// ArchivePath is the archive database file.
func (c *Config) ArchivePath() string {
	if c.Archive.Path != "" {
		return c.Archive.Path
	}
	return filepath.Join(c.StorageDir, defaultArchiveFile)
}

// StageSet returns the configured stages. Call after Validate.
func (c *Config) StageSet() thought.Stages {
	stages, err := thought.NewStages(c.Stages)
	if err != nil {
		return thought.DefaultStages()
	}
	return stages
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() log.Level {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return level
}

// Timeout returns the lock timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.LockTimeout)
}

// YAML renders the configuration as it would appear in config.yaml.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
