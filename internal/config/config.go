package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/marcin-skalski/prwatch/internal/notify"
	"github.com/marcin-skalski/prwatch/internal/status"
)

type Config struct {
	PollInterval time.Duration    `yaml:"-" toml:"-"`
	RawInterval  string           `yaml:"poll_interval" toml:"poll_interval"`
	Workdir      string           `yaml:"workdir" toml:"workdir"`
	LogFile      string           `yaml:"log_file" toml:"log_file"`
	StateFile    string           `yaml:"state_file" toml:"state_file"`
	Log          LogConfig        `yaml:"log" toml:"log"`
	GH           GHConfig         `yaml:"gh" toml:"gh"`
	Inactivity   InactivityConfig `yaml:"inactivity" toml:"inactivity"`
	Classifier   ClassifierConfig `yaml:"classifier" toml:"classifier"`
	Sort         SortConfig       `yaml:"sort" toml:"sort"`
	Notify       notify.Config    `yaml:"notify" toml:"notify"`
	TUI          TUIConfig        `yaml:"tui" toml:"tui"`
	Server       ServerConfig     `yaml:"server" toml:"server"`
}

type LogConfig struct {
	Level string `yaml:"level" toml:"level"`
}

type GHConfig struct {
	Binary      string        `yaml:"binary" toml:"binary"`
	Timeout     time.Duration `yaml:"-" toml:"-"`
	RawTimeout  string        `yaml:"timeout" toml:"timeout"`
	MaxParallel int           `yaml:"max_parallel" toml:"max_parallel"`
	Limit       int           `yaml:"limit" toml:"limit"`
}

type InactivityConfig struct {
	Enabled       bool `yaml:"enabled" toml:"enabled"`
	ThresholdDays int  `yaml:"threshold_days" toml:"threshold_days"`
}

type ClassifierConfig struct {
	// NoChecks is the status of a pull request without any checks:
	// "success" or "unknown".
	NoChecks string `yaml:"no_checks" toml:"no_checks"`
}

type SortConfig struct {
	SettledLast *bool `yaml:"settled_last,omitempty" toml:"settled_last,omitempty"`
}

type TUIConfig struct {
	RefreshInterval time.Duration `yaml:"-" toml:"-"`
	RawInterval     string        `yaml:"refresh_interval" toml:"refresh_interval"`
}

type ServerConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Addr    string `yaml:"addr" toml:"addr"`
}

// Default returns the configuration used when no file exists.
func Default() (*Config, error) {
	cfg := Config{Notify: notify.DefaultConfig()}
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads a YAML or TOML (by extension) config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Config{Notify: notify.DefaultConfig()}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadOrDefault falls back to Default when path does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default()
	}
	return Load(path)
}

func (c *Config) setDefaults() error {
	if c.RawInterval == "" {
		c.RawInterval = "60s"
	}
	d, err := time.ParseDuration(c.RawInterval)
	if err != nil {
		return fmt.Errorf("parse poll_interval %q: %w", c.RawInterval, err)
	}
	c.PollInterval = d

	if c.Workdir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home dir: %w", err)
		}
		c.Workdir = filepath.Join(home, ".local", "state", "prwatch")
	}
	if c.LogFile == "" {
		c.LogFile = filepath.Join(c.Workdir, "logs", "prwatch.log")
	}
	if c.StateFile == "" {
		c.StateFile = filepath.Join(c.Workdir, "watch.json")
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.GH.Binary == "" {
		c.GH.Binary = "gh"
	}
	if c.GH.RawTimeout == "" {
		c.GH.RawTimeout = "30s"
	}
	ghTimeout, err := time.ParseDuration(c.GH.RawTimeout)
	if err != nil {
		return fmt.Errorf("parse gh.timeout %q: %w", c.GH.RawTimeout, err)
	}
	c.GH.Timeout = ghTimeout
	if c.GH.MaxParallel == 0 {
		c.GH.MaxParallel = 4
	}
	if c.GH.Limit == 0 {
		c.GH.Limit = 100
	}

	if c.Inactivity.ThresholdDays == 0 {
		c.Inactivity.ThresholdDays = 3
	}
	if c.Classifier.NoChecks == "" {
		c.Classifier.NoChecks = string(status.Success)
	}
	if c.Sort.SettledLast == nil {
		defaultTrue := true
		c.Sort.SettledLast = &defaultTrue
	}

	if c.TUI.RawInterval == "" {
		c.TUI.RawInterval = "1s"
	}
	tuiInterval, err := time.ParseDuration(c.TUI.RawInterval)
	if err != nil {
		return fmt.Errorf("parse tui.refresh_interval %q: %w", c.TUI.RawInterval, err)
	}
	if tuiInterval <= 0 {
		return fmt.Errorf("tui.refresh_interval must be positive, got %s", c.TUI.RawInterval)
	}
	c.TUI.RefreshInterval = tuiInterval

	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:7420"
	}

	return nil
}

func (c *Config) validate() error {
	if c.PollInterval < time.Second {
		return fmt.Errorf("poll_interval must be at least 1s, got %s", c.RawInterval)
	}
	if c.GH.Timeout <= 0 {
		return fmt.Errorf("gh.timeout must be positive, got %s", c.GH.RawTimeout)
	}
	if c.GH.MaxParallel < 1 {
		return fmt.Errorf("gh.max_parallel must be at least 1, got %d", c.GH.MaxParallel)
	}
	if c.GH.Limit < 1 {
		return fmt.Errorf("gh.limit must be at least 1, got %d", c.GH.Limit)
	}
	if c.Inactivity.ThresholdDays < 1 {
		return fmt.Errorf("inactivity.threshold_days must be at least 1, got %d", c.Inactivity.ThresholdDays)
	}
	switch c.Classifier.NoChecks {
	case string(status.Success), string(status.Unknown):
	default:
		return fmt.Errorf("invalid classifier.no_checks %q (success|unknown)", c.Classifier.NoChecks)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level %q (debug|info|warn|error)", c.Log.Level)
	}
	if c.Notify.Webhook.Enabled && c.Notify.Webhook.URL == "" {
		return fmt.Errorf("notify.webhook.url required when enabled")
	}
	if c.Notify.Shell.Enabled && c.Notify.Shell.Command == "" {
		return fmt.Errorf("notify.shell.command required when enabled")
	}
	return nil
}

// NoChecksStatus returns the configured status for check-less items.
func (c *Config) NoChecksStatus() status.BuildStatus {
	return status.BuildStatus(c.Classifier.NoChecks)
}

func (c *Config) SettledLast() bool {
	return c.Sort.SettledLast != nil && *c.Sort.SettledLast
}
