// Package config loads ruleloop settings from defaults, an optional YAML
// file and RULELOOP_* environment variables, in that order.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/nvandessel/ruleloop/internal/store"
)

// EnvPrefix prefixes environment overrides. A double underscore separates
// nesting levels: RULELOOP_ORACLE__API_KEY sets oracle.api_key.
const EnvPrefix = "RULELOOP_"

// FileName is the config file name inside the data directory.
const FileName = "config.yaml"

// Oracle providers.
const (
	ProviderOpenAI = "openai"
	ProviderNone   = "none"
)

// Config is the top-level ruleloop configuration.
type Config struct {
	DataDir  string         `yaml:"data_dir" koanf:"data_dir"`
	DBPath   string         `yaml:"db_path,omitempty" koanf:"db_path"`
	Log      LogConfig      `yaml:"log" koanf:"log"`
	HTTP     HTTPConfig     `yaml:"http" koanf:"http"`
	Oracle   OracleConfig   `yaml:"oracle" koanf:"oracle"`
	Learning LearningConfig `yaml:"learning" koanf:"learning"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `yaml:"level" koanf:"level"`
	// File receives JSON logs in addition to stderr when set
	File string `yaml:"file,omitempty" koanf:"file"`
}

// HTTPConfig controls the HTTP server.
type HTTPConfig struct {
	Addr string `yaml:"addr" koanf:"addr"`
}

// OracleConfig selects and configures the extraction oracle.
type OracleConfig struct {
	Provider      string        `yaml:"provider" koanf:"provider"`
	Model         string        `yaml:"model" koanf:"model"`
	APIKey        string        `yaml:"api_key,omitempty" koanf:"api_key"`
	BaseURL       string        `yaml:"base_url,omitempty" koanf:"base_url"`
	Timeout       time.Duration `yaml:"timeout" koanf:"timeout"`
	PreambleRules int           `yaml:"preamble_rules" koanf:"preamble_rules"`
	// HistoryTokens caps the conversation history sent per call
	HistoryTokens int `yaml:"history_tokens" koanf:"history_tokens"`
}

// LearningConfig tunes the feedback loop.
type LearningConfig struct {
	AutoLearn bool    `yaml:"auto_learn" koanf:"auto_learn"`
	Boost     float64 `yaml:"boost" koanf:"boost"`
	Ceiling   float64 `yaml:"ceiling" koanf:"ceiling"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	dataDir, err := store.DefaultDataPath()
	if err != nil {
		dataDir = ".ruleloop"
	}
	return &Config{
		DataDir: dataDir,
		Log:     LogConfig{Level: "info"},
		HTTP:    HTTPConfig{Addr: "127.0.0.1:8080"},
		Oracle: OracleConfig{
			Provider:      ProviderNone,
			Model:         "gpt-4o-mini",
			Timeout:       30 * time.Second,
			PreambleRules: 5,
			HistoryTokens: 6000,
		},
		Learning: LearningConfig{
			Boost:   0.05,
			Ceiling: 1.0,
		},
	}
}

// DefaultPath returns the config file path in the default data directory.
func DefaultPath() string {
	return filepath.Join(DefaultConfig().DataDir, FileName)
}

// Load reads the config file at path, if it exists, and overlays
// environment overrides. An empty path means DefaultPath.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	k := koanf.New(".")
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if cfg.Oracle.APIKey == "" && cfg.Oracle.Provider == ProviderOpenAI {
		cfg.Oracle.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return cfg, nil
}

// envKey maps RULELOOP_ORACLE__API_KEY to oracle.api_key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Save writes the configuration as YAML. The file may hold an API key, so
// it is only readable by the owner.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if c.DataDir == "" && c.DBPath == "" {
		return fmt.Errorf("data_dir or db_path is required")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Oracle.Provider {
	case ProviderOpenAI:
		if c.Oracle.Model == "" {
			return fmt.Errorf("oracle.model is required for provider %q", c.Oracle.Provider)
		}
	case ProviderNone, "":
	default:
		return fmt.Errorf("invalid oracle.provider %q: must be one of openai, none", c.Oracle.Provider)
	}
	if c.Oracle.Timeout <= 0 {
		return fmt.Errorf("oracle.timeout must be positive")
	}
	if c.Oracle.PreambleRules < 0 {
		return fmt.Errorf("oracle.preamble_rules must be non-negative")
	}
	if c.Learning.Boost < 0 || c.Learning.Boost > 1 {
		return fmt.Errorf("learning.boost must be between 0 and 1")
	}
	if c.Learning.Ceiling <= 0 || c.Learning.Ceiling > 1 {
		return fmt.Errorf("learning.ceiling must be in (0, 1]")
	}
	return nil
}

// DatabasePath returns db_path, or the default database file in data_dir.
func (c *Config) DatabasePath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(c.DataDir, store.DatabaseFile)
}

// ParseLevel maps a level name onto slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log.level %q", s)
	}
	return level, nil
}
