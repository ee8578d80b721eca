package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds the configuration for the scoring API server and logging.
type ServerConfig struct {
	ApiAddr        string `json:"api_addr" yaml:"api_addr"`
	LogLevel       string `json:"log_level" yaml:"log_level"`
	LogFormat      string `json:"log_format" yaml:"log_format"`
	MaxRecordBytes int    `json:"max_record_bytes" yaml:"max_record_bytes"`
}

// ScoringConfig holds the defaults used when training and applying models.
type ScoringConfig struct {
	ThresholdPercent float64 `json:"threshold_percent" yaml:"threshold_percent"`
	Field            string  `json:"field" yaml:"field"`
	Padding          string  `json:"padding" yaml:"padding"`
	Workers          int     `json:"workers" yaml:"workers"`
	TopLines         int     `json:"top_lines" yaml:"top_lines"`
	ResultsDir       string  `json:"results_dir" yaml:"results_dir"`
	ModelsDir        string  `json:"models_dir" yaml:"models_dir"`
}

// StoreConfig holds the location of the SQLite model store.
type StoreConfig struct {
	DatabasePath string `json:"database_path" yaml:"database_path"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server  *ServerConfig  `json:"server_config" yaml:"server_config"`
	Scoring *ScoringConfig `json:"scoring_config" yaml:"scoring_config"`
	Store   *StoreConfig   `json:"store_config" yaml:"store_config"`
}

// DefaultServerConfig creates a server configuration with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ApiAddr:        ":7279",
		LogLevel:       "info",
		LogFormat:      "text",
		MaxRecordBytes: 1 << 20,
	}
}

// DefaultScoringConfig creates a scoring configuration with default values.
func DefaultScoringConfig() *ScoringConfig {
	return &ScoringConfig{
		ThresholdPercent: 95,
		Field:            "CommandLine",
		Padding:          "~",
		Workers:          0,
		TopLines:         50,
		ResultsDir:       "./results",
		ModelsDir:        "./models",
	}
}

// DefaultStoreConfig creates a store configuration with default values.
func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{
		DatabasePath: "./data/anomark.db?_journal_mode=WAL&_busy_timeout=5000",
	}
}

// DefaultConfig returns a Config with every section set to its defaults.
func DefaultConfig() *Config {
	return &Config{
		Server:  DefaultServerConfig(),
		Scoring: DefaultScoringConfig(),
		Store:   DefaultStoreConfig(),
	}
}

// isYAML reports whether path names a YAML file.
func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// LoadConfig reads the configuration from a JSON or YAML file at the given
// path. If the file doesn't exist, it creates one with default values.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			var data []byte
			data, err = encodeConfig(path, config)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal default config: %w", err)
			}
			if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
				// The defaults are still usable.
				fmt.Fprintf(os.Stderr, "warning: failed to write default config file: %v\n", err)
			}
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if isYAML(path) {
		err = yaml.Unmarshal(file, config)
	} else {
		err = json.Unmarshal(file, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if config.Server == nil {
		config.Server = DefaultServerConfig()
	}
	if config.Scoring == nil {
		config.Scoring = DefaultScoringConfig()
	}
	if config.Store == nil {
		config.Store = DefaultStoreConfig()
	}
	if err = config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the values a config file may have set wrong.
func (c *Config) Validate() error {
	if p := c.Scoring.ThresholdPercent; !(p > 0 && p <= 100) {
		return fmt.Errorf("invalid config: threshold_percent must be in (0, 100], got %v", p)
	}
	if utf8.RuneCountInString(c.Scoring.Padding) != 1 {
		return fmt.Errorf("invalid config: padding must be a single character, got %q", c.Scoring.Padding)
	}
	if c.Scoring.Workers < 0 {
		return fmt.Errorf("invalid config: workers must not be negative, got %d", c.Scoring.Workers)
	}
	if c.Server.MaxRecordBytes <= 0 {
		return fmt.Errorf("invalid config: max_record_bytes must be positive, got %d", c.Server.MaxRecordBytes)
	}
	return nil
}

// PaddingMarker returns the padding character. The config must be valid.
func (c *ScoringConfig) PaddingMarker() rune {
	r, _ := utf8.DecodeRuneInString(c.Padding)
	return r
}

func encodeConfig(path string, config *Config) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(config)
	}
	return json.MarshalIndent(config, "", "  ")
}
