package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the config file (~/.config/zeroshot/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	ModelsDir string `yaml:"models_dir"`
	Model     string `yaml:"model"`
	Device    string `yaml:"device"`

	// Classification defaults
	MaxLength          *int64   `yaml:"max_length"`
	HypothesisTemplate string   `yaml:"hypothesis_template"`
	Threshold          *float64 `yaml:"threshold"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
	MaxConcurrent *int64 `yaml:"max_concurrent"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "zeroshot", "config.yaml")
}

// loadConfig reads the config file. A missing file yields a zero Config.
func loadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyModelConfig applies config file defaults to the model flags when the
// corresponding CLI flag was not explicitly set.
func applyModelConfig(c *cli.Command, cfg Config) {
	if cfg.Model != "" && !c.IsSet("model") {
		modelDir = cfg.Model
	}
	if cfg.Device != "" && !c.IsSet("device") {
		deviceName = cfg.Device
	}
}

func applyClassifyConfig(c *cli.Command, cfg Config, maxLength *int64, template *string, threshold *float64) {
	applyModelConfig(c, cfg)
	if cfg.MaxLength != nil && !c.IsSet("max-length") {
		*maxLength = *cfg.MaxLength
	}
	if cfg.HypothesisTemplate != "" && !c.IsSet("template") {
		*template = cfg.HypothesisTemplate
	}
	if cfg.Threshold != nil && !c.IsSet("threshold") {
		*threshold = *cfg.Threshold
	}
}

func applyServeConfig(c *cli.Command, cfg Config, addr *string, maxConcurrent *int64) {
	applyModelConfig(c, cfg)
	if cfg.ModelsDir != "" && !c.IsSet("models-path") {
		modelsPath = cfg.ModelsDir
	}
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.MaxConcurrent != nil && !c.IsSet("max-concurrent") {
		*maxConcurrent = *cfg.MaxConcurrent
	}
}
