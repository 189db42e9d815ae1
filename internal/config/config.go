// Package config holds the sqlweave configuration: model access, pipeline
// bounds and execution-stage limits. Config files are YAML; a missing file
// yields the defaults, and environment variables override the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all sqlweave configuration.
type Config struct {
	// LLM access for generation, decomposition and composition.
	LLM LLMConfig `yaml:"llm"`

	// Verify-repair pipeline bounds.
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Execution-stage limits on the sample database.
	Execution ExecutionConfig `yaml:"execution"`

	// Logging.
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the Gemini client. An empty API key disables the
// model entirely; generation then runs on templates and the heuristic
// decomposer.
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

// PipelineConfig bounds the verify-repair loop and in-layer parallelism.
type PipelineConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	Workers     int `yaml:"workers"`
}

// ExecutionConfig limits probe statements on the sample database.
type ExecutionConfig struct {
	Timeout       string `yaml:"timeout"`
	MaxRows       int    `yaml:"max_rows"`
	SlowThreshold string `yaml:"slow_threshold"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// Default returns the reference configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Model:   "gemini-2.5-flash",
			Timeout: "120s",
		},
		Pipeline: PipelineConfig{
			MaxAttempts: 3,
			Workers:     1,
		},
		Execution: ExecutionConfig{
			Timeout:       "10s",
			MaxRows:       10000,
			SlowThreshold: "1s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads a YAML config file over the defaults. A missing file is not
// an error; environment variables are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
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

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if model := os.Getenv("SQLWEAVE_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if v := os.Getenv("SQLWEAVE_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Pipeline.MaxAttempts = n
		}
	}
	if v := os.Getenv("SQLWEAVE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Pipeline.Workers = n
		}
	}
	if level := os.Getenv("SQLWEAVE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// LLMTimeout returns the model timeout as a duration.
func (c *Config) LLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// ExecutionTimeout returns the probe timeout as a duration.
func (c *Config) ExecutionTimeout() time.Duration {
	d, err := time.ParseDuration(c.Execution.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// SlowThreshold returns the probe latency warning threshold.
func (c *Config) SlowThreshold() time.Duration {
	d, err := time.ParseDuration(c.Execution.SlowThreshold)
	if err != nil {
		return time.Second
	}
	return d
}
