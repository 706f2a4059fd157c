// Package config loads the YAML configuration of a stepmesh deployment.
//
// Parse and Load start from Default and overlay whatever the document sets,
// so a partial file only needs the keys it changes.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/stepmesh/heuristic"
	"github.com/hupe1980/stepmesh/internal/threadmap"
	"github.com/hupe1980/stepmesh/logging"
	"github.com/hupe1980/stepmesh/prompt"
)

// Strategy names.
const (
	StrategyReact       = "react"
	StrategyPlanExecute = "plan-execute"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the root document.
type Config struct {
	Engine      EngineConfig               `yaml:"engine"`
	Model       ModelConfig                `yaml:"model"`
	Heuristics  HeuristicsConfig           `yaml:"heuristics"`
	Prompts     map[string]prompt.Template `yaml:"prompts"`
	Tools       ToolsConfig                `yaml:"tools"`
	Attachments AttachmentsConfig          `yaml:"attachments"`
	Logging     LoggingConfig              `yaml:"logging"`
	Store       threadmap.Policy           `yaml:"store"`
}

// EngineConfig controls run orchestration.
type EngineConfig struct {
	Strategy          string `yaml:"strategy"`
	MaxSteps          int    `yaml:"max_steps"`
	ExecuteMaxSteps   int    `yaml:"execute_max_steps"`
	AutoResume        bool   `yaml:"auto_resume"`
	EventBufferSize   int    `yaml:"event_buffer_size"`
	MaxConcurrentRuns int    `yaml:"max_concurrent_runs"`
}

// ModelConfig selects the model provider.
type ModelConfig struct {
	Provider    string   `yaml:"provider"` // openai, anthropic or echo
	Name        string   `yaml:"name"`
	BaseURL     string   `yaml:"base_url"`
	APIKeyEnv   string   `yaml:"api_key_env"`
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
}

// HeuristicsConfig tunes the plan-execute fast paths.
type HeuristicsConfig struct {
	RelevanceThreshold float64            `yaml:"relevance_threshold"`
	Intents            []heuristic.Intent `yaml:"intents"`
	WordOperators      map[string]string  `yaml:"word_operators"`
}

// ToolsConfig tunes the tool service and executor.
type ToolsConfig struct {
	RestartSettleDelay time.Duration `yaml:"restart_settle_delay"`
	MaxParallelCalls   int           `yaml:"max_parallel_calls"`
}

// AttachmentsConfig bounds attachment preprocessing.
type AttachmentsConfig struct {
	MaxBytes     int64    `yaml:"max_bytes"`
	AllowedMimes []string `yaml:"allowed_mime_prefixes"`
}

// LoggingConfig selects the logging backend.
type LoggingConfig struct {
	Backend string `yaml:"backend"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			Strategy:          StrategyReact,
			MaxSteps:          25,
			ExecuteMaxSteps:   10,
			AutoResume:        true,
			EventBufferSize:   100,
			MaxConcurrentRuns: 10,
		},
		Model: ModelConfig{
			Provider: "echo",
		},
		Heuristics: HeuristicsConfig{
			RelevanceThreshold: heuristic.DefaultThreshold,
			Intents:            heuristic.DefaultIntents(),
			WordOperators:      heuristic.DefaultWordOperators(),
		},
		Tools: ToolsConfig{
			RestartSettleDelay: time.Second,
			MaxParallelCalls:   4,
		},
		Attachments: AttachmentsConfig{
			MaxBytes:     10 << 20,
			AllowedMimes: []string{"image/", "text/", "application/json"},
		},
		Logging: LoggingConfig{
			Backend: "slog",
			Level:   "info",
			Format:  "json",
		},
	}
}

// Parse overlays a YAML document on Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses the YAML file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	switch c.Engine.Strategy {
	case StrategyReact, StrategyPlanExecute:
	default:
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalid, c.Engine.Strategy)
	}
	switch c.Model.Provider {
	case "openai", "anthropic", "echo":
	default:
		return fmt.Errorf("%w: unknown model provider %q", ErrInvalid, c.Model.Provider)
	}
	if c.Engine.MaxSteps < 0 || c.Engine.ExecuteMaxSteps < 0 {
		return fmt.Errorf("%w: step limits must be non-negative", ErrInvalid)
	}
	if t := c.Heuristics.RelevanceThreshold; t < 0 || t > 1 {
		return fmt.Errorf("%w: relevance_threshold must be within [0,1], got %v", ErrInvalid, t)
	}
	if c.Tools.RestartSettleDelay < 0 {
		return fmt.Errorf("%w: restart_settle_delay must be non-negative", ErrInvalid)
	}
	if c.Attachments.MaxBytes <= 0 {
		return fmt.Errorf("%w: attachments.max_bytes must be positive", ErrInvalid)
	}
	return nil
}

// LoggerConfig converts the logging section for logging.New.
func (c Config) LoggerConfig() logging.Config {
	return logging.Config{
		Backend: c.Logging.Backend,
		Level:   logging.ParseLevel(c.Logging.Level),
		Format:  c.Logging.Format,
	}
}

// APIKey resolves the model API key from the configured environment variable.
func (c ModelConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}
