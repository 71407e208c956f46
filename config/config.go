// Package config loads the YAML configuration of the agentstep binary.
//
// Values are resolved in three layers: built-in defaults, the YAML file and
// AGENTSTEP_* environment variables. Secrets such as API keys are usually
// supplied through the environment only.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Agent   AgentConfig   `yaml:"agent"`
	Model   ModelConfig   `yaml:"model"`
	Chat    ChatConfig    `yaml:"chat"`
	Tools   ToolsConfig   `yaml:"tools"`
	Log     LogConfig     `yaml:"log"`
	Tracing TracingConfig `yaml:"tracing"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	// RateLimit is the sustained requests per second allowed per client.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
	// MaxConcurrentRuns bounds agent runs across all clients.
	MaxConcurrentRuns int `yaml:"max_concurrent_runs"`
}

// AgentConfig configures the agents created per task.
type AgentConfig struct {
	Name           string        `yaml:"name"`
	SystemPrompt   string        `yaml:"system_prompt"`
	NextStepPrompt string        `yaml:"next_step_prompt"`
	MaxSteps       int           `yaml:"max_steps"`
	StreamTimeout  time.Duration `yaml:"stream_timeout"`
	NoActionLimit  int           `yaml:"no_action_limit"`
	MaxModelCalls  int           `yaml:"max_model_calls"`
}

// ModelConfig selects and configures the model provider.
type ModelConfig struct {
	Provider string `yaml:"provider"` // openai, anthropic or mock
	// Name selects the provider model; empty uses the adapter default.
	Name    string `yaml:"name"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	// RateLimit caps model calls per second across the process; zero disables it.
	RateLimit float64 `yaml:"rate_limit"`
}

// ChatConfig configures the chat app.
type ChatConfig struct {
	SystemPrompt string `yaml:"system_prompt"`
	HistorySize  int    `yaml:"history_size"`
	ReReading    bool   `yaml:"re_reading"`
}

// ToolsConfig toggles the built-in tools.
type ToolsConfig struct {
	WebFetch WebFetchConfig `yaml:"web_fetch"`
}

// WebFetchConfig configures the web_fetch tool.
type WebFetchConfig struct {
	Enabled   bool          `yaml:"enabled"`
	MaxChars  int           `yaml:"max_chars"`
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Endpoint string `yaml:"endpoint"`
	Protocol string `yaml:"protocol"`
	Insecure bool   `yaml:"insecure"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8123",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			RateLimit:         2,
			RateBurst:         5,
			MaxConcurrentRuns: 10,
		},
		Agent: AgentConfig{
			Name:          "manus",
			MaxSteps:      10,
			StreamTimeout: 5 * time.Minute,
			NoActionLimit: 3,
		},
		Model: ModelConfig{Provider: "openai"},
		Chat: ChatConfig{HistorySize: 10},
		Tools: ToolsConfig{WebFetch: WebFetchConfig{
			Enabled:   true,
			MaxChars:  20000,
			CacheSize: 64,
			CacheTTL:  10 * time.Minute,
		}},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the file at path on top of the defaults and applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := cfg.decode(f); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML data on top of the defaults without consulting the
// environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

// applyEnv overrides fields from AGENTSTEP_* variables. Provider API keys
// fall back to OPENAI_API_KEY and ANTHROPIC_API_KEY.
func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("AGENTSTEP_ADDR", &c.Server.Addr)
	str("AGENTSTEP_MODEL_PROVIDER", &c.Model.Provider)
	str("AGENTSTEP_MODEL_NAME", &c.Model.Name)
	str("AGENTSTEP_MODEL_BASE_URL", &c.Model.BaseURL)
	str("AGENTSTEP_API_KEY", &c.Model.APIKey)
	str("AGENTSTEP_LOG_LEVEL", &c.Log.Level)
	str("AGENTSTEP_LOG_FORMAT", &c.Log.Format)
	str("AGENTSTEP_OTLP_ENDPOINT", &c.Tracing.Endpoint)

	if c.Model.APIKey == "" {
		switch c.Model.Provider {
		case "openai":
			str("OPENAI_API_KEY", &c.Model.APIKey)
		case "anthropic":
			str("ANTHROPIC_API_KEY", &c.Model.APIKey)
		}
	}

	if v, ok := lookup("AGENTSTEP_MAX_STEPS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AGENTSTEP_MAX_STEPS: %w", err)
		}
		c.Agent.MaxSteps = n
	}
	if v, ok := lookup("AGENTSTEP_STREAM_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("AGENTSTEP_STREAM_TIMEOUT: %w", err)
		}
		c.Agent.StreamTimeout = d
	}
	return nil
}

// ValidationError lists every invalid field.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var problems []string
	if c.Agent.MaxSteps <= 0 {
		problems = append(problems, "agent.max_steps must be positive")
	}
	if c.Agent.StreamTimeout < 0 {
		problems = append(problems, "agent.stream_timeout must not be negative")
	}
	if c.Agent.NoActionLimit < 0 {
		problems = append(problems, "agent.no_action_limit must not be negative")
	}
	switch c.Model.Provider {
	case "openai", "anthropic", "mock":
	default:
		problems = append(problems, fmt.Sprintf("model.provider %q is not one of openai, anthropic, mock", c.Model.Provider))
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		problems = append(problems, "server.rate_limit and server.rate_burst must not be negative")
	}
	if c.Chat.HistorySize < 0 {
		problems = append(problems, "chat.history_size must not be negative")
	}
	switch c.Tracing.Protocol {
	case "", "grpc", "http":
	default:
		problems = append(problems, fmt.Sprintf("tracing.protocol %q is not one of grpc, http", c.Tracing.Protocol))
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
