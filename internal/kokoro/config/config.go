// Package config loads Kokoro's configuration: an optional YAML file, then
// KOKORO_* environment overrides, then API keys from the environment.
//
// The result is loaded once at start and passed by value into constructors;
// nothing else in the module reads the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bdobrica/Kokoro/common/crypto"
	"github.com/bdobrica/Kokoro/common/environment"
	"github.com/bdobrica/Kokoro/common/retry"
	"github.com/bdobrica/Kokoro/common/spec/journal"
)

// Environment variable names.
const (
	EnvConfigPath      = "KOKORO_CONFIG"
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvArchiveKey      = "KOKORO_ARCHIVE_KEY"
)

// Config is the full runtime configuration.
type Config struct {
	Summariser SummariserConfig `yaml:"summariser"`
	Embedder   EmbedderConfig   `yaml:"embedder"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`

	// Secrets never come from the file.
	AnthropicAPIKey string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`
	// ArchiveKey is a 64-char hex AES-256 key. When set, archived summaries
	// and labels are sealed at rest.
	ArchiveKey string `yaml:"-"`
}

// SummariserConfig selects and tunes the summariser backend.
type SummariserConfig struct {
	// Provider is "anthropic" (default) or "openai".
	Provider string `yaml:"provider"`
	// Model empty means the backend's default.
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// EmbedderConfig tunes the embedder. Leaving both Model and Dimensions at
// their zero values selects text-embedding-3-small with a 1536 check.
type EmbedderConfig struct {
	Model      string        `yaml:"model"`
	BaseURL    string        `yaml:"base_url"`
	Dimensions int           `yaml:"dimensions"`
	Timeout    time.Duration `yaml:"timeout"`
}

// PipelineConfig controls composition.
type PipelineConfig struct {
	EmbedSource journal.EmbedSource `yaml:"embed_source"`
	Concurrency int                 `yaml:"concurrency"`
}

// ResilienceConfig applies to each provider independently.
type ResilienceConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialDelay    time.Duration `yaml:"initial_delay"`
	MaxDelay        time.Duration `yaml:"max_delay"`
	RateLimit       int           `yaml:"rate_limit"`
	RateWindow      time.Duration `yaml:"rate_window"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
}

// ArchiveConfig enables the local SQLite archive.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures slog.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Summariser: SummariserConfig{
			Provider:    "anthropic",
			Temperature: 0,
			MaxTokens:   1024,
			Timeout:     60 * time.Second,
		},
		Embedder: EmbedderConfig{
			Timeout: 30 * time.Second,
		},
		Pipeline: PipelineConfig{
			EmbedSource: journal.EmbedSummary,
			Concurrency: 4,
		},
		Resilience: ResilienceConfig{
			MaxAttempts:     retry.DefaultConfig.MaxAttempts,
			InitialDelay:    retry.DefaultConfig.InitialDelay,
			MaxDelay:        retry.DefaultConfig.MaxDelay,
			RateLimit:       60,
			RateWindow:      time.Minute,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Archive: ArchiveConfig{
			Path: "kokoro.db",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment, then validates it. Unknown YAML keys
// are an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overlays KOKORO_* variables and reads the API keys.
func (c *Config) applyEnv() {
	s := &c.Summariser
	s.Provider = environment.StringOr("KOKORO_SUMMARISER_PROVIDER", s.Provider)
	s.Model = environment.StringOr("KOKORO_SUMMARISER_MODEL", s.Model)
	s.BaseURL = environment.StringOr("KOKORO_SUMMARISER_BASE_URL", s.BaseURL)
	s.Temperature = environment.Float64Or("KOKORO_SUMMARISER_TEMPERATURE", s.Temperature)
	s.MaxTokens = environment.IntOr("KOKORO_SUMMARISER_MAX_TOKENS", s.MaxTokens)
	s.Timeout = environment.DurationOr("KOKORO_SUMMARISER_TIMEOUT", s.Timeout)

	e := &c.Embedder
	e.Model = environment.StringOr("KOKORO_EMBEDDER_MODEL", e.Model)
	e.BaseURL = environment.StringOr("KOKORO_EMBEDDER_BASE_URL", e.BaseURL)
	e.Dimensions = environment.IntOr("KOKORO_EMBEDDER_DIMENSIONS", e.Dimensions)
	e.Timeout = environment.DurationOr("KOKORO_EMBEDDER_TIMEOUT", e.Timeout)

	p := &c.Pipeline
	p.EmbedSource = journal.EmbedSource(environment.StringOr("KOKORO_EMBED_SOURCE", string(p.EmbedSource)))
	p.Concurrency = environment.IntOr("KOKORO_CONCURRENCY", p.Concurrency)

	r := &c.Resilience
	r.MaxAttempts = environment.IntOr("KOKORO_MAX_ATTEMPTS", r.MaxAttempts)
	r.RateLimit = environment.IntOr("KOKORO_RATE_LIMIT", r.RateLimit)

	c.Archive.Enabled = environment.BoolOr("KOKORO_ARCHIVE_ENABLED", c.Archive.Enabled)
	c.Archive.Path = environment.StringOr("KOKORO_ARCHIVE_PATH", c.Archive.Path)
	c.Server.Addr = environment.StringOr("KOKORO_SERVER_ADDR", c.Server.Addr)
	c.Log.Level = environment.StringOr("LOG_LEVEL", c.Log.Level)
	c.Log.Format = environment.StringOr("LOG_FORMAT", c.Log.Format)

	c.AnthropicAPIKey = environment.Secret(EnvAnthropicAPIKey)
	c.OpenAIAPIKey = environment.Secret(EnvOpenAIAPIKey)
	c.ArchiveKey = environment.Secret(EnvArchiveKey)
}

// Validate checks the configuration for structural correctness. A missing
// API key is not an error here.
func (c *Config) Validate() error {
	switch c.Summariser.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("config: summariser.provider must be \"anthropic\" or \"openai\", got %q", c.Summariser.Provider)
	}
	if c.Summariser.Temperature < 0 || c.Summariser.Temperature > 2 {
		return fmt.Errorf("config: summariser.temperature must be in [0, 2], got %g", c.Summariser.Temperature)
	}
	if c.Summariser.MaxTokens <= 0 {
		return fmt.Errorf("config: summariser.max_tokens must be positive")
	}
	if c.Embedder.Dimensions < 0 {
		return fmt.Errorf("config: embedder.dimensions must not be negative")
	}
	if !c.Pipeline.EmbedSource.Valid() {
		return fmt.Errorf("config: pipeline.embed_source must be summary, entry or summary_topics, got %q", c.Pipeline.EmbedSource)
	}
	if c.Pipeline.Concurrency <= 0 {
		return fmt.Errorf("config: pipeline.concurrency must be positive")
	}
	if c.Resilience.MaxAttempts < 1 {
		return fmt.Errorf("config: resilience.max_attempts must be at least 1")
	}
	if c.Resilience.RateLimit <= 0 {
		return fmt.Errorf("config: resilience.rate_limit must be positive")
	}
	if c.Resilience.BreakerFailures == 0 {
		return fmt.Errorf("config: resilience.breaker_failures must be positive")
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"summariser.timeout", c.Summariser.Timeout},
		{"embedder.timeout", c.Embedder.Timeout},
		{"resilience.initial_delay", c.Resilience.InitialDelay},
		{"resilience.max_delay", c.Resilience.MaxDelay},
		{"resilience.rate_window", c.Resilience.RateWindow},
		{"resilience.breaker_timeout", c.Resilience.BreakerTimeout},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("config: %s must be a positive duration", d.name)
		}
	}

	if c.Archive.Enabled && strings.TrimSpace(c.Archive.Path) == "" {
		return fmt.Errorf("config: archive.path must be set when the archive is enabled")
	}
	if c.ArchiveKey != "" {
		if _, err := crypto.ParseKey(c.ArchiveKey); err != nil {
			return fmt.Errorf("config: %s: %w", EnvArchiveKey, err)
		}
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: log.format must be \"text\" or \"json\", got %q", c.Log.Format)
	}
	return nil
}

// Retry returns the backoff schedule described by the resilience section.
func (c *Config) Retry() retry.Config {
	return retry.Config{
		MaxAttempts:  c.Resilience.MaxAttempts,
		InitialDelay: c.Resilience.InitialDelay,
		MaxDelay:     c.Resilience.MaxDelay,
		Jitter:       retry.DefaultConfig.Jitter,
	}
}

// SummariserAPIKey returns the key for the configured summariser provider.
func (c *Config) SummariserAPIKey() string {
	if c.Summariser.Provider == "openai" {
		return c.OpenAIAPIKey
	}
	return c.AnthropicAPIKey
}
