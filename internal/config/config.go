// Package config loads memoria's settings from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rcliao/memoria/internal/buffer"
	"github.com/rcliao/memoria/internal/embedding"
	"github.com/rcliao/memoria/internal/llm"
	"github.com/rcliao/memoria/internal/telemetry"
)

// Config is the effective configuration. API keys are never written back to
// disk.
type Config struct {
	// DB is the SQLite database path.
	DB string `yaml:"db"`
	// Org scopes every read and write.
	Org string `yaml:"org"`
	// VectorDir persists the vector index; empty keeps it in memory.
	VectorDir string `yaml:"vector_dir,omitempty"`

	Log       LogConfig       `yaml:"log"`
	LLM       LLMConfig       `yaml:"llm"`
	Embed     EmbedConfig     `yaml:"embed"`
	Core      CoreConfig      `yaml:"core"`
	Buffer    BufferConfig    `yaml:"buffer"`
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Path is the file Load read, or would have read.
	Path string `yaml:"-"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Trace  bool   `yaml:"trace,omitempty"`
}

// LLMConfig selects the generation provider.
type LLMConfig struct {
	Provider  string `yaml:"provider"` // anthropic | openai | "" (disabled)
	Model     string `yaml:"model,omitempty"`
	BaseURL   string `yaml:"base_url,omitempty"`
	MaxTokens int64  `yaml:"max_tokens,omitempty"`
	APIKey    string `yaml:"-"`
}

// EmbedConfig selects the embedding provider.
type EmbedConfig struct {
	Provider  string `yaml:"provider"` // ollama | openai | hash | "" (disabled)
	Model     string `yaml:"model,omitempty"`
	URL       string `yaml:"url,omitempty"`
	Dims      int    `yaml:"dims,omitempty"`
	CacheSize int64  `yaml:"cache_size,omitempty"`
	APIKey    string `yaml:"-"`
}

// CoreConfig sizes the core memory blocks.
type CoreConfig struct {
	CharLimit int      `yaml:"char_limit"`
	Labels    []string `yaml:"labels"`
}

// BufferConfig controls frame accumulation.
type BufferConfig struct {
	BatchSize int `yaml:"batch_size"`
	// RecentTurns is how many conversation turns the router sees.
	RecentTurns int    `yaml:"recent_turns"`
	RedisURL    string `yaml:"redis_url,omitempty"`
	RedisKey    string `yaml:"redis_key,omitempty"`
}

// RetrievalConfig holds search defaults.
type RetrievalConfig struct {
	PerStore      int `yaml:"per_store"`
	Limit         int `yaml:"limit"`
	ContextBudget int `yaml:"context_budget"`
}

// Home returns the memoria state directory, ~/.memoria.
func Home() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".memoria"
	}
	return filepath.Join(home, ".memoria")
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	return filepath.Join(Home(), "config.yaml")
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DB:  filepath.Join(Home(), "memory.db"),
		Org: "default",
		Log: LogConfig{Level: "info", Format: "text"},
		Core: CoreConfig{
			CharLimit: 5000,
			Labels:    []string{"persona", "human"},
		},
		Buffer: BufferConfig{
			BatchSize:   buffer.DefaultBatchSize,
			RecentTurns: 10,
		},
		Retrieval: RetrievalConfig{
			PerStore:      10,
			Limit:         20,
			ContextBudget: 2000,
		},
	}
}

// Load reads the file at path over the defaults and then applies environment
// overrides. An empty path means DefaultPath; a missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	cfg, err := decode(path, true)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadFile reads the file at path over the defaults without consulting the
// environment. The file must exist.
func ReadFile(path string) (*Config, error) {
	cfg, err := decode(path, false)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, optional bool) (*Config, error) {
	cfg := Default()
	cfg.Path = path

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case optional && errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.DB, "MEMORIA_DB")
	setString(&c.Org, "MEMORIA_ORG")
	setString(&c.VectorDir, "MEMORIA_VECTOR_DIR")
	setString(&c.Log.Level, "MEMORIA_LOG_LEVEL")
	setString(&c.Buffer.RedisURL, "MEMORIA_REDIS_URL")

	setString(&c.LLM.Provider, "MEMORIA_LLM_PROVIDER")
	setString(&c.LLM.Model, "MEMORIA_LLM_MODEL")
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		if c.LLM.Provider == "" {
			c.LLM.Provider = "anthropic"
		}
		if c.LLM.Provider == "anthropic" {
			c.LLM.APIKey = key
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if c.LLM.Provider == "" {
			c.LLM.Provider = "openai"
		}
		if c.LLM.Provider == "openai" {
			c.LLM.APIKey = key
		}
		c.Embed.APIKey = key
	}

	setString(&c.Embed.Provider, "MEMORIA_EMBED_PROVIDER")
	setString(&c.Embed.Model, "MEMORIA_EMBED_MODEL")
	setString(&c.Embed.URL, "MEMORIA_EMBED_URL")
	if c.Embed.Provider == "ollama" && c.Embed.URL == "" {
		setString(&c.Embed.URL, "OLLAMA_HOST")
	}
	if v := os.Getenv("MEMORIA_EMBED_DIMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Embed.Dims = n
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks values that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DB) == "" {
		errs = append(errs, errors.New("db path is empty"))
	}
	if strings.TrimSpace(c.Org) == "" {
		errs = append(errs, errors.New("org is empty"))
	}
	switch c.LLM.Provider {
	case "", "anthropic", "openai":
	default:
		errs = append(errs, fmt.Errorf("unknown llm provider %q", c.LLM.Provider))
	}
	switch c.Embed.Provider {
	case "", "ollama", "openai", "hash":
	default:
		errs = append(errs, fmt.Errorf("unknown embed provider %q", c.Embed.Provider))
	}
	if c.Core.CharLimit <= 0 {
		errs = append(errs, fmt.Errorf("core.char_limit must be positive, got %d", c.Core.CharLimit))
	}
	if len(c.Core.Labels) == 0 {
		errs = append(errs, errors.New("core.labels is empty"))
	}
	if c.Buffer.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("buffer.batch_size must be positive, got %d", c.Buffer.BatchSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}

// LLMOptions converts the LLM section for llm.New.
func (c *Config) LLMOptions() llm.Options {
	return llm.Options{
		Provider:  c.LLM.Provider,
		Model:     c.LLM.Model,
		APIKey:    c.LLM.APIKey,
		BaseURL:   c.LLM.BaseURL,
		MaxTokens: c.LLM.MaxTokens,
	}
}

// EmbedOptions converts the embed section for embedding.New.
func (c *Config) EmbedOptions() embedding.Options {
	return embedding.Options{
		Provider:  c.Embed.Provider,
		Model:     c.Embed.Model,
		URL:       c.Embed.URL,
		APIKey:    c.Embed.APIKey,
		Dims:      c.Embed.Dims,
		CacheSize: c.Embed.CacheSize,
	}
}

// TelemetryOptions converts the log section for telemetry.New.
func (c *Config) TelemetryOptions() telemetry.Options {
	return telemetry.Options{Level: c.Log.Level, Format: c.Log.Format, Trace: c.Log.Trace}
}
