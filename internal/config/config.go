// Package config loads the Continuum service configuration from an optional
// YAML file with environment variable overrides. Environment always wins so
// containerized deployments can keep the file minimal.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/continuumhq/continuum/common/environment"
)

// Config is the root service configuration.
type Config struct {
	// DatabasePath is the SQLite database file. Default: ./continuum.db.
	DatabasePath string `yaml:"databasePath"`

	// Providers configures the external LLM capabilities. All optional:
	// with no API key the engine runs with noop providers (no semantic
	// retrieval, no summaries, no fact extraction).
	Providers ProviderConfig `yaml:"providers"`

	// Buffer tunes the primary-buffer chunking triggers.
	Buffer BufferConfig `yaml:"buffer"`

	// Chunking tunes chunk packing bounds.
	Chunking ChunkingConfig `yaml:"chunking"`

	// Assembly tunes context assembly and retrieval ranking.
	Assembly AssemblyConfig `yaml:"assembly"`

	// Retention tunes compaction and deletion.
	Retention RetentionConfig `yaml:"retention"`

	// Sweeps holds cron specs for the background sweeps. Empty fields use
	// the engine defaults.
	Sweeps SweepConfig `yaml:"sweeps"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log"`
}

// ProviderConfig configures the OpenAI-compatible providers.
type ProviderConfig struct {
	// APIKey authenticates against the provider. Usually set via
	// CONTINUUM_API_KEY rather than the file.
	APIKey string `yaml:"apiKey"`

	// BaseURL overrides the API endpoint, e.g. http://localhost:11434/v1
	// for Ollama. Empty uses the public OpenAI endpoint.
	BaseURL string `yaml:"baseURL"`

	// EmbedModel is the embeddings model. Default: text-embedding-3-small.
	EmbedModel string `yaml:"embedModel"`

	// ChatModel is the model used for summaries and fact extraction.
	// Default: gpt-4o-mini.
	ChatModel string `yaml:"chatModel"`
}

// BufferConfig mirrors the engine's buffer thresholds.
type BufferConfig struct {
	MaxTokens           int           `yaml:"maxTokens"`
	MaxMessages         int           `yaml:"maxMessages"`
	TopicShiftThreshold float64       `yaml:"topicShiftThreshold"`
	IdleGap             time.Duration `yaml:"idleGap"`
	MinMessages         int           `yaml:"minMessages"`
}

// ChunkingConfig mirrors the engine's chunk packing bounds.
type ChunkingConfig struct {
	MinTokens   int     `yaml:"minTokens"`
	MaxTokens   int     `yaml:"maxTokens"`
	MinMessages int     `yaml:"minMessages"`
	MaxMessages int     `yaml:"maxMessages"`
	OverlapMin  float64 `yaml:"overlapMin"`
	OverlapMax  float64 `yaml:"overlapMax"`
}

// AssemblyConfig mirrors the engine's assembly parameters.
type AssemblyConfig struct {
	MinBudget       int     `yaml:"minBudget"`
	SimilarityFloor float64 `yaml:"similarityFloor"`
	TopK            int     `yaml:"topK"`
}

// RetentionConfig mirrors the engine's compaction and deletion windows.
type RetentionConfig struct {
	MaxLiveChunks int           `yaml:"maxLiveChunks"`
	CompactAfter  time.Duration `yaml:"compactAfter"`
	ColdAfter     time.Duration `yaml:"coldAfter"`
	DeleteAfter   time.Duration `yaml:"deleteAfter"`
}

// SweepConfig holds cron specs for background maintenance.
type SweepConfig struct {
	Extraction string `yaml:"extraction"`
	Compaction string `yaml:"compaction"`
	Deletion   string `yaml:"deletion"`
}

// LogConfig configures slog output.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Default: info.
	Level string `yaml:"level"`

	// Format is "json" or "text". Default: text.
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file and no environment
// overrides are present.
func Default() Config {
	return Config{
		DatabasePath: "./continuum.db",
		Log:          LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the YAML file at path (when path is non-empty and the file
// exists), then applies environment overrides, then validates.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays CONTINUUM_* environment variables onto the config. The
// current (file or default) value doubles as the fallback, so unset variables
// change nothing.
func (c *Config) applyEnv() {
	c.DatabasePath = environment.StringOr("CONTINUUM_DB_PATH", c.DatabasePath)
	c.Providers.APIKey = environment.StringOr("CONTINUUM_API_KEY", c.Providers.APIKey)
	c.Providers.BaseURL = environment.StringOr("CONTINUUM_API_BASE_URL", c.Providers.BaseURL)
	c.Providers.EmbedModel = environment.StringOr("CONTINUUM_EMBED_MODEL", c.Providers.EmbedModel)
	c.Providers.ChatModel = environment.StringOr("CONTINUUM_CHAT_MODEL", c.Providers.ChatModel)
	c.Log.Level = environment.StringOr("CONTINUUM_LOG_LEVEL", c.Log.Level)
	c.Log.Format = environment.StringOr("CONTINUUM_LOG_FORMAT", c.Log.Format)
	c.Buffer.MaxTokens = environment.IntOr("CONTINUUM_BUFFER_MAX_TOKENS", c.Buffer.MaxTokens)
	c.Buffer.MaxMessages = environment.IntOr("CONTINUUM_BUFFER_MAX_MESSAGES", c.Buffer.MaxMessages)
	c.Buffer.IdleGap = environment.DurationOr("CONTINUUM_BUFFER_IDLE_GAP", c.Buffer.IdleGap)
	c.Assembly.TopK = environment.IntOr("CONTINUUM_RETRIEVAL_TOP_K", c.Assembly.TopK)
}

// Validate checks cross-field consistency. Zero values mean "use the engine
// default" and are always valid.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("config: databasePath is required")
	}
	if c.Chunking.MinTokens > 0 && c.Chunking.MaxTokens > 0 &&
		c.Chunking.MinTokens > c.Chunking.MaxTokens {
		return fmt.Errorf("config: chunking.minTokens (%d) exceeds maxTokens (%d)",
			c.Chunking.MinTokens, c.Chunking.MaxTokens)
	}
	if c.Chunking.OverlapMin > 0 && c.Chunking.OverlapMax > 0 &&
		c.Chunking.OverlapMin > c.Chunking.OverlapMax {
		return fmt.Errorf("config: chunking.overlapMin (%g) exceeds overlapMax (%g)",
			c.Chunking.OverlapMin, c.Chunking.OverlapMax)
	}
	if c.Buffer.TopicShiftThreshold < 0 || c.Buffer.TopicShiftThreshold > 1 {
		return fmt.Errorf("config: buffer.topicShiftThreshold must be in [0, 1]")
	}
	if c.Assembly.SimilarityFloor < 0 || c.Assembly.SimilarityFloor > 1 {
		return fmt.Errorf("config: assembly.similarityFloor must be in [0, 1]")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}
